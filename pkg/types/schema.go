package types

// Schema defines the fixed shape of a flattened output file.
type Schema struct {
	// Version tracks changes to the column list
	Version int `json:"version"`

	// Columns defines the output columns in header order
	Columns []ColumnDef `json:"columns"`
}

// ColumnDef defines a single output column and where its value comes from.
type ColumnDef struct {
	// Name is the column name written to the header row
	Name string `json:"name"`

	// Paths are JSON paths into a statement, tried in order.
	// The first non-null value wins.
	Paths []string `json:"paths"`

	// Default replaces a NULL result when non-nil
	Default *string `json:"default,omitempty"`
}

// Names returns the column names in header order.
func (s Schema) Names() []string {
	names := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		names[i] = c.Name
	}
	return names
}

// Index returns the position of the named column, or -1.
func (s Schema) Index(name string) int {
	for i, c := range s.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}
