package types

import "testing"

func TestSchemaNamesAndIndex(t *testing.T) {
	empty := ""
	s := Schema{
		Version: 1,
		Columns: []ColumnDef{
			{Name: "statement_id", Paths: []string{"$.id"}},
			{Name: "object_name", Paths: []string{"$.a", "$.b"}, Default: &empty},
		},
	}

	names := s.Names()
	if len(names) != 2 || names[0] != "statement_id" || names[1] != "object_name" {
		t.Fatalf("unexpected names: %v", names)
	}
	if s.Index("object_name") != 1 {
		t.Errorf("expected index 1, got %d", s.Index("object_name"))
	}
	if s.Index("missing") != -1 {
		t.Errorf("expected -1 for unknown column, got %d", s.Index("missing"))
	}
}
