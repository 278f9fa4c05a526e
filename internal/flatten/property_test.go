package flatten

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// flattenDoc writes statements (wrapped or bare) to disk, flattens them and
// returns the data rows.
func flattenDoc(dir string, statements []map[string]interface{}, wrapped bool) ([][]string, error) {
	var doc interface{} = statements
	if wrapped {
		doc = map[string]interface{}{"statements": statements, "more": ""}
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}

	input := filepath.Join(dir, "prop.json")
	if err := os.WriteFile(input, data, 0644); err != nil {
		return nil, err
	}

	f := NewFlattener(filepath.Join(dir, "out"), WithNotifier(nil))
	res, err := f.FlattenFile(context.Background(), input)
	if err != nil {
		return nil, err
	}

	out, err := os.Open(res.Output)
	if err != nil {
		return nil, err
	}
	defer out.Close()
	records, err := csv.NewReader(out).ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("missing header")
	}
	return records[1:], nil
}

// TestProperty_RowCardinality: every statement yields exactly one row,
// in input order, for both document shapes.
func TestProperty_RowCardinality(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 25
	properties := gopter.NewProperties(parameters)

	idIdx := DefaultSchema().Index("statement_id")

	properties.Property("output rows equal statement count", prop.ForAll(
		func(n int, wrapped bool) bool {
			statements := make([]map[string]interface{}, n)
			for i := range statements {
				statements[i] = map[string]interface{}{"id": fmt.Sprintf("s%d", i)}
			}

			rows, err := flattenDoc(t.TempDir(), statements, wrapped)
			if err != nil || len(rows) != n {
				return false
			}
			for i, row := range rows {
				if row[idIdx] != fmt.Sprintf("s%d", i) {
					return false
				}
			}
			return true
		},
		gen.IntRange(0, 40),
		gen.Bool(),
	))

	properties.TestingRun(t)
}

// TestProperty_ObjectNameCoalesce: object_name is und when present, else
// en-US when present, else empty.
func TestProperty_ObjectNameCoalesce(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 30
	properties := gopter.NewProperties(parameters)

	nameIdx := DefaultSchema().Index("object_name")

	properties.Property("und, then en-US, then empty", prop.ForAll(
		func(und, enUS string, hasUnd, hasEnUS bool) bool {
			names := map[string]interface{}{}
			if hasUnd {
				names["und"] = und
			}
			if hasEnUS {
				names["en-US"] = enUS
			}
			stmt := map[string]interface{}{
				"id":     "s",
				"object": map[string]interface{}{"definition": map[string]interface{}{"name": names}},
			}

			rows, err := flattenDoc(t.TempDir(), []map[string]interface{}{stmt}, false)
			if err != nil || len(rows) != 1 {
				return false
			}

			want := ""
			switch {
			case hasUnd:
				want = und
			case hasEnUS:
				want = enUS
			}
			return rows[0][nameIdx] == want
		},
		gen.AlphaString(),
		gen.AlphaString(),
		gen.Bool(),
		gen.Bool(),
	))

	properties.TestingRun(t)
}

// TestProperty_FirstActivity: parent_id is the id of the first parent
// activity regardless of how many follow, and empty for an empty list.
func TestProperty_FirstActivity(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 25
	properties := gopter.NewProperties(parameters)

	schema := DefaultSchema()
	parentIdx := schema.Index("parent_id")
	groupingIdx := schema.Index("grouping_id")

	properties.Property("first element of parent and grouping", prop.ForAll(
		func(parents, groupings int) bool {
			activities := func(prefix string, n int) []interface{} {
				list := make([]interface{}, n)
				for i := range list {
					list[i] = map[string]interface{}{"id": fmt.Sprintf("%s%d", prefix, i), "objectType": "Activity"}
				}
				return list
			}
			stmt := map[string]interface{}{
				"id": "s",
				"context": map[string]interface{}{
					"contextActivities": map[string]interface{}{
						"parent":   activities("p", parents),
						"grouping": activities("g", groupings),
					},
				},
			}

			rows, err := flattenDoc(t.TempDir(), []map[string]interface{}{stmt}, false)
			if err != nil || len(rows) != 1 {
				return false
			}

			wantParent, wantGrouping := "", ""
			if parents > 0 {
				wantParent = "p0"
			}
			if groupings > 0 {
				wantGrouping = "g0"
			}
			return rows[0][parentIdx] == wantParent && rows[0][groupingIdx] == wantGrouping
		},
		gen.IntRange(0, 5),
		gen.IntRange(0, 5),
	))

	properties.TestingRun(t)
}
