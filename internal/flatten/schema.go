package flatten

import (
	"fmt"
	"strings"

	"github.com/arkilian/xapiflat/pkg/types"
)

// rawTable holds one row per unnested statement during a session.
const rawTable = "raw_statements"

// DefaultSchema returns the fixed xAPI statement column list in output order.
func DefaultSchema() types.Schema {
	empty := ""
	return types.Schema{
		Version: 1,
		Columns: []types.ColumnDef{
			{Name: "statement_id", Paths: []string{"$.id"}},
			{Name: "timestamp", Paths: []string{"$.timestamp"}},
			{Name: "stored", Paths: []string{"$.stored"}},
			{Name: "actor_name", Paths: []string{"$.actor.name"}},
			{Name: "actor_object_type", Paths: []string{"$.actor.objectType"}},
			{Name: "actor_email", Paths: []string{"$.actor.account.name"}},
			{Name: "actor_home_page", Paths: []string{"$.actor.account.homepage"}},
			{Name: "verb_id", Paths: []string{"$.verb.id"}},
			{Name: "verb_display", Paths: []string{`$.verb.display."en-US"`}},
			{Name: "object_id", Paths: []string{"$.object.id"}},
			{Name: "object_type", Paths: []string{"$.object.objectType"}},
			{
				Name:    "object_name",
				Paths:   []string{"$.object.definition.name.und", `$.object.definition.name."en-US"`},
				Default: &empty,
			},
			{Name: "object_description", Paths: []string{"$.object.definition.description.und"}},
			{Name: "registration", Paths: []string{"$.context.registration"}},
			{Name: "parent_id", Paths: []string{"$.context.contextActivities.parent[0].id"}},
			{Name: "parent_object_type", Paths: []string{"$.context.contextActivities.parent[0].objectType"}},
			{Name: "grouping_id", Paths: []string{"$.context.contextActivities.grouping[0].id"}},
			{Name: "grouping_object_type", Paths: []string{"$.context.contextActivities.grouping[0].objectType"}},
			{Name: "authority_name", Paths: []string{"$.authority.name"}},
			{Name: "authority_object_type", Paths: []string{"$.authority.objectType"}},
			{Name: "authority_email", Paths: []string{"$.authority.account.name"}},
			{Name: "authority_home_page", Paths: []string{"$.authority.account.homepage"}},
		},
	}
}

// buildProjectionSQL renders the SELECT that flattens every row of rawTable
// into the schema's columns, in statement order.
func buildProjectionSQL(schema types.Schema) (string, error) {
	if len(schema.Columns) == 0 {
		return "", fmt.Errorf("flatten: schema has no columns")
	}

	exprs := make([]string, 0, len(schema.Columns))
	for _, col := range schema.Columns {
		expr, err := columnExpr(col)
		if err != nil {
			return "", err
		}
		exprs = append(exprs, fmt.Sprintf("%s AS %s", expr, quoteIdent(col.Name)))
	}

	return fmt.Sprintf("SELECT\n\t%s\nFROM %s\nORDER BY ordinal",
		strings.Join(exprs, ",\n\t"), rawTable), nil
}

// columnExpr renders a single column: one extraction per path, coalesced
// left to right, with the default as the final fallback.
func columnExpr(col types.ColumnDef) (string, error) {
	if len(col.Paths) == 0 {
		return "", fmt.Errorf("flatten: column %q has no paths", col.Name)
	}

	parts := make([]string, 0, len(col.Paths)+1)
	for _, p := range col.Paths {
		if !strings.HasPrefix(p, "$") {
			return "", fmt.Errorf("flatten: column %q has invalid path %q", col.Name, p)
		}
		parts = append(parts, jsonValueExpr(p))
	}
	if col.Default != nil {
		parts = append(parts, quoteLiteral(*col.Default))
	}

	if len(parts) == 1 {
		return parts[0], nil
	}
	return "COALESCE(" + strings.Join(parts, ", ") + ")", nil
}

// jsonValueExpr extracts path from doc. JSON booleans are rendered as
// true/false rather than SQLite's 1/0.
func jsonValueExpr(path string) string {
	p := quoteLiteral(path)
	return fmt.Sprintf("CASE json_type(doc, %s) WHEN 'true' THEN 'true' WHEN 'false' THEN 'false' ELSE json_extract(doc, %s) END", p, p)
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
