package flatten

import (
	"context"
	"database/sql"
	"fmt"
	"log"

	ferrors "github.com/arkilian/xapiflat/internal/errors"
	"github.com/arkilian/xapiflat/pkg/types"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// session is a private in-memory SQLite database used to flatten a single
// document. Nothing is shared between sessions.
type session struct {
	db *sql.DB
}

// openSession creates a fresh in-memory database.
func openSession(ctx context.Context) (*session, error) {
	// A named private memory database on a single connection; every new
	// connection would otherwise see an empty database.
	dsn := fmt.Sprintf("file:xapiflat-%s?mode=memory", uuid.NewString())
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, ferrors.NewInternalError("failed to open query engine", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, ferrors.NewInternalError("failed to open query engine", err)
	}

	createSQL := fmt.Sprintf(`CREATE TABLE %s (ordinal INTEGER PRIMARY KEY, doc TEXT NOT NULL)`, rawTable)
	if _, err := db.ExecContext(ctx, createSQL); err != nil {
		db.Close()
		return nil, ferrors.NewInternalError("failed to create statements table", err)
	}

	return &session{db: db}, nil
}

// Close discards the database.
func (s *session) Close() error {
	return s.db.Close()
}

// locateStatements returns the JSON path of the statement array in doc:
// "$" for a bare array, "$.statements" for a pagination wrapper.
func (s *session) locateStatements(ctx context.Context, doc string) (string, error) {
	var valid int
	if err := s.db.QueryRowContext(ctx, "SELECT json_valid(?)", doc).Scan(&valid); err != nil {
		return "", ferrors.NewParseError(ferrors.CodeMalformedJSON, "failed to validate document", err)
	}
	if valid != 1 {
		return "", ferrors.NewParseError(ferrors.CodeMalformedJSON, "document is not valid JSON", nil)
	}

	var rootType string
	if err := s.db.QueryRowContext(ctx, "SELECT json_type(?)", doc).Scan(&rootType); err != nil {
		return "", ferrors.NewParseError(ferrors.CodeMalformedJSON, "failed to inspect document root", err)
	}

	switch rootType {
	case "array":
		return "$", nil
	case "object":
	default:
		return "", ferrors.NewParseError(ferrors.CodeMissingStatements,
			fmt.Sprintf("document root is %s, expected an array or an object with a statements array", rootType), nil)
	}

	var statementsType, more sql.NullString
	err := s.db.QueryRowContext(ctx,
		"SELECT json_type(?, '$.statements'), json_extract(?, '$.more')", doc, doc,
	).Scan(&statementsType, &more)
	if err != nil {
		return "", ferrors.NewParseError(ferrors.CodeMalformedJSON, "failed to inspect statements field", err)
	}
	if !statementsType.Valid || statementsType.String != "array" {
		return "", ferrors.NewParseError(ferrors.CodeMissingStatements, "document has no statements array", nil)
	}

	// The cursor is never followed; only the statements on this page are flattened.
	if more.Valid && more.String != "" {
		log.Printf("flatten: page cursor present (more=%q), remaining pages are not fetched", more.String)
	}

	return "$.statements", nil
}

// load unnests the statement array at path into rawTable and returns the
// number of statements.
func (s *session) load(ctx context.Context, doc, path string) (int, error) {
	var badKey int64
	var badType string
	err := s.db.QueryRowContext(ctx,
		"SELECT key, type FROM json_each(?, ?) WHERE type != 'object' ORDER BY key LIMIT 1", doc, path,
	).Scan(&badKey, &badType)
	switch {
	case err == sql.ErrNoRows:
	case err != nil:
		return 0, ferrors.NewProjectionError(ferrors.CodeQueryFailed, "failed to inspect statements", err)
	default:
		return 0, ferrors.NewProjectionError(ferrors.CodeInvalidStatement,
			fmt.Sprintf("statement %d is %s, expected an object", badKey, badType), nil)
	}

	insertSQL := fmt.Sprintf(`INSERT INTO %s (ordinal, doc) SELECT key, value FROM json_each(?, ?)`, rawTable)
	res, err := s.db.ExecContext(ctx, insertSQL, doc, path)
	if err != nil {
		return 0, ferrors.NewProjectionError(ferrors.CodeQueryFailed, "failed to unnest statements", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, ferrors.NewProjectionError(ferrors.CodeQueryFailed, "failed to count statements", err)
	}
	return int(n), nil
}

// project runs the flattening query and returns one row per loaded statement.
func (s *session) project(ctx context.Context, query string, width int) ([]types.FlatRow, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, ferrors.NewProjectionError(ferrors.CodeQueryFailed, "failed to run projection", err)
	}
	defer rows.Close()

	values := make([]sql.NullString, width)
	dest := make([]interface{}, width)
	for i := range values {
		dest[i] = &values[i]
	}

	var out []types.FlatRow
	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return nil, ferrors.NewProjectionError(ferrors.CodeQueryFailed, "failed to scan projected row", err)
		}
		row := make(types.FlatRow, width)
		for i, v := range values {
			if v.Valid {
				row[i] = v.String
			}
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, ferrors.NewProjectionError(ferrors.CodeQueryFailed, "failed to read projected rows", err)
	}

	return out, nil
}
