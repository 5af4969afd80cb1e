// Package migrations embeds the goose-managed schema for C7's
// SecurityEventStore and the pgvector extension C4 depends on,
// applied the same way the teacher applies its own numbered
// "-- +goose Up"/"-- +goose Down" files (test/integration/datastorage/
// suite_test.go) but run through goose itself instead of a hand-rolled
// splitter.
package migrations

import (
	"database/sql"
	"embed"

	"github.com/pressly/goose/v3"
)

//go:embed *.sql
var FS embed.FS

// Migrate applies every pending migration in FS to db.
func Migrate(db *sql.DB) error {
	goose.SetBaseFS(FS)
	defer goose.SetBaseFS(nil)

	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	return goose.Up(db, ".")
}
