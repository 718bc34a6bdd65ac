package store

import (
	"database/sql"
	"io/fs"

	"github.com/pressly/goose/v3"
)

// Migrate applies the embedded goose migrations.
func Migrate(db *sql.DB, fsys fs.FS) error {
	goose.SetBaseFS(fsys)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	return goose.Up(db, ".")
}
