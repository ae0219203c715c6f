package repository_test

import (
	"database/sql"
	"embed"
	"testing"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/duracron/duracron/internal/core"
	"github.com/duracron/duracron/internal/storage/compliance"
	"github.com/duracron/duracron/internal/storage/sql/repository"
)

//go:embed testdata/migrations/*.sql
var testMigrations embed.FS

func setupSQLite(t *testing.T) (core.Storage, func()) {
	t.Helper()

	db, err := sql.Open("sqlite", "file::memory:?cache=shared&_foreign_keys=on&_txlock=immediate")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	if err := goose.SetDialect("sqlite3"); err != nil {
		t.Fatalf("set dialect: %v", err)
	}
	goose.SetBaseFS(testMigrations)
	if err := goose.Up(db, "testdata/migrations"); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	store := repository.NewStore(db, "sqlite")
	return store, func() { store.Close() }
}

func TestSQLiteCompliance(t *testing.T) {
	compliance.Run(t, func() (core.Storage, func()) {
		return setupSQLite(t)
	})
}
