package repo_test

import (
	"context"
	"log"
	"os"
	"testing"

	"github.com/pressly/goose/v3"

	"github.com/hitchsafe/companion/migrations"
	"github.com/hitchsafe/companion/testutil"
)

// TestMain migrates TEST_DATABASE_URL once for the postgres store tests.
// Memory and mongo store tests do not need it and run either way.
func TestMain(m *testing.M) {
	if dsn := os.Getenv("TEST_DATABASE_URL"); dsn != "" {
		if err := migrateTestDB(dsn); err != nil {
			log.Fatalf("repo_test: %v", err)
		}
	}
	os.Exit(m.Run())
}

func migrateTestDB(dsn string) error {
	db := testutil.MustOpenSQLDB(dsn)
	defer db.Close()

	provider, err := goose.NewProvider(goose.DialectPostgres, db, migrations.FS)
	if err != nil {
		return err
	}
	_, err = provider.Up(context.Background())
	return err
}
