// Package migrations holds the goose SQL migrations for the Postgres
// document store. The app applies them at startup; repo integration tests
// apply them in TestMain.
package migrations

import "embed"

// FS is passed to goose.NewProvider.
//
//go:embed *.sql
var FS embed.FS
