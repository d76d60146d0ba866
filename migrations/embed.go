// Package migrations embeds the goose SQL migrations for trips, boarding
// records, emergency alerts and vehicle positions. cmd/api applies them on
// startup and the integration tests apply them in TestMain.
package migrations

import "embed"

// FS holds all *.sql migration files embedded at compile time.
//
//go:embed *.sql
var FS embed.FS
