// Package migrations holds the goose SQL migrations for the satellite-service schema.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
