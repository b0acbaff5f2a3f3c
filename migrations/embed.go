// Package migrations embeds the SQL schema so binaries and integration tests
// can migrate a database without shipping the files separately.
package migrations

import "embed"

// FS holds every *.up.sql and *.down.sql file in this directory
//
//go:embed *.sql
var FS embed.FS
