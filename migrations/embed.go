// Package migrations embeds the Postgres schema for the reid map store and
// the compliance audit trail.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
