package migrations

import "embed"

// Files exposes embedded SQL migration files. Postgres migrations live at the
// root ordered lexicographically; the sqlite/ subtree holds the SQLite schema.
//
//go:embed *.sql sqlite/*.sql
var Files embed.FS
