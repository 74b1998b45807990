// Package sqldocs exposes the device catalog DDL directly from the docs tree.
package sqldocs

import _ "embed"

// SQLite contains the snapshot table DDL for the sqlite backend.
//
//go:embed sqlite.sql
var SQLite string

// Postgres contains the normalized catalog DDL for the postgres backend.
//
//go:embed postgres.sql
var Postgres string
