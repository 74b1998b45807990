// Package sqlbundle exposes the device catalog DDL bundles for persistence adapters.
package sqlbundle

import (
	"bufio"
	"strings"

	sqldocs "ndxchannels/docs/schema/sql"
)

// SQLite returns the sqlite DDL.
func SQLite() string {
	return sqldocs.SQLite
}

// Postgres returns the postgres DDL.
func Postgres() string {
	return sqldocs.Postgres
}

// SplitStatements splits a semicolon-terminated DDL script into executable
// statements, dropping blank lines and "--" comment lines.
func SplitStatements(ddl string) []string {
	scanner := bufio.NewScanner(strings.NewReader(ddl))
	var stmts []string
	var current strings.Builder

	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}
		current.WriteString(line)
		current.WriteByte('\n')
		if strings.HasSuffix(trimmed, ";") {
			if stmt := strings.TrimSpace(current.String()); stmt != "" {
				stmts = append(stmts, stmt)
			}
			current.Reset()
		}
	}
	if tail := strings.TrimSpace(current.String()); tail != "" {
		stmts = append(stmts, tail)
	}
	return stmts
}
