// Package db ships the SQL schema inside the binary so deployments
// need no migration files on disk.
package db

import _ "embed"

// Schema is the DDL the migration runner applies at startup.
//
//go:embed migrations/001_schema.sql
var Schema string
