package directory

import _ "embed"

// Schema is the idempotent DDL for the directory tables.
//
//go:embed schema.sql
var Schema string
