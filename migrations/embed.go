// Package migrations embeds the SQL schema for the queue table so the binary
// can create it without files on disk.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
