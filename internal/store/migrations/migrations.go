// Package migrations embeds the interaction store schema.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
