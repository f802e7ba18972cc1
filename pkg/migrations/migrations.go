// Package migrations embeds the control-plane schema applied by goose.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
