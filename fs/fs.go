package appfs

import "embed"

// FS holds the SQL migrations and email templates shipped with every binary.
//
//go:embed migrations/*.sql all:assets
var FS embed.FS
