// Package schemas ships the JSON Schemas for the wire protocol so the
// transport can validate inbound frames without touching the filesystem.
package schemas

import "embed"

//go:embed *.schema.json
var FS embed.FS
