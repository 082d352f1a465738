// Package templates embeds the default configuration written by herald setup.
package templates

import "embed"

//go:embed config.yaml
var FS embed.FS
