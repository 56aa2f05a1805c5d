// Package defaults embeds the starter configuration written by
// bubbles init.
package defaults

import _ "embed"

//go:generate cp ../../config.example.yaml .

//go:embed config.example.yaml
var ConfigYAML []byte
