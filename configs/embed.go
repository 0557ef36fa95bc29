// Package configs holds configuration templates embedded into the fstext binary.
package configs

import _ "embed"

// ProjectConfigTemplate is written to .fstext.yaml by `fstext init`.
//
//go:embed project-config.example.yaml
var ProjectConfigTemplate string
