// Package configs provides embedded configuration templates for agent-brain.
//
// Templates are embedded at build time so they ship with every install:
//   - project-config.example.yaml: written by `agent-brain config init`
//   - user-config.example.yaml: written by `agent-brain config init --user`
//
// The resolution order itself lives in internal/config.
package configs

import _ "embed"

// ProjectConfigTemplate is the template for project-level configuration,
// created at {project_root}/.config/agent-brain.yaml.
//
//go:embed project-config.example.yaml
var ProjectConfigTemplate string

// UserConfigTemplate is the template for user/machine-level configuration,
// created at ~/.config/agent-brain/config.yaml.
//
//go:embed user-config.example.yaml
var UserConfigTemplate string
