// Package appconf holds application-level configuration shared across commands.
package appconf

import "strings"

// Environment identifies the runtime environment of the application.
type Environment int

const (
	Development Environment = iota
	Test
	Production
)

// EnvFromString maps an environment name to an Environment value.
// Unknown values default to Development.
func EnvFromString(s string) Environment {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "test":
		return Test
	case "production", "prod":
		return Production
	default:
		return Development
	}
}

func (e Environment) String() string {
	switch e {
	case Test:
		return "test"
	case Production:
		return "production"
	default:
		return "development"
	}
}

// Config holds process-wide settings supplied by the command layer.
type Config struct {
	Env     Environment
	Verbose bool
}
