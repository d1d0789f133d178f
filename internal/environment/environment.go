// Package environment describes the runtime mode the process was started in.
package environment

import "strings"

// Mode names the hosting environment. Only Development changes behaviour;
// every other value is treated alike.
type Mode string

const (
	Development Mode = "Development"
	Staging     Mode = "Staging"
	Production  Mode = "Production"
)

// Parse normalises a raw environment name. Well-known names are matched
// case-insensitively; empty input yields Production.
func Parse(raw string) Mode {
	name := strings.TrimSpace(raw)
	switch {
	case name == "":
		return Production
	case strings.EqualFold(name, string(Development)):
		return Development
	case strings.EqualFold(name, string(Staging)):
		return Staging
	case strings.EqualFold(name, string(Production)):
		return Production
	default:
		return Mode(name)
	}
}

// IsDevelopment reports whether development behaviour is enabled.
func (m Mode) IsDevelopment() bool {
	return m == Development
}

func (m Mode) String() string {
	return string(m)
}
