// Package types defines common data structures used across obfusk8 components.
package types

import (
	"fmt"
	"strings"
)

// Profile selects how much protection a region receives. Profiles are
// monotonic: each one applies everything the weaker ones do.
type Profile int

const (
	Light  Profile = iota + 1 // entry wrapper only
	Medium                    // + string encryption
	Heavy                     // + MBA, control-flow labyrinth, bytecode VM
)

var profileNames = map[Profile]string{
	Light:  "light",
	Medium: "medium",
	Heavy:  "heavy",
}

func (p Profile) String() string {
	if s, ok := profileNames[p]; ok {
		return s
	}
	return fmt.Sprintf("profile(%d)", int(p))
}

// AtLeast reports whether p includes everything q applies
func (p Profile) AtLeast(q Profile) bool {
	return p >= q
}

// ParseProfile accepts light/medium/heavy in any case. The empty string is LIGHT.
func ParseProfile(s string) (Profile, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "light":
		return Light, nil
	case "medium":
		return Medium, nil
	case "heavy":
		return Heavy, nil
	}
	return 0, fmt.Errorf("unknown profile %q (want light, medium or heavy)", s)
}

// Pass names, in pipeline order
const (
	PassStrings     = "strings"
	PassMBA         = "mba"
	PassControlFlow = "controlflow"
	PassVM          = "vm"
)

// Status is the outcome of one pass on one region
type Status string

const (
	Applied Status = "applied" // every eligible site transformed
	Partial Status = "partial" // some sites degraded, the rest transformed
	Skipped Status = "skipped" // nothing transformed
	Idle    Status = "idle"    // ran, found no eligible site
)

// Degradation records a construct a pass left untransformed
type Degradation struct {
	Pass   string `json:"pass" yaml:"pass"`
	Pos    string `json:"pos,omitempty" yaml:"pos,omitempty"`
	Reason string `json:"reason" yaml:"reason"`
}

// PassResult summarises what a pass did to a region
type PassResult struct {
	Name         string        `json:"name" yaml:"name"`
	Status       Status        `json:"status" yaml:"status"`
	Sites        int           `json:"sites" yaml:"sites"`
	Degradations []Degradation `json:"degradations,omitempty" yaml:"degradations,omitempty"`
}

// Result derives a pass status from transformed and degraded site counts
func Result(name string, sites int, degraded []Degradation) PassResult {
	status := Applied
	switch {
	case sites == 0 && len(degraded) == 0:
		status = Idle
	case sites == 0:
		status = Skipped
	case len(degraded) > 0:
		status = Partial
	}
	return PassResult{Name: name, Status: status, Sites: sites, Degradations: degraded}
}
