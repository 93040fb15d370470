package logging

import (
	"fmt"
	"maps"
	"slices"
	"strings"
)

// Spec represents a logging specification with a base level and optional
// per-component overrides.
//
// Format: "<base-level>[,<component>=<level>]..."
//
// Examples:
//   - "info" - base level info
//   - "warn,manager=debug" - base warn, every manager at debug
//   - "info,manager.route=trace,statestore=debug" - multiple overrides
//
// Component names are dotted. An override for "manager" applies to
// "manager.route" unless "manager.route" has its own.
type Spec struct {
	// BaseLevel is the default level for all components.
	BaseLevel Level
	// Components maps component names to their specific levels.
	Components map[string]Level
}

// ParseSpec parses a log specification string.
// An empty string defaults to info level with no component overrides.
func ParseSpec(s string) (Spec, error) {
	spec := Spec{
		BaseLevel:  LevelInfo,
		Components: make(map[string]Level),
	}

	s = strings.TrimSpace(s)
	if s == "" {
		return spec, nil
	}

	for i, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		component, levelStr, ok := strings.Cut(part, "=")
		if !ok {
			if i != 0 {
				return spec, fmt.Errorf("base level %q must be first in spec", part)
			}
			level, err := ParseLevel(part)
			if err != nil {
				return spec, err
			}
			spec.BaseLevel = level
			continue
		}

		component = strings.TrimSpace(component)
		if component == "" {
			return spec, fmt.Errorf("empty component name in %q", part)
		}
		level, err := ParseLevel(levelStr)
		if err != nil {
			return spec, fmt.Errorf("invalid level for component %q: %w", component, err)
		}
		spec.Components[component] = level
	}

	return spec, nil
}

// LevelFor returns the effective level for a component: its own
// override, else the nearest dotted parent's, else the base level.
func (s *Spec) LevelFor(component string) Level {
	for component != "" {
		if level, ok := s.Components[component]; ok {
			return level
		}
		i := strings.LastIndexByte(component, '.')
		if i < 0 {
			break
		}
		component = component[:i]
	}
	return s.BaseLevel
}

// String returns the spec as a parseable string with components in
// sorted order.
func (s *Spec) String() string {
	parts := []string{s.BaseLevel.String()}
	for _, component := range slices.Sorted(maps.Keys(s.Components)) {
		parts = append(parts, fmt.Sprintf("%s=%s", component, s.Components[component]))
	}
	return strings.Join(parts, ",")
}
