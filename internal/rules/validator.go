package rules

import (
	"fmt"
	"strings"

	"github.com/gyaneshwarpardhi/txmon/internal/condition"
)

// Validate checks a rules file for:
//   - a version
//   - missing or duplicate rule IDs
//   - empty reasons
//   - expressions that do not parse
func Validate(f *File) error {
	if f.Version == "" {
		return fmt.Errorf("rules: version is required")
	}
	seen := make(map[string]int)
	var errs []string

	for i, r := range f.Rules {
		if r.ID == "" {
			errs = append(errs, fmt.Sprintf("rules[%d]: id is required", i))
			continue
		}
		if prev, ok := seen[r.ID]; ok {
			errs = append(errs, fmt.Sprintf("duplicate id %q (rules[%d] and rules[%d])", r.ID, prev, i))
		} else {
			seen[r.ID] = i
		}
		if r.Reason == "" {
			errs = append(errs, fmt.Sprintf("rule %s: reason is required", r.ID))
		}
		if r.Expression == "" {
			errs = append(errs, fmt.Sprintf("rule %s: expression is required", r.ID))
			continue
		}
		if _, err := condition.Parse(r.Expression); err != nil {
			errs = append(errs, fmt.Sprintf("rule %s: parse %q: %v", r.ID, r.Expression, err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("rules validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
