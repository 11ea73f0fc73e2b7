package rules

import (
	"fmt"

	"github.com/gyaneshwarpardhi/txmon/internal/condition"
	"github.com/gyaneshwarpardhi/txmon/internal/model"
)

// HighValueThreshold is the amount above which the built-in rule raises an alert.
const HighValueThreshold = 10000

// Rule is a compiled, enabled rule.
type Rule struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	Enabled     bool   `json:"enabled"`
	Reason      string `json:"reason"`
	Expression  string `json:"expression"`
	expr        condition.Expr
}

// Set is an immutable, ordered collection of compiled rules. Reloads build a
// new Set and swap it in.
type Set struct {
	version string
	rules   []Rule
}

// Build compiles the enabled rules of a validated file.
// All expressions are parsed here; nothing is parsed per event.
func Build(f *File) (*Set, error) {
	s := &Set{version: f.Version}
	for _, def := range f.Rules {
		if !def.Enabled {
			continue
		}
		expr, err := condition.Parse(def.Expression)
		if err != nil {
			return nil, fmt.Errorf("rule %s: parse %q: %w", def.ID, def.Expression, err)
		}
		s.rules = append(s.rules, Rule{
			ID:          def.ID,
			Description: def.Description,
			Enabled:     true,
			Reason:      def.Reason,
			Expression:  def.Expression,
			expr:        expr,
		})
	}
	return s, nil
}

// DefaultFile is used when no rules file is configured.
func DefaultFile() *File {
	return &File{
		Version: "builtin",
		Rules: []RuleDef{{
			ID:          "high_value",
			Description: "single transfer above the high-value threshold",
			Enabled:     true,
			Reason:      model.ReasonHighValue,
			Expression:  fmt.Sprintf("amount > %d", HighValueThreshold),
		}},
	}
}

// Default returns the compiled built-in rule set.
func Default() *Set {
	s, err := Build(DefaultFile())
	if err != nil {
		panic(fmt.Sprintf("rules: built-in rule set does not compile: %v", err))
	}
	return s
}

// Version returns the version string of the file the set was built from.
func (s *Set) Version() string { return s.version }

// Rules returns the enabled rules in evaluation order.
func (s *Set) Rules() []Rule {
	return append([]Rule(nil), s.rules...)
}

// Len returns the number of enabled rules.
func (s *Set) Len() int { return len(s.rules) }

// Match returns the first rule that holds for ev. A rule that fails to
// evaluate is skipped and its error collected; the remaining rules still run.
func (s *Set) Match(ev *model.TransactionEvent) (Rule, bool, []error) {
	var errs []error
	r := eventRecord{ev}
	for _, rule := range s.rules {
		ok, err := condition.Evaluate(rule.expr, r)
		if err != nil {
			errs = append(errs, fmt.Errorf("rule %s: %w", rule.ID, err))
			continue
		}
		if ok {
			return rule, true, errs
		}
	}
	return Rule{}, false, errs
}

// eventRecord exposes TransactionEvent fields to rule expressions.
type eventRecord struct {
	ev *model.TransactionEvent
}

func (r eventRecord) Lookup(name string) (any, bool) {
	switch name {
	case "tx_id":
		return r.ev.TxID, true
	case "from_user":
		return r.ev.FromUser, true
	case "to_user":
		return r.ev.ToUser, true
	case "amount":
		return r.ev.Amount, true
	case "status":
		return r.ev.Status, true
	case "email":
		return r.ev.Email, true
	}
	return nil, false
}
