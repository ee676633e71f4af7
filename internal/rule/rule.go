package rule

import (
	"log/slog"
	"slices"

	"github.com/sunbk201/netrule/internal/rule/common"
)

// NewRuleID marks a rule that has not been persisted yet.
const NewRuleID int64 = -1

// Rule is treated as immutable once it is part of a RuleSet; edits go through
// RuleSet methods, which clone.
type Rule struct {
	ID          int64
	Enabled     bool
	Description string
	Conditions  []Condition
	Action      common.Action
}

// Matches reports whether every condition holds for d. A disabled rule never
// matches and an enabled rule without conditions matches everything.
func (r *Rule) Matches(d *common.Descriptor) bool {
	if !r.Enabled {
		return false
	}
	for i := range r.Conditions {
		if !r.Conditions[i].Evaluate(d) {
			return false
		}
	}
	return true
}

// Valid is false when any condition failed to compile.
func (r *Rule) Valid() bool {
	for i := range r.Conditions {
		if !r.Conditions[i].Valid() {
			return false
		}
	}
	return true
}

func (r *Rule) clone() *Rule {
	c := *r
	c.Conditions = slices.Clone(r.Conditions)
	return &c
}

func (r *Rule) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.Int64("id", r.ID),
		slog.Bool("enabled", r.Enabled),
		slog.Int("conditions", len(r.Conditions)),
	}
	if r.Action != nil {
		attrs = append(attrs, slog.String("action", r.Action.String()))
	}
	if r.Description != "" {
		attrs = append(attrs, slog.String("description", r.Description))
	}
	return slog.GroupValue(attrs...)
}
