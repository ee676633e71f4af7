package settings

import (
	"fmt"
	"strings"

	"github.com/sunbk201/netrule/internal/rule"
	"github.com/sunbk201/netrule/internal/rule/action"
	"github.com/sunbk201/netrule/internal/rule/common"
	"github.com/sunbk201/netrule/internal/rule/match"
)

// Warning is a problem found while loading or checking rules. It never stops
// a rule set from being published.
type Warning struct {
	Domain  common.Domain `json:"domain"`
	RuleID  int64         `json:"ruleId"`
	Index   int           `json:"index"`
	Field   string        `json:"field"`
	Message string        `json:"message"`
}

func (w Warning) String() string {
	return fmt.Sprintf("%s rule %d (position %d) %s: %s", w.Domain, w.RuleID, w.Index, w.Field, w.Message)
}

// Rules returns the records of one domain.
func (s *Settings) Rules(domain common.Domain) []RuleRecord {
	switch domain {
	case common.DomainPortForward:
		return s.PortForwardRules
	case common.DomainNAT:
		return s.NATRules
	case common.DomainBypass:
		return s.BypassRules
	}
	return nil
}

func (s *Settings) SetRules(domain common.Domain, recs []RuleRecord) {
	switch domain {
	case common.DomainPortForward:
		s.PortForwardRules = recs
	case common.DomainNAT:
		s.NATRules = recs
	case common.DomainBypass:
		s.BypassRules = recs
	}
}

// FromRecords compiles records with the default compiler.
func FromRecords(domain common.Domain, recs []RuleRecord) (*rule.RuleSet, []Warning) {
	return CompileRecords(match.DefaultCompiler, domain, recs)
}

// CompileRecords builds the rule set for domain. Conditions that fail to
// compile are kept and reported; they never match.
func CompileRecords(c *match.Compiler, domain common.Domain, recs []RuleRecord) (*rule.RuleSet, []Warning) {
	var warnings []Warning
	rules := make([]*rule.Rule, 0, len(recs))
	for i, rec := range recs {
		r := &rule.Rule{
			ID:          rec.RuleID,
			Enabled:     rec.Enabled,
			Description: rec.Description,
			Conditions:  make([]rule.Condition, 0, len(rec.Conditions)),
		}
		for _, cr := range rec.Conditions {
			cr = cr.canonical()
			r.Conditions = append(r.Conditions, rule.CompileCondition(c, common.ConditionType(cr.ConditionType), cr.Value, cr.Invert))
		}

		fields := rec.fields()
		a, err := action.New(domain, fields)
		if err != nil {
			warnings = append(warnings, Warning{Domain: domain, RuleID: rec.RuleID, Index: i, Field: "action", Message: err.Error()})
		}
		r.Action = a
		for _, p := range action.Check(domain, fields) {
			warnings = append(warnings, Warning{Domain: domain, RuleID: rec.RuleID, Index: i, Field: "action", Message: p})
		}
		rules = append(rules, r)
	}

	rs := rule.NewRuleSet(domain, rules...)
	warnings = append(warnings, conditionWarnings(rs)...)
	return rs, append(warnings, duplicateWarnings(rs)...)
}

func conditionWarnings(rs *rule.RuleSet) []Warning {
	var warnings []Warning
	for _, w := range rs.Warnings() {
		warnings = append(warnings, Warning{
			Domain:  rs.Domain(),
			RuleID:  w.RuleID,
			Index:   w.Index,
			Field:   fmt.Sprintf("conditions[%d]", w.Condition),
			Message: w.Message,
		})
	}
	return warnings
}

// duplicateWarnings flags every rule whose id is already used by an earlier
// rule; edits by id only ever reach the first.
func duplicateWarnings(rs *rule.RuleSet) []Warning {
	var warnings []Warning
	first := map[int64]int{}
	for i, r := range rs.Rules() {
		if r.ID < 0 {
			continue
		}
		if j, ok := first[r.ID]; ok {
			warnings = append(warnings, Warning{
				Domain:  rs.Domain(),
				RuleID:  r.ID,
				Index:   i,
				Field:   "ruleId",
				Message: fmt.Sprintf("id already used by the rule at position %d", j),
			})
			continue
		}
		first[r.ID] = i
	}
	return warnings
}

// ToRecords is the inverse of FromRecords. Action fields that failed to parse
// are written back as they were read.
func ToRecords(rs *rule.RuleSet) []RuleRecord {
	recs := make([]RuleRecord, 0, rs.Len())
	for _, r := range rs.Rules() {
		recs = append(recs, ToRecord(r))
	}
	return recs
}

func ToRecord(r *rule.Rule) RuleRecord {
	rec := RuleRecord{
		RuleID:      r.ID,
		Enabled:     r.Enabled,
		Description: r.Description,
		Conditions:  make(ConditionList, 0, len(r.Conditions)),
	}
	for _, c := range r.Conditions {
		rec.Conditions = append(rec.Conditions, ConditionRecord{
			ConditionType: string(c.Type),
			Invert:        c.Invert,
			Value:         c.Value,
		})
	}
	if r.Action != nil {
		rec.setFields(action.ToFields(r.Action))
	}
	return rec
}

// Check collects every warning for a published rule set: conditions that do
// not compile, incomplete actions and port forwards shadowing reserved ports.
func Check(rs *rule.RuleSet, reserved []uint16) []Warning {
	if rs == nil {
		return nil
	}
	domain := rs.Domain()
	var warnings []Warning
	for i, r := range rs.Rules() {
		fields := action.Fields{}
		if r.Action != nil {
			fields = action.ToFields(r.Action)
		}
		for _, p := range action.Check(domain, fields) {
			warnings = append(warnings, Warning{Domain: domain, RuleID: r.ID, Index: i, Field: "action", Message: p})
		}
	}
	warnings = append(warnings, conditionWarnings(rs)...)
	warnings = append(warnings, duplicateWarnings(rs)...)
	return append(warnings, ReservedPortWarnings(rs, reserved)...)
}

func (r *RuleRecord) fields() action.Fields {
	return action.Fields{
		NewDestination: strings.TrimSpace(r.NewDestination),
		NewPort:        r.NewPort,
		Auto:           r.Auto,
		NewSource:      strings.TrimSpace(r.NewSource),
		Bypass:         r.Bypass,
	}
}

func (r *RuleRecord) setFields(f action.Fields) {
	r.NewDestination = f.NewDestination
	r.NewPort = f.NewPort
	r.Auto = f.Auto
	r.NewSource = f.NewSource
	r.Bypass = f.Bypass
}
