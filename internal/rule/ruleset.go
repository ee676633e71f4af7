package rule

import (
	"fmt"
	"slices"

	apperrors "github.com/sunbk201/netrule/internal/errors"
	"github.com/sunbk201/netrule/internal/rule/common"
)

var (
	ErrRuleNotFound    = apperrors.New(apperrors.KindNotFound, "rule not found")
	ErrIndexOutOfRange = apperrors.New(apperrors.KindNotFound, "rule index out of range")
	ErrUnpersistedID   = apperrors.New(apperrors.KindValidation, "rule has no persistent id")
)

// RuleSet is an immutable, ordered snapshot of one domain's rules. Position is
// the only priority: index 0 is evaluated first. Every edit returns a new
// RuleSet with Version+1 and leaves the receiver untouched, so evaluations
// holding the old snapshot never see a partial edit.
type RuleSet struct {
	domain  common.Domain
	version uint64
	rules   []*Rule
}

func NewRuleSet(domain common.Domain, rules ...*Rule) *RuleSet {
	return &RuleSet{domain: domain, rules: slices.Clone(rules)}
}

func (rs *RuleSet) Domain() common.Domain {
	return rs.domain
}

func (rs *RuleSet) Version() uint64 {
	return rs.version
}

func (rs *RuleSet) Len() int {
	if rs == nil {
		return 0
	}
	return len(rs.rules)
}

// Rules returns the rules in evaluation order. The slice is a copy; the
// rules themselves are shared and must not be modified.
func (rs *RuleSet) Rules() []*Rule {
	if rs == nil {
		return nil
	}
	return slices.Clone(rs.rules)
}

func (rs *RuleSet) At(i int) *Rule {
	return rs.rules[i]
}

// Index returns the position of the rule with the given id, or -1. Unpersisted
// ids are never found.
func (rs *RuleSet) Index(id int64) int {
	if id < 0 {
		return -1
	}
	for i, r := range rs.rules {
		if r.ID == id {
			return i
		}
	}
	return -1
}

func (rs *RuleSet) Get(id int64) (*Rule, bool) {
	if i := rs.Index(id); i >= 0 {
		return rs.rules[i], true
	}
	return nil, false
}

func (rs *RuleSet) next(rules []*Rule) *RuleSet {
	return &RuleSet{domain: rs.domain, version: rs.version + 1, rules: rules}
}

func (rs *RuleSet) indexOf(id int64) (int, error) {
	if id < 0 {
		return -1, fmt.Errorf("%w: id %d", ErrUnpersistedID, id)
	}
	i := rs.Index(id)
	if i < 0 {
		return -1, fmt.Errorf("%w: id %d", ErrRuleNotFound, id)
	}
	return i, nil
}

// Add appends r as a new, unpersisted rule.
func (rs *RuleSet) Add(r *Rule) *RuleSet {
	n := r.clone()
	n.ID = NewRuleID
	return rs.next(append(slices.Clone(rs.rules), n))
}

// Insert places r as a new, unpersisted rule at index (0..Len).
func (rs *RuleSet) Insert(index int, r *Rule) (*RuleSet, error) {
	if index < 0 || index > len(rs.rules) {
		return nil, fmt.Errorf("%w: %d", ErrIndexOutOfRange, index)
	}
	n := r.clone()
	n.ID = NewRuleID
	return rs.next(slices.Insert(slices.Clone(rs.rules), index, n)), nil
}

// Delete removes the rule with id. Surviving ids are not renumbered.
func (rs *RuleSet) Delete(id int64) (*RuleSet, error) {
	i, err := rs.indexOf(id)
	if err != nil {
		return nil, err
	}
	return rs.DeleteAt(i)
}

func (rs *RuleSet) DeleteAt(index int) (*RuleSet, error) {
	if index < 0 || index >= len(rs.rules) {
		return nil, fmt.Errorf("%w: %d", ErrIndexOutOfRange, index)
	}
	return rs.next(slices.Delete(slices.Clone(rs.rules), index, index+1)), nil
}

// Move repositions the rule at from to index to, shifting the rules in
// between. The relative order of all other rules is preserved.
func (rs *RuleSet) Move(from, to int) (*RuleSet, error) {
	n := len(rs.rules)
	if from < 0 || from >= n {
		return nil, fmt.Errorf("%w: from %d", ErrIndexOutOfRange, from)
	}
	if to < 0 || to >= n {
		return nil, fmt.Errorf("%w: to %d", ErrIndexOutOfRange, to)
	}
	rules := slices.Clone(rs.rules)
	r := rules[from]
	rules = slices.Delete(rules, from, from+1)
	rules = slices.Insert(rules, to, r)
	return rs.next(rules), nil
}

func (rs *RuleSet) MoveRule(id int64, to int) (*RuleSet, error) {
	i, err := rs.indexOf(id)
	if err != nil {
		return nil, err
	}
	return rs.Move(i, to)
}

func (rs *RuleSet) SetEnabled(id int64, enabled bool) (*RuleSet, error) {
	i, err := rs.indexOf(id)
	if err != nil {
		return nil, err
	}
	rules := slices.Clone(rs.rules)
	n := rules[i].clone()
	n.Enabled = enabled
	rules[i] = n
	return rs.next(rules), nil
}

// Replace swaps in r for the rule with id, keeping its id and position.
func (rs *RuleSet) Replace(id int64, r *Rule) (*RuleSet, error) {
	i, err := rs.indexOf(id)
	if err != nil {
		return nil, err
	}
	rules := slices.Clone(rs.rules)
	n := r.clone()
	n.ID = id
	rules[i] = n
	return rs.next(rules), nil
}

// WithRules replaces the whole list, as a full save from the editor does.
func (rs *RuleSet) WithRules(rules []*Rule) *RuleSet {
	return rs.next(slices.Clone(rules))
}

// Warning flags a condition that failed to compile. Such a rule stays in the
// set but can never match.
type Warning struct {
	RuleID    int64                `json:"ruleId"`
	Index     int                  `json:"index"`
	Condition int                  `json:"condition"`
	Type      common.ConditionType `json:"conditionType"`
	Value     string               `json:"value"`
	Message   string               `json:"message"`
}

func (w Warning) String() string {
	return fmt.Sprintf("rule %d (position %d) condition %d: %s", w.RuleID, w.Index, w.Condition, w.Message)
}

func (rs *RuleSet) Warnings() []Warning {
	var warnings []Warning
	for i, r := range rs.rules {
		for j := range r.Conditions {
			c := &r.Conditions[j]
			if c.Valid() {
				continue
			}
			msg := "invalid condition"
			if c.Err() != nil {
				msg = c.Err().Error()
			}
			warnings = append(warnings, Warning{
				RuleID:    r.ID,
				Index:     i,
				Condition: j,
				Type:      c.Type,
				Value:     c.Value,
				Message:   msg,
			})
		}
	}
	return warnings
}
