package settings

import (
	"encoding/json"
	"fmt"

	"go.yaml.in/yaml/v3"

	"github.com/sunbk201/netrule/internal/rule"
	"github.com/sunbk201/netrule/internal/rule/common"
)

// ConditionRecord is the stored form of a condition. Older files name the
// type field matcherType.
type ConditionRecord struct {
	ConditionType string `json:"conditionType" yaml:"conditionType" validate:"required,oneof=DST_LOCAL DST_ADDR DST_PORT DST_INTF SRC_ADDR SRC_PORT SRC_INTF PROTOCOL"`
	Invert        bool   `json:"invert" yaml:"invert"`
	Value         string `json:"value" yaml:"value"`
}

type conditionRecordIn struct {
	ConditionType string `json:"conditionType" yaml:"conditionType"`
	MatcherType   string `json:"matcherType" yaml:"matcherType"`
	Invert        bool   `json:"invert" yaml:"invert"`
	Value         string `json:"value" yaml:"value"`
}

func (in conditionRecordIn) record() ConditionRecord {
	c := ConditionRecord{ConditionType: in.ConditionType, Invert: in.Invert, Value: in.Value}
	if c.ConditionType == "" {
		c.ConditionType = in.MatcherType
	}
	return c.canonical()
}

// canonical spells a known condition type the way it is stored. Unknown types
// are left alone so they can be reported.
func (c ConditionRecord) canonical() ConditionRecord {
	if t, ok := common.ParseConditionType(c.ConditionType); ok {
		c.ConditionType = string(t)
	}
	return c
}

func (c *ConditionRecord) UnmarshalJSON(b []byte) error {
	var in conditionRecordIn
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	*c = in.record()
	return nil
}

func (c *ConditionRecord) UnmarshalYAML(node *yaml.Node) error {
	var in conditionRecordIn
	if err := node.Decode(&in); err != nil {
		return err
	}
	*c = in.record()
	return nil
}

// ConditionList decodes either a plain list or the {"javaClass": ..., "list": [...]}
// wrapper the settings backend emits. It always encodes as a plain list.
type ConditionList []ConditionRecord

type wrappedList struct {
	JavaClass string            `json:"javaClass" yaml:"javaClass"`
	List      []ConditionRecord `json:"list" yaml:"list"`
}

func (l *ConditionList) UnmarshalJSON(b []byte) error {
	var plain []ConditionRecord
	if err := json.Unmarshal(b, &plain); err == nil {
		l.set(plain)
		return nil
	}
	var w wrappedList
	if err := json.Unmarshal(b, &w); err != nil {
		return fmt.Errorf("conditions: %w", err)
	}
	l.set(w.List)
	return nil
}

func (l *ConditionList) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.MappingNode {
		var w wrappedList
		if err := node.Decode(&w); err != nil {
			return fmt.Errorf("conditions: %w", err)
		}
		l.set(w.List)
		return nil
	}
	var plain []ConditionRecord
	if err := node.Decode(&plain); err != nil {
		return fmt.Errorf("conditions: %w", err)
	}
	l.set(plain)
	return nil
}

// set stores an empty list as nil.
func (l *ConditionList) set(recs []ConditionRecord) {
	if len(recs) == 0 {
		*l = nil
		return
	}
	*l = recs
}

// RuleRecord is the stored form of a rule. Only the action fields of the
// rule's domain are meaningful. A missing ruleId decodes as unpersisted and a
// missing enabled flag as enabled.
type RuleRecord struct {
	RuleID      int64         `json:"ruleId" yaml:"ruleId" validate:"gte=-1"`
	Enabled     bool          `json:"enabled" yaml:"enabled"`
	Description string        `json:"description" yaml:"description"`
	Conditions  ConditionList `json:"conditions" yaml:"conditions" validate:"dive"`

	NewDestination string `json:"newDestination,omitempty" yaml:"newDestination,omitempty" validate:"omitempty,ip"`
	NewPort        int    `json:"newPort,omitempty" yaml:"newPort,omitempty" validate:"gte=0,lte=65535"`
	Auto           bool   `json:"auto,omitempty" yaml:"auto,omitempty"`
	NewSource      string `json:"newSource,omitempty" yaml:"newSource,omitempty" validate:"omitempty,ip"`
	Bypass         bool   `json:"bypass,omitempty" yaml:"bypass,omitempty"`
}

type ruleRecordPlain RuleRecord

type ruleRecordIn struct {
	ruleRecordPlain `yaml:",inline"`
	Matchers        ConditionList `json:"matchers" yaml:"matchers"`
}

func newRuleRecordIn() ruleRecordIn {
	return ruleRecordIn{ruleRecordPlain: ruleRecordPlain{RuleID: rule.NewRuleID, Enabled: true}}
}

func (in ruleRecordIn) record() RuleRecord {
	r := RuleRecord(in.ruleRecordPlain)
	if len(r.Conditions) == 0 && len(in.Matchers) > 0 {
		r.Conditions = in.Matchers
	}
	return r
}

func (r *RuleRecord) UnmarshalJSON(b []byte) error {
	in := newRuleRecordIn()
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	*r = in.record()
	return nil
}

func (r *RuleRecord) UnmarshalYAML(node *yaml.Node) error {
	in := newRuleRecordIn()
	if err := node.Decode(&in); err != nil {
		return err
	}
	*r = in.record()
	return nil
}

type Interface struct {
	InterfaceID int    `json:"interfaceId" yaml:"interfaceId" validate:"gte=1"`
	Name        string `json:"name" yaml:"name" validate:"required"`
	IsWAN       bool   `json:"isWan" yaml:"isWan"`
}

// Settings is the persisted network settings document.
type Settings struct {
	Interfaces       Interfaces   `json:"interfaces" yaml:"interfaces" validate:"dive"`
	PortForwardRules []RuleRecord `json:"portForwardRules" yaml:"portForwardRules"`
	NATRules         []RuleRecord `json:"natRules" yaml:"natRules"`
	BypassRules      []RuleRecord `json:"bypassRules" yaml:"bypassRules"`
}
