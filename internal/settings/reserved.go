package settings

import (
	"fmt"

	"github.com/sunbk201/netrule/internal/rule"
	"github.com/sunbk201/netrule/internal/rule/common"
)

// DefaultReservedPorts are the local services a port forward must not shadow:
// SSH and the admin UI.
var DefaultReservedPorts = []uint16{22, 80, 443}

// ReservedPortWarnings reports enabled port-forward rules that match traffic
// to the appliance itself on a reserved port. A rule only counts when it
// requires DST_LOCAL=true; rules without a port condition take every port.
func ReservedPortWarnings(rs *rule.RuleSet, reserved []uint16) []Warning {
	if rs == nil || rs.Domain() != common.DomainPortForward {
		return nil
	}
	var warnings []Warning
	for i, r := range rs.Rules() {
		if !r.Enabled || !requiresLocal(r) {
			continue
		}
		for _, port := range reserved {
			if takesPort(r, port) {
				warnings = append(warnings, Warning{
					Domain:  common.DomainPortForward,
					RuleID:  r.ID,
					Index:   i,
					Field:   string(common.ConditionDstPort),
					Message: fmt.Sprintf("forwards local port %d, which is reserved", port),
				})
			}
		}
	}
	return warnings
}

func requiresLocal(r *rule.Rule) bool {
	for i := range r.Conditions {
		c := &r.Conditions[i]
		if c.Type == common.ConditionDstLocal && c.Valid() && c.Evaluate(&common.Descriptor{DstLocal: true}) &&
			!c.Evaluate(&common.Descriptor{DstLocal: false}) {
			return true
		}
	}
	return false
}

// takesPort reports whether every DST_PORT condition of r accepts port.
func takesPort(r *rule.Rule, port uint16) bool {
	d := &common.Descriptor{DstPort: port}
	for i := range r.Conditions {
		c := &r.Conditions[i]
		if c.Type != common.ConditionDstPort {
			continue
		}
		if !c.Evaluate(d) {
			return false
		}
	}
	return true
}
