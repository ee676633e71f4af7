package match

import (
	"strings"

	"github.com/sunbk201/netrule/internal/rule/common"
)

// Protocols are the names a PROTOCOL condition may list.
var Protocols = []string{"TCP", "UDP", "ICMP", "GRE", "ESP", "AH", "SCTP"}

func knownProtocol(name string) bool {
	for _, p := range Protocols {
		if p == name {
			return true
		}
	}
	return false
}

type Protocol struct {
	any   bool
	names []string
}

func (p *Protocol) Type() common.ConditionType {
	return common.ConditionProtocol
}

func (p *Protocol) Match(d *common.Descriptor) bool {
	if p.any {
		return true
	}
	for _, n := range p.names {
		if strings.EqualFold(n, d.Protocol) {
			return true
		}
	}
	return false
}

func (p *Protocol) String() string {
	if p.any {
		return anyValue
	}
	return strings.Join(p.names, ",")
}

func NewProtocol(value string) (*Protocol, error) {
	items := splitList(value)
	if len(items) == 0 {
		return nil, newParseError(common.ConditionProtocol, value, "empty protocol list")
	}
	p := &Protocol{}
	for _, item := range items {
		name := strings.ToUpper(item)
		if name == "ANY" {
			p.any = true
			continue
		}
		if !knownProtocol(name) {
			return nil, newParseError(common.ConditionProtocol, value, "unknown protocol %q", item)
		}
		p.names = append(p.names, name)
	}
	return p, nil
}
