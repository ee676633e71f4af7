package action

import (
	"fmt"
	"net/netip"
	"strconv"

	"github.com/sunbk201/netrule/internal/rule/common"
)

// PortForward redirects a matched session to NewDestination. NewPort 0 keeps
// the original destination port.
type PortForward struct {
	NewDestination netip.Addr
	NewPort        uint16

	fields *Fields
}

func (p *PortForward) Domain() common.Domain {
	return common.DomainPortForward
}

func (p *PortForward) String() string {
	if p.NewPort == 0 {
		return "fwd:" + p.NewDestination.String()
	}
	return "fwd:" + netip.AddrPortFrom(p.NewDestination, p.NewPort).String()
}

// NAT rewrites the source address. With Auto set the outgoing interface
// address is used and NewSource is ignored.
type NAT struct {
	Auto      bool
	NewSource netip.Addr

	fields *Fields
}

func (n *NAT) Domain() common.Domain {
	return common.DomainNAT
}

func (n *NAT) String() string {
	if n.Auto {
		return "nat:auto"
	}
	return "nat:" + n.NewSource.String()
}

// Bypass decides whether a session skips application processing (true) or is
// captured (false).
type Bypass struct {
	Bypass bool

	fields *Fields
}

func (b *Bypass) Domain() common.Domain {
	return common.DomainBypass
}

func (b *Bypass) String() string {
	if b.Bypass {
		return "bypass"
	}
	return "capture"
}

// Fields is the flat action part of a rule record.
type Fields struct {
	NewDestination string
	NewPort        int
	Auto           bool
	NewSource      string
	Bypass         bool
}

// New builds the action for domain from record fields. It is lenient:
// unparsable addresses are left zero and reported by Check. The action keeps
// f, so ToFields gives back exactly what was stored.
func New(domain common.Domain, f Fields) (common.Action, error) {
	switch domain {
	case common.DomainPortForward:
		a := &PortForward{fields: &f}
		if f.NewDestination != "" {
			a.NewDestination, _ = netip.ParseAddr(f.NewDestination)
		}
		if f.NewPort > 0 && f.NewPort <= 65535 {
			a.NewPort = uint16(f.NewPort)
		}
		return a, nil
	case common.DomainNAT:
		a := &NAT{Auto: f.Auto, fields: &f}
		if f.NewSource != "" {
			a.NewSource, _ = netip.ParseAddr(f.NewSource)
		}
		return a, nil
	case common.DomainBypass:
		return &Bypass{Bypass: f.Bypass, fields: &f}, nil
	default:
		return nil, fmt.Errorf("unknown domain %q", domain)
	}
}

// ToFields is the inverse of New. Actions built in code, rather than by New,
// are rendered from their parsed values.
func ToFields(a common.Action) Fields {
	switch v := a.(type) {
	case *PortForward:
		if v.fields != nil {
			return *v.fields
		}
		f := Fields{NewPort: int(v.NewPort)}
		if v.NewDestination.IsValid() {
			f.NewDestination = v.NewDestination.String()
		}
		return f
	case *NAT:
		if v.fields != nil {
			return *v.fields
		}
		f := Fields{Auto: v.Auto}
		if v.NewSource.IsValid() {
			f.NewSource = v.NewSource.String()
		}
		return f
	case *Bypass:
		if v.fields != nil {
			return *v.fields
		}
		return Fields{Bypass: v.Bypass}
	}
	return Fields{}
}

// Check reports editor-level problems with the action fields of a record:
// a port forward needs a destination, and a NAT rule that is not automatic
// needs a custom source. These never stop a rule from matching.
func Check(domain common.Domain, f Fields) []string {
	var problems []string
	switch domain {
	case common.DomainPortForward:
		if f.NewDestination == "" {
			problems = append(problems, "newDestination is required")
		} else if _, err := netip.ParseAddr(f.NewDestination); err != nil {
			problems = append(problems, "newDestination "+strconv.Quote(f.NewDestination)+" is not an IP address")
		}
		if f.NewPort < 0 || f.NewPort > 65535 {
			problems = append(problems, "newPort "+strconv.Itoa(f.NewPort)+" is out of range")
		}
	case common.DomainNAT:
		if !f.Auto {
			if f.NewSource == "" {
				problems = append(problems, "newSource is required unless auto is set")
			} else if _, err := netip.ParseAddr(f.NewSource); err != nil {
				problems = append(problems, "newSource "+strconv.Quote(f.NewSource)+" is not an IP address")
			}
		}
	}
	return problems
}
