package match

import (
	"strconv"
	"strings"

	"github.com/sunbk201/netrule/internal/rule/common"
)

type portRange struct {
	lo, hi uint16
}

// Port matches the source or destination port against single ports and
// inclusive "low-high" ranges.
type Port struct {
	typ    common.ConditionType
	any    bool
	ranges []portRange
}

func (p *Port) Type() common.ConditionType {
	return p.typ
}

func (p *Port) Match(d *common.Descriptor) bool {
	if p.any {
		return true
	}
	port := d.DstPort
	if p.typ == common.ConditionSrcPort {
		port = d.SrcPort
	}
	for _, r := range p.ranges {
		if r.lo <= port && port <= r.hi {
			return true
		}
	}
	return false
}

func (p *Port) String() string {
	if p.any {
		return anyValue
	}
	parts := make([]string, 0, len(p.ranges))
	for _, r := range p.ranges {
		if r.lo == r.hi {
			parts = append(parts, strconv.Itoa(int(r.lo)))
		} else {
			parts = append(parts, strconv.Itoa(int(r.lo))+"-"+strconv.Itoa(int(r.hi)))
		}
	}
	return strings.Join(parts, ",")
}

func NewPort(t common.ConditionType, value string) (*Port, error) {
	items := splitList(value)
	if len(items) == 0 {
		return nil, newParseError(t, value, "empty port list")
	}
	p := &Port{typ: t}
	for _, item := range items {
		if strings.EqualFold(item, anyValue) {
			p.any = true
			continue
		}
		lo, hi, isRange := strings.Cut(item, "-")
		low, err := parsePort(lo)
		if err != nil {
			return nil, newParseError(t, value, "bad port %q", item)
		}
		high := low
		if isRange {
			if high, err = parsePort(hi); err != nil {
				return nil, newParseError(t, value, "bad port %q", item)
			}
			if low > high {
				return nil, newParseError(t, value, "range %q is reversed", item)
			}
		}
		p.ranges = append(p.ranges, portRange{lo: low, hi: high})
	}
	return p, nil
}

func parsePort(s string) (uint16, error) {
	n, err := strconv.ParseUint(strings.TrimSpace(s), 10, 16)
	if err != nil {
		return 0, err
	}
	return uint16(n), nil
}
