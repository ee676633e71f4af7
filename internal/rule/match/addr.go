package match

import (
	"log/slog"
	"net/netip"
	"strings"

	"github.com/sunbk201/netrule/internal/rule/common"
)

type addrRange struct {
	from, to netip.Addr
}

func (r addrRange) contains(a netip.Addr) bool {
	return a.Is4() == r.from.Is4() && r.from.Compare(a) <= 0 && a.Compare(r.to) <= 0
}

// Addr matches the source or destination address against a list of single
// addresses, CIDR prefixes and inclusive ranges ("a-b").
type Addr struct {
	typ      common.ConditionType
	any      bool
	prefixes []netip.Prefix
	ranges   []addrRange
	raw      []string
}

func (a *Addr) Type() common.ConditionType {
	return a.typ
}

func (a *Addr) Match(d *common.Descriptor) bool {
	if a.any {
		return true
	}
	addr := d.DstAddr
	if a.typ == common.ConditionSrcAddr {
		addr = d.SrcAddr
	}
	if !addr.IsValid() {
		return false
	}
	addr = addr.Unmap()
	for _, p := range a.prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	for _, r := range a.ranges {
		if r.contains(addr) {
			return true
		}
	}
	return false
}

func (a *Addr) String() string {
	if a.any {
		return anyValue
	}
	return strings.Join(a.raw, ",")
}

func (a *Addr) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("type", string(a.typ)),
		slog.String("value", a.String()),
	)
}

func NewAddr(t common.ConditionType, value string) (*Addr, error) {
	items := splitList(value)
	if len(items) == 0 {
		return nil, newParseError(t, value, "empty address list")
	}
	a := &Addr{typ: t}
	for _, item := range items {
		if strings.EqualFold(item, anyValue) {
			a.any = true
			continue
		}
		if strings.Contains(item, "/") {
			p, err := netip.ParsePrefix(item)
			if err != nil {
				return nil, newParseError(t, value, "bad prefix %q", item)
			}
			p = netip.PrefixFrom(p.Addr().Unmap(), p.Bits())
			if !p.IsValid() {
				return nil, newParseError(t, value, "bad prefix %q", item)
			}
			a.prefixes = append(a.prefixes, p.Masked())
			a.raw = append(a.raw, p.Masked().String())
			continue
		}
		if lo, hi, ok := strings.Cut(item, "-"); ok {
			from, err1 := netip.ParseAddr(strings.TrimSpace(lo))
			to, err2 := netip.ParseAddr(strings.TrimSpace(hi))
			if err1 != nil || err2 != nil {
				return nil, newParseError(t, value, "bad range %q", item)
			}
			from, to = from.Unmap(), to.Unmap()
			if from.Is4() != to.Is4() || from.Compare(to) > 0 {
				return nil, newParseError(t, value, "bad range %q", item)
			}
			a.ranges = append(a.ranges, addrRange{from: from, to: to})
			a.raw = append(a.raw, from.String()+"-"+to.String())
			continue
		}
		ip, err := netip.ParseAddr(item)
		if err != nil {
			return nil, newParseError(t, value, "bad address %q", item)
		}
		ip = ip.Unmap()
		a.prefixes = append(a.prefixes, netip.PrefixFrom(ip, ip.BitLen()))
		a.raw = append(a.raw, ip.String())
	}
	return a, nil
}
