package descriptor

import (
	"net"
	"net/netip"
	"strconv"
	"strings"

	apperrors "github.com/sunbk201/netrule/internal/errors"
	"github.com/sunbk201/netrule/internal/rule/common"
)

// Raw is a session description as it arrives from outside: addresses may carry
// a port, interfaces may be names or ids, protocols may be names or numbers.
type Raw struct {
	SrcAddr  string `json:"srcAddr,omitempty" yaml:"src-addr,omitempty"`
	DstAddr  string `json:"dstAddr,omitempty" yaml:"dst-addr,omitempty"`
	SrcPort  int    `json:"srcPort,omitempty" yaml:"src-port,omitempty"`
	DstPort  int    `json:"dstPort,omitempty" yaml:"dst-port,omitempty"`
	SrcIntf  string `json:"srcIntf,omitempty" yaml:"src-intf,omitempty"`
	DstIntf  string `json:"dstIntf,omitempty" yaml:"dst-intf,omitempty"`
	Protocol string `json:"protocol,omitempty" yaml:"protocol,omitempty"`
	DstLocal *bool  `json:"dstLocal,omitempty" yaml:"dst-local,omitempty"`
}

// InterfaceResolver maps an interface name to its id.
type InterfaceResolver interface {
	InterfaceID(name string) (int, bool)
}

var protocolNumbers = map[int]string{
	1:   "ICMP",
	6:   "TCP",
	17:  "UDP",
	47:  "GRE",
	50:  "ESP",
	51:  "AH",
	58:  "ICMP",
	132: "SCTP",
}

// ProtocolName upper-cases names and maps IP protocol numbers to names.
// Unknown numbers are returned as given.
func ProtocolName(p string) string {
	p = strings.TrimSpace(p)
	if n, err := strconv.Atoi(p); err == nil {
		if name, ok := protocolNumbers[n]; ok {
			return name
		}
		return p
	}
	if strings.EqualFold(p, "ICMPV6") || strings.EqualFold(p, "IPV6-ICMP") {
		return "ICMP"
	}
	return strings.ToUpper(p)
}

// Normalize turns raw into a Descriptor. A port embedded in an address wins
// over an explicit port of zero. DstLocal is derived from local when raw does
// not state it.
func Normalize(raw Raw, ifaces InterfaceResolver, local *LocalSet) (common.Descriptor, error) {
	var d common.Descriptor
	var err error

	if d.SrcAddr, d.SrcPort, err = parseEndpoint(raw.SrcAddr, raw.SrcPort); err != nil {
		return d, apperrors.Wrap(err, apperrors.KindValidation, "source")
	}
	if d.DstAddr, d.DstPort, err = parseEndpoint(raw.DstAddr, raw.DstPort); err != nil {
		return d, apperrors.Wrap(err, apperrors.KindValidation, "destination")
	}
	if d.SrcIntf, err = resolveIntf(raw.SrcIntf, ifaces); err != nil {
		return d, apperrors.Wrap(err, apperrors.KindValidation, "source interface")
	}
	if d.DstIntf, err = resolveIntf(raw.DstIntf, ifaces); err != nil {
		return d, apperrors.Wrap(err, apperrors.KindValidation, "destination interface")
	}
	d.Protocol = ProtocolName(raw.Protocol)

	switch {
	case raw.DstLocal != nil:
		d.DstLocal = *raw.DstLocal
	case local != nil:
		d.DstLocal = local.Contains(d.DstAddr)
	}
	return d, nil
}

func parseEndpoint(s string, port int) (netip.Addr, uint16, error) {
	if port < 0 || port > 65535 {
		return netip.Addr{}, 0, apperrors.Errorf(apperrors.KindValidation, "port %d out of range", port)
	}
	p := uint16(port)
	s = strings.TrimSpace(s)
	if s == "" {
		return netip.Addr{}, p, nil
	}
	if ap, err := netip.ParseAddrPort(s); err == nil {
		if p == 0 {
			p = ap.Port()
		}
		return ap.Addr().Unmap(), p, nil
	}
	host := strings.TrimSuffix(strings.TrimPrefix(s, "["), "]")
	if h, _, err := net.SplitHostPort(s); err == nil {
		host = h
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return netip.Addr{}, 0, apperrors.Errorf(apperrors.KindValidation, "bad address %q", s)
	}
	return addr.Unmap(), p, nil
}

func resolveIntf(s string, ifaces InterfaceResolver) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if id, err := strconv.Atoi(s); err == nil {
		if id < 0 {
			return 0, apperrors.Errorf(apperrors.KindValidation, "bad interface id %d", id)
		}
		return id, nil
	}
	if ifaces != nil {
		if id, ok := ifaces.InterfaceID(s); ok {
			return id, nil
		}
	}
	return 0, apperrors.Errorf(apperrors.KindNotFound, "unknown interface %q", s)
}

// LocalSet is the set of addresses terminated on the appliance itself.
type LocalSet struct {
	prefixes []netip.Prefix
}

func NewLocalSet(values []string) (*LocalSet, error) {
	l := &LocalSet{}
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if strings.Contains(v, "/") {
			p, err := netip.ParsePrefix(v)
			if err != nil {
				return nil, apperrors.Wrapf(err, apperrors.KindValidation, "local address %q", v)
			}
			l.prefixes = append(l.prefixes, p.Masked())
			continue
		}
		a, err := netip.ParseAddr(v)
		if err != nil {
			return nil, apperrors.Wrapf(err, apperrors.KindValidation, "local address %q", v)
		}
		a = a.Unmap()
		l.prefixes = append(l.prefixes, netip.PrefixFrom(a, a.BitLen()))
	}
	return l, nil
}

func (l *LocalSet) Contains(a netip.Addr) bool {
	if l == nil || !a.IsValid() {
		return false
	}
	a = a.Unmap()
	for _, p := range l.prefixes {
		if p.Contains(a) {
			return true
		}
	}
	return false
}
