package descriptor

import (
	"io"
	"net/netip"
	"strconv"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	apperrors "github.com/sunbk201/netrule/internal/errors"
	"github.com/sunbk201/netrule/internal/rule/common"
)

// FromPacket builds a Descriptor from the first packet of a session. The
// interface ids come from the capture point since packets do not carry them.
func FromPacket(pkt gopacket.Packet, srcIntf, dstIntf int, local *LocalSet) (common.Descriptor, error) {
	d := common.Descriptor{SrcIntf: srcIntf, DstIntf: dstIntf}

	var proto layers.IPProtocol
	switch {
	case pkt.Layer(layers.LayerTypeIPv4) != nil:
		ip4 := pkt.Layer(layers.LayerTypeIPv4).(*layers.IPv4)
		d.SrcAddr = addrFromSlice(ip4.SrcIP)
		d.DstAddr = addrFromSlice(ip4.DstIP)
		proto = ip4.Protocol
	case pkt.Layer(layers.LayerTypeIPv6) != nil:
		ip6 := pkt.Layer(layers.LayerTypeIPv6).(*layers.IPv6)
		d.SrcAddr = addrFromSlice(ip6.SrcIP)
		d.DstAddr = addrFromSlice(ip6.DstIP)
		proto = ip6.NextHeader
	default:
		return d, apperrors.New(apperrors.KindValidation, "packet has no IP layer")
	}
	d.Protocol = ProtocolName(strconv.Itoa(int(proto)))

	switch t := pkt.TransportLayer().(type) {
	case *layers.TCP:
		d.SrcPort, d.DstPort = uint16(t.SrcPort), uint16(t.DstPort)
		d.Protocol = "TCP"
	case *layers.UDP:
		d.SrcPort, d.DstPort = uint16(t.SrcPort), uint16(t.DstPort)
		d.Protocol = "UDP"
	case *layers.SCTP:
		d.SrcPort, d.DstPort = uint16(t.SrcPort), uint16(t.DstPort)
		d.Protocol = "SCTP"
	}

	if local != nil {
		d.DstLocal = local.Contains(d.DstAddr)
	}
	return d, nil
}

func addrFromSlice(b []byte) netip.Addr {
	a, ok := netip.AddrFromSlice(b)
	if !ok {
		return netip.Addr{}
	}
	return a.Unmap()
}

// ReadFirstPacket decodes the first packet of a pcap stream.
func ReadFirstPacket(r io.Reader) (gopacket.Packet, error) {
	pr, err := pcapgo.NewReader(r)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindValidation, "pcapgo.NewReader")
	}
	data, ci, err := pr.ReadPacketData()
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindValidation, "read first packet")
	}
	pkt := gopacket.NewPacket(data, pr.LinkType(), gopacket.Default)
	pkt.Metadata().CaptureInfo = ci
	return pkt, nil
}

// FromCapture builds a Descriptor from the first packet of a pcap stream.
// Only the interface and DstLocal fields of raw are used; everything else
// comes from the packet.
func FromCapture(r io.Reader, raw Raw, ifaces InterfaceResolver, local *LocalSet) (common.Descriptor, error) {
	srcIntf, err := resolveIntf(raw.SrcIntf, ifaces)
	if err != nil {
		return common.Descriptor{}, apperrors.Wrap(err, apperrors.KindValidation, "source interface")
	}
	dstIntf, err := resolveIntf(raw.DstIntf, ifaces)
	if err != nil {
		return common.Descriptor{}, apperrors.Wrap(err, apperrors.KindValidation, "destination interface")
	}
	pkt, err := ReadFirstPacket(r)
	if err != nil {
		return common.Descriptor{}, err
	}
	d, err := FromPacket(pkt, srcIntf, dstIntf, local)
	if err != nil {
		return d, err
	}
	if raw.DstLocal != nil {
		d.DstLocal = *raw.DstLocal
	}
	return d, nil
}
