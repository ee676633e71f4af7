package common

import (
	"log/slog"
	"net/netip"
)

// Descriptor holds the session attributes a rule is matched against.
// Interface ids are 0 when unknown.
type Descriptor struct {
	SrcAddr  netip.Addr `json:"srcAddr"`
	DstAddr  netip.Addr `json:"dstAddr"`
	SrcPort  uint16     `json:"srcPort"`
	DstPort  uint16     `json:"dstPort"`
	SrcIntf  int        `json:"srcIntf"`
	DstIntf  int        `json:"dstIntf"`
	Protocol string     `json:"protocol"`
	DstLocal bool       `json:"dstLocal"`
}

func (d *Descriptor) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("protocol", d.Protocol),
		slog.String("src", netip.AddrPortFrom(d.SrcAddr, d.SrcPort).String()),
		slog.String("dst", netip.AddrPortFrom(d.DstAddr, d.DstPort).String()),
		slog.Int("src_intf", d.SrcIntf),
		slog.Int("dst_intf", d.DstIntf),
		slog.Bool("dst_local", d.DstLocal),
	)
}
