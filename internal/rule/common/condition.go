package common

import "strings"

type ConditionType string

const (
	ConditionDstLocal ConditionType = "DST_LOCAL"
	ConditionDstAddr  ConditionType = "DST_ADDR"
	ConditionDstPort  ConditionType = "DST_PORT"
	ConditionDstIntf  ConditionType = "DST_INTF"
	ConditionSrcAddr  ConditionType = "SRC_ADDR"
	ConditionSrcPort  ConditionType = "SRC_PORT"
	ConditionSrcIntf  ConditionType = "SRC_INTF"
	ConditionProtocol ConditionType = "PROTOCOL"
)

// ConditionTypes lists every condition type in display order.
var ConditionTypes = []ConditionType{
	ConditionDstLocal,
	ConditionDstAddr,
	ConditionDstPort,
	ConditionDstIntf,
	ConditionSrcAddr,
	ConditionSrcPort,
	ConditionSrcIntf,
	ConditionProtocol,
}

type ConditionKind int

const (
	KindUnknown ConditionKind = iota
	KindBoolean
	KindAddress
	KindPort
	KindInterface
	KindProtocol
)

func (k ConditionKind) String() string {
	switch k {
	case KindBoolean:
		return "boolean"
	case KindAddress:
		return "address"
	case KindPort:
		return "port"
	case KindInterface:
		return "interface"
	case KindProtocol:
		return "protocol"
	default:
		return "unknown"
	}
}

// Kind reports which value grammar applies to the condition type.
func (t ConditionType) Kind() ConditionKind {
	switch t {
	case ConditionDstLocal:
		return KindBoolean
	case ConditionDstAddr, ConditionSrcAddr:
		return KindAddress
	case ConditionDstPort, ConditionSrcPort:
		return KindPort
	case ConditionDstIntf, ConditionSrcIntf:
		return KindInterface
	case ConditionProtocol:
		return KindProtocol
	default:
		return KindUnknown
	}
}

func (t ConditionType) Valid() bool {
	return t.Kind() != KindUnknown
}

// ParseConditionType is case-insensitive and accepts '-' in place of '_'.
func ParseConditionType(s string) (ConditionType, bool) {
	t := ConditionType(strings.ReplaceAll(strings.ToUpper(strings.TrimSpace(s)), "-", "_"))
	return t, t.Valid()
}

// Matcher is a compiled condition value for one condition type.
type Matcher interface {
	Type() ConditionType
	Match(d *Descriptor) bool
	String() string
}
