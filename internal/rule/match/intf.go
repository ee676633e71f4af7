package match

import (
	"slices"
	"strconv"
	"strings"

	"github.com/sunbk201/netrule/internal/rule/common"
)

// Intf matches the source or destination interface id against a set.
type Intf struct {
	typ common.ConditionType
	any bool
	ids map[int]struct{}
}

func (i *Intf) Type() common.ConditionType {
	return i.typ
}

func (i *Intf) Match(d *common.Descriptor) bool {
	if i.any {
		return true
	}
	id := d.DstIntf
	if i.typ == common.ConditionSrcIntf {
		id = d.SrcIntf
	}
	_, ok := i.ids[id]
	return ok
}

func (i *Intf) String() string {
	if i.any {
		return anyValue
	}
	ids := make([]int, 0, len(i.ids))
	for id := range i.ids {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	parts := make([]string, len(ids))
	for n, id := range ids {
		parts[n] = strconv.Itoa(id)
	}
	return strings.Join(parts, ",")
}

func NewIntf(t common.ConditionType, value string) (*Intf, error) {
	items := splitList(value)
	if len(items) == 0 {
		return nil, newParseError(t, value, "empty interface list")
	}
	i := &Intf{typ: t, ids: make(map[int]struct{}, len(items))}
	for _, item := range items {
		if strings.EqualFold(item, anyValue) {
			i.any = true
			continue
		}
		id, err := strconv.Atoi(item)
		if err != nil || id < 0 {
			return nil, newParseError(t, value, "bad interface id %q", item)
		}
		i.ids[id] = struct{}{}
	}
	return i, nil
}
