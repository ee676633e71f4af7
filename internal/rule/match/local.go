package match

import (
	"strconv"
	"strings"

	"github.com/sunbk201/netrule/internal/rule/common"
)

type Local struct {
	want bool
}

func (l *Local) Type() common.ConditionType {
	return common.ConditionDstLocal
}

func (l *Local) Match(d *common.Descriptor) bool {
	return d.DstLocal == l.want
}

func (l *Local) String() string {
	return strconv.FormatBool(l.want)
}

func NewLocal(value string) (*Local, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "true":
		return &Local{want: true}, nil
	case "false":
		return &Local{want: false}, nil
	}
	return nil, newParseError(common.ConditionDstLocal, value, "expected true or false")
}
