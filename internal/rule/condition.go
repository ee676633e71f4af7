package rule

import (
	"log/slog"

	"github.com/sunbk201/netrule/internal/rule/common"
	"github.com/sunbk201/netrule/internal/rule/match"
)

// Condition is one predicate of a rule. A condition whose value failed to
// compile never matches, whatever its Invert flag says.
type Condition struct {
	Type   common.ConditionType
	Invert bool
	Value  string

	matcher common.Matcher
	err     error
}

// NewCondition compiles value with the default compiler.
func NewCondition(t common.ConditionType, value string, invert bool) Condition {
	return CompileCondition(match.DefaultCompiler, t, value, invert)
}

func CompileCondition(c *match.Compiler, t common.ConditionType, value string, invert bool) Condition {
	m, err := c.Compile(t, value)
	return Condition{Type: t, Invert: invert, Value: value, matcher: m, err: err}
}

func (c *Condition) Valid() bool {
	return c.matcher != nil && c.err == nil
}

// Err returns the compile error of an invalid condition.
func (c *Condition) Err() error {
	return c.err
}

func (c *Condition) Evaluate(d *common.Descriptor) bool {
	if !c.Valid() {
		return false
	}
	return c.matcher.Match(d) != c.Invert
}

func (c *Condition) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("type", string(c.Type)),
		slog.Bool("invert", c.Invert),
		slog.String("value", c.Value),
		slog.Bool("valid", c.Valid()),
	)
}
