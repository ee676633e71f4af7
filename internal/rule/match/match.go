package match

import (
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/sunbk201/netrule/internal/rule/common"
)

const anyValue = "any"

// ParseError describes a condition value that does not fit its type's grammar.
type ParseError struct {
	Type   common.ConditionType
	Value  string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid %s value %q: %s", e.Type, e.Value, e.Reason)
}

func newParseError(t common.ConditionType, value, format string, args ...any) *ParseError {
	return &ParseError{Type: t, Value: value, Reason: fmt.Sprintf(format, args...)}
}

// Parse compiles value under the grammar implied by t.
func Parse(t common.ConditionType, value string) (common.Matcher, error) {
	switch t.Kind() {
	case common.KindBoolean:
		return NewLocal(value)
	case common.KindAddress:
		return NewAddr(t, value)
	case common.KindPort:
		return NewPort(t, value)
	case common.KindInterface:
		return NewIntf(t, value)
	case common.KindProtocol:
		return NewProtocol(value)
	default:
		return nil, newParseError(t, value, "unknown condition type")
	}
}

type cacheKey struct {
	typ   common.ConditionType
	value string
}

type cacheEntry struct {
	matcher common.Matcher
	err     error
}

// Compiler parses condition values through a bounded cache. Matchers are
// immutable, so one compiled value may be shared by any number of rules.
type Compiler struct {
	cache *lru.Cache[cacheKey, cacheEntry]
}

func NewCompiler(size int) (*Compiler, error) {
	if size <= 0 {
		return &Compiler{}, nil
	}
	cache, err := lru.New[cacheKey, cacheEntry](size)
	if err != nil {
		return nil, fmt.Errorf("lru.New: %w", err)
	}
	return &Compiler{cache: cache}, nil
}

func (c *Compiler) Compile(t common.ConditionType, value string) (common.Matcher, error) {
	if c == nil || c.cache == nil {
		return Parse(t, value)
	}
	key := cacheKey{typ: t, value: value}
	if e, ok := c.cache.Get(key); ok {
		return e.matcher, e.err
	}
	m, err := Parse(t, value)
	c.cache.Add(key, cacheEntry{matcher: m, err: err})
	return m, err
}

func (c *Compiler) Len() int {
	if c == nil || c.cache == nil {
		return 0
	}
	return c.cache.Len()
}

// DefaultCompiler is used when callers do not supply their own.
var DefaultCompiler, _ = NewCompiler(4096)

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	items := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			items = append(items, p)
		}
	}
	return items
}
