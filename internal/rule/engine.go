package rule

import (
	"log/slog"

	"github.com/sunbk201/netrule/internal/rule/common"
)

// Recorder receives the outcome of every evaluation.
type Recorder interface {
	RecordMatch(domain common.Domain, ruleID int64)
	RecordMiss(domain common.Domain)
}

// Engine evaluates rule sets. It holds no per-evaluation state and is safe for
// concurrent use; each call reads only the snapshot it is given.
type Engine struct {
	maxRules int
	recorder Recorder
}

type Option func(*Engine)

// WithMaxRules caps how many rules one evaluation may scan. Zero means no cap.
func WithMaxRules(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxRules = n
		}
	}
}

func WithRecorder(r Recorder) Option {
	return func(e *Engine) {
		e.recorder = r
	}
}

func NewEngine(opts ...Option) *Engine {
	e := &Engine{}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type Result struct {
	Rule    *Rule
	Index   int
	Matched bool
	// Scanned is the number of rule positions visited.
	Scanned int
	// Exhausted is set when the scan budget ran out before a match.
	Exhausted bool
}

func (r Result) LogValue() slog.Value {
	if !r.Matched {
		return slog.GroupValue(
			slog.Bool("matched", false),
			slog.Int("scanned", r.Scanned),
			slog.Bool("exhausted", r.Exhausted),
		)
	}
	return slog.GroupValue(
		slog.Bool("matched", true),
		slog.Int("index", r.Index),
		slog.Any("rule", r.Rule),
	)
}

// Evaluate returns the first rule in rs, in stored order, that matches d.
// No match is not an error; the caller applies the domain default.
func (e *Engine) Evaluate(rs *RuleSet, d *common.Descriptor) Result {
	res := Result{Index: -1}
	if rs == nil {
		return res
	}
	for i, r := range rs.rules {
		if e.maxRules > 0 && res.Scanned >= e.maxRules {
			res.Exhausted = true
			slog.Debug("Rule scan budget exhausted", slog.String("domain", string(rs.domain)), slog.Int("budget", e.maxRules))
			break
		}
		res.Scanned++
		if r.Matches(d) {
			res.Rule, res.Index, res.Matched = r, i, true
			break
		}
	}

	if res.Matched {
		slog.Debug("Rule matched", slog.String("domain", string(rs.domain)), slog.Any("result", res), slog.Any("descriptor", d))
		if e.recorder != nil {
			e.recorder.RecordMatch(rs.domain, res.Rule.ID)
		}
	} else {
		slog.Debug("No rule matched", slog.String("domain", string(rs.domain)), slog.Any("descriptor", d))
		if e.recorder != nil {
			e.recorder.RecordMiss(rs.domain)
		}
	}
	return res
}

// FirstMatch is Evaluate without the bookkeeping.
func (e *Engine) FirstMatch(rs *RuleSet, d *common.Descriptor) (*Rule, bool) {
	res := e.Evaluate(rs, d)
	return res.Rule, res.Matched
}
