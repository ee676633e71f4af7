package settings

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	apperrors "github.com/sunbk201/netrule/internal/errors"
	"github.com/sunbk201/netrule/internal/rule"
	"github.com/sunbk201/netrule/internal/rule/common"
	"github.com/sunbk201/netrule/internal/rule/match"
)

// Snapshot is one published generation of the settings. It is never
// modified after publication.
type Snapshot struct {
	Version    uint64
	Interfaces Interfaces
	RuleSets   map[common.Domain]*rule.RuleSet
}

// RuleSet returns the rules of domain; an empty set when none are configured.
func (s *Snapshot) RuleSet(domain common.Domain) *rule.RuleSet {
	if rs, ok := s.RuleSets[domain]; ok {
		return rs
	}
	return rule.NewRuleSet(domain)
}

func (s *Snapshot) Settings() Settings {
	out := Settings{Interfaces: append(Interfaces(nil), s.Interfaces...)}
	for _, d := range common.Domains {
		out.SetRules(d, ToRecords(s.RuleSet(d)))
	}
	return out
}

// Holder publishes settings snapshots. Readers call Current and keep using the
// returned snapshot for as long as they like; writers are serialised and swap
// in a complete new snapshot.
type Holder struct {
	current  atomic.Pointer[Snapshot]
	mu       sync.Mutex
	store    Store
	compiler *match.Compiler
}

// NewHolder publishes an empty snapshot. store may be nil, in which case
// edits are kept in memory only.
func NewHolder(store Store, compiler *match.Compiler) *Holder {
	h := &Holder{store: store, compiler: compiler}
	h.current.Store(&Snapshot{RuleSets: map[common.Domain]*rule.RuleSet{}})
	return h
}

func (h *Holder) Current() *Snapshot {
	return h.current.Load()
}

// Compile builds rules from records with the holder's compiler.
func (h *Holder) Compile(domain common.Domain, recs []RuleRecord) (*rule.RuleSet, []Warning) {
	return CompileRecords(h.compiler, domain, recs)
}

func (h *Holder) build(s Settings, version uint64) (*Snapshot, []Warning) {
	snap := &Snapshot{
		Version:    version,
		Interfaces: append(Interfaces(nil), s.Interfaces...),
		RuleSets:   make(map[common.Domain]*rule.RuleSet, len(common.Domains)),
	}
	var warnings []Warning
	for _, d := range common.Domains {
		rs, w := CompileRecords(h.compiler, d, s.Rules(d))
		snap.RuleSets[d] = rs
		warnings = append(warnings, w...)
	}
	return snap, warnings
}

func (h *Holder) publish(snap *Snapshot, warnings []Warning) {
	h.current.Store(snap)
	for _, w := range warnings {
		slog.Warn("Rule warning", slog.String("warning", w.String()))
	}
	slog.Info("Settings published", slog.Uint64("version", snap.Version))
}

// Reload replaces everything with what the store holds.
func (h *Holder) Reload(ctx context.Context) ([]Warning, error) {
	if h.store == nil {
		return nil, apperrors.New(apperrors.KindInternal, "no settings store")
	}
	s, err := h.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	return h.Replace(s), nil
}

// Replace publishes s as a whole without persisting it.
func (h *Holder) Replace(s Settings) []Warning {
	h.mu.Lock()
	defer h.mu.Unlock()

	snap, warnings := h.build(s, h.Current().Version+1)
	h.publish(snap, warnings)
	return warnings
}

// Update applies fn to the current rules of domain and publishes the result
// in memory. Nothing is published when fn fails.
func (h *Holder) Update(domain common.Domain, fn func(*rule.RuleSet) (*rule.RuleSet, error)) (*Snapshot, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	snap, err := h.edit(domain, fn)
	if err != nil {
		return nil, err
	}
	h.publish(snap, nil)
	return snap, nil
}

// Apply is Update followed by a save through the store. The snapshot is only
// published once the store has accepted it, and it is rebuilt from the saved
// records so that new rules carry their assigned ids.
func (h *Holder) Apply(ctx context.Context, domain common.Domain, fn func(*rule.RuleSet) (*rule.RuleSet, error)) (*Snapshot, []Warning, error) {
	if h.store == nil {
		snap, err := h.Update(domain, fn)
		return snap, nil, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	edited, err := h.edit(domain, fn)
	if err != nil {
		return nil, nil, err
	}
	saved, err := h.store.Save(ctx, edited.Settings())
	if err != nil {
		return nil, nil, err
	}
	snap, warnings := h.build(saved, edited.Version)
	h.publish(snap, warnings)
	return snap, warnings, nil
}

func (h *Holder) edit(domain common.Domain, fn func(*rule.RuleSet) (*rule.RuleSet, error)) (*Snapshot, error) {
	if !domain.Valid() {
		return nil, apperrors.Errorf(apperrors.KindValidation, "unknown rule domain %q", domain)
	}
	cur := h.Current()
	rs, err := fn(cur.RuleSet(domain))
	if err != nil {
		return nil, err
	}
	if rs == nil || rs.Domain() != domain {
		return nil, apperrors.Errorf(apperrors.KindInternal, "edit of %s returned a foreign rule set", domain)
	}

	next := &Snapshot{
		Version:    cur.Version + 1,
		Interfaces: cur.Interfaces,
		RuleSets:   make(map[common.Domain]*rule.RuleSet, len(cur.RuleSets)+1),
	}
	for d, other := range cur.RuleSets {
		next.RuleSets[d] = other
	}
	next.RuleSets[domain] = rs
	return next, nil
}
