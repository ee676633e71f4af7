package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/dlclark/regexp2"
	"github.com/go-chi/chi/v5"

	"github.com/sunbk201/netrule/internal/descriptor"
	apperrors "github.com/sunbk201/netrule/internal/errors"
	"github.com/sunbk201/netrule/internal/rule"
	"github.com/sunbk201/netrule/internal/rule/common"
	"github.com/sunbk201/netrule/internal/settings"
)

const maxBodyBytes = 1 << 20

type errorBody struct {
	Error string `json:"error"`
}

type rulesBody struct {
	Domain   common.Domain         `json:"domain"`
	Version  uint64                `json:"version"`
	Rules    []settings.RuleRecord `json:"rules"`
	Warnings []settings.Warning    `json:"warnings"`
}

type evaluateBody struct {
	Matched    bool                 `json:"matched"`
	Index      int                  `json:"index"`
	Scanned    int                  `json:"scanned"`
	Exhausted  bool                 `json:"exhausted"`
	Rule       *settings.RuleRecord `json:"rule"`
	Descriptor common.Descriptor    `json:"descriptor"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch apperrors.GetKind(err) {
	case apperrors.KindValidation:
		status = http.StatusBadRequest
	case apperrors.KindNotFound:
		status = http.StatusNotFound
	case apperrors.KindConflict:
		status = http.StatusConflict
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperrors.Wrap(err, apperrors.KindValidation, "invalid request body")
	}
	return nil
}

func domainParam(r *http.Request) (common.Domain, error) {
	d := common.Domain(chi.URLParam(r, "domain"))
	if !d.Valid() {
		return "", apperrors.Errorf(apperrors.KindNotFound, "unknown rule domain %q", d)
	}
	return d, nil
}

func idParam(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		return 0, apperrors.Wrap(err, apperrors.KindValidation, "invalid rule id")
	}
	return id, nil
}

func intQuery(r *http.Request, key string) (int, bool, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return 0, false, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false, apperrors.Wrapf(err, apperrors.KindValidation, "invalid %s", key)
	}
	return n, true, nil
}

func (s *APIServer) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": s.version})
}

func (s *APIServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.cfg)
}

func (s *APIServer) handleSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.holder.Current().Settings())
}

func (s *APIServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.stats == nil {
		writeJSON(w, http.StatusOK, []any{})
		return
	}
	writeJSON(w, http.StatusOK, s.stats.Snapshot())
}

func (s *APIServer) rulesBody(snap *settings.Snapshot, domain common.Domain) rulesBody {
	rs := snap.RuleSet(domain)
	return rulesBody{
		Domain:   domain,
		Version:  snap.Version,
		Rules:    settings.ToRecords(rs),
		Warnings: settings.Check(rs, s.cfg.ReservedPortList()),
	}
}

func (s *APIServer) handleGetRules(w http.ResponseWriter, r *http.Request) {
	domain, err := domainParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	body := s.rulesBody(s.holder.Current(), domain)
	if q := r.URL.Query().Get("description"); q != "" {
		body.Rules, err = filterDescription(body.Rules, q)
		if err != nil {
			writeError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, body)
}

// filterDescription keeps the records whose description matches pattern,
// case-insensitively.
func filterDescription(recs []settings.RuleRecord, pattern string) ([]settings.RuleRecord, error) {
	re, err := regexp2.Compile(pattern, regexp2.IgnoreCase)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindValidation, "invalid description pattern")
	}
	re.MatchTimeout = 100 * time.Millisecond

	out := make([]settings.RuleRecord, 0, len(recs))
	for _, rec := range recs {
		if ok, _ := re.MatchString(rec.Description); ok {
			out = append(out, rec)
		}
	}
	return out, nil
}

// apply runs an edit through the holder and answers with the published rules.
// It reports whether the edit was published.
func (s *APIServer) apply(w http.ResponseWriter, r *http.Request, domain common.Domain, status int,
	fn func(*rule.RuleSet) (*rule.RuleSet, error)) bool {
	snap, _, err := s.holder.Apply(r.Context(), domain, fn)
	if err != nil {
		writeError(w, err)
		return false
	}
	writeJSON(w, status, s.rulesBody(snap, domain))
	return true
}

// decodeRecord reads and strictly validates a single rule record, then
// compiles it.
func (s *APIServer) decodeRecord(w http.ResponseWriter, r *http.Request, domain common.Domain) (*rule.Rule, error) {
	var rec settings.RuleRecord
	if err := decodeBody(w, r, &rec); err != nil {
		return nil, err
	}
	if err := settings.ValidateRecords(domain, []settings.RuleRecord{rec}); err != nil {
		return nil, err
	}
	compiled, _ := s.holder.Compile(domain, []settings.RuleRecord{rec})
	return compiled.At(0), nil
}

func (s *APIServer) handlePutRules(w http.ResponseWriter, r *http.Request) {
	domain, err := domainParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var recs []settings.RuleRecord
	if err := decodeBody(w, r, &recs); err != nil {
		writeError(w, err)
		return
	}
	if err := settings.ValidateRecords(domain, recs); err != nil {
		writeError(w, err)
		return
	}
	compiled, _ := s.holder.Compile(domain, recs)
	ok := s.apply(w, r, domain, http.StatusOK, func(rs *rule.RuleSet) (*rule.RuleSet, error) {
		return rs.WithRules(compiled.Rules()), nil
	})
	// Ids in the new list may name different rules now.
	if ok && s.stats != nil {
		s.stats.Reset(domain)
	}
}

func (s *APIServer) handleAddRule(w http.ResponseWriter, r *http.Request) {
	domain, err := domainParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	index, hasIndex, err := intQuery(r, "index")
	if err != nil {
		writeError(w, err)
		return
	}
	added, err := s.decodeRecord(w, r, domain)
	if err != nil {
		writeError(w, err)
		return
	}
	s.apply(w, r, domain, http.StatusCreated, func(rs *rule.RuleSet) (*rule.RuleSet, error) {
		if hasIndex {
			return rs.Insert(index, added)
		}
		return rs.Add(added), nil
	})
}

// handleReplaceRule swaps the rule with the given id for the body, keeping the
// id and position.
func (s *APIServer) handleReplaceRule(w http.ResponseWriter, r *http.Request) {
	domain, err := domainParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	id, err := idParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	replacement, err := s.decodeRecord(w, r, domain)
	if err != nil {
		writeError(w, err)
		return
	}
	s.apply(w, r, domain, http.StatusOK, func(rs *rule.RuleSet) (*rule.RuleSet, error) {
		return rs.Replace(id, replacement)
	})
}

func (s *APIServer) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	domain, err := domainParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	id, err := idParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	s.apply(w, r, domain, http.StatusOK, func(rs *rule.RuleSet) (*rule.RuleSet, error) {
		return rs.Delete(id)
	})
}

func (s *APIServer) handleMoveRule(w http.ResponseWriter, r *http.Request) {
	domain, err := domainParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	id, err := idParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	to, ok, err := intQuery(r, "to")
	if err == nil && !ok {
		err = apperrors.New(apperrors.KindValidation, "missing target position")
	}
	if err != nil {
		writeError(w, err)
		return
	}
	s.apply(w, r, domain, http.StatusOK, func(rs *rule.RuleSet) (*rule.RuleSet, error) {
		return rs.MoveRule(id, to)
	})
}

func (s *APIServer) handleSetEnabled(enabled bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		domain, err := domainParam(r)
		if err != nil {
			writeError(w, err)
			return
		}
		id, err := idParam(r)
		if err != nil {
			writeError(w, err)
			return
		}
		s.apply(w, r, domain, http.StatusOK, func(rs *rule.RuleSet) (*rule.RuleSet, error) {
			return rs.SetEnabled(id, enabled)
		})
	}
}

func (s *APIServer) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	domain, err := domainParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var raw descriptor.Raw
	if err := decodeBody(w, r, &raw); err != nil {
		writeError(w, err)
		return
	}

	snap := s.holder.Current()
	d, err := descriptor.Normalize(raw, snap.Interfaces, s.local)
	if err != nil {
		writeError(w, err)
		return
	}

	res := s.engine.Evaluate(snap.RuleSet(domain), &d)
	body := evaluateBody{
		Matched:    res.Matched,
		Index:      res.Index,
		Scanned:    res.Scanned,
		Exhausted:  res.Exhausted,
		Descriptor: d,
	}
	if res.Matched {
		rec := settings.ToRecord(res.Rule)
		body.Rule = &rec
	}
	writeJSON(w, http.StatusOK, body)
}
