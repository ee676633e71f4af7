package settings

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	apperrors "github.com/sunbk201/netrule/internal/errors"
	"github.com/sunbk201/netrule/internal/rule/action"
	"github.com/sunbk201/netrule/internal/rule/common"
	"github.com/sunbk201/netrule/internal/rule/match"
)

var validate = validator.New()

// ValidateRecords is the strict check of the write path. Unlike loading,
// which publishes whatever it can, it rejects records with any problem.
func ValidateRecords(domain common.Domain, recs []RuleRecord) error {
	if !domain.Valid() {
		return apperrors.Errorf(apperrors.KindValidation, "unknown rule domain %q", domain)
	}
	var problems []string
	for i := range recs {
		problems = append(problems, checkRecord(domain, i, &recs[i])...)
	}
	if err := problemsError(problems); err != nil {
		return err
	}
	if dups := duplicateIDs(recordIDs(recs)); len(dups) > 0 {
		return apperrors.Errorf(apperrors.KindConflict, "%s rules share ids %v", domain, dups)
	}
	return nil
}

// ValidateSettings checks the interface table and every rule list.
func ValidateSettings(s *Settings) error {
	var problems []string
	for i := range s.Interfaces {
		problems = append(problems, structProblems(fmt.Sprintf("interface %d", i), s.Interfaces[i])...)
	}
	for _, d := range common.Domains {
		recs := s.Rules(d)
		for i := range recs {
			problems = append(problems, checkRecord(d, i, &recs[i])...)
		}
		if dups := duplicateIDs(recordIDs(recs)); len(dups) > 0 {
			problems = append(problems, fmt.Sprintf("%s rules share ids %v", d, dups))
		}
	}
	return problemsError(problems)
}

func checkRecord(domain common.Domain, i int, rec *RuleRecord) []string {
	prefix := fmt.Sprintf("%s rule %d", domain, i)
	r := *rec
	r.Conditions = make(ConditionList, len(rec.Conditions))
	for j, c := range rec.Conditions {
		r.Conditions[j] = c.canonical()
	}
	problems := structProblems(prefix, &r)
	for _, p := range action.Check(domain, r.fields()) {
		problems = append(problems, prefix+": "+p)
	}
	for j, c := range r.Conditions {
		t, ok := common.ParseConditionType(c.ConditionType)
		if !ok {
			continue
		}
		if _, err := match.Parse(t, c.Value); err != nil {
			problems = append(problems, fmt.Sprintf("%s condition %d: %v", prefix, j, err))
		}
	}
	return problems
}

func structProblems(prefix string, v any) []string {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !apperrors.As(err, &verrs) {
		return []string{prefix + ": " + err.Error()}
	}
	problems := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		problems = append(problems, fmt.Sprintf("%s: %s fails %q", prefix, fe.Namespace(), fe.Tag()))
	}
	return problems
}

func problemsError(problems []string) error {
	if len(problems) == 0 {
		return nil
	}
	err := apperrors.New(apperrors.KindValidation, strings.Join(problems, "; "))
	return apperrors.Attr(err, "problems", problems)
}

func recordIDs(recs []RuleRecord) []int64 {
	ids := make([]int64, len(recs))
	for i := range recs {
		ids[i] = recs[i].RuleID
	}
	return ids
}

// duplicateIDs lists persisted ids that occur more than once, in order of
// first repetition. Unpersisted ids (-1) may repeat.
func duplicateIDs(ids []int64) []int64 {
	seen := make(map[int64]int, len(ids))
	var dups []int64
	for _, id := range ids {
		if id < 0 {
			continue
		}
		seen[id]++
		if seen[id] == 2 {
			dups = append(dups, id)
		}
	}
	return dups
}
