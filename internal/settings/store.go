package settings

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.yaml.in/yaml/v3"

	apperrors "github.com/sunbk201/netrule/internal/errors"
	"github.com/sunbk201/netrule/internal/rule"
	"github.com/sunbk201/netrule/internal/rule/common"
)

// Store persists settings. Save returns the canonical settings, in which
// every unpersisted rule has been given an id.
type Store interface {
	Load(ctx context.Context) (Settings, error)
	Save(ctx context.Context, s Settings) (Settings, error)
}

// FileStore keeps settings in a single JSON or YAML file; a .yaml or .yml
// extension selects YAML.
type FileStore struct {
	path string
	mu   sync.Mutex
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (f *FileStore) Path() string {
	return f.path
}

func (f *FileStore) isYAML() bool {
	ext := strings.ToLower(filepath.Ext(f.path))
	return ext == ".yaml" || ext == ".yml"
}

// Load returns empty settings when the file does not exist yet.
func (f *FileStore) Load(ctx context.Context) (Settings, error) {
	var s Settings
	if err := ctx.Err(); err != nil {
		return s, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return s, apperrors.Wrapf(err, apperrors.KindInternal, "read settings %s", f.path)
	}
	if f.isYAML() {
		err = yaml.Unmarshal(data, &s)
	} else {
		err = json.Unmarshal(data, &s)
	}
	if err != nil {
		return s, apperrors.Wrapf(err, apperrors.KindValidation, "decode settings %s", f.path)
	}
	return s, nil
}

func (f *FileStore) Save(ctx context.Context, s Settings) (Settings, error) {
	if err := ctx.Err(); err != nil {
		return s, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	s = clone(s)
	AssignIDs(&s)

	var data []byte
	var err error
	if f.isYAML() {
		data, err = yaml.Marshal(&s)
	} else {
		data, err = json.MarshalIndent(&s, "", "  ")
	}
	if err != nil {
		return s, apperrors.Wrap(err, apperrors.KindInternal, "encode settings")
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".settings-*")
	if err != nil {
		return s, apperrors.Wrap(err, apperrors.KindInternal, "os.CreateTemp")
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return s, apperrors.Wrap(err, apperrors.KindInternal, "write settings")
	}
	if err := tmp.Close(); err != nil {
		return s, apperrors.Wrap(err, apperrors.KindInternal, "close settings")
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return s, apperrors.Wrap(err, apperrors.KindInternal, "os.Rename")
	}
	return s, nil
}

// AssignIDs gives every unpersisted rule max(existing ids)+1, in list order,
// separately for each domain.
func AssignIDs(s *Settings) {
	for _, d := range common.Domains {
		recs := s.Rules(d)
		var maxID int64
		for _, r := range recs {
			maxID = max(maxID, r.RuleID)
		}
		for i := range recs {
			if recs[i].RuleID == rule.NewRuleID {
				maxID++
				recs[i].RuleID = maxID
			}
		}
	}
}

func clone(s Settings) Settings {
	c := Settings{Interfaces: append(Interfaces(nil), s.Interfaces...)}
	for _, d := range common.Domains {
		recs := s.Rules(d)
		if recs == nil {
			continue
		}
		cp := make([]RuleRecord, len(recs))
		for i, r := range recs {
			r.Conditions = append(ConditionList(nil), r.Conditions...)
			cp[i] = r
		}
		c.SetRules(d, cp)
	}
	return c
}
