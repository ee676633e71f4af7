package statistics

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/sunbk201/netrule/internal/rule/common"
)

type hitKey struct {
	domain common.Domain
	ruleID int64
	miss   bool
}

// HitRecord is the number of evaluations that ended on one rule, or, with
// Miss set, that matched nothing in the domain.
type HitRecord struct {
	Domain   common.Domain `json:"domain"`
	RuleID   int64         `json:"ruleId"`
	Miss     bool          `json:"miss,omitempty"`
	Count    uint64        `json:"count"`
	LastSeen time.Time     `json:"lastSeen"`
}

// Recorder counts rule hits. Records arrive on a buffered channel and are
// dropped when it is full so evaluation never blocks on bookkeeping.
type Recorder struct {
	recordChan chan hitKey
	records    map[hitKey]*HitRecord
	mu         sync.RWMutex
	dumpFile   string
	interval   time.Duration
}

func New(dumpFile string) *Recorder {
	return &Recorder{
		recordChan: make(chan hitKey, 1000),
		records:    make(map[hitKey]*HitRecord, 100),
		dumpFile:   dumpFile,
		interval:   5 * time.Second,
	}
}

func (r *Recorder) RecordMatch(domain common.Domain, ruleID int64) {
	r.send(hitKey{domain: domain, ruleID: ruleID})
}

func (r *Recorder) RecordMiss(domain common.Domain) {
	r.send(hitKey{domain: domain, miss: true})
}

func (r *Recorder) send(k hitKey) {
	select {
	case r.recordChan <- k:
	default:
	}
}

// Run drains the record channel and dumps to file until ctx is done. The
// returned channel is closed after the final dump.
func (r *Recorder) Run(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		for {
			select {
			case k := <-r.recordChan:
				r.add(k, time.Now())
			case <-ticker.C:
				r.Dump()
			case <-ctx.Done():
				r.Dump()
				return
			}
		}
	}()
	return done
}

func (r *Recorder) add(k hitKey, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rec, exists := r.records[k]; exists {
		rec.Count++
		rec.LastSeen = now
		return
	}
	r.records[k] = &HitRecord{Domain: k.domain, RuleID: k.ruleID, Miss: k.miss, Count: 1, LastSeen: now}
}

// Snapshot returns all records, highest count first.
func (r *Recorder) Snapshot() []HitRecord {
	r.mu.RLock()
	list := make([]HitRecord, 0, len(r.records))
	for _, rec := range r.records {
		list = append(list, *rec)
	}
	r.mu.RUnlock()

	sort.SliceStable(list, func(i, j int) bool {
		if list[i].Count != list[j].Count {
			return list[i].Count > list[j].Count
		}
		if list[i].Domain != list[j].Domain {
			return list[i].Domain < list[j].Domain
		}
		if list[i].Miss != list[j].Miss {
			return list[j].Miss
		}
		return list[i].RuleID < list[j].RuleID
	})
	return list
}

// Reset drops the counters of one domain once its rule ids no longer mean
// what they did.
func (r *Recorder) Reset(domain common.Domain) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k := range r.records {
		if k.domain == domain {
			delete(r.records, k)
		}
	}
}

func (r *Recorder) Dump() {
	if r.dumpFile == "" {
		return
	}
	f, err := os.Create(r.dumpFile)
	if err != nil {
		slog.Error("os.Create", slog.Any("error", err))
		return
	}
	defer func() {
		if err := f.Close(); err != nil {
			slog.Error("os.File.Close", slog.Any("error", err))
		}
	}()

	w := bufio.NewWriter(f)
	defer func() {
		if err := w.Flush(); err != nil {
			slog.Error("bufio.Writer.Flush", slog.Any("error", err))
		}
	}()

	for _, rec := range r.Snapshot() {
		id := strconv.FormatInt(rec.RuleID, 10)
		if rec.Miss {
			id = "none"
		}
		_, err := fmt.Fprintf(w, "%s %s %d %d\n", rec.Domain, id, rec.Count, rec.LastSeen.Unix())
		if err != nil {
			slog.Error("Dump fmt.Fprintf", slog.Any("error", err))
		}
	}
}
