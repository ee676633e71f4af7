package statistics

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sunbk201/netrule/internal/rule/common"
)

func TestSnapshotOrdering(t *testing.T) {
	r := New("")
	now := time.Now()
	for i := 0; i < 3; i++ {
		r.add(hitKey{domain: common.DomainNAT, ruleID: 4}, now)
	}
	r.add(hitKey{domain: common.DomainPortForward, ruleID: 1}, now)
	r.add(hitKey{domain: common.DomainBypass, miss: true}, now)

	snap := r.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, int64(4), snap[0].RuleID)
	assert.Equal(t, uint64(3), snap[0].Count)
	assert.Equal(t, common.DomainBypass, snap[1].Domain)
	assert.True(t, snap[1].Miss)
	assert.Equal(t, common.DomainPortForward, snap[2].Domain)

	r.Reset(common.DomainNAT)
	assert.Len(t, r.Snapshot(), 2)
}

func TestRunAndDump(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hits")
	r := New(path)
	r.interval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.Run(ctx)

	r.RecordMatch(common.DomainPortForward, 7)
	r.RecordMatch(common.DomainPortForward, 7)
	r.RecordMiss(common.DomainNAT)

	require.Eventually(t, func() bool {
		data, err := os.ReadFile(path)
		if err != nil {
			return false
		}
		s := string(data)
		return strings.Contains(s, "port-forward 7 2 ") && strings.Contains(s, "nat none 1 ")
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSendNeverBlocks(t *testing.T) {
	r := New("")
	for i := 0; i < cap(r.recordChan)+10; i++ {
		r.RecordMiss(common.DomainBypass)
	}
	assert.Len(t, r.recordChan, cap(r.recordChan))
}

func TestRunDumpsOnCancel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hits")
	r := New(path)
	r.interval = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	done := r.Run(ctx)
	r.RecordMatch(common.DomainBypass, 2)
	require.Eventually(t, func() bool { return len(r.Snapshot()) == 1 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	<-done
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "bypass 2 1 "))
}

func TestRuleZeroIsNotAMiss(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hits")
	r := New(path)
	now := time.Now()
	r.add(hitKey{domain: common.DomainNAT, ruleID: 0}, now)
	r.add(hitKey{domain: common.DomainNAT, ruleID: 0}, now)
	r.add(hitKey{domain: common.DomainNAT, miss: true}, now)

	snap := r.Snapshot()
	require.Len(t, snap, 2)
	assert.False(t, snap[0].Miss)
	assert.Equal(t, uint64(2), snap[0].Count)
	assert.True(t, snap[1].Miss)

	r.Dump()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "nat 0 2 "))
	assert.True(t, strings.HasPrefix(lines[1], "nat none 1 "))
}
