package session

import (
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryOnlineIffTabs(t *testing.T) {
	r := NewRegistry()
	rng := rand.New(rand.NewSource(42))

	principals := []string{"alice", "bob", "carol"}
	model := map[string]map[string]bool{}
	for _, p := range principals {
		model[p] = map[string]bool{}
	}

	for step := 0; step < 2000; step++ {
		p := principals[rng.Intn(len(principals))]
		conn := fmt.Sprintf("%s-%d", p, rng.Intn(4))
		if rng.Intn(2) == 0 {
			first := r.Register(p, conn, nil)
			assert.Equal(t, len(model[p]) == 0, first, "step %d", step)
			model[p][conn] = true
		} else {
			had := model[p][conn]
			last := r.Deregister(p, conn, nil)
			delete(model[p], conn)
			assert.Equal(t, had && len(model[p]) == 0, last, "step %d", step)
		}

		for _, q := range principals {
			require.Equal(t, len(model[q]) > 0, r.IsOnline(q), "step %d principal %s", step, q)
			require.Equal(t, len(model[q]), r.TabCount(q), "step %d principal %s", step, q)
		}
	}
}

func TestRegistryTwoTabs(t *testing.T) {
	r := NewRegistry()
	assert.True(t, r.Register("alice", "t1", nil))
	assert.False(t, r.Register("alice", "t2", nil))

	assert.False(t, r.Deregister("alice", "t1", nil))
	assert.True(t, r.IsOnline("alice"))
	assert.Equal(t, 1, r.TabCount("alice"))

	assert.True(t, r.Deregister("alice", "t2", nil))
	assert.False(t, r.IsOnline("alice"))
	assert.Zero(t, r.TabCount("alice"))
	assert.Empty(t, r.ListOnline())
}

func TestRegistryDeregisterUnknown(t *testing.T) {
	r := NewRegistry()
	called := false
	assert.False(t, r.Deregister("nobody", "t1", func() { called = true }))
	r.Register("alice", "t1", nil)
	assert.False(t, r.Deregister("alice", "other", func() { called = true }))
	assert.False(t, called)
	assert.True(t, r.IsOnline("alice"))
}

func TestRegistryConcurrentSamePrincipal(t *testing.T) {
	r := NewRegistry()
	const tabs = 200

	var firsts, lasts atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < tabs; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r.Register("alice", fmt.Sprintf("t%d", i), func() { firsts.Add(1) })
		}(i)
	}
	wg.Wait()
	assert.Equal(t, tabs, r.TabCount("alice"))
	assert.Equal(t, int32(1), firsts.Load())

	for i := 0; i < tabs; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r.Deregister("alice", fmt.Sprintf("t%d", i), func() { lasts.Add(1) })
		}(i)
	}
	wg.Wait()
	assert.False(t, r.IsOnline("alice"))
	assert.Equal(t, int32(1), lasts.Load())
}

func TestRegistrySnapshotAndTouch(t *testing.T) {
	r := NewRegistry()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	now := base
	r.SetClock(func() time.Time { return now })

	assert.False(t, r.Touch("alice"))

	r.Register("alice", "t1", nil)
	now = base.Add(time.Minute)
	r.Register("alice", "t2", nil)
	now = base.Add(5 * time.Minute)
	assert.True(t, r.Touch("alice"))

	snap, ok := r.Snapshot("alice")
	require.True(t, ok)
	assert.Equal(t, base, snap.ConnectedAt)
	assert.Equal(t, base.Add(5*time.Minute), snap.LastActivity)
	assert.Equal(t, []string{"t1", "t2"}, snap.Tabs)

	_, ok = r.Snapshot("bob")
	assert.False(t, ok)
}

func TestRegistryListOnline(t *testing.T) {
	r := NewRegistry()
	for _, p := range []string{"carol", "alice", "bob"} {
		r.Register(p, p+"-1", nil)
	}
	assert.Equal(t, []string{"alice", "bob", "carol"}, r.ListOnline())
	assert.Equal(t, 3, r.OnlineCount())
}
