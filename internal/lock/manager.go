// Package lock grants mutually-exclusive locks over named resources
// (account numbers) across process instances. Multi-key acquisition
// always takes keys in lexicographic order and releases in reverse;
// that total ordering is the sole deadlock-avoidance mechanism, so any
// caller needing both sides of a transfer must request them in one call.
package lock

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/punchamoorthee/payflow/internal/domain"
)

var (
	lockWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "payflow_lock_wait_seconds",
		Help:    "Time spent acquiring distributed locks",
		Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 3},
	})
	lockTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payflow_lock_timeouts_total",
		Help: "Lock acquisitions that hit the timeout",
	})
)

// Manager layers an in-process semaphore per key over durable lock rows
// with a TTL. The semaphore spares the database redundant contention
// within one instance; the row is the cross-process truth.
type Manager struct {
	repo          domain.LockRepository
	ttl           time.Duration
	retryInterval time.Duration

	mu    sync.Mutex
	local map[string]chan struct{}
}

func NewManager(repo domain.LockRepository, ttl, retryInterval time.Duration) *Manager {
	return &Manager{
		repo:          repo,
		ttl:           ttl,
		retryInterval: retryInterval,
		local:         map[string]chan struct{}{},
	}
}

// Handle is a set of held locks. Release it exactly once.
type Handle struct {
	keys    []string
	ownerID string
}

// Keys returns the held keys in acquisition order.
func (h *Handle) Keys() []string { return h.keys }

// Acquire takes every key or none. Keys are normalized, de-duplicated
// and sorted before acquisition. Returns domain.ErrLockNotAcquired when
// the timeout lapses while any key is busy.
func (m *Manager) Acquire(ctx context.Context, keys []string, timeout time.Duration) (*Handle, error) {
	normalized := normalize(keys)
	if len(normalized) == 0 {
		return nil, fmt.Errorf("no lock keys given")
	}

	ownerID := newOwnerID()
	deadline := time.Now().Add(timeout)
	timer := prometheus.NewTimer(lockWaitSeconds)
	defer timer.ObserveDuration()

	acquired := make([]string, 0, len(normalized))
	for _, key := range normalized {
		if err := m.acquireOne(ctx, key, ownerID, deadline); err != nil {
			m.releaseKeys(ctx, acquired, ownerID)
			return nil, err
		}
		acquired = append(acquired, key)
	}
	return &Handle{keys: acquired, ownerID: ownerID}, nil
}

// Release frees the handle's locks in reverse acquisition order.
func (m *Manager) Release(ctx context.Context, h *Handle) {
	if h == nil {
		return
	}
	m.releaseKeys(ctx, h.keys, h.ownerID)
}

func (m *Manager) acquireOne(ctx context.Context, key, ownerID string, deadline time.Time) error {
	if err := m.lockLocal(ctx, key, deadline); err != nil {
		return err
	}

	for {
		now := time.Now()
		// Sweep a stale row from a crashed owner before trying.
		if err := m.repo.DeleteExpired(ctx, key, now); err != nil {
			m.unlockLocal(key)
			return fmt.Errorf("lock sweep failed: %w", err)
		}

		ok, err := m.repo.TryInsert(ctx, domain.DistributedLock{
			LockKey:   key,
			OwnerID:   ownerID,
			CreatedAt: now,
			ExpiresAt: now.Add(m.ttl),
		})
		if err != nil {
			m.unlockLocal(key)
			return fmt.Errorf("lock insert failed: %w", err)
		}
		if ok {
			return nil
		}

		if !m.sleepUntil(ctx, deadline) {
			m.unlockLocal(key)
			lockTimeouts.Inc()
			return domain.ErrLockNotAcquired
		}
	}
}

func (m *Manager) releaseKeys(ctx context.Context, keys []string, ownerID string) {
	for i := len(keys) - 1; i >= 0; i-- {
		if err := m.repo.Delete(ctx, keys[i], ownerID); err != nil {
			// The TTL sweep will reclaim the row; only the local
			// semaphore must be returned unconditionally.
			continue
		}
	}
	for i := len(keys) - 1; i >= 0; i-- {
		m.unlockLocal(keys[i])
	}
}

func (m *Manager) sem(key string) chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.local[key]
	if !ok {
		s = make(chan struct{}, 1)
		m.local[key] = s
	}
	return s
}

func (m *Manager) lockLocal(ctx context.Context, key string, deadline time.Time) error {
	wait := time.Until(deadline)
	if wait <= 0 {
		lockTimeouts.Inc()
		return domain.ErrLockNotAcquired
	}
	t := time.NewTimer(wait)
	defer t.Stop()

	select {
	case m.sem(key) <- struct{}{}:
		return nil
	case <-t.C:
		lockTimeouts.Inc()
		return domain.ErrLockNotAcquired
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) unlockLocal(key string) {
	select {
	case <-m.sem(key):
	default:
	}
}

func (m *Manager) sleepUntil(ctx context.Context, deadline time.Time) bool {
	remaining := time.Until(deadline)
	if remaining <= 0 {
		return false
	}
	pause := m.retryInterval
	if pause > remaining {
		pause = remaining
	}
	t := time.NewTimer(pause)
	defer t.Stop()
	select {
	case <-t.C:
		return time.Now().Before(deadline)
	case <-ctx.Done():
		return false
	}
}

func normalize(keys []string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		k = strings.ToLower(strings.TrimSpace(k))
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func newOwnerID() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return fmt.Sprintf("%s-%d-%d-%s", host, os.Getpid(), time.Now().UnixNano(), uuid.NewString()[:8])
}
