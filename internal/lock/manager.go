package lock

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"dreamweaver-server/internal/models"

	"go.uber.org/zap"
)

// Policy decides what happens to a turn that arrives while its world is locked.
type Policy string

const (
	// PolicyQueue makes callers wait their turn in arrival order.
	PolicyQueue Policy = "queue"
	// PolicyReject fails the caller immediately with models.ErrWorldBusy.
	PolicyReject Policy = "reject"
)

// DefaultPolicy is used when no policy is configured.
const DefaultPolicy = PolicyQueue

// ParsePolicy converts a config value to a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(s))) {
	case "":
		return DefaultPolicy, nil
	case PolicyQueue:
		return PolicyQueue, nil
	case PolicyReject:
		return PolicyReject, nil
	}
	return "", fmt.Errorf("unknown lock policy %q", s)
}

// Locker serializes access to a world. The returned release must be called exactly once.
type Locker interface {
	Acquire(ctx context.Context, worldID string) (release func(), err error)
}

type worldLock struct {
	held    bool
	waiters []chan struct{}
}

// Manager holds one in-process lock per world id. Worlds never block each other.
type Manager struct {
	policy Policy
	logger *zap.Logger

	mu     sync.Mutex
	worlds map[string]*worldLock
}

var _ Locker = (*Manager)(nil)

// NewManager creates a Manager with the given policy.
func NewManager(policy Policy, logger *zap.Logger) *Manager {
	if policy == "" {
		policy = DefaultPolicy
	}
	return &Manager{
		policy: policy,
		logger: logger.Named("LockManager"),
		worlds: make(map[string]*worldLock),
	}
}

// Policy returns the configured contention policy.
func (m *Manager) Policy() Policy {
	return m.policy
}

// QueueLength returns how many callers are waiting for the world.
func (m *Manager) QueueLength(worldID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if wl, ok := m.worlds[worldID]; ok {
		return len(wl.waiters)
	}
	return 0
}

// Acquire takes the world's lock. Under PolicyQueue waiters are served FIFO
// and a waiter whose ctx ends leaves the queue with ctx.Err().
func (m *Manager) Acquire(ctx context.Context, worldID string) (func(), error) {
	start := time.Now()
	m.mu.Lock()
	wl, ok := m.worlds[worldID]
	if !ok {
		wl = &worldLock{}
		m.worlds[worldID] = wl
	}
	if !wl.held {
		wl.held = true
		m.mu.Unlock()
		observeWait(m.policy, start)
		return m.releaseFunc(worldID), nil
	}
	if m.policy == PolicyReject {
		m.mu.Unlock()
		lockRejections.Inc()
		m.logger.Debug("World busy, rejecting turn", zap.String("worldID", worldID))
		return nil, fmt.Errorf("%w: %s", models.ErrWorldBusy, worldID)
	}

	ready := make(chan struct{})
	wl.waiters = append(wl.waiters, ready)
	queued := len(wl.waiters)
	m.mu.Unlock()
	m.logger.Debug("World busy, queueing turn", zap.String("worldID", worldID), zap.Int("position", queued))

	select {
	case <-ready:
		observeWait(m.policy, start)
		return m.releaseFunc(worldID), nil
	case <-ctx.Done():
		m.mu.Lock()
		for i, w := range wl.waiters {
			if w == ready {
				wl.waiters = append(wl.waiters[:i], wl.waiters[i+1:]...)
				m.mu.Unlock()
				return nil, ctx.Err()
			}
		}
		m.mu.Unlock()
		// Ownership was handed over concurrently with cancellation; pass it on.
		m.release(worldID)
		return nil, ctx.Err()
	}
}

func (m *Manager) releaseFunc(worldID string) func() {
	var once sync.Once
	return func() {
		once.Do(func() { m.release(worldID) })
	}
}

// release hands the lock to the oldest waiter, or frees it.
func (m *Manager) release(worldID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wl, ok := m.worlds[worldID]
	if !ok || !wl.held {
		m.logger.Error("Release of a world lock that is not held", zap.String("worldID", worldID))
		return
	}
	if len(wl.waiters) > 0 {
		next := wl.waiters[0]
		wl.waiters = wl.waiters[1:]
		close(next)
		return
	}
	delete(m.worlds, worldID)
}

// Chain acquires several lockers in order and releases them in reverse.
type Chain []Locker

func (c Chain) Acquire(ctx context.Context, worldID string) (func(), error) {
	releases := make([]func(), 0, len(c))
	releaseAll := func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}
	for _, l := range c {
		release, err := l.Acquire(ctx, worldID)
		if err != nil {
			releaseAll()
			return nil, err
		}
		releases = append(releases, release)
	}
	return releaseAll, nil
}
