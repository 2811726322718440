package service

import (
	"sort"
	"sync"
	"time"

	"dreamweaver-server/internal/models"
)

// DefaultSessionTimeout is how long a player counts as active after their last turn.
const DefaultSessionTimeout = 600 * time.Second

// PresenceTracker remembers which players recently acted in each world.
type PresenceTracker struct {
	timeout time.Duration
	now     func() time.Time

	mu     sync.Mutex
	worlds map[string]map[string]time.Time
}

func NewPresenceTracker(timeout time.Duration) *PresenceTracker {
	if timeout <= 0 {
		timeout = DefaultSessionTimeout
	}
	return &PresenceTracker{
		timeout: timeout,
		now:     time.Now,
		worlds:  make(map[string]map[string]time.Time),
	}
}

// Touch marks userID as active in worldID now.
func (p *PresenceTracker) Touch(worldID, userID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	players, ok := p.worlds[worldID]
	if !ok {
		players = make(map[string]time.Time)
		p.worlds[worldID] = players
	}
	players[userID] = p.now()
}

// Leave forgets userID. It reports whether the player was active.
func (p *PresenceTracker) Leave(worldID, userID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pruneLocked(worldID)
	players := p.worlds[worldID]
	if _, ok := players[userID]; !ok {
		return false
	}
	delete(players, userID)
	if len(players) == 0 {
		delete(p.worlds, worldID)
	}
	return true
}

// Active lists players seen within the session timeout, ordered by user id.
func (p *PresenceTracker) Active(worldID string) []models.PlayerPresence {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pruneLocked(worldID)
	out := make([]models.PlayerPresence, 0, len(p.worlds[worldID]))
	for userID, seen := range p.worlds[worldID] {
		out = append(out, models.PlayerPresence{UserID: userID, LastSeen: seen})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

func (p *PresenceTracker) pruneLocked(worldID string) {
	players, ok := p.worlds[worldID]
	if !ok {
		return
	}
	cutoff := p.now().Add(-p.timeout)
	for userID, seen := range players {
		if seen.Before(cutoff) {
			delete(players, userID)
		}
	}
	if len(players) == 0 {
		delete(p.worlds, worldID)
	}
}
