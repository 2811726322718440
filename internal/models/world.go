package models

import (
	"fmt"
	"regexp"
	"time"
)

// Role of a character in the world.
type Role string

const (
	RoleNPC    Role = "npc"
	RolePlayer Role = "player"
)

// Mood is the enumerated emotional state of a character.
type Mood string

const (
	MoodCalm     Mood = "calm"
	MoodHostile  Mood = "hostile"
	MoodCurious  Mood = "curious"
	MoodFearful  Mood = "fearful"
	MoodFriendly Mood = "friendly"
	MoodSad      Mood = "sad"
	MoodAngry    Mood = "angry"
	MoodNeutral  Mood = "neutral"
)

// Moods lists every known mood value.
var Moods = []Mood{MoodCalm, MoodHostile, MoodCurious, MoodFearful, MoodFriendly, MoodSad, MoodAngry, MoodNeutral}

// IsValid reports whether m is a known mood.
func (m Mood) IsValid() bool {
	for _, known := range Moods {
		if m == known {
			return true
		}
	}
	return false
}

// QuestStatus is the lifecycle state of a quest.
type QuestStatus string

const (
	QuestProposed  QuestStatus = "proposed"
	QuestActive    QuestStatus = "active"
	QuestUpdated   QuestStatus = "updated"
	QuestCompleted QuestStatus = "completed"
	QuestFailed    QuestStatus = "failed"
)

// QuestStatuses lists every known quest status.
var QuestStatuses = []QuestStatus{QuestProposed, QuestActive, QuestUpdated, QuestCompleted, QuestFailed}

// IsValid reports whether s is a known quest status.
func (s QuestStatus) IsValid() bool {
	for _, known := range QuestStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// Region is a location node of the world graph.
type Region struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Biome       string            `json:"biome,omitempty"`
	Exits       map[string]string `json:"exits,omitempty"` // direction -> region id
	Tags        []string          `json:"tags,omitempty"`
}

// Character is an NPC or a player avatar.
type Character struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Role     Role   `json:"role"`
	Mood     Mood   `json:"mood"`
	Location string `json:"location"`
	// Loyalty is nil when unset; upserts only overwrite a set value.
	Loyalty *int     `json:"loyalty,omitempty"`
	Traits  []string `json:"traits,omitempty"`
	// Stats are kept for player characters only.
	Stats map[PlayerStat]int `json:"stats,omitempty"`
	// Memory holds the most recent events, oldest first.
	Memory []string `json:"memory,omitempty"`
}

// LoyaltyValue returns the loyalty of c, DefaultLoyalty if unset.
func (c Character) LoyaltyValue() int {
	if c.Loyalty == nil {
		return DefaultLoyalty
	}
	return *c.Loyalty
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}

// Quest tracks a storyline objective.
type Quest struct {
	ID                string      `json:"id"`
	Title             string      `json:"title,omitempty"`
	Status            QuestStatus `json:"status"`
	Progress          int         `json:"progress"`
	Description       string      `json:"description,omitempty"`
	RelatedRegions    []string    `json:"relatedRegions,omitempty"`
	RelatedCharacters []string    `json:"relatedCharacters,omitempty"`
}

// WorldState is the complete persisted representation of one world at a given version.
type WorldState struct {
	ID          string               `json:"id"`
	Version     int64                `json:"version"`
	Tick        int64                `json:"tick"`
	Seed        string               `json:"seed,omitempty"`
	StartRegion string               `json:"startRegion"`
	Regions     map[string]Region    `json:"regions"`
	Characters  map[string]Character `json:"characters"`
	Quests      map[string]Quest     `json:"quests"`
	Metrics     Metrics              `json:"metrics"`
	TurnLog     []TurnRecord         `json:"turnLog"`
	CreatedAt   time.Time            `json:"createdAt"`
	UpdatedAt   time.Time            `json:"updatedAt"`
}

// Seed is the caller-supplied description used to create a world on its first turn.
type Seed struct {
	Description string      `json:"description"`
	StartRegion string      `json:"startRegion,omitempty"`
	Regions     []Region    `json:"regions,omitempty"`
	Characters  []Character `json:"characters,omitempty"`
	Quests      []Quest     `json:"quests,omitempty"`
	Metrics     *Metrics    `json:"metrics,omitempty"`
}

// WorldSummary is a lightweight listing entry.
type WorldSummary struct {
	ID        string    `json:"id" db:"world_id"`
	Version   int64     `json:"version" db:"version"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

var worldIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_\-]{0,63}$`)

// ValidateWorldID checks that id is usable as a storage key.
func ValidateWorldID(id string) error {
	if !worldIDPattern.MatchString(id) {
		return fmt.Errorf("%w: world id %q must match %s", ErrInvalidInput, id, worldIDPattern.String())
	}
	return nil
}

// PlayerCharacterID returns the character id of a user's avatar.
func PlayerCharacterID(userID string) string {
	return "player:" + userID
}

// Clone returns a deep copy of the state.
func (w *WorldState) Clone() *WorldState {
	if w == nil {
		return nil
	}
	out := *w
	out.Regions = make(map[string]Region, len(w.Regions))
	for id, r := range w.Regions {
		out.Regions[id] = r.clone()
	}
	out.Characters = make(map[string]Character, len(w.Characters))
	for id, c := range w.Characters {
		out.Characters[id] = c.clone()
	}
	out.Quests = make(map[string]Quest, len(w.Quests))
	for id, q := range w.Quests {
		out.Quests[id] = q.clone()
	}
	out.TurnLog = make([]TurnRecord, len(w.TurnLog))
	copy(out.TurnLog, w.TurnLog)
	return &out
}

func (r Region) clone() Region {
	if r.Exits != nil {
		exits := make(map[string]string, len(r.Exits))
		for dir, to := range r.Exits {
			exits[dir] = to
		}
		r.Exits = exits
	}
	r.Tags = cloneStrings(r.Tags)
	return r
}

func (c Character) clone() Character {
	if c.Loyalty != nil {
		c.Loyalty = Ptr(*c.Loyalty)
	}
	if c.Stats != nil {
		stats := make(map[PlayerStat]int, len(c.Stats))
		for k, v := range c.Stats {
			stats[k] = v
		}
		c.Stats = stats
	}
	c.Traits = cloneStrings(c.Traits)
	c.Memory = cloneStrings(c.Memory)
	return c
}

func (q Quest) clone() Quest {
	q.RelatedRegions = cloneStrings(q.RelatedRegions)
	q.RelatedCharacters = cloneStrings(q.RelatedCharacters)
	return q
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
