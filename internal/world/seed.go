package world

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"dreamweaver-server/internal/models"
)

const defaultRegionID = "origin"

// NewFromSeed builds the version 0 snapshot of a new world.
func (m *Model) NewFromSeed(worldID string, seed models.Seed, now time.Time) (*models.WorldState, error) {
	if err := models.ValidateWorldID(worldID); err != nil {
		return nil, err
	}
	w := &models.WorldState{
		ID:         worldID,
		Seed:       seed.Description,
		Regions:    make(map[string]models.Region),
		Characters: make(map[string]models.Character),
		Quests:     make(map[string]models.Quest),
		Metrics:    models.DefaultMetrics(),
		TurnLog:    []models.TurnRecord{},
		CreatedAt:  now.UTC(),
		UpdatedAt:  now.UTC(),
	}
	if seed.Metrics != nil {
		w.Metrics = *seed.Metrics
	}

	for _, r := range seed.Regions {
		if r.ID == "" {
			r.ID = Slug(r.Name)
		}
		if r.ID == "" {
			return nil, fmt.Errorf("%w: seed region needs an id or a name", models.ErrInvalidInput)
		}
		if _, dup := w.Regions[r.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate seed region %q", models.ErrInvalidInput, r.ID)
		}
		w.Regions[r.ID] = mergeRegion(models.Region{}, r)
		if w.StartRegion == "" {
			w.StartRegion = r.ID
		}
	}
	if len(w.Regions) == 0 {
		w.Regions[defaultRegionID] = models.Region{ID: defaultRegionID, Name: "Origin", Description: seed.Description}
		w.StartRegion = defaultRegionID
	}
	if seed.StartRegion != "" {
		w.StartRegion = seed.StartRegion
	}

	for _, c := range seed.Characters {
		merged, err := m.mergeCharacter(models.Character{}, c, w.StartRegion)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", models.ErrInvalidInput, err)
		}
		w.Characters[merged.ID] = merged
	}
	for _, q := range seed.Quests {
		if q.Status == "" {
			q.Status = models.QuestProposed
		}
		if !q.Status.IsValid() || q.ID == "" {
			return nil, fmt.Errorf("%w: seed quest %q is invalid", models.ErrInvalidInput, q.ID)
		}
		w.Quests[q.ID] = q
	}

	if err := m.Check(w); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidInput, err)
	}
	return w, nil
}

// Slug turns a display name into an identifier.
func Slug(name string) string {
	var b strings.Builder
	lastUnderscore := false
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastUnderscore = false
		case !lastUnderscore && b.Len() > 0:
			b.WriteByte('_')
			lastUnderscore = true
		}
	}
	return strings.TrimSuffix(b.String(), "_")
}
