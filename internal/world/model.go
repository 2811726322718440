package world

import (
	"fmt"
	"math"

	"dreamweaver-server/internal/models"
)

// DefaultMemoryLimit is the number of recent events a character remembers.
const DefaultMemoryLimit = 10

// Model applies patches to world snapshots and enforces the world invariants.
type Model struct {
	memoryLimit int
}

// NewModel creates a Model. A non-positive limit falls back to DefaultMemoryLimit.
func NewModel(memoryLimit int) *Model {
	if memoryLimit <= 0 {
		memoryLimit = DefaultMemoryLimit
	}
	return &Model{memoryLimit: memoryLimit}
}

// MemoryLimit returns the size of each character's memory ring.
func (m *Model) MemoryLimit() int {
	return m.memoryLimit
}

// ApplyPatch applies every op of patch to a copy of snapshot and returns the
// copy together with the metric clamps that happened. If any op is malformed
// or the result breaks an invariant, the error is an *models.InvariantViolation
// and snapshot is left untouched.
func (m *Model) ApplyPatch(snapshot *models.WorldState, patch models.Patch) (*models.WorldState, []models.ClampRecord, error) {
	if snapshot == nil {
		return nil, nil, violation(models.RuleMalformedOp, "nil snapshot")
	}
	next := snapshot.Clone()
	resets := make(map[string]bool)
	var clamps []models.ClampRecord

	for i, op := range patch.Ops {
		clamp, err := m.applyOp(next, op, resets)
		if err != nil {
			return nil, nil, fmt.Errorf("stage %s op %d (%s): %w", patch.Stage, i, op.Kind, err)
		}
		if clamp != nil {
			clamps = append(clamps, *clamp)
		}
	}

	if err := m.checkTransition(snapshot, next, resets); err != nil {
		return nil, nil, fmt.Errorf("stage %s: %w", patch.Stage, err)
	}
	return next, clamps, nil
}

func (m *Model) applyOp(w *models.WorldState, op models.Op, resets map[string]bool) (*models.ClampRecord, error) {
	switch op.Kind {
	case models.OpUpsertRegion:
		if op.Region == nil || op.Region.ID == "" {
			return nil, violation(models.RuleMalformedOp, "region id is required")
		}
		w.Regions[op.Region.ID] = mergeRegion(w.Regions[op.Region.ID], *op.Region)

	case models.OpLinkRegions:
		l := op.Link
		if l == nil || l.From == "" || l.Direction == "" || l.To == "" {
			return nil, violation(models.RuleMalformedOp, "link needs from, direction and to")
		}
		from, ok := w.Regions[l.From]
		if !ok {
			return nil, violation(models.RuleReferentialIntegrity, fmt.Sprintf("link from unknown region %q", l.From))
		}
		from = mergeRegion(from, models.Region{ID: from.ID, Exits: map[string]string{l.Direction: l.To}})
		w.Regions[l.From] = from

	case models.OpUpsertCharacter:
		if op.Character == nil || op.Character.ID == "" {
			return nil, violation(models.RuleMalformedOp, "character id is required")
		}
		c, err := m.mergeCharacter(w.Characters[op.Character.ID], *op.Character, w.StartRegion)
		if err != nil {
			return nil, err
		}
		w.Characters[c.ID] = c

	case models.OpMoveCharacter:
		if op.Move == nil {
			return nil, violation(models.RuleMalformedOp, "move payload is required")
		}
		c, ok := w.Characters[op.Move.CharacterID]
		if !ok {
			return nil, violation(models.RuleReferentialIntegrity, fmt.Sprintf("move of unknown character %q", op.Move.CharacterID))
		}
		c.Location = op.Move.To
		w.Characters[c.ID] = c

	case models.OpSetMood:
		if op.Mood == nil || !op.Mood.Mood.IsValid() {
			return nil, violation(models.RuleMalformedOp, "mood change needs a known mood")
		}
		c, ok := w.Characters[op.Mood.CharacterID]
		if !ok {
			return nil, violation(models.RuleReferentialIntegrity, fmt.Sprintf("mood of unknown character %q", op.Mood.CharacterID))
		}
		c.Mood = op.Mood.Mood
		w.Characters[c.ID] = c

	case models.OpRemember:
		if op.Memory == nil || op.Memory.Text == "" {
			return nil, violation(models.RuleMalformedOp, "memory text is required")
		}
		c, ok := w.Characters[op.Memory.CharacterID]
		if !ok {
			return nil, violation(models.RuleReferentialIntegrity, fmt.Sprintf("memory of unknown character %q", op.Memory.CharacterID))
		}
		c.Memory = m.pushMemory(c.Memory, op.Memory.Text)
		w.Characters[c.ID] = c

	case models.OpUpsertQuest:
		if op.Quest == nil || op.Quest.Quest.ID == "" {
			return nil, violation(models.RuleMalformedOp, "quest id is required")
		}
		q := op.Quest.Quest
		if !q.Status.IsValid() {
			return nil, violation(models.RuleMalformedOp, fmt.Sprintf("quest %q has unknown status %q", q.ID, q.Status))
		}
		if q.Progress < 0 || q.Progress > 100 {
			return nil, violation(models.RuleQuestProgress, fmt.Sprintf("quest %q progress %d outside [0,100]", q.ID, q.Progress))
		}
		if op.Quest.Reset || q.Status == models.QuestFailed {
			resets[q.ID] = true
		}
		w.Quests[q.ID] = q

	case models.OpAdjustQuest:
		return nil, applyQuestAdjustment(w, op.QuestDelta, resets)

	case models.OpAdjustMetric:
		return applyMetric(w, op.Metric)

	case models.OpAdjustLoyalty:
		a := op.Loyalty
		if a == nil {
			return nil, violation(models.RuleMalformedOp, "loyalty adjustment is required")
		}
		c, ok := w.Characters[a.CharacterID]
		if !ok {
			return nil, violation(models.RuleReferentialIntegrity, fmt.Sprintf("loyalty of unknown character %q", a.CharacterID))
		}
		if c.Role == models.RolePlayer {
			return nil, violation(models.RuleMalformedOp, fmt.Sprintf("character %q is a player and has no loyalty", c.ID))
		}
		c.Loyalty = models.Ptr(clampInt(c.LoyaltyValue()+a.Delta, 0, 100))
		w.Characters[c.ID] = c

	case models.OpAdjustPlayerStat:
		return nil, applyPlayerStat(w, op.Stat)

	case models.OpAdvanceTick:
		if op.Tick == nil || op.Tick.Ticks < 1 {
			return nil, violation(models.RuleTickMonotonic, "tick advance must be at least 1")
		}
		w.Tick += int64(op.Tick.Ticks)

	case models.OpAppendTurnRecord:
		if op.Record == nil {
			return nil, violation(models.RuleMalformedOp, "turn record is required")
		}
		if n := len(w.TurnLog); n > 0 && op.Record.Number <= w.TurnLog[n-1].Number {
			return nil, violation(models.RuleTurnLogAppendOnly,
				fmt.Sprintf("turn number %d does not follow %d", op.Record.Number, w.TurnLog[n-1].Number))
		}
		w.TurnLog = append(w.TurnLog, *op.Record)

	default:
		return nil, violation(models.RuleMalformedOp, fmt.Sprintf("unknown op kind %q", op.Kind))
	}
	return nil, nil
}

func applyQuestAdjustment(w *models.WorldState, a *models.QuestAdjustment, resets map[string]bool) error {
	if a == nil || a.QuestID == "" {
		return violation(models.RuleMalformedOp, "quest id is required")
	}
	if !a.Status.IsValid() {
		return violation(models.RuleMalformedOp, fmt.Sprintf("quest %q has unknown status %q", a.QuestID, a.Status))
	}
	if a.ProgressDelta < 0 && a.Status != models.QuestFailed {
		return violation(models.RuleQuestProgress,
			fmt.Sprintf("quest %q progress cannot decrease by %d without failing", a.QuestID, -a.ProgressDelta))
	}
	if a.Status == models.QuestFailed {
		resets[a.QuestID] = true
	}

	q, ok := w.Quests[a.QuestID]
	if !ok {
		q = models.Quest{ID: a.QuestID}
	}
	q.Status = a.Status
	q.Progress = clampInt(q.Progress+a.ProgressDelta, 0, 100)
	if a.Status == models.QuestCompleted {
		q.Progress = 100
	}
	if a.Title != "" {
		q.Title = a.Title
	}
	if a.Description != "" {
		q.Description = a.Description
	}
	q.RelatedRegions = union(q.RelatedRegions, a.RelatedRegions)
	q.RelatedCharacters = union(q.RelatedCharacters, a.RelatedCharacters)
	w.Quests[q.ID] = q
	return nil
}

func applyMetric(w *models.WorldState, a *models.MetricAdjustment) (*models.ClampRecord, error) {
	if a == nil || math.IsNaN(a.Delta) || math.IsInf(a.Delta, 0) {
		return nil, violation(models.RuleMalformedOp, "metric adjustment needs a finite delta")
	}
	current, ok := w.Metrics.Get(a.Metric)
	if !ok {
		return nil, violation(models.RuleMalformedOp, fmt.Sprintf("unknown metric %q", a.Metric))
	}
	requested := current + a.Delta
	applied := math.Max(models.MetricMin, math.Min(models.MetricMax, requested))
	w.Metrics.Set(a.Metric, applied)
	if applied != requested {
		return &models.ClampRecord{Metric: a.Metric, Requested: requested, Applied: applied}, nil
	}
	return nil, nil
}

func applyPlayerStat(w *models.WorldState, a *models.StatAdjustment) error {
	if a == nil || !a.Stat.IsValid() {
		return violation(models.RuleMalformedOp, "stat adjustment needs a known stat")
	}
	c, ok := w.Characters[a.CharacterID]
	if !ok {
		return violation(models.RuleReferentialIntegrity, fmt.Sprintf("stats of unknown character %q", a.CharacterID))
	}
	if c.Role != models.RolePlayer {
		return violation(models.RuleMalformedOp, fmt.Sprintf("character %q is not a player", c.ID))
	}
	if c.Stats == nil {
		c.Stats = models.DefaultPlayerStats()
	}
	current, ok := c.Stats[a.Stat]
	if !ok {
		current = models.DefaultStatValue
	}
	c.Stats[a.Stat] = clampInt(current+a.Delta, models.StatMin, models.StatMax)
	w.Characters[c.ID] = c
	return nil
}

func mergeRegion(base, in models.Region) models.Region {
	if base.ID == "" {
		base.ID = in.ID
	}
	if in.Name != "" {
		base.Name = in.Name
	}
	if base.Name == "" {
		base.Name = base.ID
	}
	if in.Description != "" {
		base.Description = in.Description
	}
	if in.Biome != "" {
		base.Biome = in.Biome
	}
	if len(in.Exits) > 0 {
		exits := make(map[string]string, len(base.Exits)+len(in.Exits))
		for dir, to := range base.Exits {
			exits[dir] = to
		}
		for dir, to := range in.Exits {
			exits[dir] = to
		}
		base.Exits = exits
	}
	base.Tags = union(base.Tags, in.Tags)
	return base
}

func (m *Model) mergeCharacter(base, in models.Character, startRegion string) (models.Character, error) {
	isNew := base.ID == ""
	if isNew {
		base = models.Character{ID: in.ID, Role: models.RoleNPC, Mood: models.MoodNeutral, Location: startRegion}
	}
	if in.Name != "" {
		base.Name = in.Name
	}
	if base.Name == "" {
		base.Name = base.ID
	}
	if in.Role != "" {
		if in.Role != models.RoleNPC && in.Role != models.RolePlayer {
			return base, violation(models.RuleMalformedOp, fmt.Sprintf("character %q has unknown role %q", in.ID, in.Role))
		}
		base.Role = in.Role
	}
	if in.Mood != "" {
		if !in.Mood.IsValid() {
			return base, violation(models.RuleMalformedOp, fmt.Sprintf("character %q has unknown mood %q", in.ID, in.Mood))
		}
		base.Mood = in.Mood
	}
	if in.Location != "" {
		base.Location = in.Location
	}
	if in.Loyalty != nil {
		base.Loyalty = models.Ptr(clampInt(*in.Loyalty, 0, 100))
	}
	if base.Role == models.RolePlayer {
		base.Loyalty = nil
		if base.Stats == nil {
			base.Stats = models.DefaultPlayerStats()
		}
		for stat, v := range in.Stats {
			if !stat.IsValid() {
				return base, violation(models.RuleMalformedOp, fmt.Sprintf("character %q has unknown stat %q", in.ID, stat))
			}
			base.Stats[stat] = clampInt(v, models.StatMin, models.StatMax)
		}
	} else {
		if base.Loyalty == nil {
			base.Loyalty = models.Ptr(models.DefaultLoyalty)
		}
		base.Stats = nil
	}
	base.Traits = union(base.Traits, in.Traits)
	if in.Memory != nil {
		base.Memory = nil
		for _, e := range in.Memory {
			base.Memory = m.pushMemory(base.Memory, e)
		}
	}
	return base, nil
}

// pushMemory appends e and evicts the oldest entries beyond the limit.
func (m *Model) pushMemory(memory []string, e string) []string {
	out := append(append(make([]string, 0, len(memory)+1), memory...), e)
	if over := len(out) - m.memoryLimit; over > 0 {
		out = out[over:]
	}
	return out
}

func union(base, add []string) []string {
	if len(add) == 0 {
		return base
	}
	seen := make(map[string]bool, len(base)+len(add))
	out := make([]string, 0, len(base)+len(add))
	for _, s := range base {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	for _, s := range add {
		if s != "" && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func violation(rule, detail string) error {
	return &models.InvariantViolation{Rule: rule, Detail: detail}
}
