package world

import (
	"fmt"
	"math"
	"sort"

	"dreamweaver-server/internal/models"
)

// Check verifies the invariants that must hold for any single snapshot.
func (m *Model) Check(w *models.WorldState) error {
	if _, ok := w.Regions[w.StartRegion]; !ok && len(w.Regions) > 0 {
		return violation(models.RuleReferentialIntegrity, fmt.Sprintf("start region %q does not exist", w.StartRegion))
	}
	for _, id := range sortedKeys(w.Regions) {
		r := w.Regions[id]
		if r.ID != id {
			return violation(models.RuleMalformedOp, fmt.Sprintf("region key %q holds id %q", id, r.ID))
		}
		for dir, to := range r.Exits {
			if _, ok := w.Regions[to]; !ok {
				return violation(models.RuleReferentialIntegrity,
					fmt.Sprintf("exit %s of region %q leads to unknown region %q", dir, id, to))
			}
		}
	}
	for _, id := range sortedKeys(w.Characters) {
		c := w.Characters[id]
		if _, ok := w.Regions[c.Location]; !ok {
			return violation(models.RuleReferentialIntegrity,
				fmt.Sprintf("character %q is located in unknown region %q", id, c.Location))
		}
		if c.Loyalty != nil && (*c.Loyalty < 0 || *c.Loyalty > 100) {
			return violation(models.RuleStatRange, fmt.Sprintf("character %q loyalty %d outside [0,100]", id, *c.Loyalty))
		}
		for stat, v := range c.Stats {
			if v < models.StatMin || v > models.StatMax {
				return violation(models.RuleStatRange, fmt.Sprintf("character %q %s=%d outside [0,100]", id, stat, v))
			}
		}
		if len(c.Memory) > m.memoryLimit {
			return violation(models.RuleMemoryBound,
				fmt.Sprintf("character %q remembers %d events, limit %d", id, len(c.Memory), m.memoryLimit))
		}
	}
	for _, name := range models.MetricNames {
		v, _ := w.Metrics.Get(name)
		if math.IsNaN(v) || v < models.MetricMin || v > models.MetricMax {
			return violation(models.RuleMetricRange, fmt.Sprintf("metric %s=%v outside [0,100]", name, v))
		}
	}
	for _, id := range sortedKeys(w.Quests) {
		q := w.Quests[id]
		if q.Progress < 0 || q.Progress > 100 {
			return violation(models.RuleQuestProgress, fmt.Sprintf("quest %q progress %d outside [0,100]", id, q.Progress))
		}
	}
	return nil
}

// checkTransition verifies next against its predecessor in addition to Check.
func (m *Model) checkTransition(prev, next *models.WorldState, resets map[string]bool) error {
	if err := m.Check(next); err != nil {
		return err
	}
	if next.Tick < prev.Tick {
		return violation(models.RuleTickMonotonic, fmt.Sprintf("tick went back from %d to %d", prev.Tick, next.Tick))
	}
	if len(next.TurnLog) < len(prev.TurnLog) {
		return violation(models.RuleTurnLogAppendOnly, "turn log shrank")
	}
	for i := range prev.TurnLog {
		if prev.TurnLog[i].ID != next.TurnLog[i].ID || prev.TurnLog[i].Number != next.TurnLog[i].Number {
			return violation(models.RuleTurnLogAppendOnly, fmt.Sprintf("turn log entry %d was rewritten", i))
		}
	}
	for id, before := range prev.Quests {
		after, ok := next.Quests[id]
		if !ok {
			return violation(models.RuleQuestProgress, fmt.Sprintf("quest %q disappeared", id))
		}
		if after.Progress < before.Progress && !resets[id] {
			return violation(models.RuleQuestProgress,
				fmt.Sprintf("quest %q progress went from %d to %d", id, before.Progress, after.Progress))
		}
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
