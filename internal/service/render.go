package service

import (
	"fmt"
	"sort"
	"strings"

	"dreamweaver-server/internal/models"
)

// RenderView describes the world as seen by userID: their region, its exits,
// who is there, the known quests, the player's stats and the world metrics.
func RenderView(w *models.WorldState, userID string) string {
	if w == nil {
		return ""
	}
	location := w.StartRegion
	pc, isPlayer := w.Characters[models.PlayerCharacterID(userID)]
	if isPlayer {
		location = pc.Location
	}
	here := w.Regions[location]

	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", here.Name)
	if here.Description != "" {
		fmt.Fprintf(&b, "%s\n", here.Description)
	}

	if len(here.Exits) > 0 {
		dirs := make([]string, 0, len(here.Exits))
		for dir := range here.Exits {
			dirs = append(dirs, dir)
		}
		sort.Strings(dirs)
		exits := make([]string, 0, len(dirs))
		for _, dir := range dirs {
			exits = append(exits, fmt.Sprintf("%s -> %s", dir, w.Regions[here.Exits[dir]].Name))
		}
		fmt.Fprintf(&b, "Exits: %s\n", strings.Join(exits, ", "))
	}

	var present []string
	for _, c := range w.Characters {
		if c.Location == location && c.ID != models.PlayerCharacterID(userID) {
			present = append(present, fmt.Sprintf("%s (%s)", c.Name, c.Mood))
		}
	}
	if len(present) > 0 {
		sort.Strings(present)
		fmt.Fprintf(&b, "Here: %s\n", strings.Join(present, ", "))
	}

	if len(w.Quests) > 0 {
		ids := make([]string, 0, len(w.Quests))
		for id := range w.Quests {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		quests := make([]string, 0, len(ids))
		for _, id := range ids {
			q := w.Quests[id]
			title := q.Title
			if title == "" {
				title = q.ID
			}
			quests = append(quests, fmt.Sprintf("%s [%s %d%%]", title, q.Status, q.Progress))
		}
		fmt.Fprintf(&b, "Quests: %s\n", strings.Join(quests, "; "))
	}

	if isPlayer && len(pc.Stats) > 0 {
		stats := make([]string, 0, len(models.PlayerStats))
		for _, stat := range models.PlayerStats {
			stats = append(stats, fmt.Sprintf("%s %d", stat, pc.Stats[stat]))
		}
		fmt.Fprintf(&b, "You: %s\n", strings.Join(stats, " | "))
	}

	metrics := make([]string, 0, len(models.MetricNames)+1)
	metrics = append(metrics, fmt.Sprintf("tick %d", w.Tick))
	for _, name := range models.MetricNames {
		v, _ := w.Metrics.Get(name)
		metrics = append(metrics, fmt.Sprintf("%s %.0f", name, v))
	}
	fmt.Fprintf(&b, "World: %s", strings.Join(metrics, " | "))
	return b.String()
}
