package service

import (
	"testing"

	"dreamweaver-server/internal/models"

	"github.com/stretchr/testify/assert"
)

func TestRenderView(t *testing.T) {
	w := &models.WorldState{
		StartRegion: "clearing",
		Regions: map[string]models.Region{
			"clearing": {ID: "clearing", Name: "Clearing", Description: "A quiet glade.", Exits: map[string]string{"north": "forest", "east": "ridge"}},
			"forest":   {ID: "forest", Name: "Forest"},
			"ridge":    {ID: "ridge", Name: "Ridge"},
		},
		Characters: map[string]models.Character{
			"elda": {ID: "elda", Name: "Elda", Mood: models.MoodCalm, Location: "clearing"},
			"wolf": {ID: "wolf", Name: "Wolf", Mood: models.MoodHostile, Location: "forest"},
			"player:bob": {ID: "player:bob", Name: "bob", Mood: models.MoodNeutral, Location: "clearing",
				Stats: map[models.PlayerStat]int{models.StatCourage: 55, models.StatEmpathy: 50, models.StatCunning: 48}},
		},
		Quests: map[string]models.Quest{
			"well": {ID: "well", Title: "Find the well", Status: models.QuestActive, Progress: 10},
		},
		Metrics: models.DefaultMetrics(),
		Tick:    4,
	}

	want := "Clearing\n" +
		"A quiet glade.\n" +
		"Exits: east -> Ridge, north -> Forest\n" +
		"Here: Elda (calm)\n" +
		"Quests: Find the well [active 10%]\n" +
		"You: courage 55 | empathy 50 | cunning 48\n" +
		"World: tick 4 | chaos 30 | magic 40 | tension 20 | health 70"
	assert.Equal(t, want, RenderView(w, "bob"))

	alice := RenderView(w, "alice")
	assert.Contains(t, alice, "Here: Elda (calm), bob (neutral)")
	assert.NotContains(t, alice, "You:")
	assert.Empty(t, RenderView(nil, "bob"))
}
