package validator

import "dreamweaver-server/internal/models"

// Decoded stage outputs. Field names follow the JSON contracts.

type interpreterOutput struct {
	Action    models.Action `json:"action"`
	Direction string        `json:"direction"`
	Target    string        `json:"target"`
	Ticks     int           `json:"ticks"`
	Summary   string        `json:"summary"`
}

type architectRegion struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Biome       string            `json:"biome"`
	Exits       map[string]string `json:"exits"`
	Tags        []string          `json:"tags"`
}

type architectCharacter struct {
	ID       string      `json:"id"`
	Name     string      `json:"name"`
	Mood     models.Mood `json:"mood"`
	Location string      `json:"location"`
	Loyalty  *int        `json:"loyalty"`
	Traits   []string    `json:"traits"`
}

type architectOutput struct {
	Regions    []architectRegion    `json:"regions"`
	Links      []models.ExitLink    `json:"links"`
	Characters []architectCharacter `json:"characters"`
}

type eventEngineOutput struct {
	Events           []models.Event                `json:"events"`
	MetricsDelta     map[models.MetricName]float64 `json:"metricsDelta"`
	PlayerStatsDelta map[models.PlayerStat]int     `json:"playerStatsDelta"`
}

type questMasterOutput struct {
	Quests           []models.QuestAdjustment  `json:"quests"`
	Notifications    []string                  `json:"notifications"`
	PlayerStatsDelta map[models.PlayerStat]int `json:"playerStatsDelta"`
}

type dialogueWeaverOutput struct {
	Lines            []models.DialogueLine      `json:"lines"`
	Moods            []models.MoodChange        `json:"moods"`
	LoyaltyDeltas    []models.LoyaltyAdjustment `json:"loyaltyDeltas"`
	PlayerStatsDelta map[models.PlayerStat]int  `json:"playerStatsDelta"`
}

type narratorOutput struct {
	Narration        string   `json:"narration"`
	SuggestedActions []string `json:"suggestedActions"`
}
