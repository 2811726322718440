package stage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"dreamweaver-server/internal/models"
)

// OfflineAdapter produces small deterministic stage outputs without a model.
// It keeps the server playable when no AI backend is configured.
type OfflineAdapter struct{}

var _ Adapter = OfflineAdapter{}

var compassDirections = []string{"north", "east", "south", "west"}

var oppositeDirection = map[string]string{"north": "south", "south": "north", "east": "west", "west": "east"}

func (OfflineAdapter) Execute(ctx context.Context, kind models.StageKind, in Input) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", &models.GenerationFailure{Kind: models.FailureTimeout, Stage: kind, Err: err}
	}
	var out interface{}
	switch kind {
	case models.StageInterpreter:
		out = interpretOffline(in.Message)
	case models.StageArchitect:
		out = architectOffline(in)
	case models.StageEventEngine:
		out = map[string]interface{}{"events": []interface{}{}, "metricsDelta": map[string]float64{}}
	case models.StageQuestMaster:
		out = map[string]interface{}{"quests": []interface{}{}, "notifications": []string{}}
	case models.StageDialogueWeaver:
		out = dialogueOffline(in)
	case models.StageNarrator:
		out = narrateOffline(in)
	default:
		return "", &models.GenerationFailure{Kind: models.FailureRefused, Stage: kind, Err: fmt.Errorf("unknown stage")}
	}
	raw, err := json.Marshal(out)
	if err != nil {
		return "", &models.GenerationFailure{Kind: models.FailureMalformed, Stage: kind, Err: err}
	}
	return string(raw), nil
}

func interpretOffline(message string) models.Intent {
	words := strings.Fields(strings.ToLower(message))
	intent := models.Intent{Action: models.ActionExplore, Summary: message}
	for i, w := range words {
		switch w {
		case "go", "move", "walk", "head", "travel":
			intent.Action = models.ActionMove
			if i+1 < len(words) {
				intent.Direction = strings.Trim(words[i+1], ".,!?")
			}
			return intent
		case "talk", "speak", "ask", "greet":
			intent.Action = models.ActionTalk
			if i+1 < len(words) {
				intent.Target = strings.Trim(words[len(words)-1], ".,!?")
			}
			return intent
		case "wait", "rest":
			intent.Action = models.ActionWait
			return intent
		case "quests", "quest", "journal":
			intent.Action = models.ActionShowQuests
			return intent
		}
	}
	return intent
}

func architectOffline(in Input) map[string]interface{} {
	out := map[string]interface{}{"regions": []interface{}{}, "links": []interface{}{}, "characters": []interface{}{}}
	intent := in.Intent()
	here, ok := in.PlayerRegion()
	if intent == nil || intent.Action != models.ActionExplore || !ok {
		return out
	}
	for _, dir := range compassDirections {
		if _, taken := here.Exits[dir]; taken {
			continue
		}
		id := fmt.Sprintf("%s_%s", here.ID, dir)
		if _, exists := in.World.Regions[id]; exists {
			continue
		}
		out["regions"] = []models.Region{{
			ID:          id,
			Name:        fmt.Sprintf("Wilds %s of %s", dir, here.Name),
			Description: "Unmapped land, quiet for now.",
			Exits:       map[string]string{oppositeDirection[dir]: here.ID},
		}}
		out["links"] = []models.ExitLink{{From: here.ID, Direction: dir, To: id}}
		return out
	}
	return out
}

func dialogueOffline(in Input) map[string]interface{} {
	out := map[string]interface{}{"lines": []interface{}{}, "moods": []interface{}{}}
	intent := in.Intent()
	here, ok := in.PlayerRegion()
	if intent == nil || intent.Action != models.ActionTalk || !ok {
		return out
	}
	for _, id := range sortedIDs(in.World.Characters) {
		c := in.World.Characters[id]
		if c.Role == models.RoleNPC && c.Location == here.ID {
			out["lines"] = []models.DialogueLine{{CharacterID: c.ID, Speech: fmt.Sprintf("%s nods at you.", c.Name)}}
			out["loyaltyDeltas"] = []models.LoyaltyAdjustment{{CharacterID: c.ID, Delta: 1}}
			out["playerStatsDelta"] = map[models.PlayerStat]int{models.StatEmpathy: 1}
			return out
		}
	}
	return out
}

func narrateOffline(in Input) map[string]interface{} {
	here, _ := in.PlayerRegion()
	text := fmt.Sprintf("You are in %s.", here.Name)
	if intent := in.Intent(); intent != nil && intent.Summary != "" {
		text = fmt.Sprintf("You %s. You are in %s.", strings.TrimSuffix(intent.Summary, "."), here.Name)
	}
	return map[string]interface{}{"narration": text, "suggestedActions": []string{"explore the area", "wait"}}
}
