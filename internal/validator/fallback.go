package validator

import (
	"fmt"

	"dreamweaver-server/internal/models"
)

// FallbackPatch returns the deterministic patch substituted for a stage whose
// output could not be validated. It never mutates the world; the narrator
// fallback describes the acting player's surroundings.
func FallbackPatch(kind models.StageKind, snapshot *models.WorldState, userID string) models.Patch {
	patch := models.Patch{Stage: kind}
	switch kind {
	case models.StageInterpreter:
		patch.Intent = &models.Intent{Action: models.ActionWait}
	case models.StageNarrator:
		patch.Narration = fallbackNarration(snapshot, userID)
		patch.SuggestedActions = []string{"look around", "wait"}
	}
	return patch
}

func fallbackNarration(w *models.WorldState, userID string) string {
	if w == nil {
		return "Time passes."
	}
	regionID := w.StartRegion
	if c, ok := w.Characters[models.PlayerCharacterID(userID)]; ok {
		regionID = c.Location
	}
	r, ok := w.Regions[regionID]
	if !ok {
		return "Time passes."
	}
	return fmt.Sprintf("Time passes quietly in %s.", r.Name)
}
