package stage

import (
	"context"

	"dreamweaver-server/internal/models"
)

// Input is everything a stage may look at.
type Input struct {
	// World is the working snapshot, already including earlier stages of this turn.
	World   *models.WorldState
	UserID  string
	Message string
	// Prior holds the patches produced earlier in this turn, in stage order.
	Prior []models.Patch
	// Feedback explains why the previous attempt was rejected; empty on the first attempt.
	Feedback string
	Attempt  int
}

// Intent returns the Interpreter's intent from Prior, if any.
func (in Input) Intent() *models.Intent {
	for _, p := range in.Prior {
		if p.Stage == models.StageInterpreter && p.Intent != nil {
			return p.Intent
		}
	}
	return nil
}

// PlayerRegion returns the region the acting user's character stands in.
func (in Input) PlayerRegion() (models.Region, bool) {
	if in.World == nil {
		return models.Region{}, false
	}
	c, ok := in.World.Characters[models.PlayerCharacterID(in.UserID)]
	if !ok {
		r, ok := in.World.Regions[in.World.StartRegion]
		return r, ok
	}
	r, ok := in.World.Regions[c.Location]
	return r, ok
}

// Adapter calls one generative stage and returns its raw, unvalidated output.
// Failures to produce any output are reported as *models.GenerationFailure.
type Adapter interface {
	Execute(ctx context.Context, kind models.StageKind, in Input) (string, error)
}
