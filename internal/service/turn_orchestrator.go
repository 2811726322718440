package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"dreamweaver-server/internal/lock"
	"dreamweaver-server/internal/models"
	"dreamweaver-server/internal/repository"
	"dreamweaver-server/internal/stage"
	"dreamweaver-server/internal/validator"
	"dreamweaver-server/internal/world"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// MaxMessageLength bounds a player's message.
const MaxMessageLength = 2000

const notifyTimeout = 5 * time.Second

// TurnService is what the transport layer needs from the engine.
type TurnService interface {
	HandleTurn(ctx context.Context, req models.TurnRequest) (*models.TurnResult, error)
	GetState(ctx context.Context, worldID, userID string) (*models.WorldView, error)
	ListWorlds(ctx context.Context) ([]models.WorldSummary, error)
	ActivePlayers(ctx context.Context, worldID string) ([]models.PlayerPresence, error)
	Leave(ctx context.Context, worldID, userID string) error
}

// TurnNotifier is told about every committed turn after the world lock is released.
type TurnNotifier interface {
	NotifyTurnCommitted(ctx context.Context, event models.TurnCommitted) error
}

// StageRunner produces the patch of one stage. Outputs refused by accept are
// retried like invalid ones. *validator.Executor is the production implementation.
type StageRunner interface {
	RunChecked(ctx context.Context, kind models.StageKind, in stage.Input, accept validator.AcceptFunc) validator.Outcome
}

// TurnOrchestrator runs the fixed stage pipeline for one world at a time and
// commits the result atomically.
type TurnOrchestrator struct {
	store     repository.WorldStateStore
	locker    lock.Locker
	model     *world.Model
	stages    StageRunner
	presence  *PresenceTracker
	notifiers []TurnNotifier
	tracer    trace.Tracer
	logger    *zap.Logger
	now       func() time.Time
}

var _ TurnService = (*TurnOrchestrator)(nil)

func NewTurnOrchestrator(
	store repository.WorldStateStore,
	locker lock.Locker,
	model *world.Model,
	stages StageRunner,
	presence *PresenceTracker,
	logger *zap.Logger,
	notifiers ...TurnNotifier,
) *TurnOrchestrator {
	if presence == nil {
		presence = NewPresenceTracker(DefaultSessionTimeout)
	}
	return &TurnOrchestrator{
		store:     store,
		locker:    locker,
		model:     model,
		stages:    stages,
		presence:  presence,
		notifiers: notifiers,
		tracer:    otel.Tracer("dreamweaver-server/service"),
		logger:    logger.Named("TurnOrchestrator"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// HandleTurn runs one turn. It either commits exactly one new version or
// returns an error and leaves the stored world untouched.
func (o *TurnOrchestrator) HandleTurn(ctx context.Context, req models.TurnRequest) (*models.TurnResult, error) {
	start := time.Now()
	ctx, span := o.tracer.Start(ctx, "TurnOrchestrator.HandleTurn",
		trace.WithAttributes(attribute.String("world.id", req.WorldID), attribute.String("user.id", req.UserID)))
	defer span.End()

	result, committed, err := o.handleTurn(ctx, req)
	turnDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		turnsTotal.WithLabelValues(models.ErrorCode(err)).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, models.ErrorCode(err))
		return nil, err
	}
	turnsTotal.WithLabelValues("committed").Inc()
	span.SetAttributes(attribute.Int64("world.version", result.Version))

	o.notify(ctx, committed)
	return result, nil
}

// handleTurn does the locked part of a turn. The lock is released on return.
func (o *TurnOrchestrator) handleTurn(ctx context.Context, req models.TurnRequest) (*models.TurnResult, models.TurnCommitted, error) {
	var committed models.TurnCommitted
	if err := validateTurnRequest(&req); err != nil {
		return nil, committed, err
	}
	log := o.logger.With(zap.String("worldID", req.WorldID), zap.String("userID", req.UserID))

	if err := checkCancelled(ctx, "before lock"); err != nil {
		return nil, committed, err
	}
	release, err := o.locker.Acquire(ctx, req.WorldID)
	if err != nil {
		if ctx.Err() != nil {
			return nil, committed, fmt.Errorf("%w: waiting for world lock: %v", models.ErrTurnCancelled, err)
		}
		log.Info("World lock not acquired", zap.Error(err))
		return nil, committed, err
	}
	defer release()

	state, err := o.loadOrCreate(ctx, req.WorldID, req.Seed)
	if err != nil {
		return nil, committed, err
	}
	o.presence.Touch(req.WorldID, req.UserID)
	log = log.With(zap.Int64("baseVersion", state.Version))

	working := state
	var (
		applied   []models.AppliedPatch
		prior     []models.Patch
		degraded  []models.StageKind
		events    []models.Event
		notes     []string
		narration string
		suggested []string
	)

	apply := func(patch models.Patch, attempts int, wasDegraded bool) error {
		next, clamps, err := o.model.ApplyPatch(working, patch)
		if err != nil {
			log.Warn("Patch rejected by world invariants, aborting turn",
				zap.String("stage", string(patch.Stage)), zap.Bool("degraded", wasDegraded), zap.Error(err))
			return fmt.Errorf("%w: %w", models.ErrTurnFailed, err)
		}
		for _, c := range clamps {
			metricClampsTotal.WithLabelValues(string(c.Metric)).Inc()
		}
		working = next
		if !patch.IsEmpty() || patch.Stage.IsGenerative() {
			applied = append(applied, models.AppliedPatch{
				Stage:    patch.Stage,
				Ops:      patch.Ops,
				Attempts: attempts,
				Degraded: wasDegraded,
				Clamps:   clamps,
			})
		}
		return nil
	}

	if join, ok := joinPatch(working, req.UserID); ok {
		if err := apply(join, 0, false); err != nil {
			return nil, committed, err
		}
	}

	for _, kind := range models.StageOrder {
		if err := checkCancelled(ctx, "before stage "+string(kind)); err != nil {
			log.Info("Turn cancelled", zap.String("stage", string(kind)))
			return nil, committed, err
		}

		accept := func(p models.Patch) error {
			_, _, err := o.model.ApplyPatch(working, prepare(working, req.UserID, kind, p))
			return err
		}
		stageCtx, stageSpan := o.tracer.Start(ctx, "stage."+string(kind))
		out := o.stages.RunChecked(stageCtx, kind, stage.Input{
			World:   working,
			UserID:  req.UserID,
			Message: req.Message,
			Prior:   prior,
		}, accept)
		stageSpan.SetAttributes(attribute.Int("stage.attempts", out.Attempts), attribute.Bool("stage.degraded", out.Degraded))
		stageSpan.End()

		patch := prepare(working, req.UserID, kind, out.Patch)
		if err := apply(patch, out.Attempts, out.Degraded); err != nil {
			return nil, committed, err
		}

		prior = append(prior, patch)
		if out.Degraded {
			degraded = append(degraded, kind)
			stageDegradedTotal.WithLabelValues(string(kind)).Inc()
		}
		events = append(events, patch.Events...)
		notes = append(notes, patch.Notifications...)
		if patch.Narration != "" {
			narration = patch.Narration
			suggested = patch.SuggestedActions
		}
	}

	now := o.now()
	record := models.TurnRecord{
		ID:             uuid.NewString(),
		Number:         state.Version + 1,
		Tick:           working.Tick,
		UserID:         req.UserID,
		Message:        req.Message,
		Patches:        applied,
		DegradedStages: degraded,
		Events:         events,
		Narration:      narration,
		CreatedAt:      now,
	}
	if err := apply(models.Patch{Stage: models.StageSession, Ops: []models.Op{models.AppendTurnRecord(record)}}, 0, false); err != nil {
		return nil, committed, err
	}
	working.Version = state.Version + 1
	working.UpdatedAt = now

	// From here on the turn is committed or failed, never abandoned.
	if err := o.store.Save(context.WithoutCancel(ctx), working); err != nil {
		log.Error("Failed to commit turn", zap.Error(err))
		return nil, committed, fmt.Errorf("commit world %s version %d: %w", req.WorldID, working.Version, err)
	}
	log.Info("Turn committed",
		zap.Int64("version", working.Version),
		zap.String("turnID", record.ID),
		zap.Int("degradedStages", len(degraded)))

	committed = models.TurnCommitted{
		WorldID:     req.WorldID,
		TurnID:      record.ID,
		UserID:      req.UserID,
		Version:     working.Version,
		Narration:   narration,
		Degraded:    degraded,
		CommittedAt: now,
	}
	return &models.TurnResult{
		WorldID:          req.WorldID,
		TurnID:           record.ID,
		Version:          working.Version,
		Narration:        narration,
		RenderedView:     RenderView(working, req.UserID),
		SuggestedActions: suggested,
		Notifications:    notes,
		DegradedStages:   degraded,
	}, committed, nil
}

func (o *TurnOrchestrator) loadOrCreate(ctx context.Context, worldID string, seed *models.Seed) (*models.WorldState, error) {
	state, err := o.store.Load(ctx, worldID)
	if err == nil {
		return state, nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return nil, fmt.Errorf("load world %s: %w", worldID, err)
	}
	if seed == nil {
		return nil, fmt.Errorf("%w: world %s has no seed", models.ErrNotFound, worldID)
	}
	state, err = o.store.Create(ctx, worldID, *seed)
	if errors.Is(err, models.ErrAlreadyExists) {
		// Another instance created it first.
		return o.store.Load(ctx, worldID)
	}
	if err != nil {
		return nil, fmt.Errorf("create world %s: %w", worldID, err)
	}
	o.logger.Info("World created from seed", zap.String("worldID", worldID), zap.String("startRegion", state.StartRegion))
	return state, nil
}

func (o *TurnOrchestrator) notify(ctx context.Context, event models.TurnCommitted) {
	if len(o.notifiers) == 0 {
		return
	}
	notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()
	for _, n := range o.notifiers {
		if err := n.NotifyTurnCommitted(notifyCtx, event); err != nil {
			o.logger.Warn("Turn notification failed",
				zap.String("worldID", event.WorldID), zap.Int64("version", event.Version), zap.Error(err))
		}
	}
}

// GetState returns the latest committed snapshot rendered for userID.
func (o *TurnOrchestrator) GetState(ctx context.Context, worldID, userID string) (*models.WorldView, error) {
	if err := models.ValidateWorldID(worldID); err != nil {
		return nil, err
	}
	state, err := o.store.Load(ctx, worldID)
	if err != nil {
		return nil, err
	}
	return &models.WorldView{
		WorldID:      worldID,
		Version:      state.Version,
		RenderedView: RenderView(state, userID),
		State:        state,
	}, nil
}

func (o *TurnOrchestrator) ListWorlds(ctx context.Context) ([]models.WorldSummary, error) {
	return o.store.List(ctx)
}

// ActivePlayers lists players who took a turn within the session timeout.
func (o *TurnOrchestrator) ActivePlayers(ctx context.Context, worldID string) ([]models.PlayerPresence, error) {
	if err := models.ValidateWorldID(worldID); err != nil {
		return nil, err
	}
	return o.presence.Active(worldID), nil
}

// Leave ends a player's session. The player's character stays in the world.
func (o *TurnOrchestrator) Leave(ctx context.Context, worldID, userID string) error {
	if err := models.ValidateWorldID(worldID); err != nil {
		return err
	}
	if !o.presence.Leave(worldID, userID) {
		return fmt.Errorf("%w: player %s is not active in world %s", models.ErrNotFound, userID, worldID)
	}
	o.logger.Info("Player left world", zap.String("worldID", worldID), zap.String("userID", userID))
	return nil
}

func validateTurnRequest(req *models.TurnRequest) error {
	req.UserID = strings.TrimSpace(req.UserID)
	req.Message = strings.TrimSpace(req.Message)
	if err := models.ValidateWorldID(req.WorldID); err != nil {
		return err
	}
	if req.UserID == "" {
		return fmt.Errorf("%w: user id is required", models.ErrInvalidInput)
	}
	if req.Message == "" {
		return fmt.Errorf("%w: message is required", models.ErrInvalidInput)
	}
	if len(req.Message) > MaxMessageLength {
		return fmt.Errorf("%w: message longer than %d bytes", models.ErrInvalidInput, MaxMessageLength)
	}
	return nil
}

func checkCancelled(ctx context.Context, where string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w %s: %v", models.ErrTurnCancelled, where, err)
	}
	return nil
}

// prepare adds the ops the orchestrator derives from a stage's output: the
// player's move and the clock advance for the Interpreter, and the acting
// player's stat changes for any stage.
func prepare(w *models.WorldState, userID string, kind models.StageKind, patch models.Patch) models.Patch {
	patch.Stage = kind
	patch.Ops = append([]models.Op(nil), patch.Ops...)
	if kind == models.StageInterpreter {
		if move, ok := resolveMove(w, userID, patch.Intent); ok {
			patch.Ops = append(patch.Ops, move)
		}
		patch.Ops = append(patch.Ops, models.AdvanceTick(turnTicks(patch.Intent)))
	}
	pc := models.PlayerCharacterID(userID)
	for _, stat := range models.PlayerStats {
		if d := patch.PlayerStatsDelta[stat]; d != 0 {
			patch.Ops = append(patch.Ops, models.AdjustPlayerStat(pc, stat, d))
		}
	}
	return patch
}

// turnTicks is how far the world clock moves this turn: one tick, or the
// requested span when fast forwarding.
func turnTicks(intent *models.Intent) int {
	if intent != nil && intent.Action == models.ActionFastForward && intent.Ticks > 1 {
		return intent.Ticks
	}
	return 1
}

// joinPatch places a new player's character at the start region.
func joinPatch(w *models.WorldState, userID string) (models.Patch, bool) {
	id := models.PlayerCharacterID(userID)
	if _, ok := w.Characters[id]; ok {
		return models.Patch{}, false
	}
	return models.Patch{
		Stage: models.StageSession,
		Ops: []models.Op{models.UpsertCharacter(models.Character{
			ID:       id,
			Name:     userID,
			Role:     models.RolePlayer,
			Mood:     models.MoodNeutral,
			Location: w.StartRegion,
		})},
	}, true
}

// resolveMove turns a move intent into a relocation of the player's character
// along an exit of their current region. The direction may also name the
// neighbouring region.
func resolveMove(w *models.WorldState, userID string, intent *models.Intent) (models.Op, bool) {
	if intent == nil || intent.Action != models.ActionMove {
		return models.Op{}, false
	}
	pc, ok := w.Characters[models.PlayerCharacterID(userID)]
	if !ok {
		return models.Op{}, false
	}
	here := w.Regions[pc.Location]

	dest, ok := here.Exits[intent.Direction]
	if !ok {
		dirs := make([]string, 0, len(here.Exits))
		for dir := range here.Exits {
			dirs = append(dirs, dir)
		}
		sort.Strings(dirs)
		for _, dir := range dirs {
			r := w.Regions[here.Exits[dir]]
			for _, want := range []string{intent.Direction, intent.Target} {
				if want != "" && (strings.EqualFold(want, r.ID) || strings.EqualFold(want, r.Name)) {
					dest = r.ID
				}
			}
			if dest != "" {
				break
			}
		}
	}
	if dest == "" || dest == pc.Location {
		return models.Op{}, false
	}
	return models.MoveCharacter(pc.ID, dest), true
}
