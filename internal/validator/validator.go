package validator

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"dreamweaver-server/internal/models"
	"dreamweaver-server/internal/world"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.uber.org/zap"
)

// Validator checks raw stage output against the stage contracts and turns
// accepted output into a typed patch.
type Validator struct {
	schemas map[models.StageKind]*jsonschema.Schema
	logger  *zap.Logger
}

// New compiles the embedded contracts.
func New(logger *zap.Logger) (*Validator, error) {
	schemas, err := loadContracts()
	if err != nil {
		return nil, err
	}
	return &Validator{schemas: schemas, logger: logger.Named("OutputValidator")}, nil
}

// Validate parses raw, repairs near-miss enum values, checks the stage schema
// and semantic rules, and converts the output into a patch. Rejections are
// returned as *models.ValidationError.
func (v *Validator) Validate(kind models.StageKind, raw string) (models.Patch, error) {
	schema, ok := v.schemas[kind]
	if !ok {
		return models.Patch{}, invalid(kind, fmt.Sprintf("no contract for stage %q", kind))
	}

	cleaned := stripCodeFences(raw)
	if cleaned == "" {
		return models.Patch{}, invalid(kind, "output is empty")
	}
	var doc map[string]interface{}
	if err := json.Unmarshal([]byte(cleaned), &doc); err != nil {
		closed, ok := closeTruncated(cleaned)
		if !ok || json.Unmarshal([]byte(closed), &doc) != nil {
			return models.Patch{}, invalid(kind, fmt.Sprintf("output is not a JSON object: %v", err))
		}
		v.logger.Debug("Closed truncated output", zap.String("stage", string(kind)),
			zap.Int("originalLength", len(cleaned)), zap.Int("fixedLength", len(closed)))
	}
	if doc == nil {
		return models.Patch{}, invalid(kind, "output is not a JSON object")
	}

	if repairs := repairEnums(kind, doc); len(repairs) > 0 {
		v.logger.Debug("Repaired enum values", zap.String("stage", string(kind)), zap.Strings("repairs", repairs))
	}

	if err := schema.Validate(doc); err != nil {
		return models.Patch{}, &models.ValidationError{Stage: kind, Problems: schemaProblems(err)}
	}

	normalized, err := json.Marshal(doc)
	if err != nil {
		return models.Patch{}, invalid(kind, fmt.Sprintf("re-encode output: %v", err))
	}
	return convert(kind, normalized)
}

func convert(kind models.StageKind, data []byte) (models.Patch, error) {
	patch := models.Patch{Stage: kind}
	var problems []string

	switch kind {
	case models.StageInterpreter:
		var out interpreterOutput
		if err := decodeStrict(data, &out); err != nil {
			return patch, invalid(kind, err.Error())
		}
		out.Direction = strings.ToLower(strings.TrimSpace(out.Direction))
		if out.Action == models.ActionMove && out.Direction == "" {
			problems = append(problems, "move requires a direction")
		}
		if out.Action == models.ActionFastForward && out.Ticks == 0 {
			out.Ticks = 1
		}
		patch.Intent = &models.Intent{
			Action:    out.Action,
			Direction: out.Direction,
			Target:    strings.TrimSpace(out.Target),
			Ticks:     out.Ticks,
			Summary:   strings.TrimSpace(out.Summary),
		}

	case models.StageArchitect:
		var out architectOutput
		if err := decodeStrict(data, &out); err != nil {
			return patch, invalid(kind, err.Error())
		}
		seen := make(map[string]bool)
		for i, r := range out.Regions {
			id := r.ID
			if id == "" {
				id = world.Slug(r.Name)
			}
			if id == "" {
				problems = append(problems, fmt.Sprintf("regions[%d]: cannot derive an id from name %q", i, r.Name))
				continue
			}
			if seen[id] {
				problems = append(problems, fmt.Sprintf("regions[%d]: duplicate region id %q", i, id))
				continue
			}
			seen[id] = true
			exits := make(map[string]string, len(r.Exits))
			for dir, to := range r.Exits {
				exits[strings.ToLower(strings.TrimSpace(dir))] = to
			}
			patch.Ops = append(patch.Ops, models.UpsertRegion(models.Region{
				ID:          id,
				Name:        r.Name,
				Description: r.Description,
				Biome:       r.Biome,
				Exits:       exits,
				Tags:        r.Tags,
			}))
		}
		for _, l := range out.Links {
			l.Direction = strings.ToLower(strings.TrimSpace(l.Direction))
			patch.Ops = append(patch.Ops, models.LinkRegions(l))
		}
		for i, c := range out.Characters {
			id := c.ID
			if id == "" {
				id = world.Slug(c.Name)
			}
			switch {
			case id == "":
				problems = append(problems, fmt.Sprintf("characters[%d]: cannot derive an id from name %q", i, c.Name))
				continue
			case strings.HasPrefix(id, models.PlayerCharacterID("")):
				problems = append(problems, fmt.Sprintf("characters[%d]: player characters cannot be created here", i))
				continue
			}
			patch.Ops = append(patch.Ops, models.UpsertCharacter(models.Character{
				ID:       id,
				Name:     c.Name,
				Role:     models.RoleNPC,
				Mood:     c.Mood,
				Location: c.Location,
				Loyalty:  c.Loyalty,
				Traits:   c.Traits,
			}))
		}

	case models.StageEventEngine:
		var out eventEngineOutput
		if err := decodeStrict(data, &out); err != nil {
			return patch, invalid(kind, err.Error())
		}
		patch.Events = out.Events
		for _, name := range models.MetricNames {
			if d := out.MetricsDelta[name]; d != 0 {
				patch.Ops = append(patch.Ops, models.AdjustMetric(name, d))
			}
		}
		patch.PlayerStatsDelta = statsDelta(out.PlayerStatsDelta)

	case models.StageQuestMaster:
		var out questMasterOutput
		if err := decodeStrict(data, &out); err != nil {
			return patch, invalid(kind, err.Error())
		}
		seen := make(map[string]bool)
		for i, q := range out.Quests {
			if q.ProgressDelta < 0 && q.Status != models.QuestFailed {
				problems = append(problems, fmt.Sprintf("quests[%d]: progressDelta %d is negative but status is %q, not failed", i, q.ProgressDelta, q.Status))
			}
			if seen[q.QuestID] {
				problems = append(problems, fmt.Sprintf("quests[%d]: duplicate questId %q", i, q.QuestID))
			}
			seen[q.QuestID] = true
			patch.Ops = append(patch.Ops, models.AdjustQuest(q))
		}
		patch.Notifications = out.Notifications
		patch.PlayerStatsDelta = statsDelta(out.PlayerStatsDelta)

	case models.StageDialogueWeaver:
		var out dialogueWeaverOutput
		if err := decodeStrict(data, &out); err != nil {
			return patch, invalid(kind, err.Error())
		}
		for i, line := range out.Lines {
			line.Speech = strings.TrimSpace(line.Speech)
			if line.Speech == "" {
				problems = append(problems, fmt.Sprintf("lines[%d]: speech is blank", i))
				continue
			}
			patch.Dialogue = append(patch.Dialogue, line)
			patch.Ops = append(patch.Ops, models.Remember(line.CharacterID, fmt.Sprintf("Said: %s", line.Speech)))
		}
		for _, m := range out.Moods {
			patch.Ops = append(patch.Ops, models.SetMood(m.CharacterID, m.Mood))
		}
		for i, l := range out.LoyaltyDeltas {
			if strings.HasPrefix(l.CharacterID, models.PlayerCharacterID("")) {
				problems = append(problems, fmt.Sprintf("loyaltyDeltas[%d]: players have no loyalty", i))
				continue
			}
			if l.Delta != 0 {
				patch.Ops = append(patch.Ops, models.AdjustLoyalty(l.CharacterID, l.Delta))
			}
		}
		patch.PlayerStatsDelta = statsDelta(out.PlayerStatsDelta)

	case models.StageNarrator:
		var out narratorOutput
		if err := decodeStrict(data, &out); err != nil {
			return patch, invalid(kind, err.Error())
		}
		patch.Narration = strings.TrimSpace(out.Narration)
		if patch.Narration == "" {
			problems = append(problems, "narration is blank")
		}
		patch.SuggestedActions = out.SuggestedActions

	default:
		problems = append(problems, fmt.Sprintf("unknown stage %q", kind))
	}

	if len(problems) > 0 {
		return models.Patch{}, &models.ValidationError{Stage: kind, Problems: problems}
	}
	return patch, nil
}

// statsDelta drops zero entries; nil when nothing changes.
func statsDelta(in map[models.PlayerStat]int) map[models.PlayerStat]int {
	var out map[models.PlayerStat]int
	for _, stat := range models.PlayerStats {
		if d := in[stat]; d != 0 {
			if out == nil {
				out = make(map[models.PlayerStat]int)
			}
			out[stat] = d
		}
	}
	return out
}

// decodeStrict decodes data into out, rejecting unknown fields.
func decodeStrict(data []byte, out interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(out)
}

func invalid(kind models.StageKind, problem string) error {
	return &models.ValidationError{Stage: kind, Problems: []string{problem}}
}
