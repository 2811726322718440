package models

// StageKind names a generative pipeline step.
type StageKind string

const (
	StageInterpreter    StageKind = "interpreter"
	StageArchitect      StageKind = "architect"
	StageEventEngine    StageKind = "event_engine"
	StageQuestMaster    StageKind = "quest_master"
	StageDialogueWeaver StageKind = "dialogue_weaver"
	StageNarrator       StageKind = "narrator"

	// StageSession marks patches produced by the orchestrator itself
	// (player join, turn record append). It is never sent to an adapter.
	StageSession StageKind = "session"
)

// StageOrder is the fixed execution order of a turn.
var StageOrder = []StageKind{
	StageInterpreter,
	StageArchitect,
	StageEventEngine,
	StageQuestMaster,
	StageDialogueWeaver,
	StageNarrator,
}

// IsGenerative reports whether k is one of the adapter-backed stages.
func (k StageKind) IsGenerative() bool {
	for _, s := range StageOrder {
		if s == k {
			return true
		}
	}
	return false
}

// Action is the interpreted kind of a player's message.
type Action string

const (
	ActionMove        Action = "move"
	ActionTalk        Action = "talk"
	ActionExplore     Action = "explore"
	ActionWait        Action = "wait"
	ActionFastForward Action = "fast_forward"
	ActionWorldEdit   Action = "world_edit"
	ActionShowQuests  Action = "show_quests"
)

// Actions lists every known action.
var Actions = []Action{ActionMove, ActionTalk, ActionExplore, ActionWait, ActionFastForward, ActionWorldEdit, ActionShowQuests}

// Intent is the Interpreter's reading of the player's message.
type Intent struct {
	Action    Action `json:"action"`
	Direction string `json:"direction,omitempty"`
	Target    string `json:"target,omitempty"`
	Ticks     int    `json:"ticks,omitempty"`
	Summary   string `json:"summary,omitempty"`
}

// Event is something that happened in the world during a turn.
type Event struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	RegionID    string `json:"regionId,omitempty"`
}

// DialogueLine is one spoken line of an NPC.
type DialogueLine struct {
	CharacterID string `json:"characterId"`
	Speech      string `json:"speech"`
}
