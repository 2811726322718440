package models

import "time"

// OpKind is the type of a single patch operation.
type OpKind string

const (
	OpUpsertRegion     OpKind = "upsert_region"
	OpLinkRegions      OpKind = "link_regions"
	OpUpsertCharacter  OpKind = "upsert_character"
	OpMoveCharacter    OpKind = "move_character"
	OpSetMood          OpKind = "set_mood"
	OpRemember         OpKind = "remember"
	OpUpsertQuest      OpKind = "upsert_quest"
	OpAdjustQuest      OpKind = "adjust_quest"
	OpAdjustMetric     OpKind = "adjust_metric"
	OpAdjustLoyalty    OpKind = "adjust_loyalty"
	OpAdjustPlayerStat OpKind = "adjust_player_stat"
	OpAdvanceTick      OpKind = "advance_tick"
	OpAppendTurnRecord OpKind = "append_turn_record"
)

// ExitLink adds or replaces one exit of an existing region.
type ExitLink struct {
	From      string `json:"from"`
	Direction string `json:"direction"`
	To        string `json:"to"`
}

// CharacterMove relocates a character.
type CharacterMove struct {
	CharacterID string `json:"characterId"`
	To          string `json:"to"`
}

// MoodChange sets the mood of a character.
type MoodChange struct {
	CharacterID string `json:"characterId"`
	Mood        Mood   `json:"mood"`
}

// MemoryEntry appends one event to a character's memory ring.
type MemoryEntry struct {
	CharacterID string `json:"characterId"`
	Text        string `json:"text"`
}

// QuestUpsert replaces a quest. Reset allows progress to go down.
type QuestUpsert struct {
	Quest Quest `json:"quest"`
	Reset bool  `json:"reset,omitempty"`
}

// QuestAdjustment changes the status and progress of a quest, creating it if absent.
type QuestAdjustment struct {
	QuestID           string      `json:"questId"`
	Status            QuestStatus `json:"status"`
	ProgressDelta     int         `json:"progressDelta"`
	Title             string      `json:"title,omitempty"`
	Description       string      `json:"description,omitempty"`
	RelatedRegions    []string    `json:"relatedRegions,omitempty"`
	RelatedCharacters []string    `json:"relatedCharacters,omitempty"`
}

// MetricAdjustment shifts a metric by Delta; the result is clamped.
type MetricAdjustment struct {
	Metric MetricName `json:"metric"`
	Delta  float64    `json:"delta"`
}

// LoyaltyAdjustment shifts an NPC's loyalty; the result is clamped to [0,100].
type LoyaltyAdjustment struct {
	CharacterID string `json:"characterId"`
	Delta       int    `json:"delta"`
}

// StatAdjustment shifts a player stat; the result is clamped to [StatMin,StatMax].
type StatAdjustment struct {
	CharacterID string     `json:"characterId"`
	Stat        PlayerStat `json:"stat"`
	Delta       int        `json:"delta"`
}

// TickAdvance moves the world clock forward.
type TickAdvance struct {
	Ticks int `json:"ticks"`
}

// Op is one typed mutation. Exactly one payload field matching Kind is set.
type Op struct {
	Kind       OpKind             `json:"kind"`
	Region     *Region            `json:"region,omitempty"`
	Link       *ExitLink          `json:"link,omitempty"`
	Character  *Character         `json:"character,omitempty"`
	Move       *CharacterMove     `json:"move,omitempty"`
	Mood       *MoodChange        `json:"mood,omitempty"`
	Memory     *MemoryEntry       `json:"memory,omitempty"`
	Quest      *QuestUpsert       `json:"quest,omitempty"`
	QuestDelta *QuestAdjustment   `json:"questDelta,omitempty"`
	Metric     *MetricAdjustment  `json:"metric,omitempty"`
	Loyalty    *LoyaltyAdjustment `json:"loyalty,omitempty"`
	Stat       *StatAdjustment    `json:"stat,omitempty"`
	Tick       *TickAdvance       `json:"tick,omitempty"`
	Record     *TurnRecord        `json:"record,omitempty"`
}

// Op constructors.

func UpsertRegion(r Region) Op {
	return Op{Kind: OpUpsertRegion, Region: &r}
}

func LinkRegions(l ExitLink) Op {
	return Op{Kind: OpLinkRegions, Link: &l}
}

func UpsertCharacter(c Character) Op {
	return Op{Kind: OpUpsertCharacter, Character: &c}
}

func MoveCharacter(id, to string) Op {
	return Op{Kind: OpMoveCharacter, Move: &CharacterMove{CharacterID: id, To: to}}
}

func SetMood(id string, m Mood) Op {
	return Op{Kind: OpSetMood, Mood: &MoodChange{CharacterID: id, Mood: m}}
}

func Remember(id, text string) Op {
	return Op{Kind: OpRemember, Memory: &MemoryEntry{CharacterID: id, Text: text}}
}

func UpsertQuest(q Quest, reset bool) Op {
	return Op{Kind: OpUpsertQuest, Quest: &QuestUpsert{Quest: q, Reset: reset}}
}

func AdjustQuest(a QuestAdjustment) Op {
	return Op{Kind: OpAdjustQuest, QuestDelta: &a}
}

func AdjustMetric(name MetricName, delta float64) Op {
	return Op{Kind: OpAdjustMetric, Metric: &MetricAdjustment{Metric: name, Delta: delta}}
}

func AdjustLoyalty(id string, delta int) Op {
	return Op{Kind: OpAdjustLoyalty, Loyalty: &LoyaltyAdjustment{CharacterID: id, Delta: delta}}
}

func AdjustPlayerStat(id string, stat PlayerStat, delta int) Op {
	return Op{Kind: OpAdjustPlayerStat, Stat: &StatAdjustment{CharacterID: id, Stat: stat, Delta: delta}}
}

func AdvanceTick(ticks int) Op {
	return Op{Kind: OpAdvanceTick, Tick: &TickAdvance{Ticks: ticks}}
}

func AppendTurnRecord(r TurnRecord) Op {
	return Op{Kind: OpAppendTurnRecord, Record: &r}
}

// Patch is the structured output of one stage: world mutations plus the
// non-mutating annotations later stages and the turn record consume.
type Patch struct {
	Stage            StageKind      `json:"stage"`
	Ops              []Op           `json:"ops,omitempty"`
	Intent           *Intent        `json:"intent,omitempty"`
	Events           []Event        `json:"events,omitempty"`
	Dialogue         []DialogueLine `json:"dialogue,omitempty"`
	Notifications    []string       `json:"notifications,omitempty"`
	Narration        string         `json:"narration,omitempty"`
	SuggestedActions []string       `json:"suggestedActions,omitempty"`
	// PlayerStatsDelta applies to the acting player; the orchestrator turns it into ops.
	PlayerStatsDelta map[PlayerStat]int `json:"playerStatsDelta,omitempty"`
}

// IsEmpty reports whether the patch mutates nothing.
func (p Patch) IsEmpty() bool {
	return len(p.Ops) == 0
}

// AppliedPatch is a patch as it was folded into the world during a turn.
type AppliedPatch struct {
	Stage    StageKind     `json:"stage"`
	Ops      []Op          `json:"ops,omitempty"`
	Attempts int           `json:"attempts"`
	Degraded bool          `json:"degraded,omitempty"`
	Clamps   []ClampRecord `json:"clamps,omitempty"`
}

// TurnRecord is the immutable log entry of a committed turn.
type TurnRecord struct {
	ID             string         `json:"id"`
	Number         int64          `json:"number"`
	Tick           int64          `json:"tick"`
	UserID         string         `json:"userId"`
	Message        string         `json:"message"`
	Patches        []AppliedPatch `json:"patches"`
	DegradedStages []StageKind    `json:"degradedStages,omitempty"`
	Events         []Event        `json:"events,omitempty"`
	Narration      string         `json:"narration"`
	CreatedAt      time.Time      `json:"createdAt"`
}
