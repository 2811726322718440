package stage

import "dreamweaver-server/internal/models"

const promptPreamble = `You are one stage of a turn engine driving a persistent shared fantasy world.
Answer with a single JSON object and nothing else. Use only ids that exist in the
world context or that you create in the same answer.
`

var systemPrompts = map[models.StageKind]string{
	models.StageInterpreter: promptPreamble + `Stage: INTERPRETER. Classify the player's message.
Output: {"action": one of move|talk|explore|wait|fast_forward|world_edit|show_quests,
"direction": exit direction when moving, "target": character id or subject,
"ticks": 0-10 for fast_forward, "summary": short restatement}.`,

	models.StageArchitect: promptPreamble + `Stage: ARCHITECT. Grow or adjust the world map when the intent calls for it.
Output: {"regions": [{"id","name","description","biome","exits":{direction:regionId},"tags":[]}],
"links": [{"from": existing region id, "direction", "to": region id}],
"characters": [{"id","name","mood","location","loyalty": 0-100,"traits":[]}]}. Empty arrays when nothing changes.`,

	models.StageEventEngine: promptPreamble + `Stage: EVENT ENGINE. Simulate what happens in the world this turn.
Output: {"events": [{"title","description","regionId"}],
"metricsDelta": {"chaos","magic","tension","health"} each between -100 and 100,
"playerStatsDelta": {"courage","empathy","cunning"} optional integers for the acting player}.`,

	models.StageQuestMaster: promptPreamble + `Stage: QUEST MASTER. Propose or advance quests consistent with the events so far.
Output: {"quests": [{"questId","status": proposed|active|updated|completed|failed,
"progressDelta": -100..100 (negative only with status failed),"title","description",
"relatedRegions":[],"relatedCharacters":[]}], "notifications": [short strings],
"playerStatsDelta": optional {"courage","empathy","cunning"} integers}.`,

	models.StageDialogueWeaver: promptPreamble + `Stage: DIALOGUE WEAVER. Voice the characters present with the player.
Output: {"lines": [{"characterId","speech"}],
"moods": [{"characterId","mood": calm|hostile|curious|fearful|friendly|sad|angry|neutral}],
"loyaltyDeltas": [{"characterId": npc id,"delta": -100..100}],
"playerStatsDelta": optional {"courage","empathy","cunning"} integers}.
Loyalty and stats are 0-100; keep changes small.`,

	models.StageNarrator: promptPreamble + `Stage: NARRATOR. Tell the player what happened this turn in second person.
Output: {"narration": non-empty text, "suggestedActions": up to 6 short strings}.`,
}

// SystemPrompt returns the system prompt of a stage.
func SystemPrompt(kind models.StageKind) string {
	return systemPrompts[kind]
}
