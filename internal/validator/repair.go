package validator

import (
	"fmt"
	"strings"

	"dreamweaver-server/internal/models"

	"github.com/agnivade/levenshtein"
)

// stripCodeFences removes a Markdown code fence and any prose around the
// outermost JSON object.
func stripCodeFences(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		if i := strings.IndexByte(s, '\n'); i >= 0 {
			s = s[i+1:]
		} else {
			s = strings.TrimPrefix(s, "json")
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
		s = strings.TrimSpace(s)
	}
	if !strings.HasPrefix(s, "{") {
		start, end := strings.IndexByte(s, '{'), strings.LastIndexByte(s, '}')
		if start >= 0 && end > start {
			s = s[start : end+1]
		}
	}
	return s
}

// closeTruncated appends the closers missing from a JSON document that was
// cut off mid-stream, such as output that hit the token limit. It reports
// whether anything was added.
func closeTruncated(s string) (string, bool) {
	var stack []byte
	inString, escaped := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) == 0 || stack[len(stack)-1] != c {
				return s, false
			}
			stack = stack[:len(stack)-1]
		}
	}
	if len(stack) == 0 && !inString {
		return s, false
	}
	var b strings.Builder
	b.WriteString(s)
	if inString {
		if escaped {
			b.WriteByte('\\')
		}
		b.WriteByte('"')
	}
	for i := len(stack) - 1; i >= 0; i-- {
		b.WriteByte(stack[i])
	}
	return b.String(), true
}

var (
	actionValues = enumStrings(models.Actions)
	moodValues   = enumStrings(models.Moods)
	statusValues = enumStrings(models.QuestStatuses)
)

func enumStrings[T ~string](in []T) []string {
	out := make([]string, len(in))
	for i, v := range in {
		out[i] = string(v)
	}
	return out
}

// repairEnums rewrites near-miss enumeration values in doc in place and
// returns a description of each rewrite.
func repairEnums(kind models.StageKind, doc map[string]interface{}) []string {
	var repairs []string
	fix := func(obj map[string]interface{}, field, path string, allowed []string) {
		v, ok := obj[field].(string)
		if !ok {
			return
		}
		fixed, ok := nearestEnum(v, allowed)
		if ok && fixed != v {
			obj[field] = fixed
			repairs = append(repairs, fmt.Sprintf("%s: %q -> %q", path, v, fixed))
		}
	}
	each := func(list, field string, allowed []string) {
		items, _ := doc[list].([]interface{})
		for i, item := range items {
			if obj, ok := item.(map[string]interface{}); ok {
				fix(obj, field, fmt.Sprintf("/%s/%d/%s", list, i, field), allowed)
			}
		}
	}

	switch kind {
	case models.StageInterpreter:
		fix(doc, "action", "/action", actionValues)
	case models.StageArchitect:
		each("characters", "mood", moodValues)
	case models.StageQuestMaster:
		each("quests", "status", statusValues)
	case models.StageDialogueWeaver:
		each("moods", "mood", moodValues)
	}
	return repairs
}

// nearestEnum maps value onto the single closest allowed value within the
// edit distance limit. Ties are not repaired, and neither is a value that is
// an allowed one behind a leading prefix: "unfriendly" is not "friendly".
func nearestEnum(value string, allowed []string) (string, bool) {
	v := strings.ToLower(strings.TrimSpace(value))
	v = strings.NewReplacer(" ", "_", "-", "_").Replace(v)
	for _, a := range allowed {
		if v == a {
			return a, true
		}
	}
	for _, a := range allowed {
		if strings.HasSuffix(v, a) {
			return "", false
		}
	}
	best, bestDist, tie := "", -1, false
	for _, a := range allowed {
		d := levenshtein.ComputeDistance(v, a)
		if d > levenshteinLimit(len(a)) {
			continue
		}
		switch {
		case bestDist < 0 || d < bestDist:
			best, bestDist, tie = a, d, false
		case d == bestDist:
			tie = true
		}
	}
	if best == "" || tie {
		return "", false
	}
	return best, true
}

func levenshteinLimit(length int) int {
	switch {
	case length <= 4:
		return 1
	case length <= 8:
		return 2
	default:
		return 3
	}
}
