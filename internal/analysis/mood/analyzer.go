// Package mood scores client messages with a keyword heuristic so monitoring
// can surface conversations that are going badly.
package mood

import "strings"

// Label is the detected client mood.
type Label string

const (
	Neutral    Label = "neutral"
	Satisfied  Label = "satisfied"
	Frustrated Label = "frustrated"
	Angry      Label = "angry"
)

// Decision is the result of scoring one message.
type Decision struct {
	Mood  Label
	Score int
}

// NeedsAttention reports whether a supervisor should look at the chat.
func (l Label) NeedsAttention() bool {
	return l == Frustrated || l == Angry
}

var keywordBuckets = map[Label][]string{
	Satisfied: {
		"спасибо", "благодарю", "отлично", "супер", "помогли", "работает", "здорово", "понятно",
		"thanks", "thank you", "great", "perfect", "works now", "awesome", "solved",
	},
	Frustrated: {
		"не работает", "опять", "снова", "сколько можно", "долго", "не понимаю", "не помогло", "жду",
		"still", "again", "not working", "doesn't work", "waiting", "confused", "didn't help", "useless",
	},
	Angry: {
		"ужас", "безобразие", "возмутительно", "жалоб", "верните деньги", "кошмар", "отвратительно", "позор",
		"terrible", "awful", "ridiculous", "refund", "complaint", "unacceptable", "worst", "scam",
	},
}

// Analyze scores a single client message.
func Analyze(text string) Decision {
	normalized := strings.TrimSpace(strings.ToLower(text))
	if normalized == "" {
		return Decision{Mood: Neutral}
	}

	scores := make(map[Label]int, len(keywordBuckets))
	for label, keywords := range keywordBuckets {
		for _, word := range keywords {
			if strings.Contains(normalized, word) {
				scores[label] += 3
			}
		}
	}

	// Repeated exclamation and question marks read as irritation, but only
	// amplify a negative signal that is already there.
	if marks := strings.Count(text, "!") + strings.Count(text, "?"); marks >= 3 {
		if scores[Angry] > 0 {
			scores[Angry] += marks
		} else if scores[Frustrated] > 0 {
			scores[Frustrated] += marks
		}
	}
	if isShouting(text) {
		scores[Angry] += 2
	}

	best, bestScore := Neutral, 0
	for _, label := range []Label{Angry, Frustrated, Satisfied} {
		if s := scores[label]; s > bestScore {
			best, bestScore = label, s
		}
	}
	return Decision{Mood: best, Score: bestScore}
}

// isShouting detects messages written mostly in capitals.
func isShouting(text string) bool {
	letters, upper := 0, 0
	for _, r := range text {
		lower := strings.ToLower(string(r))
		up := strings.ToUpper(string(r))
		if lower == up {
			continue
		}
		letters++
		if string(r) == up {
			upper++
		}
	}
	return letters >= 8 && upper*10 >= letters*8
}
