package domain

import (
	"errors"
	"regexp"
	"strings"
)

// DefaultSpeaker voices untagged text at the start of a script
const DefaultSpeaker = "NARRATOR"

// ErrEmptyDialogue is returned when a script has no speakable text
var ErrEmptyDialogue = errors.New("script has no dialogue turns")

var speakerLine = regexp.MustCompile(`^([A-Z][A-Z0-9_]{0,31}):\s*(.*)$`)

// Turn is one speaker-tagged line of dialogue
type Turn struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
}

// ParseDialogue splits a script written as "SPEAKER: text" lines into turns.
// Untagged lines continue the previous turn.
func ParseDialogue(script string) ([]Turn, error) {
	var turns []Turn
	for _, raw := range strings.Split(script, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}

		if m := speakerLine.FindStringSubmatch(line); m != nil {
			turns = append(turns, Turn{Speaker: m[1], Text: strings.TrimSpace(m[2])})
			continue
		}

		if len(turns) == 0 {
			turns = append(turns, Turn{Speaker: DefaultSpeaker})
		}
		last := &turns[len(turns)-1]
		last.Text = strings.TrimSpace(last.Text + " " + line)
	}

	out := turns[:0]
	for _, turn := range turns {
		if turn.Text != "" {
			out = append(out, turn)
		}
	}
	if len(out) == 0 {
		return nil, ErrEmptyDialogue
	}
	return out, nil
}

// Speakers returns the distinct speakers in order of first appearance
func Speakers(turns []Turn) []string {
	seen := make(map[string]bool, 2)
	var out []string
	for _, turn := range turns {
		if !seen[turn.Speaker] {
			seen[turn.Speaker] = true
			out = append(out, turn.Speaker)
		}
	}
	return out
}
