package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDialogue(t *testing.T) {
	script := `
HOST_A: Good morning, here is your briefing.
HOST_B: Two bills moved in committee overnight.
The first one concerns water rights.
HOST_A:
HOST_A: Let's dig in.
`
	turns, err := ParseDialogue(script)
	require.NoError(t, err)
	assert.Equal(t, []Turn{
		{Speaker: "HOST_A", Text: "Good morning, here is your briefing."},
		{Speaker: "HOST_B", Text: "Two bills moved in committee overnight. The first one concerns water rights."},
		{Speaker: "HOST_A", Text: "Let's dig in."},
	}, turns)
	assert.Equal(t, []string{"HOST_A", "HOST_B"}, Speakers(turns))
}

func TestParseDialogue_UntaggedPrefix(t *testing.T) {
	turns, err := ParseDialogue("Welcome to the show.\nHOST_A: Thanks.")
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, DefaultSpeaker, turns[0].Speaker)
}

func TestParseDialogue_Empty(t *testing.T) {
	_, err := ParseDialogue("  \nHOST_A:  \n")
	assert.ErrorIs(t, err, ErrEmptyDialogue)
}
