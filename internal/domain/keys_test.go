package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const keyJobID = "6f1c2d1e-8a43-4d6b-9b0e-2f5c7a9d1e10"

func TestAudioKey(t *testing.T) {
	day := time.Date(2026, 3, 14, 23, 30, 0, 0, time.UTC)
	assert.Equal(t, "audio/subject-1/2026-03-14/"+keyJobID+".mp3", AudioKey("subject-1", day, keyJobID, "mp3"))
}

func TestImageKey(t *testing.T) {
	day := time.Date(2026, 3, 4, 8, 0, 0, 0, time.UTC)
	assert.Equal(t, "images/2026/03/04/"+keyJobID+".png", ImageKey(day, keyJobID, "png"))
}

func TestJobIDFromKey(t *testing.T) {
	tests := []struct {
		key     string
		wantErr bool
	}{
		{key: "audio/subject-1/2026-03-14/" + keyJobID + ".mp3"},
		{key: "images/2026/03/04/" + keyJobID + ".png"},
		{key: "other/" + keyJobID + ".png", wantErr: true},
		{key: "audio/subject-1/2026-03-14/not-a-job.mp3", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			id, err := JobIDFromKey(tt.key)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, keyJobID, id)
		})
	}
}

func TestExtensionFor(t *testing.T) {
	assert.Equal(t, "mp3", ExtensionFor("audio/mpeg", "bin"))
	assert.Equal(t, "png", ExtensionFor("image/png; charset=binary", "bin"))
	assert.Equal(t, "bin", ExtensionFor("application/octet-stream", "bin"))
	assert.Equal(t, "bin", ExtensionFor("", "bin"))
}
