package audio

import (
	"fmt"
	"math"
)

// DefaultVoiceKey names the voice used for speakers without their own entry
const DefaultVoiceKey = "default"

// AssignVoices maps every speaker to a configured voice
func AssignVoices(speakers []string, configured map[string]string) (map[string]string, error) {
	voices := make(map[string]string, len(speakers))
	for _, speaker := range speakers {
		voice, ok := configured[speaker]
		if !ok || voice == "" {
			voice = configured[DefaultVoiceKey]
		}
		if voice == "" {
			return nil, fmt.Errorf("no voice configured for speaker %s", speaker)
		}
		voices[speaker] = voice
	}
	return voices, nil
}

// EstimateDuration returns the playback length in whole seconds of a constant
// bitrate stream of size bytes. It is never less than one second.
func EstimateDuration(size int, bitrateKbps int) int {
	if bitrateKbps <= 0 {
		bitrateKbps = 128
	}
	seconds := math.Ceil(float64(size) * 8 / float64(bitrateKbps*1000))
	return max(1, int(seconds))
}
