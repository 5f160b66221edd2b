package handler

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/cuongbtq/briefcast/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobCursor_RoundTrip(t *testing.T) {
	in := &store.JobCursor{
		CreatedAt: time.Date(2026, 3, 14, 6, 0, 0, 123456789, time.UTC),
		JobID:     "9b2d6c1a-1f4e-4c55-9a0b-7e3f2d1c0b01",
	}

	out, err := DecodeJobCursor(EncodeJobCursor(in))
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestDecodeJobCursor_Empty(t *testing.T) {
	cursor, err := DecodeJobCursor("")
	require.NoError(t, err)
	assert.Nil(t, cursor)
}

func TestDecodeJobCursor_Invalid(t *testing.T) {
	encode := func(s string) string { return base64.URLEncoding.EncodeToString([]byte(s)) }

	for name, cursor := range map[string]string{
		"not base64":   "!!!",
		"no separator": encode("1700000000"),
		"bad nanos":    encode("yesterday|9b2d6c1a-1f4e-4c55-9a0b-7e3f2d1c0b01"),
		"bad job id":   encode("1700000000|job-1"),
	} {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeJobCursor(cursor)
			assert.Error(t, err)
		})
	}
}
