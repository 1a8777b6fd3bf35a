package handler

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mvoss/jobgate/internal/status"
)

func TestJobCursor_RoundTrip(t *testing.T) {
	createdAt := time.Date(2026, 3, 14, 9, 26, 53, 589793238, time.UTC)
	cursor := &status.Cursor{
		CreatedAt: createdAt,
		JobID:     "8b7a6c5d-1234-5678-9abc-def012345678",
	}

	encoded, err := EncodeJobCursor(cursor)
	require.NoError(t, err)

	decoded, err := DecodeJobCursor(encoded)
	require.NoError(t, err)
	require.NotNil(t, decoded)

	assert.True(t, decoded.CreatedAt.Equal(createdAt))
	assert.Equal(t, cursor.JobID, decoded.JobID)
}

func TestDecodeJobCursor(t *testing.T) {
	t.Run("empty cursor", func(t *testing.T) {
		cursor, err := DecodeJobCursor("")
		require.NoError(t, err)
		assert.Nil(t, cursor)
	})

	t.Run("invalid base64", func(t *testing.T) {
		_, err := DecodeJobCursor("not-base64!!!")
		require.Error(t, err)
	})

	t.Run("missing separator", func(t *testing.T) {
		encoded := base64.StdEncoding.EncodeToString([]byte("justonetoken"))
		_, err := DecodeJobCursor(encoded)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid cursor format")
	})

	t.Run("non-numeric timestamp", func(t *testing.T) {
		encoded := base64.StdEncoding.EncodeToString([]byte("yesterday|job-1"))
		_, err := DecodeJobCursor(encoded)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid createdAt")
	})
}
