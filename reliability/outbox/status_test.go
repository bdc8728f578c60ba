//go:build unit

package outbox

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStatus(t *testing.T) {
	status, err := ParseStatus("pending")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, status)

	_, err = ParseStatus("FAILED")
	require.ErrorIs(t, err, ErrStatusInvalid)
}

func TestValidateTransition(t *testing.T) {
	allowed := [][2]string{
		{"pending", "processing"},
		{"processing", "published"},
		{"processing", "pending"},
		{"processing", "processing"},
	}

	for _, pair := range allowed {
		assert.NoError(t, ValidateTransition(pair[0], pair[1]), "%s -> %s", pair[0], pair[1])
	}

	denied := [][2]string{
		{"pending", "published"},
		{"published", "pending"},
		{"published", "processing"},
	}

	for _, pair := range denied {
		assert.ErrorIs(t, ValidateTransition(pair[0], pair[1]), ErrTransitionInvalid, "%s -> %s", pair[0], pair[1])
	}

	assert.ErrorIs(t, ValidateTransition("bogus", "pending"), ErrStatusInvalid)
}
