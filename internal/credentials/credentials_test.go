package credentials

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"

	"github.com/mochivi/dataset-curator/internal/apperr"
)

func TestHolder(t *testing.T) {
	var h Holder

	_, err := h.Token()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTokenUnset)
	assert.Equal(t, codes.FailedPrecondition, apperr.From(err).Code)

	assert.ErrorIs(t, h.Set(""), ErrEmptyToken)
	require.NoError(t, h.Set("hf_token"))

	token, err := h.Token()
	require.NoError(t, err)
	assert.Equal(t, "hf_token", token)

	// never rotated at runtime
	assert.ErrorIs(t, h.Set("other"), ErrTokenAlreadySet)
	token, _ = h.Token()
	assert.Equal(t, "hf_token", token)
}
