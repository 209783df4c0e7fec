package image

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHasher_Hash(t *testing.T) {
	testCases := []struct {
		algorithm string
		empty     string // digest of no bytes, where a reference value is well known
		length    int
	}{
		{algorithm: "sha1", empty: "2jmj7l5rSw0yVb_vlWAYkK_YBwk", length: 27},
		{algorithm: "sha256", empty: "47DEQpj8HBSa-_TImW-5JCeuQeRkm5NMpJWZG3hSuFU", length: 43},
		{algorithm: "blake3", length: 43},
	}

	for _, tc := range testCases {
		t.Run(tc.algorithm, func(t *testing.T) {
			h, err := NewHasher(tc.algorithm)
			require.NoError(t, err)

			if tc.empty != "" {
				assert.Equal(t, tc.empty, h.Hash(nil))
			}

			data := makePNG(t, 4, 4, 9)
			first := h.Hash(data)
			assert.Equal(t, first, h.Hash(data))
			assert.Len(t, first, tc.length)
			assert.False(t, strings.ContainsAny(first, "+/="), "address must be URL safe")
			assert.NotEqual(t, first, h.Hash(append(data, 0)))
		})
	}

	_, err := NewHasher("md5")
	assert.ErrorIs(t, err, ErrUnknownAlgorithm)
}

func TestFileName(t *testing.T) {
	assert.Equal(t, "abc.png", FileName("abc", "png"))
}
