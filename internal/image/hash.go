package image

import (
	"crypto/sha1"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"hash"

	"github.com/zeebo/blake3"
)

type Algorithm string

const (
	AlgorithmSHA1   Algorithm = "sha1"
	AlgorithmSHA256 Algorithm = "sha256"
	AlgorithmBLAKE3 Algorithm = "blake3"
)

// Hasher derives the content address of normalized image bytes.
// Every writer of a store must use the same algorithm, addresses are not comparable across algorithms.
type Hasher struct {
	algorithm Algorithm
	newHash   func() hash.Hash
}

func NewHasher(algorithm string) (*Hasher, error) {
	h := &Hasher{algorithm: Algorithm(algorithm)}
	switch h.algorithm {
	case AlgorithmSHA1:
		h.newHash = sha1.New
	case AlgorithmSHA256:
		h.newHash = sha256.New
	case AlgorithmBLAKE3:
		h.newHash = func() hash.Hash { return blake3.New() }
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, algorithm)
	}
	return h, nil
}

func (h *Hasher) Algorithm() Algorithm { return h.algorithm }

// Hash returns the unpadded URL-safe base64 digest of data
func (h *Hasher) Hash(data []byte) string {
	digest := h.newHash()
	digest.Write(data)
	return base64.RawURLEncoding.EncodeToString(digest.Sum(nil))
}

// FileName is the on-store file name of an image: {hash}.{ext}
func FileName(hash, ext string) string {
	return hash + "." + ext
}
