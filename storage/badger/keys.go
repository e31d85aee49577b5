package badger

import (
	"github.com/go-crypt/x/blake2b"
)

// Key layout: prefix:modelDigest(8):textDigest(32)
// The model digest groups a model's entries under one prefix for Purge.
const (
	embeddingPrefix = "emb"
	modelDigestSize = 8
)

// makeModelPrefix generates the partial key shared by all entries of model.
func makeModelPrefix(model string) []byte {
	prefix := embeddingPrefix + ":"
	modelSum := blake2b.Sum256([]byte(model))
	buf := make([]byte, len(prefix)+modelDigestSize)
	offset := copy(buf, prefix)
	copy(buf[offset:], modelSum[:modelDigestSize])
	return buf
}

// makeEmbeddingKey generates the key for text embedded with model.
func makeEmbeddingKey(model, text string) []byte {
	prefix := makeModelPrefix(model)
	textSum := blake2b.Sum256([]byte(model + "\x00" + text))
	buf := make([]byte, len(prefix)+len(textSum))
	offset := copy(buf, prefix)
	copy(buf[offset:], textSum[:])
	return buf
}
