package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
)

// HashDimension is the fixed vector dimension of the stand-in engine,
// matching common sentence-transformer models.
const HashDimension = 384

// HashModelName identifies stand-in vectors in chunk metadata.
const HashModelName = "deterministic-hash-384"

// HashEngine is a deterministic stand-in for a real embedding model. It
// derives a fixed-dimension, L2-normalized vector from a stable hash of the
// text, so identical texts always produce identical vectors. Vectors carry
// no semantic meaning; the engine exists to keep the pipeline exercisable
// when no real model can be loaded.
type HashEngine struct {
	loaded bool
}

// NewHashEngine creates the stand-in engine.
func NewHashEngine() *HashEngine {
	return &HashEngine{}
}

// Load always succeeds.
func (e *HashEngine) Load(ctx context.Context) error {
	e.loaded = true
	return nil
}

// Embed derives one vector per input text, preserving input order.
func (e *HashEngine) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if !e.loaded {
		return nil, &EmbeddingError{Model: HashModelName, Err: ErrNotLoaded}
	}
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = hashVector(text)
	}
	return vectors, nil
}

// EmbedOne derives the vector for a single text.
func (e *HashEngine) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// Dimension returns the fixed stand-in dimension.
func (e *HashEngine) Dimension() int { return HashDimension }

// ModelName returns the stand-in identifier.
func (e *HashEngine) ModelName() string { return HashModelName }

// hashVector expands SHA-256 digests of the text into HashDimension floats
// in [-1, 1], then L2-normalizes so cosine similarity behaves.
func hashVector(text string) []float32 {
	vec := make([]float32, HashDimension)

	var counter [8]byte
	filled := 0
	for block := uint64(0); filled < HashDimension; block++ {
		binary.BigEndian.PutUint64(counter[:], block)
		h := sha256.New()
		h.Write([]byte(text))
		h.Write(counter[:])
		digest := h.Sum(nil)

		for off := 0; off+4 <= len(digest) && filled < HashDimension; off += 4 {
			u := binary.BigEndian.Uint32(digest[off : off+4])
			vec[filled] = float32(u)/float32(math.MaxUint32)*2 - 1
			filled++
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= scale
		}
	}
	return vec
}
