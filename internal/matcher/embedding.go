package matcher

import (
	"encoding/binary"
	"fmt"
	"math"
)

// EmbeddingDim is the dimensionality of stored face embeddings.
const EmbeddingDim = 128

// Embedding is a face embedding vector produced by the extraction capability.
type Embedding []float32

// CosineSimilarity returns the cosine similarity of two embeddings, clamped
// to [0, 1] (negative similarities carry no useful signal for verification).
func CosineSimilarity(a, b Embedding) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	if sim < 0 {
		return 0
	}
	if sim > 1 {
		return 1
	}
	return sim
}

// EncodeEmbedding serializes an embedding as little-endian float32s for
// storage alongside the enrollment row.
func EncodeEmbedding(e Embedding) []byte {
	buf := make([]byte, 4*len(e))
	for i, v := range e {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}
	return buf
}

// DecodeEmbedding deserializes a stored embedding.
func DecodeEmbedding(b []byte) (Embedding, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("embedding blob length %d is not a multiple of 4", len(b))
	}
	e := make(Embedding, len(b)/4)
	for i := range e {
		e[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return e, nil
}
