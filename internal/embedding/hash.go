package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strconv"
	"strings"
	"unicode"
)

// DefaultHashDimensions is the vector size of the hash provider.
const DefaultHashDimensions = 256

// Hash is a local feature-hashing embedder: each lower-cased word is hashed
// into a bucket with a signed weight and the vector is L2-normalized. Texts
// sharing vocabulary get similar vectors; identical texts get identical
// vectors. It needs no network and is always available.
type Hash struct {
	dims int
}

// NewHash returns a hash provider with dims buckets.
func NewHash(dims int) *Hash {
	if dims <= 0 {
		dims = DefaultHashDimensions
	}
	return &Hash{dims: dims}
}

// Embed implements Provider.
func (h *Hash) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	vec := make([]float32, h.dims)
	for _, word := range hashTokens(text) {
		f := fnv.New64a()
		_, _ = f.Write([]byte(word))
		sum := f.Sum64()
		idx := int(sum % uint64(h.dims))
		sign := float32(1)
		if sum>>63 == 1 {
			sign = -1
		}
		vec[idx] += sign
	}
	normalize(vec)
	return vec, nil
}

// Model implements Provider.
func (h *Hash) Model() string { return "hash-" + strconv.Itoa(h.dims) }

// Dimensions implements Provider.
func (h *Hash) Dimensions() int { return h.dims }

// IsAvailable implements Provider.
func (h *Hash) IsAvailable(context.Context) bool { return true }

func hashTokens(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func normalize(vec []float32) {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return
	}
	mag := float32(math.Sqrt(sum))
	for i := range vec {
		vec[i] /= mag
	}
}
