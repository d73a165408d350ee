package embedder

import (
	"hash/fnv"
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/knoguchi/docsearch/internal/vectorstore"
)

var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {}, "but": {},
	"by": {}, "for": {}, "if": {}, "in": {}, "into": {}, "is": {}, "it": {}, "no": {},
	"not": {}, "of": {}, "on": {}, "or": {}, "such": {}, "that": {}, "the": {},
	"their": {}, "then": {}, "there": {}, "these": {}, "they": {}, "this": {}, "to": {},
	"was": {}, "will": {}, "with": {}, "what": {}, "how": {}, "do": {}, "does": {},
}

// HashingEncoder produces sparse lexical vectors by hashing word tokens into
// a 32-bit feature space. Term weights are 1 + ln(tf); the index applies IDF.
type HashingEncoder struct{}

// NewHashingEncoder returns a sparse encoder.
func NewHashingEncoder() *HashingEncoder { return &HashingEncoder{} }

// Encode returns the sparse vector of text, or an empty vector when text has
// no indexable terms. Indices are sorted ascending.
func (HashingEncoder) Encode(text string) *vectorstore.SparseVector {
	tf := make(map[uint32]int)
	for _, tok := range Tokenize(text) {
		tf[termIndex(tok)]++
	}

	sv := &vectorstore.SparseVector{
		Indices: make([]uint32, 0, len(tf)),
		Values:  make([]float32, 0, len(tf)),
	}
	for idx := range tf {
		sv.Indices = append(sv.Indices, idx)
	}
	sort.Slice(sv.Indices, func(i, j int) bool { return sv.Indices[i] < sv.Indices[j] })
	for _, idx := range sv.Indices {
		sv.Values = append(sv.Values, float32(1+math.Log(float64(tf[idx]))))
	}
	return sv
}

// Tokenize lower-cases text and splits it into letter/digit runs, dropping
// stop words and single characters.
func Tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	tokens := fields[:0]
	for _, f := range fields {
		if len([]rune(f)) < 2 {
			continue
		}
		if _, stop := stopWords[f]; stop {
			continue
		}
		tokens = append(tokens, f)
	}
	return tokens
}

func termIndex(term string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(term))
	return h.Sum32()
}

var _ vectorstore.SparseEncoder = HashingEncoder{}
