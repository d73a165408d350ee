// Package ingestion turns source documents into chunk records for the dense
// and sparse indexes.
package ingestion

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	// DefaultChunkSize is the target chunk size in estimated tokens.
	DefaultChunkSize = 450

	// DefaultChunkOverlap is the overlap carried between chunks, in estimated tokens.
	DefaultChunkOverlap = 75

	// minSentenceChars drops fragments such as list markers and page numbers.
	minSentenceChars = 10
)

// Chunking methods.
const (
	MethodSentence = "sentence"
	MethodFixed    = "fixed"
)

// ChunkerConfig configures chunking.
type ChunkerConfig struct {
	Method    string
	ChunkSize int

	// Overlap of zero uses DefaultChunkOverlap; negative disables overlap.
	Overlap int
}

// Chunk represents a piece of chunked content
type Chunk struct {
	Content string
	Index   int
	Tokens  int
}

// Chunker handles text chunking with different strategies
type Chunker struct {
	config ChunkerConfig
}

// NewChunker creates a new Chunker with the given configuration
func NewChunker(config ChunkerConfig) *Chunker {
	if config.ChunkSize <= 0 {
		config.ChunkSize = DefaultChunkSize
	}
	switch {
	case config.Overlap < 0:
		config.Overlap = 0
	case config.Overlap == 0 || config.Overlap >= config.ChunkSize:
		config.Overlap = min(DefaultChunkOverlap, config.ChunkSize/2)
	}
	if config.Method == "" {
		config.Method = MethodSentence
	}
	return &Chunker{config: config}
}

// Config returns the effective configuration.
func (c *Chunker) Config() ChunkerConfig { return c.config }

// Chunk splits content into chunks based on the configured method
func (c *Chunker) Chunk(content string) []Chunk {
	cleaned := cleanText(content)
	if cleaned == "" {
		return nil
	}

	switch c.config.Method {
	case MethodFixed:
		return c.chunkFixed(cleaned)
	default:
		return c.chunkSentence(cleaned)
	}
}

// EstimateTokens approximates a BPE token count as one token per four
// characters, never fewer than the word count.
func EstimateTokens(text string) int {
	byChars := (utf8.RuneCountInString(text) + 3) / 4
	return max(byChars, len(strings.Fields(text)))
}

// ============================================================================
// Sentence Chunking
// ============================================================================

// chunkSentence packs whole sentences into chunks of at most ChunkSize tokens.
// Each new chunk starts with the trailing sentences of the previous one that
// fit in Overlap tokens.
func (c *Chunker) chunkSentence(text string) []Chunk {
	var (
		chunks  []Chunk
		current []string
		tokens  int
	)

	flush := func() {
		content := strings.Join(current, " ")
		chunks = append(chunks, Chunk{Content: content, Index: len(chunks), Tokens: EstimateTokens(content)})
	}

	for _, sentence := range splitSentences(text) {
		st := EstimateTokens(sentence)

		if tokens+st > c.config.ChunkSize && len(current) > 0 {
			flush()

			var overlap []string
			overlapTokens := 0
			for i := len(current) - 1; i >= 0; i-- {
				pt := EstimateTokens(current[i])
				if overlapTokens+pt > c.config.Overlap {
					break
				}
				overlap = append([]string{current[i]}, overlap...)
				overlapTokens += pt
			}
			current, tokens = overlap, overlapTokens
		}

		current = append(current, sentence)
		tokens += st
	}

	if len(current) > 0 {
		flush()
	}
	return chunks
}

// ============================================================================
// Fixed Chunking
// ============================================================================

// chunkFixed splits content into fixed windows of ChunkSize words stepping by
// ChunkSize-Overlap.
func (c *Chunker) chunkFixed(text string) []Chunk {
	words := strings.Fields(text)
	step := c.config.ChunkSize - c.config.Overlap

	var chunks []Chunk
	for start := 0; start < len(words); start += step {
		end := min(start+c.config.ChunkSize, len(words))
		content := strings.Join(words[start:end], " ")
		chunks = append(chunks, Chunk{Content: content, Index: len(chunks), Tokens: EstimateTokens(content)})
		if end == len(words) {
			break
		}
	}
	return chunks
}

// ============================================================================
// Utility Functions
// ============================================================================

var (
	whitespaceRun = regexp.MustCompile(`\s+`)
	disallowed    = regexp.MustCompile(`[^\p{L}\p{N}_\s.,!?;:\-()\[\]{}"']`)
)

// cleanText collapses whitespace and strips symbols outside basic punctuation.
func cleanText(text string) string {
	text = whitespaceRun.ReplaceAllString(text, " ")
	text = disallowed.ReplaceAllString(text, "")
	return strings.TrimSpace(text)
}

// splitSentences splits after '.', '!' or '?' followed by whitespace and
// drops sentences of minSentenceChars characters or fewer.
func splitSentences(text string) []string {
	var (
		sentences []string
		start     int
	)

	emit := func(s string) {
		s = strings.TrimSpace(s)
		if utf8.RuneCountInString(s) > minSentenceChars {
			sentences = append(sentences, s)
		}
	}

	prev := rune(0)
	for i, r := range text {
		if unicode.IsSpace(r) && (prev == '.' || prev == '!' || prev == '?') {
			emit(text[start:i])
			start = i
		}
		prev = r
	}
	emit(text[start:])
	return sentences
}
