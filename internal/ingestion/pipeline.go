package ingestion

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/knoguchi/docsearch/internal/vectorstore"
)

const (
	// MetadataBudget is the largest serialized metadata size in bytes a chunk
	// record may carry.
	MetadataBudget = 40000

	// maxFileNameRunes is the longest file name kept when a record is over budget.
	maxFileNameRunes = 100
)

// Skipped describes a chunk that was not turned into a record.
type Skipped struct {
	DocumentID string
	ChunkIndex int
	Size       int
	Reason     string
}

// ChunkID returns the record ID of chunk index of a document.
func ChunkID(documentID string, index int) string {
	return fmt.Sprintf("%s#%d", documentID, index)
}

// Pipeline chunks documents and attaches the metadata stored with every record.
type Pipeline struct {
	chunker *Chunker
}

// NewPipeline creates a pipeline using chunker. A nil chunker uses defaults.
func NewPipeline(chunker *Chunker) *Pipeline {
	if chunker == nil {
		chunker = NewChunker(ChunkerConfig{})
	}
	return &Pipeline{chunker: chunker}
}

// Chunker returns the pipeline's chunker.
func (p *Pipeline) Chunker() *Chunker { return p.chunker }

// Build chunks doc into records with IDs "{doc.ID}#{i}". Chunks whose metadata
// stays over MetadataBudget after shortening the file name are skipped.
func (p *Pipeline) Build(doc Document) ([]vectorstore.Record, []Skipped) {
	chunks := p.chunker.Chunk(doc.Content)
	if len(chunks) == 0 {
		return nil, nil
	}

	var (
		records = make([]vectorstore.Record, 0, len(chunks))
		skipped []Skipped
	)
	for _, c := range chunks {
		md := documentMetadata(doc.DocumentInfo, c.Index)

		size := metadataSize(md)
		if size > MetadataBudget {
			md[vectorstore.FieldFileName] = shortenName(doc.Name)
			size = metadataSize(md)
		}
		if size > MetadataBudget {
			skipped = append(skipped, Skipped{
				DocumentID: doc.ID,
				ChunkIndex: c.Index,
				Size:       size,
				Reason:     fmt.Sprintf("Skipped chunk %d from %s: Metadata too large (%d bytes)", c.Index, displayName(doc.Name), size),
			})
			continue
		}

		records = append(records, vectorstore.Record{
			ID:       ChunkID(doc.ID, c.Index),
			Text:     c.Content,
			Metadata: md,
		})
	}
	return records, skipped
}

func documentMetadata(info DocumentInfo, index int) map[string]any {
	modified := ""
	if !info.ModifiedTime.IsZero() {
		modified = info.ModifiedTime.UTC().Format(time.RFC3339)
	}
	return map[string]any{
		vectorstore.FieldFileID:       info.ID,
		vectorstore.FieldFileName:     info.Name,
		vectorstore.FieldFileType:     info.FileType,
		vectorstore.FieldChunkIndex:   index,
		vectorstore.FieldModifiedTime: modified,
		vectorstore.FieldWebViewLink:  info.WebViewLink,
	}
}

// metadataSize is the length of md as compact JSON without HTML escaping.
func metadataSize(md map[string]any) int {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(md); err != nil {
		return 0
	}
	return len(bytes.TrimSuffix(buf.Bytes(), []byte("\n")))
}

func shortenName(name string) string {
	if utf8.RuneCountInString(name) <= maxFileNameRunes {
		return name
	}
	return string([]rune(name)[:maxFileNameRunes-3]) + "..."
}

func displayName(name string) string {
	if name == "" {
		return "Unknown file"
	}
	return name
}
