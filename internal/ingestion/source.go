package ingestion

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"time"
	"unicode/utf8"
)

// DefaultMaxFileSize skips files larger than this many bytes.
const DefaultMaxFileSize = 10 << 20

// ErrNotText is returned when a file's content is not valid UTF-8.
var ErrNotText = errors.New("file is not valid UTF-8 text")

// DocumentInfo describes a source document without its content.
type DocumentInfo struct {
	ID           string
	Name         string
	FileType     string
	MimeType     string
	ModifiedTime time.Time
	WebViewLink  string
	Size         int64
}

// Document is a source document with its text content.
type Document struct {
	DocumentInfo
	Content string
}

// Source lists and fetches documents to index.
type Source interface {
	// List returns supported documents, restricted to fileTypes when non-empty.
	List(ctx context.Context, fileTypes []string) ([]DocumentInfo, error)

	// Fetch returns the text content of a listed document.
	Fetch(ctx context.Context, info DocumentInfo) (Document, error)
}

// DirSource serves plaintext files under a local directory. Document IDs are
// slash-separated paths relative to the root.
type DirSource struct {
	root        string
	maxFileSize int64
}

// NewDirSource creates a source rooted at dir.
func NewDirSource(dir string) (*DirSource, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", dir, err)
	}
	st, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to stat source root: %w", err)
	}
	if !st.IsDir() {
		return nil, fmt.Errorf("source root %s is not a directory", abs)
	}
	return &DirSource{root: abs, maxFileSize: DefaultMaxFileSize}, nil
}

// Root returns the absolute source directory.
func (s *DirSource) Root() string { return s.root }

// List walks the root, skipping hidden entries and unsupported or oversized
// files. Results are sorted by ID.
func (s *DirSource) List(ctx context.Context, fileTypes []string) ([]DocumentInfo, error) {
	var infos []DocumentInfo

	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if path != s.root && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}

		info, ok, err := s.describe(path, d)
		if err != nil || !ok {
			return err
		}
		if len(fileTypes) > 0 && !slices.Contains(fileTypes, info.FileType) {
			return nil
		}
		infos = append(infos, info)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", s.root, err)
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos, nil
}

// Describe returns the DocumentInfo of a single path under the root.
func (s *DirSource) Describe(path string) (DocumentInfo, bool, error) {
	st, err := os.Stat(path)
	if err != nil {
		return DocumentInfo{}, false, err
	}
	return s.describe(path, fs.FileInfoToDirEntry(st))
}

func (s *DirSource) describe(path string, d fs.DirEntry) (DocumentInfo, bool, error) {
	fileType := FileTypeOf(d.Name())
	if fileType == "" {
		return DocumentInfo{}, false, nil
	}
	st, err := d.Info()
	if err != nil {
		return DocumentInfo{}, false, err
	}
	if st.Size() > s.maxFileSize {
		return DocumentInfo{}, false, nil
	}
	rel, err := filepath.Rel(s.root, path)
	if err != nil {
		return DocumentInfo{}, false, err
	}

	return DocumentInfo{
		ID:           filepath.ToSlash(rel),
		Name:         d.Name(),
		FileType:     fileType,
		MimeType:     PlaintextExtensions["."+fileType],
		ModifiedTime: st.ModTime().UTC(),
		WebViewLink:  "file://" + filepath.ToSlash(path),
		Size:         st.Size(),
	}, true, nil
}

// Fetch reads the file behind info.
func (s *DirSource) Fetch(ctx context.Context, info DocumentInfo) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
	data, err := os.ReadFile(filepath.Join(s.root, filepath.FromSlash(info.ID)))
	if err != nil {
		return Document{}, fmt.Errorf("failed to read %s: %w", info.ID, err)
	}
	if !utf8.Valid(data) {
		return Document{}, fmt.Errorf("%s: %w", info.ID, ErrNotText)
	}
	return Document{DocumentInfo: info, Content: string(data)}, nil
}

var _ Source = (*DirSource)(nil)
