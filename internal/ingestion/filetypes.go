package ingestion

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

// Google Workspace MIME types and the file types they index as.
var WorkspaceTypes = map[string]string{
	"application/vnd.google-apps.document":     "docs",
	"application/vnd.google-apps.spreadsheet":  "sheets",
	"application/vnd.google-apps.presentation": "slides",
}

// PlaintextExtensions maps supported plaintext extensions to their MIME type.
var PlaintextExtensions = map[string]string{
	".txt": "text/plain",
	".md":  "text/markdown",
	".rst": "text/x-rst",
	".log": "text/plain",

	".json": "application/json",
	".yaml": "text/yaml",
	".yml":  "text/yaml",
	".toml": "text/x-toml",
	".ini":  "text/plain",
	".cfg":  "text/plain",
	".conf": "text/plain",

	".py":   "text/x-python",
	".js":   "text/javascript",
	".ts":   "text/typescript",
	".java": "text/x-java-source",
	".cpp":  "text/x-c++src",
	".c":    "text/x-csrc",
	".h":    "text/x-chdr",
	".go":   "text/x-go",
	".rs":   "text/x-rust",
	".rb":   "text/x-ruby",
	".php":  "text/x-php",
	".sh":   "text/x-shellscript",
	".bash": "text/x-shellscript",
	".zsh":  "text/x-shellscript",
	".ps1":  "text/x-powershell",
	".bat":  "text/x-msdos-batch",
	".cmd":  "text/x-msdos-batch",

	".html": "text/html",
	".htm":  "text/html",
	".css":  "text/css",
	".xml":  "text/xml",

	".tex": "text/x-tex",

	".csv": "text/csv",
	".tsv": "text/tab-separated-values",
	".sql": "text/x-sql",
}

// Categories group file types for --file-types.
var Categories = map[string][]string{
	"txt":      {"txt", "md", "rst", "log"},
	"config":   {"json", "yaml", "yml", "toml", "ini", "cfg", "conf"},
	"code":     {"py", "js", "ts", "java", "cpp", "c", "h", "go", "rs", "rb", "php", "sh", "bash", "zsh", "ps1", "bat", "cmd"},
	"web":      {"html", "htm", "css", "xml"},
	"data":     {"csv", "tsv", "sql"},
	"document": {"tex"},
}

// FileTypeOf returns the file type of name from its extension, or "" when the
// extension is not a supported plaintext type.
func FileTypeOf(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if _, ok := PlaintextExtensions[ext]; !ok {
		return ""
	}
	return ext[1:]
}

// IsSupported reports whether a file is indexable by MIME type or extension.
func IsSupported(name, mimeType string) bool {
	if _, ok := WorkspaceTypes[mimeType]; ok {
		return true
	}
	return FileTypeOf(name) != ""
}

// ValidFileTypes returns every individual file type, sorted.
func ValidFileTypes() []string {
	seen := map[string]struct{}{"docs": {}, "sheets": {}, "slides": {}}
	for _, types := range Categories {
		for _, t := range types {
			seen[t] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// ValidateFileTypes parses a comma-separated list of file types and
// categories, expanding categories. Duplicates are removed, first occurrence
// wins. An empty string yields nil.
func ValidateFileTypes(list string) ([]string, error) {
	if strings.TrimSpace(list) == "" {
		return nil, nil
	}

	valid := make(map[string]struct{})
	for _, t := range ValidFileTypes() {
		valid[t] = struct{}{}
	}

	var out []string
	seen := make(map[string]struct{})
	add := func(t string) {
		if _, dup := seen[t]; !dup {
			seen[t] = struct{}{}
			out = append(out, t)
		}
	}

	for _, raw := range strings.Split(list, ",") {
		t := strings.TrimSpace(raw)
		if types, ok := Categories[t]; ok {
			for _, ct := range types {
				add(ct)
			}
			continue
		}
		if _, ok := valid[t]; !ok {
			return nil, fmt.Errorf("invalid file type %q: valid types are %s or categories %s",
				t, strings.Join(ValidFileTypes(), ", "), strings.Join(categoryNames(), ", "))
		}
		add(t)
	}
	return out, nil
}

func categoryNames() []string {
	names := make([]string, 0, len(Categories))
	for name := range Categories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Batch splits items into consecutive slices of at most size elements.
func Batch[T any](items []T, size int) ([][]T, error) {
	if size <= 0 {
		return nil, fmt.Errorf("batch size must be greater than zero, got %d", size)
	}
	var out [][]T
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		out = append(out, items[start:end])
	}
	return out, nil
}
