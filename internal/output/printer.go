package output

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/knoguchi/docsearch/internal/config"
	"github.com/knoguchi/docsearch/internal/retrieval"
	"github.com/knoguchi/docsearch/internal/service"
	"github.com/knoguchi/docsearch/internal/vectorstore"
)

const (
	previewRunes = 150
	maxErrors    = 10
)

// Format selects text or JSON rendering.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// ParseFormat validates a --format value.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "", FormatText:
		return FormatText, nil
	case FormatJSON:
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("invalid format %q: must be text or json", s)
	}
}

// Printer writes rendered output to w.
type Printer struct {
	w      io.Writer
	format Format
	styles Styles
}

// NewPrinter creates a Printer.
func NewPrinter(w io.Writer, format Format, noColor bool) *Printer {
	if format == "" {
		format = FormatText
	}
	return &Printer{w: w, format: format, styles: GetStyles(noColor)}
}

// Format returns the output format.
func (p *Printer) Format() Format { return p.format }

// JSON writes v as indented JSON.
func (p *Printer) JSON(v any) error {
	enc := json.NewEncoder(p.w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Results renders ranked search results.
func (p *Printer) Results(query string, results []retrieval.RankedResult) error {
	if p.format == FormatJSON {
		if results == nil {
			results = []retrieval.RankedResult{}
		}
		return p.JSON(results)
	}

	s := p.styles
	if len(results) == 0 {
		p.println(s.Warning.Render("No results found for:") + " " + s.Query.Render(query))
		return nil
	}

	p.println("")
	p.println(s.Header.Render("Hybrid Search Results for:") + " " + s.Query.Render(query))
	p.println(s.Dim.Render("Results reranked by the configured reranking model"))
	p.println(fmt.Sprintf("Found %d results", len(results)))
	p.println("")

	for _, r := range results {
		md := r.Metadata
		name := metadataOr(md, vectorstore.FieldFileName, "Unknown")
		link := metadataOr(md, vectorstore.FieldWebViewLink, "N/A")
		text := metadataOr(md, vectorstore.FieldText, "No content available")

		body := lipgloss.JoinVertical(lipgloss.Left,
			s.Name.Render(name)+" "+s.Link.Render(link),
			s.Preview.Render(Preview(text)),
		)
		p.println(lipgloss.JoinHorizontal(lipgloss.Top, s.Score.Render(strconv.FormatFloat(r.Score, 'f', 3, 64)), " ", body))
	}
	return nil
}

// ResultDetail renders one result with all its scores in a panel.
func (p *Printer) ResultDetail(n int, r retrieval.RankedResult) error {
	if p.format == FormatJSON {
		return p.JSON(r)
	}
	s := p.styles
	md := r.Metadata
	rows := [][2]string{
		{"File Name", metadataOr(md, vectorstore.FieldFileName, "Unknown")},
		{"File Type", metadataOr(md, vectorstore.FieldFileType, "unknown")},
		{"Reranked Score", strconv.FormatFloat(r.Score, 'f', 3, 64)},
		{"Dense Score", strconv.FormatFloat(r.DenseScore, 'f', 3, 64)},
		{"Sparse Score", strconv.FormatFloat(r.SparseScore, 'f', 3, 64)},
		{"Modified", metadataOr(md, vectorstore.FieldModifiedTime, "Unknown")},
		{"Web Link", metadataOr(md, vectorstore.FieldWebViewLink, "N/A")},
	}
	var b strings.Builder
	fmt.Fprintln(&b, s.Header.Render(fmt.Sprintf("Result %d Details", n)))
	for _, row := range rows {
		fmt.Fprintf(&b, "%s %s\n", s.Label.Render(row[0]+":"), row[1])
	}
	fmt.Fprintln(&b)
	fmt.Fprintln(&b, s.Label.Render("Content Preview:"))
	b.WriteString(metadataOr(md, vectorstore.FieldText, "No content available"))
	p.println(s.Panel.Render(b.String()))
	return nil
}

// Report renders the summary of an index or refresh run.
func (p *Printer) Report(r *service.IndexReport) error {
	if p.format == FormatJSON {
		return p.JSON(r)
	}
	s := p.styles

	if r.DryRun {
		p.println(s.Header.Render("Dry Run"))
		p.println(fmt.Sprintf("• Files listed: %d", r.Listed))
		p.println(fmt.Sprintf("• Would process: %d (%d new, %d modified)", len(r.Planned), r.New, r.Modified))
		for _, id := range r.Planned {
			p.println("  " + s.Dim.Render(id))
		}
		return nil
	}

	p.println("")
	p.println(s.Header.Render("Processing Summary"))
	p.println(fmt.Sprintf("• Files processed: %d/%d", r.Processed, len(r.Planned)))
	if r.Skipped > 0 {
		p.println(fmt.Sprintf("• Files skipped: %d", r.Skipped))
	}
	p.println(fmt.Sprintf("• Chunks created: %d", r.Chunks))
	if r.Removed > 0 {
		p.println(fmt.Sprintf("• Deleted files cleaned up: %d", r.Removed))
	}
	p.println(fmt.Sprintf("• Took: %s", r.Duration.Round(time.Millisecond)))

	if len(r.Errors) > 0 {
		p.println("")
		p.println(s.Error.Render(fmt.Sprintf("Errors and Skips (%d):", len(r.Errors))))
		for _, e := range r.Errors[:min(len(r.Errors), maxErrors)] {
			p.println("  • " + e)
		}
		if len(r.Errors) > maxErrors {
			p.println(fmt.Sprintf("  • ... and %d more errors/skips", len(r.Errors)-maxErrors))
		}
	}
	return nil
}

// statusView is the JSON shape of Status.
type statusView struct {
	Mode  string               `json:"mode"`
	Index *service.IndexStatus `json:"index"`
	State *config.State        `json:"config"`
}

// Status renders index statistics and the local configuration.
func (p *Printer) Status(st *service.IndexStatus, state *config.State) error {
	if p.format == FormatJSON {
		return p.JSON(statusView{Mode: state.Mode, Index: st, State: state})
	}

	rows := [][]string{
		{"Mode", state.Mode},
		{"Dense Index", st.DenseIndex},
		{"Sparse Index", st.SparseIndex},
		{"Dense Vectors", strconv.FormatUint(st.DenseCount, 10)},
		{"Sparse Vectors", strconv.FormatUint(st.SparseCount, 10)},
		{"Vectors Match", check(st.VectorsMatch)},
		{"Indexed Files", strconv.Itoa(st.Files)},
		{"Registry Chunks", strconv.Itoa(st.RegistryChunks)},
		{"Reranking Model", state.Settings.RerankingModel},
		{"Chunk Size", strconv.Itoa(state.Settings.ChunkSize)},
		{"Chunk Overlap", strconv.Itoa(state.Settings.ChunkOverlap)},
	}
	if state.Owner != nil {
		rows = append(rows, []string{"Source Root", state.Owner.SourceRoot})
	}
	if md := st.Metadata; md != nil {
		rows = append(rows,
			[]string{"Last Refresh", md.LastRefreshTime.Format(time.RFC3339)},
			[]string{"Indexed By", md.IndexedBy},
		)
	} else {
		rows = append(rows, []string{"Last Refresh", "never"})
	}

	p.println(p.table("Index Statistics", []string{"Metric", "Value"}, rows))
	return nil
}

// Success renders a titled confirmation panel.
func (p *Printer) Success(title, msg string) error {
	if p.format == FormatJSON {
		return p.JSON(map[string]string{"status": "ok", "message": msg})
	}
	s := p.styles
	p.println(s.Panel.BorderForeground(lipgloss.Color(ColorGreen)).Render(s.Success.Render(title) + "\n" + msg))
	return nil
}

func (p *Printer) table(title string, headers []string, rows [][]string) string {
	s := p.styles
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(s.TableBorder).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return s.TableHeader
			case col == 0:
				return s.Label.Padding(0, 1)
			default:
				return lipgloss.NewStyle().Padding(0, 1)
			}
		})
	return s.Header.Render(title) + "\n" + t.String()
}

func (p *Printer) println(line string) {
	fmt.Fprintln(p.w, line)
}

// Preview shortens text to 150 runes, ending in "..." when cut.
func Preview(text string) string {
	r := []rune(text)
	if len(r) <= previewRunes {
		return text
	}
	return string(r[:previewRunes-3]) + "..."
}

func metadataOr(md map[string]any, key, fallback string) string {
	if v := vectorstore.MetadataString(md, key); v != "" {
		return v
	}
	return fallback
}

func check(ok bool) string {
	if ok {
		return "✓"
	}
	return "✗"
}
