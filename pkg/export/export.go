// Package export renders a block count aggregate as a two-column table file.
package export

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	errs "blocktally/pkg/errors"
	"blocktally/pkg/tally"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
)

// Format selects the rendering of the exported table
type Format string

const (
	FormatCSV      Format = "csv"
	FormatMarkdown Format = "markdown"
	FormatHTML     Format = "html"
	FormatTable    Format = "table"
)

var extensions = map[Format]string{
	FormatCSV:      ".csv",
	FormatMarkdown: ".md",
	FormatHTML:     ".html",
	FormatTable:    ".txt",
}

// Header names the two exported columns
var Header = table.Row{"block_id", "count"}

// ParseFormat accepts the names used in configuration, case-insensitively
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(s))
	if _, ok := extensions[f]; !ok {
		return "", fmt.Errorf("unknown export format %q", s)
	}
	return f, nil
}

// Extension returns the file extension including the dot
func (f Format) Extension() string {
	return extensions[f]
}

// FileExporter writes tables into a directory
type FileExporter struct {
	Dir    string
	Format Format
}

// NewFileExporter creates an exporter writing format files into dir
func NewFileExporter(dir string, format Format) *FileExporter {
	return &FileExporter{Dir: dir, Format: format}
}

// Export writes <Dir>/<name><ext> atomically and returns the path
func (e *FileExporter) Export(agg tally.Aggregate, name string) (string, error) {
	body, err := Render(agg, e.Format)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(e.Dir, 0755); err != nil {
		return "", errs.Storage("create export directory", e.Dir, err)
	}

	path := filepath.Join(e.Dir, name+e.Format.Extension())
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(body), 0644); err != nil {
		os.Remove(tmp)
		return "", errs.Storage("write export", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", errs.Storage("replace export", path, err)
	}
	return path, nil
}

// Render produces the table text for agg, rows ordered by count descending
func Render(agg tally.Aggregate, format Format) (string, error) {
	tw := table.NewWriter()
	tw.AppendHeader(Header)
	for _, e := range agg.Entries() {
		tw.AppendRow(table.Row{e.ID, e.Count})
	}

	var out string
	switch format {
	case FormatCSV:
		out = tw.RenderCSV()
	case FormatMarkdown:
		out = tw.RenderMarkdown()
	case FormatHTML:
		out = tw.RenderHTML()
	case FormatTable:
		tw.SetStyle(table.StyleLight)
		out = tw.Render()
	default:
		return "", fmt.Errorf("unknown export format %q", format)
	}
	return out + "\n", nil
}

// Summary renders the top limit ids for the terminal with thousands separators.
// limit <= 0 shows every id.
func Summary(agg tally.Aggregate, limit int) string {
	entries := agg.Entries()
	total := agg.Total()
	shown := entries
	if limit > 0 && len(entries) > limit {
		shown = entries[:limit]
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleLight)
	tw.AppendHeader(table.Row{"Block", "Count", "Share"})
	for _, e := range shown {
		share := 0.0
		if total > 0 {
			share = float64(e.Count) / float64(total) * 100
		}
		tw.AppendRow(table.Row{e.ID, humanize.Comma(int64(e.Count)), fmt.Sprintf("%.2f%%", share)})
	}
	if hidden := len(entries) - len(shown); hidden > 0 {
		tw.AppendRow(table.Row{fmt.Sprintf("(%d more)", hidden), "", ""})
	}
	tw.AppendFooter(table.Row{"Total", humanize.Comma(int64(total)), fmt.Sprintf("%d ids", len(entries))})
	return tw.Render()
}
