package export

import "fmt"

// Format selects the renderer for a report.
type Format string

const (
	FormatCSV Format = "csv"
	FormatPDF Format = "pdf"
)

// ParseFormat validates a user supplied format name.
func ParseFormat(raw string) (Format, error) {
	switch Format(raw) {
	case FormatCSV, "":
		return FormatCSV, nil
	case FormatPDF:
		return FormatPDF, nil
	default:
		return "", fmt.Errorf("unsupported report format %q", raw)
	}
}

// Report is a tabular document with an optional title and summary lines.
type Report struct {
	Title   string
	Summary []string
	Columns []string
	Rows    [][]string
}

// Renderer turns a report into bytes.
type Renderer interface {
	Render(report Report) ([]byte, error)
	ContentType() string
}

// RendererFor returns the renderer registered for the format.
func RendererFor(format Format) Renderer {
	if format == FormatPDF {
		return NewPDFRenderer()
	}
	return NewCSVRenderer()
}
