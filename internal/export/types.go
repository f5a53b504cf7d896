// Package export renders shipment status reports as HTML, PDF and DOCX.
package export

import "errors"

// Format represents the export output format
type Format string

const (
	FormatHTML Format = "html"
	FormatPDF  Format = "pdf"
	FormatDOCX Format = "docx"
)

// ParseFormat maps a query value onto a Format. Empty means PDF.
func ParseFormat(value string) (Format, error) {
	switch Format(value) {
	case "":
		return FormatPDF, nil
	case FormatHTML, FormatPDF, FormatDOCX:
		return Format(value), nil
	default:
		return "", ErrUnsupportedFormat
	}
}

// Request contains parameters for an export operation
type Request struct {
	ShipmentID   string
	Format       Format
	HistoryLimit int
}

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

var (
	// ErrUnsupportedFormat indicates an unknown export format was requested.
	ErrUnsupportedFormat = errors.New("unsupported export format")
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
	// ErrDOCXDependencyMissing indicates DOCX export runtime dependencies are unavailable.
	ErrDOCXDependencyMissing = errors.New("export docx dependency missing")
)
