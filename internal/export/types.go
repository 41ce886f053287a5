// Package export renders archived document versions as printable PDFs.
package export

import (
	"errors"
	"time"
)

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

// Page is one archived version prepared for printing.
type Page struct {
	SubjectName string
	Version     int64
	Source      string
	CreatedAt   time.Time
	Content     string
}

var (
	// ErrPDFDependencyMissing indicates the headless browser is unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
)
