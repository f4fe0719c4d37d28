// Package export renders topic reports to PDF.
package export

import (
	"errors"
	"time"
)

// Request identifies the topic to export.
type Request struct {
	SessionID int64
	TopicID   int64
}

// SessionInfo holds the session metadata printed in the report header.
type SessionInfo struct {
	ID    int64
	Date  string
	Title string
}

// TopicInfo holds the topic content for export.
type TopicInfo struct {
	ID         int64
	SessionID  int64
	Title      string
	Memo       string
	ReportHTML string
	Likes      int
	Comments   int
	CreatedAt  time.Time
}

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

var (
	// ErrReportMissing indicates the topic has no generated report to export.
	ErrReportMissing = errors.New("topic has no generated report")
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
)
