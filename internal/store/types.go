package store

import (
	"errors"
	"fmt"
	"time"

	"github.com/raaihank/photo-sentinel/internal/pii"
)

// Status is the scan state of a single image
type Status string

const (
	StatusPending      Status = "pending"
	StatusProcessing   Status = "processing"
	StatusPiiFound     Status = "pii_found"
	StatusScannedClean Status = "scanned_clean"
	StatusFailed       Status = "failed"
)

// AllStatuses lists every status in lifecycle order
var AllStatuses = []Status{StatusPending, StatusProcessing, StatusPiiFound, StatusScannedClean, StatusFailed}

// transitions is the only place allowed status changes are declared.
// Leaving a terminal status is done by ResetAll, never by a transition.
var transitions = map[Status][]Status{
	StatusPending:    {StatusProcessing},
	StatusProcessing: {StatusPiiFound, StatusScannedClean, StatusPending, StatusFailed},
}

// CanTransition reports whether from may move to to
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Valid reports whether s is a known status
func (s Status) Valid() bool {
	for _, known := range AllStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// Terminal reports whether s ends a scan
func (s Status) Terminal() bool {
	return s == StatusPiiFound || s == StatusScannedClean || s == StatusFailed
}

// ParseStatus converts a stored or user supplied status string
func ParseStatus(value string) (Status, error) {
	s := Status(value)
	if !s.Valid() {
		return "", fmt.Errorf("unknown status %q", value)
	}
	return s, nil
}

var (
	// ErrNotFound is returned when no record exists for a URI
	ErrNotFound = errors.New("record not found")
	// ErrInvalidTransition is matched by every TransitionError
	ErrInvalidTransition = errors.New("invalid status transition")
)

// TransitionError describes a rejected status change
type TransitionError struct {
	URI  string
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid status transition for %s: %s -> %s", e.URI, e.From, e.To)
}

// Is lets errors.Is match ErrInvalidTransition
func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// ScanRecord is one row of the scan queue
type ScanRecord struct {
	ID                  int64         `json:"id"`
	URI                 string        `json:"uri"`
	Status              Status        `json:"status"`
	Findings            []pii.Finding `json:"findings,omitempty"`
	Attempts            int           `json:"attempts"`
	ProcessingStartedAt *time.Time    `json:"processing_started_at,omitempty"`
	UpdatedAt           time.Time     `json:"updated_at"`
}

// Progress summarizes how far the scan has come. Processed counts every
// record that has left Pending, including in-flight ones.
type Progress struct {
	Processed int64 `json:"processed"`
	Total     int64 `json:"total"`
}

// Fraction returns processed/total, or 1 for an empty queue
func (p Progress) Fraction() float64 {
	if p.Total == 0 {
		return 1
	}
	return float64(p.Processed) / float64(p.Total)
}

// RecordFilter selects records for ListRecords
type RecordFilter struct {
	Statuses []Status
	AfterID  int64
	Limit    int
}

// CachedPhoto maps an original image and size bucket to its thumbnail file
type CachedPhoto struct {
	OriginalURI string    `json:"original_uri" db:"original_uri"`
	SizeBucket  int       `json:"size_bucket" db:"size_bucket"`
	CachedURI   string    `json:"cached_uri" db:"cached_uri"`
	CreatedAt   time.Time `json:"created_at"`
}

// Config contains database configuration
type Config struct {
	Driver          string
	Path            string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// imageRow is the database shape of ScanRecord
type imageRow struct {
	ID                  int64   `db:"id"`
	URI                 string  `db:"uri"`
	Status              string  `db:"status"`
	Findings            *string `db:"findings"`
	Attempts            int     `db:"attempts"`
	ProcessingStartedAt *int64  `db:"processing_started_at"`
	UpdatedAt           int64   `db:"updated_at"`
}

type cacheRow struct {
	OriginalURI string `db:"original_uri"`
	SizeBucket  int    `db:"size_bucket"`
	CachedURI   string `db:"cached_uri"`
	CreatedAt   int64  `db:"created_at"`
}

func (r cacheRow) photo() CachedPhoto {
	return CachedPhoto{
		OriginalURI: r.OriginalURI,
		SizeBucket:  r.SizeBucket,
		CachedURI:   r.CachedURI,
		CreatedAt:   time.Unix(r.CreatedAt, 0),
	}
}
