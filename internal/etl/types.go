package etl

import (
	"strings"
	"time"
)

// ManifestRow is a single photo reference in a manifest file
type ManifestRow struct {
	URI string `csv:"uri" parquet:"uri" json:"uri"`
	ID  string `csv:"id" parquet:"id,optional" json:"id,omitempty"`
}

// ReportRow is one exported scan record
type ReportRow struct {
	URI          string  `parquet:"uri" json:"uri"`
	Status       string  `parquet:"status" json:"status"`
	Labels       string  `parquet:"labels" json:"labels"`
	FindingCount int64   `parquet:"finding_count" json:"finding_count"`
	TopScore     float64 `parquet:"top_score" json:"top_score"`
	Attempts     int64   `parquet:"attempts" json:"attempts"`
	UpdatedAt    string  `parquet:"updated_at" json:"updated_at"`
}

var reportHeader = []string{"uri", "status", "labels", "finding_count", "top_score", "attempts", "updated_at"}

// ExportResult summarizes an export run
type ExportResult struct {
	Path     string        `json:"path"`
	Format   FileFormat    `json:"format"`
	Records  int64         `json:"records"`
	Duration time.Duration `json:"duration"`
}

// FileFormat represents supported file formats
type FileFormat string

const (
	FormatCSV     FileFormat = "csv"
	FormatParquet FileFormat = "parquet"
	FormatJSON    FileFormat = "json"
	FormatXLSX    FileFormat = "xlsx"
)

// DetectFileFormat detects file format from extension
func DetectFileFormat(filename string) FileFormat {
	lower := strings.ToLower(filename)
	switch {
	case strings.HasSuffix(lower, ".csv"):
		return FormatCSV
	case strings.HasSuffix(lower, ".parquet"):
		return FormatParquet
	case strings.HasSuffix(lower, ".json"), strings.HasSuffix(lower, ".jsonl"):
		return FormatJSON
	case strings.HasSuffix(lower, ".xlsx"):
		return FormatXLSX
	default:
		return FormatCSV // Default to CSV
	}
}
