package etl

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/raaihank/photo-sentinel/internal/logger"
	"github.com/raaihank/photo-sentinel/internal/pii"
	"github.com/raaihank/photo-sentinel/internal/store"
	"github.com/segmentio/parquet-go"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

const (
	exportPageSize = 500
	xlsxSheet      = "Scan Results"
)

// RecordLister pages through scan records
type RecordLister interface {
	ListRecords(ctx context.Context, filter store.RecordFilter) ([]store.ScanRecord, error)
}

// Exporter writes scan records as a report file
type Exporter struct {
	records RecordLister
	logger  *logger.Logger
}

// NewExporter creates a report exporter
func NewExporter(records RecordLister, log *logger.Logger) *Exporter {
	return &Exporter{
		records: records,
		logger:  log.WithComponent("export"),
	}
}

// reportWriter is implemented once per output format
type reportWriter interface {
	Write(rows []ReportRow) error
	Close() error
}

// Export writes every record matching statuses (all when empty) to path. The
// format follows the file extension.
func (e *Exporter) Export(ctx context.Context, path string, statuses []store.Status) (*ExportResult, error) {
	start := time.Now()
	format := DetectFileFormat(path)

	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create report: %w", err)
	}
	defer file.Close()

	writer, err := newReportWriter(format, file)
	if err != nil {
		return nil, err
	}

	result := &ExportResult{Path: path, Format: format}
	var after int64

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		records, err := e.records.ListRecords(ctx, store.RecordFilter{
			Statuses: statuses,
			AfterID:  after,
			Limit:    exportPageSize,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list records: %w", err)
		}
		if len(records) == 0 {
			break
		}

		rows := make([]ReportRow, len(records))
		for i, record := range records {
			rows[i] = toReportRow(record)
		}
		if err := writer.Write(rows); err != nil {
			return nil, fmt.Errorf("failed to write %s report: %w", format, err)
		}

		result.Records += int64(len(records))
		after = records[len(records)-1].ID
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish %s report: %w", format, err)
	}
	result.Duration = time.Since(start)

	e.logger.Info("Report exported",
		zap.String("path", path),
		zap.String("format", string(format)),
		zap.Int64("records", result.Records),
		zap.Duration("duration", result.Duration))

	return result, nil
}

func toReportRow(record store.ScanRecord) ReportRow {
	row := ReportRow{
		URI:          record.URI,
		Status:       string(record.Status),
		Labels:       strings.Join(sortedLabels(record.Findings), ";"),
		FindingCount: int64(len(record.Findings)),
		Attempts:     int64(record.Attempts),
		UpdatedAt:    record.UpdatedAt.UTC().Format(time.RFC3339),
	}
	for _, f := range record.Findings {
		if f.Score > row.TopScore {
			row.TopScore = f.Score
		}
	}
	return row
}

func sortedLabels(findings []pii.Finding) []string {
	labels := pii.Labels(findings)
	sort.Strings(labels)
	return labels
}

func newReportWriter(format FileFormat, w io.Writer) (reportWriter, error) {
	switch format {
	case FormatCSV:
		cw := csv.NewWriter(w)
		if err := cw.Write(reportHeader); err != nil {
			return nil, fmt.Errorf("failed to write CSV header: %w", err)
		}
		return &csvReport{w: cw}, nil
	case FormatJSON:
		return &jsonReport{enc: json.NewEncoder(w)}, nil
	case FormatParquet:
		return &parquetReport{w: parquet.NewGenericWriter[ReportRow](w)}, nil
	case FormatXLSX:
		return newXLSXReport(w)
	default:
		return nil, fmt.Errorf("unsupported report format: %s", format)
	}
}

type csvReport struct {
	w *csv.Writer
}

func (r *csvReport) Write(rows []ReportRow) error {
	for _, row := range rows {
		if err := r.w.Write([]string{
			row.URI,
			row.Status,
			row.Labels,
			strconv.FormatInt(row.FindingCount, 10),
			strconv.FormatFloat(row.TopScore, 'f', 4, 64),
			strconv.FormatInt(row.Attempts, 10),
			row.UpdatedAt,
		}); err != nil {
			return err
		}
	}
	return nil
}

func (r *csvReport) Close() error {
	r.w.Flush()
	return r.w.Error()
}

// jsonReport writes one JSON object per line
type jsonReport struct {
	enc *json.Encoder
}

func (r *jsonReport) Write(rows []ReportRow) error {
	for _, row := range rows {
		if err := r.enc.Encode(row); err != nil {
			return err
		}
	}
	return nil
}

func (r *jsonReport) Close() error { return nil }

type parquetReport struct {
	w *parquet.GenericWriter[ReportRow]
}

func (r *parquetReport) Write(rows []ReportRow) error {
	_, err := r.w.Write(rows)
	return err
}

func (r *parquetReport) Close() error {
	return r.w.Close()
}

// xlsxReport buffers the workbook and writes it out on Close
type xlsxReport struct {
	f   *excelize.File
	out io.Writer
	row int
}

func newXLSXReport(w io.Writer) (*xlsxReport, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", xlsxSheet); err != nil {
		return nil, fmt.Errorf("failed to name sheet: %w", err)
	}
	for i, h := range reportHeader {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(xlsxSheet, cell, h)
	}
	_ = f.SetColWidth(xlsxSheet, "A", "A", 60) // uri
	_ = f.SetColWidth(xlsxSheet, "B", "C", 20)
	_ = f.SetColWidth(xlsxSheet, "G", "G", 22) // updated_at
	return &xlsxReport{f: f, out: w, row: 2}, nil
}

func (r *xlsxReport) Write(rows []ReportRow) error {
	for _, row := range rows {
		values := []interface{}{row.URI, row.Status, row.Labels, row.FindingCount, row.TopScore, row.Attempts, row.UpdatedAt}
		for col, v := range values {
			cell, err := excelize.CoordinatesToCellName(col+1, r.row)
			if err != nil {
				return err
			}
			if err := r.f.SetCellValue(xlsxSheet, cell, v); err != nil {
				return err
			}
		}
		r.row++
	}
	return nil
}

func (r *xlsxReport) Close() error {
	defer r.f.Close()
	_, err := r.f.WriteTo(r.out)
	return err
}
