// Package etl reads photo manifests and writes scan reports in tabular formats.
package etl

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/raaihank/photo-sentinel/internal/logger"
	"github.com/raaihank/photo-sentinel/internal/media"
	"github.com/segmentio/parquet-go"
	"go.uber.org/zap"
)

// ManifestSource lists photos from a csv, json-lines or parquet manifest.
// Cursors are row offsets, so the manifest must not be edited mid-run.
type ManifestSource struct {
	path   string
	format FileFormat
	logger *logger.Logger
}

// NewManifestSource creates a manifest-backed media source
func NewManifestSource(path string, log *logger.Logger) *ManifestSource {
	return &ManifestSource{
		path:   path,
		format: DetectFileFormat(path),
		logger: log.WithComponent("manifest"),
	}
}

// rowReader returns the next manifest row or io.EOF
type rowReader func() (ManifestRow, error)

// List implements media.Source
func (m *ManifestSource) List(ctx context.Context, cursor string, limit int) (media.Page, error) {
	if limit <= 0 {
		return media.Page{}, fmt.Errorf("limit must be positive, got %d", limit)
	}

	offset := 0
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil || n < 0 {
			return media.Page{}, fmt.Errorf("invalid manifest cursor %q", cursor)
		}
		offset = n
	}

	file, err := os.Open(m.path)
	if err != nil {
		return media.Page{}, fmt.Errorf("failed to open manifest: %w", err)
	}
	defer file.Close()

	next, closeReader, err := m.open(file)
	if err != nil {
		return media.Page{}, err
	}
	defer closeReader()

	page := media.Page{Assets: make([]media.Asset, 0, limit)}
	consumed := 0

	for {
		if err := ctx.Err(); err != nil {
			return media.Page{}, err
		}

		row, err := next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return media.Page{}, fmt.Errorf("failed to read manifest row %d: %w", consumed, err)
		}
		consumed++
		if consumed <= offset {
			continue
		}

		uri := strings.TrimSpace(row.URI)
		if uri == "" {
			m.logger.Debug("Skipping manifest row without uri", zap.Int("row", consumed))
			continue
		}

		if len(page.Assets) == limit {
			page.HasNext = true
			page.NextCursor = strconv.Itoa(consumed - 1)
			break
		}

		id := strings.TrimSpace(row.ID)
		if id == "" {
			id = media.AssetID(uri)
		}
		page.Assets = append(page.Assets, media.Asset{URI: uri, ID: id})
	}

	return page, nil
}

func (m *ManifestSource) open(file *os.File) (rowReader, func(), error) {
	noop := func() {}

	switch m.format {
	case FormatCSV:
		reader := csv.NewReader(file)
		reader.FieldsPerRecord = -1

		header, err := reader.Read()
		if err != nil {
			return nil, noop, fmt.Errorf("failed to read CSV header: %w", err)
		}
		uriCol, idCol := 0, -1
		for i, col := range header {
			switch strings.ToLower(strings.TrimSpace(col)) {
			case "uri":
				uriCol = i
			case "id":
				idCol = i
			}
		}
		m.logger.Debug("CSV header detected", zap.Strings("columns", header))

		return func() (ManifestRow, error) {
			record, err := reader.Read()
			if err != nil {
				return ManifestRow{}, err
			}
			var row ManifestRow
			if uriCol < len(record) {
				row.URI = record[uriCol]
			}
			if idCol >= 0 && idCol < len(record) {
				row.ID = record[idCol]
			}
			return row, nil
		}, noop, nil

	case FormatJSON:
		decoder := json.NewDecoder(file)
		return func() (ManifestRow, error) {
			var row ManifestRow
			err := decoder.Decode(&row)
			return row, err
		}, noop, nil

	case FormatParquet:
		reader := parquet.NewReader(file)
		return func() (ManifestRow, error) {
			var row ManifestRow
			err := reader.Read(&row)
			return row, err
		}, func() { reader.Close() }, nil

	default:
		return nil, noop, fmt.Errorf("unsupported manifest format: %s", m.format)
	}
}
