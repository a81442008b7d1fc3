package api

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/cellpulse/cellpulse/internal/health"
)

// maxUploadBytes caps one measurement upload (32 MiB).
const maxUploadBytes = 32 << 20

// rowsFromUpload extracts the CSV payload from the request and decodes it
// into engine rows. It accepts either a multipart form with a "file" part or
// a raw CSV request body.
func rowsFromUpload(r *http.Request) ([]health.Row, error) {
	r.Body = http.MaxBytesReader(nil, r.Body, maxUploadBytes)

	contentType := r.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "multipart/form-data") {
		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			return nil, fmt.Errorf("parse multipart form: %w", err)
		}
		file, _, err := r.FormFile("file")
		if err != nil {
			return nil, errors.New(`multipart upload needs a "file" part`)
		}
		defer file.Close()
		return decodeCSV(file)
	}
	return decodeCSV(r.Body)
}

// decodeCSV reads a header row and turns every following record into a
// column-keyed engine row. Unknown columns are carried through; the engine
// ignores them. Short records are padded with empty fields so the engine
// reports them as missing-column rows rather than the whole upload failing.
func decodeCSV(src io.Reader) ([]health.Row, error) {
	reader := csv.NewReader(src)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, errors.New("empty upload: missing CSV header")
	}
	if err != nil {
		return nil, fmt.Errorf("read CSV header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	var rows []health.Row
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read CSV record %d: %w", len(rows)+2, err)
		}
		row := make(health.Row, len(header))
		for i, col := range header {
			if i < len(record) {
				row[col] = strings.TrimSpace(record[i])
			}
		}
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		return nil, errors.New("upload contains a header but no data rows")
	}
	return rows, nil
}
