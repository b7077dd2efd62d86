// Package csvfile implements ports.RecipientSource over a CSV export of
// the sender sheet: one row per recipient, columns
// rawPhone,displayName,messageBody. A leading header row is tolerated.
package csvfile

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang-wa-dispatch/internal/domain"
)

// Source reads the recipient batch from one CSV file. The file is re-read
// on every Load so successive runs pick up edits.
type Source struct {
	path string
}

// New creates a Source for the given file path.
func New(path string) *Source {
	return &Source{path: path}
}

// Load parses the file into recipient rows, preserving file order. Short
// rows are padded with empty fields; the engine's validation decides what
// to skip, not the source.
func (s *Source) Load(ctx context.Context) ([]domain.RecipientRow, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("open recipient file: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	var rows []domain.RecipientRow
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read recipient row: %w", err)
		}
		if len(rows) == 0 && isHeader(rec) {
			continue
		}

		rows = append(rows, domain.RecipientRow{
			RawPhone:    field(rec, 0),
			DisplayName: field(rec, 1),
			MessageBody: field(rec, 2),
		})
	}
	return rows, nil
}

func isHeader(rec []string) bool {
	if len(rec) == 0 {
		return false
	}
	first := strings.ToLower(strings.TrimSpace(rec[0]))
	return first == "phone" || first == "rawphone" || first == "raw_phone"
}

func field(rec []string, i int) string {
	if i >= len(rec) {
		return ""
	}
	return rec[i]
}
