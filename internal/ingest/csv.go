package ingest

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"os"

	"github.com/Guizzs26/hff-sync/internal/models"
	"github.com/Guizzs26/hff-sync/pkg/encoding"
)

const sniffLines = 20

// ReadCSV loads a register export into a grid. The input may be UTF-8 or
// Windows-1252 and may use ';' as separator (Excel in comma-decimal locales).
func ReadCSV(r io.Reader) ([][]string, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read register: %w", err)
	}
	raw = encoding.ToUTF8(raw)

	reader := csv.NewReader(bytes.NewReader(raw))
	reader.Comma = sniffSeparator(raw)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	grid, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse register csv: %w", err)
	}
	return grid, nil
}

// ReadFile reads and parses a register export from disk
func (p *Parser) ReadFile(path string) (models.Register, error) {
	f, err := os.Open(path)
	if err != nil {
		return models.Register{}, fmt.Errorf("failed to open register: %w", err)
	}
	defer f.Close()

	grid, err := ReadCSV(f)
	if err != nil {
		return models.Register{}, err
	}
	return p.Parse(grid)
}

func sniffSeparator(raw []byte) rune {
	var commas, semicolons int
	for i, line := range bytes.SplitN(raw, []byte{'\n'}, sniffLines+1) {
		if i == sniffLines {
			break
		}
		commas += bytes.Count(line, []byte{','})
		semicolons += bytes.Count(line, []byte{';'})
	}
	if semicolons > commas {
		return ';'
	}
	return ','
}
