package mapper

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strconv"

	"github.com/Guizzs26/hff-sync/internal/ingest"
	"github.com/Guizzs26/hff-sync/internal/models"
)

const registerTitle = "HFF Attendance Register"

// SheetBuilder renders registrations back into the register template, so an
// export can be re-imported by the ingestion parser without loss
type SheetBuilder struct {
	layout ingest.Layout
	logger *slog.Logger
}

func NewSheetBuilder(layout ingest.Layout, logger *slog.Logger) *SheetBuilder {
	return &SheetBuilder{layout: layout, logger: logger}
}

// Participants decodes the payload of every record. Records whose payload is
// not a participant are skipped with a warning.
func (b *SheetBuilder) Participants(records []models.RemoteRecord) []models.Participant {
	out := make([]models.Participant, 0, len(records))
	for _, rec := range records {
		var p models.Participant
		if err := json.Unmarshal(rec.Payload, &p); err != nil {
			b.logger.Warn("Skipping record with unreadable payload", "uuid", rec.UUID, "error", err)
			continue
		}
		out = append(out, p)
	}
	return out
}

// BuildGrid lays participants out in template order. Sessions beyond the
// template's attendance columns are dropped, the earliest labels are kept.
func (b *SheetBuilder) BuildGrid(participants []models.Participant, dates []string) ([][]string, error) {
	l := b.layout
	if err := l.Validate(); err != nil {
		return nil, fmt.Errorf("invalid layout: %w", err)
	}
	width := l.Width()

	if len(dates) > len(l.AttendanceCols) {
		b.logger.Warn("More sessions than template columns, truncating export",
			"sessions", len(dates),
			"columns", len(l.AttendanceCols),
		)
		dates = dates[:len(l.AttendanceCols)]
	}

	grid := make([][]string, l.DataStartRow, l.DataStartRow+len(participants))
	for i := range grid {
		grid[i] = make([]string, width)
	}
	grid[0][0] = registerTitle

	header := grid[l.HeaderRow]
	header[l.IDCol] = "No."
	header[l.FirstNameCol] = "First Name"
	header[l.LastNameCol] = "Last Name"
	header[l.GenderCol] = "Sex"
	header[l.AgeCol] = "Age"
	header[l.EducationCol] = "Education"
	header[l.MaritalStatusCol] = "Marital Status"
	header[l.OccupationCol] = "Occupation"

	for i, d := range dates {
		grid[l.DateRow][l.AttendanceCols[i]] = d
	}

	sorted := make([]models.Participant, len(participants))
	copy(sorted, participants)
	sort.SliceStable(sorted, func(i, j int) bool { return lessID(sorted[i].ID, sorted[j].ID) })

	for _, p := range sorted {
		row := make([]string, width)
		row[l.IDCol] = p.ID
		row[l.FirstNameCol] = p.FirstName
		row[l.LastNameCol] = p.LastName
		row[l.GenderCol] = p.Gender
		row[l.AgeCol] = p.Age
		row[l.EducationCol] = p.Education
		row[l.MaritalStatusCol] = p.MaritalStatus
		row[l.OccupationCol] = p.Occupation

		for i, d := range dates {
			if p.Attendance[d] {
				row[l.AttendanceCols[i]] = "1"
			} else {
				row[l.AttendanceCols[i]] = "0"
			}
		}
		grid = append(grid, row)
	}

	return grid, nil
}

// WriteCSV streams a grid as UTF-8 CSV
func WriteCSV(w io.Writer, grid [][]string) error {
	cw := csv.NewWriter(w)
	if err := cw.WriteAll(grid); err != nil {
		return fmt.Errorf("failed to write register csv: %w", err)
	}
	return nil
}

// lessID orders numeric register numbers numerically and everything else lexically
func lessID(a, b string) bool {
	ai, aErr := strconv.Atoi(a)
	bi, bErr := strconv.Atoi(b)
	switch {
	case aErr == nil && bErr == nil:
		return ai < bi
	case aErr == nil:
		return true
	case bErr == nil:
		return false
	default:
		return a < b
	}
}
