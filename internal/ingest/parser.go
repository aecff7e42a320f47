// Package ingest turns an attendance register export (a grid of cells in the
// fixed template layout) into participants, campaign dates, skipped-row
// diagnostics and campaign analytics.
package ingest

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/Guizzs26/hff-sync/internal/models"
	"github.com/google/uuid"
)

const (
	ReasonMissingIdentity = "Missing ID or First Name"
	ReasonInvalidGender   = "Missing or Invalid Gender"
)

// ErrFileTooShort is returned when the grid ends before the first data row
var ErrFileTooShort = errors.New("file too short")

// participantNamespace scopes the deterministic uuids of register participants
var participantNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("hff-sync/participant"))

// Parser reads registers in one template layout
type Parser struct {
	layout Layout
}

func NewParser(layout Layout) *Parser {
	return &Parser{layout: layout}
}

// Parse uses DefaultLayout
func Parse(grid [][]string) (models.Register, error) {
	return NewParser(DefaultLayout()).Parse(grid)
}

// Parse never aborts on a bad row: rows that fail validation are reported in SkippedRows
func (p *Parser) Parse(grid [][]string) (models.Register, error) {
	l := p.layout
	if len(grid) < l.DataStartRow {
		return models.Register{}, fmt.Errorf("%w: %d rows, data starts at row %d", ErrFileTooShort, len(grid), l.DataStartRow+1)
	}

	dates := campaignDates(grid[l.DateRow], l.AttendanceCols)

	reg := models.Register{
		Participants:  []models.Participant{},
		CampaignDates: dates,
		SkippedRows:   []models.SkippedRow{},
	}

	for i := l.DataStartRow; i < len(grid); i++ {
		row := grid[i]
		id := cell(row, l.IDCol)
		firstName := cell(row, l.FirstNameCol)

		if id == "" || firstName == "" {
			// Blank separator and footer rows are dropped silently
			if id != "" || firstName != "" {
				reg.SkippedRows = append(reg.SkippedRows, models.SkippedRow{
					Row:    i + 1,
					Reason: ReasonMissingIdentity,
				})
			}
			continue
		}

		gender, ok := normalizeGender(cell(row, l.GenderCol))
		if !ok {
			reg.SkippedRows = append(reg.SkippedRows, models.SkippedRow{
				Row:    i + 1,
				Name:   firstName,
				Reason: ReasonInvalidGender,
			})
			continue
		}

		participant := models.Participant{
			ID:            id,
			FirstName:     firstName,
			LastName:      cell(row, l.LastNameCol),
			Gender:        gender,
			Age:           cell(row, l.AgeCol),
			Education:     cell(row, l.EducationCol),
			MaritalStatus: cell(row, l.MaritalStatusCol),
			Occupation:    cell(row, l.OccupationCol),
			Attendance:    make(map[string]bool, len(dates)),
		}

		for idx, col := range l.AttendanceCols {
			present := isPresent(cell(row, col))
			participant.Attendance[dates[idx]] = present
			if present {
				participant.DaysAttended++
			}
		}

		reg.Participants = append(reg.Participants, participant)
	}

	reg.Analytics = ComputeAnalytics(reg.Participants, dates)
	return reg, nil
}

// ParticipantUUID derives a stable record identity from the register row,
// so re-importing the same register updates records instead of duplicating them
func ParticipantUUID(p models.Participant) string {
	key := strings.ToLower(strings.Join([]string{
		strings.TrimSpace(p.ID),
		strings.TrimSpace(p.FirstName),
		strings.TrimSpace(p.LastName),
	}, "|"))
	return uuid.NewSHA1(participantNamespace, []byte(key)).String()
}

// campaignDates labels every attendance column. Missing and repeated labels
// fall back to "Day <col>" so that each column keeps its own key.
func campaignDates(dateRow []string, cols []int) []string {
	dates := make([]string, len(cols))
	seen := make(map[string]bool, len(cols))
	for i, col := range cols {
		label := cell(dateRow, col)
		if label == "" || seen[label] {
			label = fmt.Sprintf("Day %d", col)
		}
		seen[label] = true
		dates[i] = label
	}
	return dates
}

func cell(row []string, col int) string {
	if col < 0 || col >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[col])
}

func normalizeGender(raw string) (string, bool) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "M", "MALE":
		return "M", true
	case "F", "FEMALE":
		return "F", true
	}
	return "", false
}

// isPresent accepts the numeric forms spreadsheets produce for 1 ("1", "1.0", "01")
func isPresent(v string) bool {
	if v == "" {
		return false
	}
	f, err := strconv.ParseFloat(v, 64)
	return err == nil && f == 1
}
