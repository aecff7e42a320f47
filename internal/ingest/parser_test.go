package ingest

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Guizzs26/hff-sync/internal/models"
)

// templateGrid builds a register with the title block, header and date rows
// of the default layout followed by the given data rows
func templateGrid(dates []string, rows ...[]string) [][]string {
	grid := make([][]string, 0, 10+len(rows))
	for i := 0; i < 8; i++ {
		grid = append(grid, []string{""})
	}
	grid = append(grid, []string{"No.", "First Name", "Last Name", "Sex", "Age", "", "Edu", "Marital", "", "Occupation"})

	dateRow := make([]string, 22)
	copy(dateRow[10:], dates)
	grid = append(grid, dateRow)

	return append(grid, rows...)
}

func dataRow(id, first, last, gender string, present ...int) []string {
	row := make([]string, 22)
	row[0], row[1], row[2], row[3] = id, first, last, gender
	row[4], row[6], row[7], row[9] = "34", "S", "M", "Trader"
	for _, col := range present {
		row[col] = "1"
	}
	return row
}

func TestParse_FileTooShort(t *testing.T) {
	_, err := Parse(make([][]string, 9))
	if !errors.Is(err, ErrFileTooShort) {
		t.Fatalf("err = %v, want ErrFileTooShort", err)
	}
}

func TestParse_SkipAccounting(t *testing.T) {
	grid := templateGrid([]string{"Mon 3", "Tue 4"},
		dataRow("1", "Amaka", "Obi", "F", 10, 11), // row 11
		dataRow("2", "Tunde", "Ade", "male", 10),  // row 12
		dataRow("3", "Sade", "Bello", "X", 10),    // row 13: invalid gender
		dataRow("", "NoID", "", "F"),              // row 14: missing id
		make([]string, 22),                        // row 15: blank, silently dropped
		dataRow("6", "Zainab", "", "", 11),        // row 16: missing gender
	)

	reg, err := Parse(grid)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if len(reg.Participants) != 2 {
		t.Fatalf("participants = %d, want 2", len(reg.Participants))
	}

	want := []models.SkippedRow{
		{Row: 13, Name: "Sade", Reason: ReasonInvalidGender},
		{Row: 14, Reason: ReasonMissingIdentity},
		{Row: 16, Name: "Zainab", Reason: ReasonInvalidGender},
	}
	if len(reg.SkippedRows) != len(want) {
		t.Fatalf("skipped = %+v, want %+v", reg.SkippedRows, want)
	}
	for i := range want {
		if reg.SkippedRows[i] != want[i] {
			t.Errorf("skipped[%d] = %+v, want %+v", i, reg.SkippedRows[i], want[i])
		}
	}

	tunde := reg.Participants[1]
	if tunde.Gender != "M" || tunde.DaysAttended != 1 || !tunde.Attendance["Mon 3"] || tunde.Attendance["Tue 4"] {
		t.Errorf("participant = %+v", tunde)
	}
}

func TestParse_CampaignDateFallback(t *testing.T) {
	grid := templateGrid([]string{"Week 1", "", "Week 1"})
	reg, err := Parse(grid)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(reg.CampaignDates) != 12 {
		t.Fatalf("dates = %d, want 12", len(reg.CampaignDates))
	}
	if reg.CampaignDates[0] != "Week 1" || reg.CampaignDates[1] != "Day 11" || reg.CampaignDates[2] != "Day 12" {
		t.Errorf("dates = %v", reg.CampaignDates[:3])
	}
}

func TestIsPresent(t *testing.T) {
	tests := map[string]bool{
		"1": true, "1.0": true, "01": true,
		"0": false, "": false, "x": false, "2": false, "P": false,
	}
	for in, want := range tests {
		if got := isPresent(in); got != want {
			t.Errorf("isPresent(%q) = %v, want %v", in, got, want)
		}
	}
	if !isPresent(cell([]string{" 1 "}, 0)) {
		t.Error("padded 1 should count as present after trimming")
	}
}

func TestComputeAnalytics(t *testing.T) {
	grid := templateGrid([]string{"D1", "D2"},
		dataRow("1", "A", "", "F", 10, 11),
		dataRow("2", "B", "", "M", 10),
		dataRow("3", "C", "", "F"),
	)
	grid[12][6] = "" // C has no education

	reg, err := Parse(grid)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	a := reg.Analytics

	if a.TotalRegistered != 3 || a.UniqueAttendees != 2 {
		t.Errorf("totals = %d/%d, want 3/2", a.TotalRegistered, a.UniqueAttendees)
	}
	// 3 attendances over 12 sessions
	if a.AvgAttendance != 0.3 {
		t.Errorf("avg = %v, want 0.3", a.AvgAttendance)
	}
	if a.DailyStats[0] != (models.DailyStat{Date: "D1", Count: 2}) {
		t.Errorf("daily[0] = %+v", a.DailyStats[0])
	}
	if a.Demographics.Gender["F"] != 2 || a.Demographics.Gender["M"] != 1 {
		t.Errorf("gender = %v", a.Demographics.Gender)
	}
	if a.Demographics.Education["Unknown"] != 1 || a.Demographics.Education["S"] != 2 {
		t.Errorf("education = %v", a.Demographics.Education)
	}
}

func TestParticipantUUID_Deterministic(t *testing.T) {
	p := models.Participant{ID: "7", FirstName: "Ebun", LastName: "Cole"}
	q := models.Participant{ID: " 7", FirstName: "EBUN", LastName: "cole "}
	r := models.Participant{ID: "8", FirstName: "Ebun", LastName: "Cole"}

	if ParticipantUUID(p) != ParticipantUUID(q) {
		t.Error("same participant should map to the same uuid")
	}
	if ParticipantUUID(p) == ParticipantUUID(r) {
		t.Error("different ids should map to different uuids")
	}
}

func TestReadCSV_Windows1252AndSemicolons(t *testing.T) {
	// "José" in Windows-1252, ';'-separated
	raw := []byte("No.;First Name;Sex\n1;Jos\xe9;M\n")
	grid, err := ReadCSV(strings.NewReader(string(raw)))
	if err != nil {
		t.Fatalf("ReadCSV: %v", err)
	}
	if len(grid) != 2 || grid[1][1] != "José" {
		t.Errorf("grid = %q", grid)
	}
}

func TestParser_ReadFileWithLayout(t *testing.T) {
	dir := t.TempDir()
	layoutPath := filepath.Join(dir, "layout.yaml")
	os.WriteFile(layoutPath, []byte("header_row: 0\ndate_row: 1\ndata_start_row: 2\nattendance_cols: [4, 5]\n"), 0o644)

	layout, err := LoadLayout(layoutPath)
	if err != nil {
		t.Fatalf("LoadLayout: %v", err)
	}
	if layout.GenderCol != 3 {
		t.Errorf("unspecified keys should keep defaults, gender col = %d", layout.GenderCol)
	}

	csvPath := filepath.Join(dir, "register.csv")
	os.WriteFile(csvPath, []byte("No.,First,Last,Sex,,\n,,,,Jan 5,Jan 6\n1,Kola,Ojo,M,1,0\n"), 0o644)

	reg, err := NewParser(layout).ReadFile(csvPath)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(reg.Participants) != 1 || !reg.Participants[0].Attendance["Jan 5"] || reg.Participants[0].Attendance["Jan 6"] {
		t.Errorf("register = %+v", reg)
	}
}

func TestLoadLayout_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "layout.yaml")
	os.WriteFile(path, []byte("data_start_row: 1\n"), 0o644)

	if _, err := LoadLayout(path); err == nil {
		t.Fatal("expected validation error")
	}
}
