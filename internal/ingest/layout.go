package ingest

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Layout locates the fields of the register template. All indexes are 0-based.
type Layout struct {
	HeaderRow      int   `yaml:"header_row"`
	DateRow        int   `yaml:"date_row"`
	DataStartRow   int   `yaml:"data_start_row"`
	AttendanceCols []int `yaml:"attendance_cols"`

	IDCol            int `yaml:"id_col"`
	FirstNameCol     int `yaml:"first_name_col"`
	LastNameCol      int `yaml:"last_name_col"`
	GenderCol        int `yaml:"gender_col"`
	AgeCol           int `yaml:"age_col"`
	EducationCol     int `yaml:"education_col"`
	MaritalStatusCol int `yaml:"marital_status_col"`
	OccupationCol    int `yaml:"occupation_col"`
}

// DefaultLayout is the template observed in the field registers
func DefaultLayout() Layout {
	return Layout{
		HeaderRow:      8,
		DateRow:        9,
		DataStartRow:   10,
		AttendanceCols: []int{10, 11, 12, 13, 14, 15, 16, 17, 18, 19, 20, 21},

		IDCol:            0,
		FirstNameCol:     1,
		LastNameCol:      2,
		GenderCol:        3,
		AgeCol:           4,
		EducationCol:     6,
		MaritalStatusCol: 7,
		OccupationCol:    9,
	}
}

// LoadLayout reads a YAML layout file. Keys absent from the file keep their default value.
// An empty path returns DefaultLayout.
func LoadLayout(path string) (Layout, error) {
	layout := DefaultLayout()
	if path == "" {
		return layout, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return layout, fmt.Errorf("failed to read layout file: %w", err)
	}
	if err := yaml.Unmarshal(data, &layout); err != nil {
		return layout, fmt.Errorf("failed to parse layout file: %w", err)
	}
	if err := layout.Validate(); err != nil {
		return layout, fmt.Errorf("invalid layout %s: %w", path, err)
	}
	return layout, nil
}

func (l Layout) Validate() error {
	if l.HeaderRow < 0 || l.DateRow < 0 || l.DataStartRow < 0 {
		return fmt.Errorf("row indexes must not be negative")
	}
	if l.DataStartRow <= l.DateRow || l.DataStartRow <= l.HeaderRow {
		return fmt.Errorf("data_start_row (%d) must come after the header and date rows", l.DataStartRow)
	}
	if len(l.AttendanceCols) == 0 {
		return fmt.Errorf("attendance_cols is empty")
	}
	for _, c := range append([]int{l.IDCol, l.FirstNameCol, l.GenderCol}, l.AttendanceCols...) {
		if c < 0 {
			return fmt.Errorf("column index %d is negative", c)
		}
	}
	return nil
}

// Width is the number of columns a template row needs to hold every field
func (l Layout) Width() int {
	w := 0
	cols := append([]int{
		l.IDCol, l.FirstNameCol, l.LastNameCol, l.GenderCol, l.AgeCol,
		l.EducationCol, l.MaritalStatusCol, l.OccupationCol,
	}, l.AttendanceCols...)
	for _, c := range cols {
		if c+1 > w {
			w = c + 1
		}
	}
	return w
}
