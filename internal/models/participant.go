package models

// Participant is the payload carried by a registration record
type Participant struct {
	ID            string          `json:"id"`
	FirstName     string          `json:"firstName"`
	LastName      string          `json:"lastName,omitempty"`
	Gender        string          `json:"gender"` // normalized: M or F
	Age           string          `json:"age,omitempty"`
	Education     string          `json:"education,omitempty"`     // P, J, S, U
	MaritalStatus string          `json:"maritalStatus,omitempty"` // S, M, W, D, C
	Occupation    string          `json:"occupation,omitempty"`
	Attendance    map[string]bool `json:"attendance"` // session label -> present
	DaysAttended  int             `json:"daysAttended"`
}

// SkippedRow reports a register row excluded from the parsed result
type SkippedRow struct {
	Row    int    `json:"row"` // 1-based, as shown by spreadsheet software
	Name   string `json:"name,omitempty"`
	Reason string `json:"reason"`
}

// DailyStat is the attendance count of one session
type DailyStat struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

// Demographics holds the categorical distributions of the registered participants
type Demographics struct {
	Gender        map[string]int `json:"gender"`
	Education     map[string]int `json:"education"`
	MaritalStatus map[string]int `json:"maritalStatus"`
}

// Analytics is the campaign-level summary derived from a register
type Analytics struct {
	TotalRegistered int          `json:"totalRegistered"`
	UniqueAttendees int          `json:"uniqueAttendees"`
	AvgAttendance   float64      `json:"avgAttendance"`
	DailyStats      []DailyStat  `json:"dailyStats"`
	Demographics    Demographics `json:"demographics"`
}

// Register is the parsed form of an attendance register export
type Register struct {
	Participants  []Participant `json:"participants"`
	Analytics     Analytics     `json:"analytics"`
	CampaignDates []string      `json:"campaignDates"`
	SkippedRows   []SkippedRow  `json:"skippedRows"`
}
