package ingest

import (
	"math"
	"sort"
	"strings"

	"github.com/Guizzs26/hff-sync/internal/models"
)

const unknownCategory = "Unknown"

// ComputeAnalytics summarizes participants over the campaign sessions
func ComputeAnalytics(participants []models.Participant, dates []string) models.Analytics {
	a := models.Analytics{
		TotalRegistered: len(participants),
		DailyStats:      make([]models.DailyStat, 0, len(dates)),
		Demographics: models.Demographics{
			Gender:        map[string]int{},
			Education:     map[string]int{},
			MaritalStatus: map[string]int{},
		},
	}

	for _, p := range participants {
		if p.DaysAttended > 0 {
			a.UniqueAttendees++
		}
		a.Demographics.Gender[category(p.Gender)]++
		a.Demographics.Education[category(p.Education)]++
		a.Demographics.MaritalStatus[category(p.MaritalStatus)]++
	}

	total := 0
	for _, date := range dates {
		count := 0
		for _, p := range participants {
			if p.Attendance[date] {
				count++
			}
		}
		total += count
		a.DailyStats = append(a.DailyStats, models.DailyStat{Date: date, Count: count})
	}

	if len(dates) > 0 {
		a.AvgAttendance = math.Round(float64(total)/float64(len(dates))*10) / 10
	}
	return a
}

// CampaignDatesOf collects the session labels used by participants that may
// come from different register uploads, sorted
func CampaignDatesOf(participants []models.Participant) []string {
	seen := make(map[string]bool)
	var dates []string
	for _, p := range participants {
		for d := range p.Attendance {
			if !seen[d] {
				seen[d] = true
				dates = append(dates, d)
			}
		}
	}
	sort.Strings(dates)
	return dates
}

func category(v string) string {
	v = strings.ToUpper(strings.TrimSpace(v))
	if v == "" {
		return unknownCategory
	}
	return v
}
