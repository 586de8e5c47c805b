package models

// Adherence bands, matching the calendar colours of the mobile app
const (
	AdherencePerfect = "perfect"
	AdherenceGood    = "good" // >= 80%
	AdherencePoor    = "poor"
)

// DaySummary aggregates the resolved doses of one calendar day
type DaySummary struct {
	Date             string  `json:"date"`
	Total            int     `json:"total"`
	TakenOnTime      int     `json:"takenOnTime"`
	TakenLate        int     `json:"takenLate"`
	SnoozedThenTaken int     `json:"snoozedThenTaken"`
	Skipped          int     `json:"skipped"`
	Missed           int     `json:"missed"`
	Rate             float64 `json:"rate"`
	Band             string  `json:"band"`
}

// Taken is the number of doses taken in any way
func (s DaySummary) Taken() int {
	return s.TakenOnTime + s.TakenLate + s.SnoozedThenTaken
}

// Add counts one resolution
func (s *DaySummary) Add(kind ResolutionKind) {
	s.Total++
	switch kind {
	case ResolutionTakenOnTime:
		s.TakenOnTime++
	case ResolutionTakenLate:
		s.TakenLate++
	case ResolutionSnoozedThenTaken:
		s.SnoozedThenTaken++
	case ResolutionSkipped:
		s.Skipped++
	case ResolutionMissed:
		s.Missed++
	}
	s.Rate = float64(s.Taken()) / float64(s.Total)
	s.Band = AdherenceBand(s.Rate)
}

// AdherenceBand classifies a taken/total rate
func AdherenceBand(rate float64) string {
	switch {
	case rate >= 1:
		return AdherencePerfect
	case rate >= 0.8:
		return AdherenceGood
	default:
		return AdherencePoor
	}
}

// AdherenceReport covers a date range
type AdherenceReport struct {
	From        string       `json:"from"`
	To          string       `json:"to"`
	Days        []DaySummary `json:"days"`
	Total       int          `json:"total"`
	Taken       int          `json:"taken"`
	OverallRate float64      `json:"overallRate"`
}
