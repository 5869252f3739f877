package models

// Reading represents a single day's meter reading
type Reading struct {
	Date            string  `json:"date"`                 // YYYY-MM-DD
	CumulativeUsage float64 `json:"cumulative_usage_kwh"` // Running meter total
	DailyUsage      float64 `json:"daily_usage_kwh"`      // That day's delta
}

// MonthReadings holds the readings returned for one (year, month) query
type MonthReadings struct {
	Year     int       `json:"year"`
	Month    int       `json:"month"`
	Readings []Reading `json:"data"`
}

// TotalDailyUsage sums the daily deltas of the month
func (m *MonthReadings) TotalDailyUsage() float64 {
	var total float64
	for _, r := range m.Readings {
		total += r.DailyUsage
	}
	return total
}
