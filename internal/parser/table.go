package parser

import (
	"fmt"
	"math"
	"regexp"
	"strconv"

	"github.com/jgoulah/remotemeter/internal/htmldoc"
	"github.com/jgoulah/remotemeter/pkg/models"
)

// The readings table is the only one on the page with this width/background pair
const (
	tableWidth   = "520"
	tableBgColor = "#cccccc"
)

var (
	dateRe  = regexp.MustCompile(`(\d{4})년[\s\x{00A0}]*(\d{2})월[\s\x{00A0}]*(\d{2})일`)
	usageRe = regexp.MustCompile(`[\d.]+`)
)

// ParseMeterTable extracts the daily readings from a remote meter page.
// Rows that don't yield a date and both usage values are skipped, and
// markup without the readings table yields no readings.
func ParseMeterTable(html string) []models.Reading {
	doc, err := htmldoc.Parse(html)
	if err != nil {
		return []models.Reading{}
	}
	return ParseMeterDocument(doc)
}

// ParseMeterDocument is ParseMeterTable for an already parsed page
func ParseMeterDocument(doc htmldoc.Node) []models.Reading {
	readings := []models.Reading{}

	table, ok := doc.FindFirst("table",
		htmldoc.AttrEquals("width", tableWidth),
		htmldoc.AttrEquals("bgcolor", tableBgColor),
	)
	if !ok {
		return readings
	}

	rows := table.FindAll("tr")
	if len(rows) == 0 {
		return readings
	}

	// First row is the header
	for _, row := range rows[1:] {
		cells := row.FindAll("td")
		if len(cells) < 3 {
			continue
		}
		if r, ok := parseRow(cells[0].Text(), cells[1].Text(), cells[2].Text()); ok {
			readings = append(readings, r)
		}
	}

	return readings
}

func parseRow(dateText, cumulativeText, dailyText string) (models.Reading, bool) {
	date, ok := parseDate(dateText)
	if !ok {
		return models.Reading{}, false
	}
	cumulative, ok := parseUsage(cumulativeText)
	if !ok {
		return models.Reading{}, false
	}
	daily, ok := parseUsage(dailyText)
	if !ok {
		return models.Reading{}, false
	}

	return models.Reading{
		Date:            date,
		CumulativeUsage: cumulative,
		DailyUsage:      daily,
	}, true
}

// parseDate turns "2025년 08월 01일" into "2025-08-01"
func parseDate(text string) (string, bool) {
	m := dateRe.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return fmt.Sprintf("%s-%s-%s", m[1], m[2], m[3]), true
}

// parseUsage reads the first decimal number in text, ignoring the unit suffix
func parseUsage(text string) (float64, bool) {
	s := usageRe.FindString(text)
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsInf(v, 0) || math.IsNaN(v) {
		return 0, false
	}
	return v, true
}
