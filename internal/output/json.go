package output

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/jgoulah/remotemeter/pkg/models"
)

// MonthFilename is the default output file for a single month
func MonthFilename(year, month int) string {
	return fmt.Sprintf("meter_data_%d_%02d.json", year, month)
}

// RangeFilename is the default output file for a month range
func RangeFilename(startYear, startMonth, endYear, endMonth int) string {
	return fmt.Sprintf("meter_data_%d_%02d-%d_%02d.json", startYear, startMonth, endYear, endMonth)
}

// WriteJSON writes v as indented JSON. Korean text and markup characters
// are written as-is.
func WriteJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encoding json: %w", err)
	}
	return nil
}

// WriteFile writes v as JSON to path and returns the number of bytes written
func WriteFile(path string, v any) (int, error) {
	var buf bytes.Buffer
	if err := WriteJSON(&buf, v); err != nil {
		return 0, err
	}
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return 0, fmt.Errorf("writing %s: %w", path, err)
	}
	return buf.Len(), nil
}

// ReadFile reads a file written by WriteFile. Both the single month object
// and the month array forms are accepted.
func ReadFile(path string) ([]models.MonthReadings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("%s is empty", path)
	}

	if data[0] == '[' {
		var months []models.MonthReadings
		if err := json.Unmarshal(data, &months); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
		return months, nil
	}

	var month models.MonthReadings
	if err := json.Unmarshal(data, &month); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return []models.MonthReadings{month}, nil
}
