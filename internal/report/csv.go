package report

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pathlabs/trackmate/internal/domain"
)

// Headers is the column order of an issue report CSV.
var Headers = []string{
	"ReportID",
	"Name",
	"Email",
	"Telephone",
	"DateObserved",
	"IssueType",
	"Urgency",
	"Latitude",
	"Longitude",
	"Accuracy",
	"LocationDescription",
	"Comments",
	"SubmissionDate",
	"HasPhoto",
}

// CSV renders r as a header row and one value row. The document has no
// trailing newline.
func CSV(r *domain.IssueReport, submitted time.Time, hasPhoto bool) (string, error) {
	var lat, lng, acc string
	if c := r.Coordinates; c != nil {
		lat = formatFloat(c.Latitude)
		lng = formatFloat(c.Longitude)
		if c.Accuracy != nil {
			acc = formatFloat(*c.Accuracy)
		}
	}

	photo := "No"
	if hasPhoto {
		photo = "Yes"
	}

	row := []string{
		r.ReportID,
		r.Name,
		r.Email,
		r.Telephone,
		r.DateObserved,
		r.IssueType.String(),
		r.Urgency.String(),
		lat,
		lng,
		acc,
		r.LocationDescription,
		r.Description,
		submitted.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		photo,
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.WriteAll([][]string{Headers, row}); err != nil {
		return "", fmt.Errorf("write csv: %w", err)
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
