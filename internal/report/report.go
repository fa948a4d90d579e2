// Package report renders issue reports and surveys into the documents the
// relay emails: a CSV attachment and an HTML message body.
package report

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/pathlabs/trackmate/internal/domain"
)

// =============================================================================
// Brand Colors
// =============================================================================

// BrandColors defines the palette shared by the email templates.
var BrandColors = struct {
	ReportHeader string // Issue report header band
	SurveyHeader string // Survey header band
	TextDark     string
	TextMuted    string
	Border       string
	Background   string
}{
	ReportHeader: "#F57C00",
	SurveyHeader: "#4CAF50",
	TextDark:     "#333333",
	TextMuted:    "#666666",
	Border:       "#DDDDDD",
	Background:   "#F5F5F5",
}

// =============================================================================
// Issue Type and Urgency Colors
// =============================================================================

// IssueTypeColors maps issue categories to badge colors.
var IssueTypeColors = map[domain.IssueType]string{
	domain.IssueFallenTree:          "#8D6E63",
	domain.IssueDamagedTrail:        "#795548",
	domain.IssueDamagedSign:         "#FF9800",
	domain.IssueDamagedShelter:      "#F57C00",
	domain.IssueWaterSource:         "#03A9F4",
	domain.IssueWildlifeConcern:     "#4CAF50",
	domain.IssueOvergrownVegetation: "#8BC34A",
	domain.IssueOther:               "#9E9E9E",
}

// UrgencyColors maps urgency levels to badge colors.
var UrgencyColors = map[domain.Urgency]string{
	domain.UrgencyLow:    "#4CAF50",
	domain.UrgencyMedium: "#FF9800",
	domain.UrgencyHigh:   "#F44336",
}

// IssueTypeColor returns the badge color for an issue type.
func IssueTypeColor(t domain.IssueType) string {
	if color, ok := IssueTypeColors[t]; ok {
		return color
	}
	return IssueTypeColors[domain.IssueOther]
}

// UrgencyColor returns the badge color for an urgency level. Unknown levels
// are shown as medium.
func UrgencyColor(u domain.Urgency) string {
	if color, ok := UrgencyColors[u]; ok {
		return color
	}
	return UrgencyColors[domain.UrgencyMedium]
}

var titleCaser = cases.Title(language.English)

// UrgencyLabel returns a human-readable label for urgency.
func UrgencyLabel(u domain.Urgency) string {
	if u == "" {
		return "Medium"
	}
	return titleCaser.String(string(u))
}

// =============================================================================
// Naming
// =============================================================================

// Subject is the email subject for a relayed issue report.
func Subject(reportID string) string {
	return fmt.Sprintf("%s - TrackMate Issue Report", reportID)
}

// SurveySubject is the email subject for a relayed survey.
func SurveySubject(surveyID string) string {
	return fmt.Sprintf("%s - TrackMate Survey Submission", surveyID)
}

// FileName is the CSV attachment name for a report.
func FileName(r *domain.IssueReport) string {
	return r.ReportID + "_issue_report.csv"
}

// PhotoFileName names a photo attachment from its MIME type, e.g. image/png
// becomes <id>_photo.png. Types without a subtype fall back to jpg.
func PhotoFileName(reportID, contentType string) string {
	ext := "jpg"
	if _, sub, ok := strings.Cut(contentType, "/"); ok && sub != "" {
		ext = sub
	}
	return fmt.Sprintf("%s_photo.%s", reportID, ext)
}

// FormatDateTime formats a timestamp for display in emails.
func FormatDateTime(t time.Time) string {
	return t.Format("January 2, 2006 at 3:04 PM")
}
