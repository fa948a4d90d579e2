package report

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"math"
	"time"

	"github.com/pathlabs/trackmate/internal/domain"
)

//go:embed templates/*.html
var templateFS embed.FS

var templates = template.Must(
	template.New("email").Funcs(template.FuncMap{
		"formatDateTime": FormatDateTime,
	}).ParseFS(templateFS, "templates/*.html"),
)

type issueReportData struct {
	Report         *domain.IssueReport
	Colors         interface{}
	IssueTypeColor string
	UrgencyColor   string
	UrgencyLabel   string
	Accuracy       string
	HasPhoto       bool
	Submitted      time.Time
}

type surveyData struct {
	SurveyID  string
	Colors    interface{}
	Submitted time.Time
}

// HTMLBody renders the HTML email body for an issue report.
func HTMLBody(r *domain.IssueReport, submitted time.Time, hasPhoto bool) (string, error) {
	var accuracy string
	if r.Coordinates != nil && r.Coordinates.Accuracy != nil {
		accuracy = fmt.Sprintf("%.0f", math.Round(*r.Coordinates.Accuracy))
	}
	return render("issue_report.html", issueReportData{
		Report:         r,
		Colors:         BrandColors,
		IssueTypeColor: IssueTypeColor(r.IssueType),
		UrgencyColor:   UrgencyColor(r.Urgency),
		UrgencyLabel:   UrgencyLabel(r.Urgency),
		Accuracy:       accuracy,
		HasPhoto:       hasPhoto,
		Submitted:      submitted,
	})
}

// SurveyHTMLBody renders the HTML email body for a survey.
func SurveyHTMLBody(surveyID string, submitted time.Time) (string, error) {
	return render("survey.html", surveyData{
		SurveyID:  surveyID,
		Colors:    BrandColors,
		Submitted: submitted,
	})
}

// TextBody is the plain text alternative for a JSON issue report email.
func TextBody(submitted time.Time) string {
	return fmt.Sprintf("Issue report submitted via TrackMate app on %s.", FormatDateTime(submitted))
}

// SurveyTextBody is the plain text alternative for a survey email.
func SurveyTextBody(submitted time.Time) string {
	return fmt.Sprintf("Survey submission from TrackMate app on %s.", FormatDateTime(submitted))
}

// LegacyTextBody is the body of an email relaying a client-built CSV.
const LegacyTextBody = "Please find attached the issue report."

func render(name string, data interface{}) (string, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return buf.String(), nil
}
