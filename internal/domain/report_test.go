package domain

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validReport(now time.Time) IssueReport {
	return IssueReport{
		ReportID:     "BTF-20261018-101500-1234",
		IssueType:    IssueFallenTree,
		Urgency:      UrgencyHigh,
		Name:         "Jo Walker",
		Email:        "jo@example.com",
		DateObserved: now.Format(DateLayout),
		Description:  "Large tree across the track",
		Coordinates:  &Coordinates{Latitude: -32.0, Longitude: 116.1},
	}
}

func TestIssueReport_Validate(t *testing.T) {
	now := time.Date(2026, 10, 18, 14, 30, 0, 0, time.UTC)
	negative := -1.0

	tests := []struct {
		name      string
		mutate    func(r *IssueReport)
		wantField string
	}{
		{name: "valid report", mutate: func(r *IssueReport) {}},
		{name: "missing name", mutate: func(r *IssueReport) { r.Name = "" }, wantField: "name"},
		{name: "missing email", mutate: func(r *IssueReport) { r.Email = "" }, wantField: "email"},
		{name: "malformed email", mutate: func(r *IssueReport) { r.Email = "jo@example" }, wantField: "email"},
		{name: "missing date", mutate: func(r *IssueReport) { r.DateObserved = "" }, wantField: "dateObserved"},
		{name: "unparseable date", mutate: func(r *IssueReport) { r.DateObserved = "18/10/2026" }, wantField: "dateObserved"},
		{name: "future date", mutate: func(r *IssueReport) { r.DateObserved = "2026-10-19" }, wantField: "dateObserved"},
		{name: "date 28 days ago", mutate: func(r *IssueReport) { r.DateObserved = "2026-09-20" }},
		{name: "date 29 days ago", mutate: func(r *IssueReport) { r.DateObserved = "2026-09-19" }, wantField: "dateObserved"},
		{
			name: "no location at all",
			mutate: func(r *IssueReport) {
				r.Coordinates = nil
				r.LocationDescription = ""
			},
			wantField: "location",
		},
		{
			name: "description instead of coordinates",
			mutate: func(r *IssueReport) {
				r.Coordinates = nil
				r.LocationDescription = "2km north of Helena hut"
			},
		},
		{name: "latitude out of range", mutate: func(r *IssueReport) { r.Coordinates.Latitude = 91 }, wantField: "coordinates"},
		{name: "longitude NaN", mutate: func(r *IssueReport) { r.Coordinates.Longitude = math.NaN() }, wantField: "coordinates"},
		{name: "negative accuracy", mutate: func(r *IssueReport) { r.Coordinates.Accuracy = &negative }, wantField: "coordinates"},
		{name: "missing description", mutate: func(r *IssueReport) { r.Description = "" }, wantField: "comments"},
		{name: "unknown urgency", mutate: func(r *IssueReport) { r.Urgency = "urgent" }, wantField: "urgency"},
		{name: "unknown issue type", mutate: func(r *IssueReport) { r.IssueType = "Bears" }, wantField: "issueType"},
		{name: "issue type left to Normalize", mutate: func(r *IssueReport) { r.IssueType = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := validReport(now)
			tt.mutate(&r)

			err := r.Validate(now)
			if tt.wantField == "" {
				assert.NoError(t, err)
				return
			}

			var ve *ValidationError
			require.True(t, errors.As(err, &ve), "expected *ValidationError, got %T", err)
			assert.Contains(t, ve.Fields, tt.wantField)
			assert.Equal(t, EINVALID, ErrorCode(err))
		})
	}
}

func TestIssueReport_Normalize(t *testing.T) {
	r := IssueReport{Name: "  Jo ", Urgency: " HIGH "}
	r.Normalize()
	assert.Equal(t, "Jo", r.Name)
	assert.Equal(t, UrgencyHigh, r.Urgency)

	empty := IssueReport{}
	empty.Normalize()
	assert.Equal(t, UrgencyMedium, empty.Urgency)
	assert.Equal(t, IssueOther, empty.IssueType)

	padded := IssueReport{IssueType: " Fallen Tree "}
	padded.Normalize()
	assert.Equal(t, IssueFallenTree, padded.IssueType)
}

func TestNewReportID(t *testing.T) {
	now := time.Date(2026, 3, 7, 9, 5, 2, 0, time.UTC)
	pattern := regexp.MustCompile(`^BTF-20260307-090502-[1-9]\d{3}$`)

	for i := 0; i < 50; i++ {
		id := NewReportID(now)
		assert.Regexp(t, pattern, id)
	}
	assert.Equal(t, "BTF-20260307-090502", NewLegacyReportID(now))
}

func TestIssueType_IsKnown(t *testing.T) {
	assert.True(t, IssueWaterSource.IsKnown())
	assert.False(t, IssueType("Bears").IsKnown())
}

func TestValidationError_Error(t *testing.T) {
	ve := &ValidationError{Op: "report.validate"}
	assert.NoError(t, ve.Err())

	ve.Add("name", "Name is required")
	ve.Add("name", "ignored")
	ve.Add("email", "Email is required")
	assert.Equal(t, "report.validate: validation failed (email: Email is required; name: Name is required)", ve.Error())
}

func TestErrorCode(t *testing.T) {
	assert.Equal(t, "", ErrorCode(nil))
	assert.Equal(t, EINTERNAL, ErrorCode(errors.New("boom")))
	assert.Equal(t, ENOTFOUND, ErrorCode(NotFound("queue.get", "entry", "x")))
	assert.Equal(t, EUNAVAILABLE, ErrorCode(Unavailable(errors.New("dial"), "relay.send", "relay unreachable")))

	wrapped := Wrap(errors.New("disk full"), EINTERNAL, "queue.enqueue", "failed to store entry")
	assert.Equal(t, "queue.enqueue: failed to store entry: disk full", wrapped.Error())
}

func TestErrorMessageOpCause(t *testing.T) {
	err := fmt.Errorf("relay: %w", Unavailable(errors.New("dial tcp: connection refused"), "relay.send_report", "Failed to send report"))
	assert.Equal(t, "Failed to send report", ErrorMessage(err))
	assert.Equal(t, "relay.send_report", ErrorOp(err))
	assert.Equal(t, "dial tcp: connection refused", ErrorCause(err))

	ve := NewValidationError("report.validate", "email", "Email is required")
	assert.Equal(t, "Validation failed", ErrorMessage(ve))
	assert.Equal(t, "report.validate", ErrorOp(ve))

	plain := errors.New("boom")
	assert.Equal(t, "An internal error occurred", ErrorMessage(plain))
	assert.Equal(t, "", ErrorOp(plain))
	assert.Equal(t, "boom", ErrorCause(plain))
	assert.Equal(t, "bad input", ErrorCause(Invalid("op", "bad input")))
}

func TestSurvey_Validate(t *testing.T) {
	s := Survey{SurveyID: "BTF-20261018-101500-1234"}
	assert.Error(t, s.Validate())

	s.CSVData = "a,b\n1,2"
	assert.NoError(t, s.Validate())
	assert.Equal(t, "BTF-20261018-101500-1234_survey.csv", s.FileName())
}
