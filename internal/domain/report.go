// Package domain contains core business types and interfaces.
//
// This file defines the IssueReport type submitted from the field and the
// validation rules applied before a report is sent or queued.
package domain

import (
	"fmt"
	"math/rand/v2"
	"regexp"
	"strings"
	"time"

	"github.com/golang/geo/s2"
)

// =============================================================================
// Urgency
// =============================================================================

// Urgency represents how quickly a reported issue needs attention.
type Urgency string

const (
	UrgencyLow    Urgency = "low"
	UrgencyMedium Urgency = "medium"
	UrgencyHigh   Urgency = "high"
)

// String returns the string representation of the urgency.
func (u Urgency) String() string {
	return string(u)
}

// IsValid returns true if the urgency is a recognized value.
func (u Urgency) IsValid() bool {
	switch u {
	case UrgencyLow, UrgencyMedium, UrgencyHigh:
		return true
	}
	return false
}

// =============================================================================
// Issue Type
// =============================================================================

// IssueType is the category a reporter picked for the issue.
type IssueType string

const (
	IssueFallenTree          IssueType = "Fallen Tree"
	IssueDamagedTrail        IssueType = "Damaged Trail/Erosion"
	IssueDamagedSign         IssueType = "Damaged/Missing Sign"
	IssueDamagedShelter      IssueType = "Damaged Shelter/Facility"
	IssueWaterSource         IssueType = "Water Source Issue"
	IssueWildlifeConcern     IssueType = "Wildlife Concern"
	IssueOvergrownVegetation IssueType = "Overgrown Vegetation"
	IssueOther               IssueType = "Other"
)

// IssueTypes lists the categories offered on the report form.
var IssueTypes = []IssueType{
	IssueFallenTree,
	IssueDamagedTrail,
	IssueDamagedSign,
	IssueDamagedShelter,
	IssueWaterSource,
	IssueWildlifeConcern,
	IssueOvergrownVegetation,
	IssueOther,
}

// String returns the string representation of the issue type.
func (t IssueType) String() string {
	return string(t)
}

// IsKnown returns true if the issue type is one of the form categories.
func (t IssueType) IsKnown() bool {
	for _, known := range IssueTypes {
		if t == known {
			return true
		}
	}
	return false
}

// =============================================================================
// Issue Report
// =============================================================================

// DateLayout is the layout of IssueReport.DateObserved.
const DateLayout = "2006-01-02"

// MaxObservationAge bounds how far back DateObserved may be.
const MaxObservationAge = 28 * 24 * time.Hour

// Coordinates is a GPS fix in decimal degrees.
type Coordinates struct {
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Accuracy  *float64 `json:"accuracy,omitempty"` // metres
}

// LatLng converts the fix for spatial checks.
func (c Coordinates) LatLng() s2.LatLng {
	return s2.LatLngFromDegrees(c.Latitude, c.Longitude)
}

// IssueReport is a trail issue observed by a walker.
//
// JSON field names follow the relay's report format so a report can be posted
// as-is to /send-report.
type IssueReport struct {
	ReportID            string       `json:"reportId"`
	IssueType           IssueType    `json:"issueType"`
	Urgency             Urgency      `json:"urgency"`
	Name                string       `json:"name"`
	Email               string       `json:"email"`
	Telephone           string       `json:"telephone,omitempty"`
	DateObserved        string       `json:"dateObserved"`
	LocationDescription string       `json:"location,omitempty"`
	Description         string       `json:"comments"`
	Coordinates         *Coordinates `json:"coordinates,omitempty"`
	PhotoRef            string       `json:"photoRef,omitempty"`
	CreatedAt           time.Time    `json:"createdAt"`
	Synced              bool         `json:"synced"`
}

// HasPhoto returns true if a photo is attached to the report.
func (r *IssueReport) HasPhoto() bool {
	return r.PhotoRef != ""
}

// HasCoordinates returns true if the report carries a GPS fix.
func (r *IssueReport) HasCoordinates() bool {
	return r.Coordinates != nil
}

// Normalize trims free-text fields and applies defaults.
func (r *IssueReport) Normalize() {
	r.ReportID = strings.TrimSpace(r.ReportID)
	r.Name = strings.TrimSpace(r.Name)
	r.Email = strings.TrimSpace(r.Email)
	r.Telephone = strings.TrimSpace(r.Telephone)
	r.DateObserved = strings.TrimSpace(r.DateObserved)
	r.LocationDescription = strings.TrimSpace(r.LocationDescription)
	r.Description = strings.TrimSpace(r.Description)
	r.IssueType = IssueType(strings.TrimSpace(string(r.IssueType)))
	if r.IssueType == "" {
		r.IssueType = IssueOther
	}
	r.Urgency = Urgency(strings.ToLower(strings.TrimSpace(string(r.Urgency))))
	if r.Urgency == "" {
		r.Urgency = UrgencyMedium
	}
}

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// Validate checks the report as of now. It returns a *ValidationError keyed
// by field, or nil.
func (r *IssueReport) Validate(now time.Time) error {
	ve := &ValidationError{Op: "report.validate"}

	if r.Name == "" {
		ve.Add("name", "Name is required")
	}

	if r.Email == "" {
		ve.Add("email", "Email is required")
	} else if !emailPattern.MatchString(r.Email) {
		ve.Add("email", "Please enter a valid email address")
	}

	if r.DateObserved == "" {
		ve.Add("dateObserved", "Date is required")
	} else if observed, err := time.ParseInLocation(DateLayout, r.DateObserved, now.Location()); err != nil {
		ve.Add("dateObserved", "Date must be in YYYY-MM-DD format")
	} else {
		today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
		switch {
		case observed.After(today):
			ve.Add("dateObserved", "Date cannot be in the future")
		case observed.Before(today.Add(-MaxObservationAge)):
			ve.Add("dateObserved", "Date must be within the last 4 weeks")
		}
	}

	if r.Coordinates == nil && r.LocationDescription == "" {
		ve.Add("location", "Location information is required (either description or GPS coordinates)")
	}
	if r.Coordinates != nil {
		if !r.Coordinates.LatLng().IsValid() {
			ve.Add("coordinates", "Coordinates are out of range")
		} else if r.Coordinates.Accuracy != nil && *r.Coordinates.Accuracy < 0 {
			ve.Add("coordinates", "Accuracy cannot be negative")
		}
	}

	if r.Description == "" {
		ve.Add("comments", "Issue description is required")
	}

	if r.IssueType != "" && !r.IssueType.IsKnown() {
		ve.Add("issueType", fmt.Sprintf("Issue type %q is not one of the form categories", r.IssueType))
	}

	if r.Urgency != "" && !r.Urgency.IsValid() {
		ve.Add("urgency", fmt.Sprintf("Urgency must be one of low, medium or high, got %q", r.Urgency))
	}

	return ve.Err()
}

// NewReportID returns an identifier of the form BTF-YYYYMMDD-HHMMSS-NNNN.
func NewReportID(now time.Time) string {
	return fmt.Sprintf("BTF-%s-%04d", now.Format("20060102-150405"), 1000+rand.IntN(9000))
}

// NewLegacyReportID returns the suffix-less BTF-YYYYMMDD-HHMMSS form the relay
// assigns to CSV submissions.
func NewLegacyReportID(now time.Time) string {
	return "BTF-" + now.Format("20060102-150405")
}
