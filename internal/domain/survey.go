package domain

import "strings"

// Survey is a completed trail survey rendered as a CSV document.
type Survey struct {
	SurveyID string `json:"reportId"`
	CSVData  string `json:"csvData"`
}

// Validate checks that the survey carries data to send.
func (s *Survey) Validate() error {
	ve := &ValidationError{Op: "survey.validate"}
	if strings.TrimSpace(s.CSVData) == "" {
		ve.Add("csvData", "Survey data is required")
	}
	return ve.Err()
}

// FileName is the attachment name the relay uses for the survey.
func (s *Survey) FileName() string {
	return s.SurveyID + "_survey.csv"
}
