package handler

import (
	"net/http"
	"strings"

	"github.com/pathlabs/trackmate/internal/domain"
	"github.com/pathlabs/trackmate/internal/email"
	"github.com/pathlabs/trackmate/internal/report"
)

// surveyRequest is the body of POST /send-survey. Legacy clients omit
// reportId and may name the file themselves.
type surveyRequest struct {
	ReportID string `json:"reportId"`
	CSVData  string `json:"csvData"`
	FileName string `json:"fileName"`
}

// SendSurvey handles POST /send-survey.
func (h *RelayHandler) SendSurvey(w http.ResponseWriter, r *http.Request) {
	const op = "relay.send_survey"

	var req surveyRequest
	if err := decodeJSON(r, op, &req); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	now := h.now()
	survey := domain.Survey{
		SurveyID: strings.TrimSpace(req.ReportID),
		CSVData:  req.CSVData,
	}
	fileName := strings.TrimSpace(req.FileName)
	if survey.SurveyID == "" {
		survey.SurveyID = domain.NewLegacyReportID(now)
	} else {
		// Surveys carrying an ID are always named after it.
		fileName = ""
	}
	if fileName == "" {
		fileName = survey.FileName()
	}

	htmlBody, err := report.SurveyHTMLBody(survey.SurveyID, now)
	if err != nil {
		ErrorResponse(w, r, h.logger, domain.Internal(err, op, "Failed to build survey"))
		return
	}

	msg := email.Message{
		Subject:  report.SurveySubject(survey.SurveyID),
		TextBody: report.SurveyTextBody(now),
		HTMLBody: htmlBody,
		Attachments: []email.Attachment{{
			Filename:    fileName,
			ContentType: CSVContentType,
			Data:        []byte(survey.CSVData),
		}},
	}

	if err := h.send(r.Context(), "survey", op, "Failed to send survey", msg); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	h.logger.Info("survey relayed", "survey_id", survey.SurveyID, "file_name", fileName)
	h.archiveCSV(r.Context(), fileName, survey.CSVData)

	writeJSON(w, http.StatusOK, MessageBody{Message: "Survey sent successfully"})
}
