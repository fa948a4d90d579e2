package handler

import (
	"net/http"

	"github.com/pathlabs/trackmate/internal/domain"
	"github.com/pathlabs/trackmate/internal/email"
	"github.com/pathlabs/trackmate/internal/metrics"
	"github.com/pathlabs/trackmate/internal/report"
)

// Report request formats, as recorded in metrics.
const (
	formatCSV  = "csv"
	formatJSON = "json"
)

// reportRequest is the body of POST /send-report. A body carrying both
// csvData and fileName is a prebuilt CSV; anything else is a JSON report.
type reportRequest struct {
	domain.IssueReport
	CSVData  string `json:"csvData"`
	FileName string `json:"fileName"`
	Photo    string `json:"photo"` // data URL
}

// SendReport handles POST /send-report.
func (h *RelayHandler) SendReport(w http.ResponseWriter, r *http.Request) {
	const op = "relay.send_report"

	var req reportRequest
	if err := decodeJSON(r, op, &req); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	var err error
	if req.CSVData != "" && req.FileName != "" {
		err = h.relayCSVReport(r, &req)
	} else {
		err = h.relayJSONReport(r, &req)
	}
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, MessageBody{Message: "Report sent successfully"})
}

// relayCSVReport mails a CSV the client built itself.
func (h *RelayHandler) relayCSVReport(r *http.Request, req *reportRequest) error {
	const op = "relay.send_report"

	reportID := domain.NewLegacyReportID(h.now())
	msg := email.Message{
		Subject:  report.Subject(reportID),
		TextBody: report.LegacyTextBody,
		Attachments: []email.Attachment{{
			Filename:    req.FileName,
			ContentType: CSVContentType,
			Data:        []byte(req.CSVData),
		}},
	}
	if photo, ok := h.photoAttachment(reportID, req.Photo); ok {
		msg.Attachments = append(msg.Attachments, photo)
	}

	metrics.ReportRelayed(formatCSV)
	if err := h.send(r.Context(), "report", op, "Failed to send report", msg); err != nil {
		return err
	}

	h.logger.Info("report relayed", "report_id", reportID, "format", formatCSV, "file_name", req.FileName)
	h.archiveCSV(r.Context(), req.FileName, req.CSVData)
	return nil
}

// relayJSONReport validates a structured report, renders it as CSV and HTML
// and mails both.
func (h *RelayHandler) relayJSONReport(r *http.Request, req *reportRequest) error {
	const op = "relay.send_report"

	now := h.now()
	rep := &req.IssueReport
	rep.Normalize()
	if rep.ReportID == "" {
		rep.ReportID = domain.NewLegacyReportID(now)
	}

	// Queued reports are judged against the day they were filed.
	asOf := now
	if !rep.CreatedAt.IsZero() && rep.CreatedAt.Before(now) {
		asOf = rep.CreatedAt
	}
	if err := rep.Validate(asOf); err != nil {
		return err
	}

	photo, hasPhoto := h.photoAttachment(rep.ReportID, req.Photo)

	csvData, err := report.CSV(rep, now, hasPhoto)
	if err != nil {
		return domain.Internal(err, op, "Failed to build report")
	}
	htmlBody, err := report.HTMLBody(rep, now, hasPhoto)
	if err != nil {
		return domain.Internal(err, op, "Failed to build report")
	}

	fileName := report.FileName(rep)
	msg := email.Message{
		Subject:  report.Subject(rep.ReportID),
		TextBody: report.TextBody(now),
		HTMLBody: htmlBody,
		Attachments: []email.Attachment{{
			Filename:    fileName,
			ContentType: CSVContentType,
			Data:        []byte(csvData),
		}},
	}
	if hasPhoto {
		msg.Attachments = append(msg.Attachments, photo)
	}

	metrics.ReportRelayed(formatJSON)
	if err := h.send(r.Context(), "report", op, "Failed to send report", msg); err != nil {
		return err
	}

	h.logger.Info("report relayed",
		"report_id", rep.ReportID,
		"format", formatJSON,
		"issue_type", rep.IssueType,
		"urgency", rep.Urgency,
		"has_photo", hasPhoto,
	)
	h.archiveCSV(r.Context(), fileName, csvData)
	return nil
}
