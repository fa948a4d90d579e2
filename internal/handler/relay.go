// Package handler serves the relay's HTTP endpoints.
//
// Every submission becomes exactly one outbound email. The relay keeps no
// state between requests: no authentication, no deduplication, no retry.
package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/pathlabs/trackmate/internal/domain"
	"github.com/pathlabs/trackmate/internal/email"
	"github.com/pathlabs/trackmate/internal/metrics"
	"github.com/pathlabs/trackmate/internal/report"
	"github.com/pathlabs/trackmate/internal/storage"
)

// CSVContentType is the MIME type of every CSV attachment.
const CSVContentType = "text/csv"

// RelayHandler turns report and survey submissions into emails.
type RelayHandler struct {
	mailer     email.Mailer
	recipients []string
	archive    storage.Storage // optional
	logger     *slog.Logger
	now        func() time.Time
}

// NewRelayHandler creates a handler that mails submissions to recipients.
// archive may be nil to disable archiving.
func NewRelayHandler(mailer email.Mailer, recipients []string, archive storage.Storage, logger *slog.Logger) *RelayHandler {
	return &RelayHandler{
		mailer:     mailer,
		recipients: recipients,
		archive:    archive,
		logger:     logger,
		now:        time.Now,
	}
}

// RegisterRoutes registers the relay routes on mux.
func (h *RelayHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /send-report", h.SendReport)
	mux.HandleFunc("POST /send-survey", h.SendSurvey)
	mux.HandleFunc("GET /test", h.Test)
	mux.HandleFunc("GET /health", h.Health)
}

// Test handles GET /test, the reachability probe used by clients.
func (h *RelayHandler) Test(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, MessageBody{Message: "Server is running!"})
}

// Health handles GET /health for load balancers.
func (h *RelayHandler) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// send mails msg to the configured recipients. A failure is returned as an
// EUNAVAILABLE error carrying message for the client.
func (h *RelayHandler) send(ctx context.Context, kind, op, message string, msg email.Message) error {
	msg.To = h.recipients
	err := h.mailer.Send(ctx, msg)
	metrics.EmailSent(kind, err)
	if err != nil {
		return domain.Unavailable(err, op, message)
	}
	return nil
}

// archiveCSV stores a relayed CSV. Failures are logged and never reach the
// client.
func (h *RelayHandler) archiveCSV(ctx context.Context, fileName, csvData string) {
	if h.archive == nil {
		return
	}
	key := storage.ArchiveKey(h.now(), fileName)
	err := h.archive.Put(ctx, key, bytes.NewReader([]byte(csvData)), storage.PutOptions{
		ContentType: CSVContentType,
		Overwrite:   true,
	})
	if err != nil {
		metrics.ArchiveFailuresTotal.Inc()
		h.logger.Warn("failed to archive submission", "key", key, "error", err)
		return
	}
	h.logger.Debug("archived submission", "key", key)
}

// photoAttachment decodes a data URL photo. An unusable photo is dropped
// with a warning; the report itself still goes out.
func (h *RelayHandler) photoAttachment(reportID, dataURL string) (email.Attachment, bool) {
	if dataURL == "" {
		return email.Attachment{}, false
	}
	contentType, data, err := storage.ParseDataURL(dataURL)
	if err != nil {
		h.logger.Warn("ignoring malformed photo", "report_id", reportID, "error", err)
		return email.Attachment{}, false
	}
	return email.Attachment{
		Filename:    report.PhotoFileName(reportID, contentType),
		ContentType: contentType,
		Data:        data,
	}, true
}

// decodeJSON decodes the request body into v. Syntax errors map to
// EINVALID and oversized bodies to ETOOLARGE.
func decodeJSON(r *http.Request, op string, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return domain.Wrap(err, domain.ETOOLARGE, op, "Request body too large")
		}
		return domain.Wrap(err, domain.EINVALID, op, "Invalid request body")
	}
	return nil
}
