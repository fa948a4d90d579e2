// Package service contains the field reporter's submission pipeline.
//
// A submission is sent straight to the relay when the relay is reachable and
// written to the local queue otherwise. FlushQueue replays queued entries
// through the same delivery path once connectivity returns.
package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pathlabs/trackmate/internal/domain"
	"github.com/pathlabs/trackmate/internal/metrics"
	"github.com/pathlabs/trackmate/internal/network"
	"github.com/pathlabs/trackmate/internal/queue"
	"github.com/pathlabs/trackmate/internal/relay"
	"github.com/pathlabs/trackmate/internal/report"
	"github.com/pathlabs/trackmate/internal/storage"
)

// =============================================================================
// Interface Definitions
// =============================================================================

// Queue is the subset of *queue.Store the service needs.
type Queue interface {
	Enqueue(ctx context.Context, kind queue.Kind, payload interface{}, photoKey string) (*queue.Entry, error)
	List(ctx context.Context) ([]queue.Entry, error)
	Get(ctx context.Context, id uuid.UUID) (*queue.Entry, error)
	Delete(ctx context.Context, id uuid.UUID) error
	RecordFailure(ctx context.Context, id uuid.UUID, cause string) error
	Count(ctx context.Context) (int, error)
}

// Relay is the subset of *relay.Client the service needs.
type Relay interface {
	SendReport(ctx context.Context, p relay.ReportPayload) (*relay.Response, error)
	SendSurvey(ctx context.Context, p relay.SurveyPayload) (*relay.Response, error)
}

// Deliverer sends one queued entry of a given kind to the relay.
type Deliverer interface {
	// Kind returns the queue entry kind this deliverer handles.
	Kind() queue.Kind

	// Deliver posts the entry. A nil error means the relay accepted it.
	Deliver(ctx context.Context, e *queue.Entry) error
}

// =============================================================================
// Results
// =============================================================================

// Status is the outcome of a submission.
type Status string

const (
	StatusSent   Status = "sent"
	StatusQueued Status = "queued"
	StatusFailed Status = "failed"
)

// String returns the string representation of the status.
func (s Status) String() string {
	return string(s)
}

// Result describes what happened to a submission.
type Result struct {
	Status   Status
	ReportID string
	EntryID  uuid.UUID // Set when Status is StatusQueued
	Err      error     // Set when Status is StatusFailed
}

// FlushResult counts the outcome of one queue flush.
type FlushResult struct {
	Attempted int
	Sent      int
	Failed    int
	Skipped   bool // Another flush was already running
}

// MaxPhotoBytes bounds a stored photo.
const MaxPhotoBytes = 20 << 20

// =============================================================================
// Implementation
// =============================================================================

// SubmissionService submits reports and surveys and flushes the offline queue.
type SubmissionService struct {
	queue      Queue
	relay      Relay
	checker    network.Checker
	photos     storage.Storage
	deliverers map[queue.Kind]Deliverer
	logger     *slog.Logger
	now        func() time.Time

	// Held while a flush runs; a second flush backs off instead of waiting.
	flushMu sync.Mutex
}

// NewSubmissionService creates the service with the report and survey
// deliverers registered. photos may be nil when photos are not supported.
func NewSubmissionService(q Queue, r Relay, checker network.Checker, photos storage.Storage, logger *slog.Logger) *SubmissionService {
	if logger == nil {
		logger = slog.Default()
	}
	s := &SubmissionService{
		queue:      q,
		relay:      r,
		checker:    checker,
		photos:     photos,
		deliverers: make(map[queue.Kind]Deliverer),
		logger:     logger,
		now:        time.Now,
	}
	s.Register(&reportDeliverer{s: s})
	s.Register(&surveyDeliverer{s: s})
	return s
}

// Register adds a deliverer, replacing any registered for the same kind.
func (s *SubmissionService) Register(d Deliverer) {
	if _, exists := s.deliverers[d.Kind()]; exists {
		s.logger.Debug("replacing deliverer", "kind", d.Kind())
	}
	s.deliverers[d.Kind()] = d
}

// StorePhoto keeps a captured photo until its report is sent and returns the
// storage key to use as the report's PhotoRef.
func (s *SubmissionService) StorePhoto(ctx context.Context, data []byte, contentType string) (string, error) {
	const op = "SubmissionService.StorePhoto"

	if s.photos == nil {
		return "", domain.Invalid(op, "photo storage is not configured")
	}

	key := storage.PhotoKey()
	err := s.photos.Put(ctx, key, bytes.NewReader(data), storage.PutOptions{
		ContentType: contentType,
		MaxSize:     MaxPhotoBytes,
	})
	if err != nil {
		if storage.IsTooLarge(err) {
			return "", domain.Wrap(err, domain.ETOOLARGE, op, "photo is too large")
		}
		return "", domain.Internal(err, op, "failed to store photo")
	}
	return key, nil
}

// Submit validates r and sends it, or queues it when the relay is
// unreachable. The returned error is non-nil only for invalid reports and
// queue write failures; a relay rejection is reported as StatusFailed.
//
// Submit owns r.PhotoRef: the stored photo is kept only while the report
// is queued and is deleted on every other outcome.
func (s *SubmissionService) Submit(ctx context.Context, r *domain.IssueReport) (Result, error) {
	res, err := s.submit(ctx, r)
	if res.Status != StatusQueued {
		s.discardPhoto(ctx, r.PhotoRef)
	}
	return res, err
}

func (s *SubmissionService) submit(ctx context.Context, r *domain.IssueReport) (Result, error) {
	const op = "SubmissionService.Submit"

	now := s.now()
	r.Normalize()
	if r.ReportID == "" {
		r.ReportID = domain.NewReportID(now)
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	if err := r.Validate(now); err != nil {
		return Result{}, err
	}

	payload, err := reportPayload(r)
	if err != nil {
		return Result{}, domain.Internal(err, op, "failed to build report")
	}

	logger := s.logger.With("report_id", r.ReportID)

	if !s.checker.Reachable(ctx) {
		e, err := s.queue.Enqueue(ctx, queue.KindReport, payload, r.PhotoRef)
		if err != nil {
			return Result{}, err
		}
		logger.Info("relay unreachable, report queued", "entry_id", e.ID)
		s.recordQueued(ctx)
		return Result{Status: StatusQueued, ReportID: r.ReportID, EntryID: e.ID}, nil
	}

	if err := s.sendReport(ctx, payload, r.PhotoRef); err != nil {
		logger.Warn("report submission failed", "error", err)
		metrics.SubmissionRecorded(StatusFailed.String())
		return Result{Status: StatusFailed, ReportID: r.ReportID, Err: err}, nil
	}

	r.Synced = true
	logger.Info("report sent")
	metrics.SubmissionRecorded(StatusSent.String())
	return Result{Status: StatusSent, ReportID: r.ReportID}, nil
}

// SubmitSurvey sends a survey, or queues it when the relay is unreachable.
func (s *SubmissionService) SubmitSurvey(ctx context.Context, sv *domain.Survey) (Result, error) {
	if sv.SurveyID == "" {
		sv.SurveyID = domain.NewReportID(s.now())
	}
	if err := sv.Validate(); err != nil {
		return Result{}, err
	}

	payload := relay.SurveyPayload{
		ReportID: sv.SurveyID,
		CSVData:  sv.CSVData,
		FileName: sv.FileName(),
	}
	logger := s.logger.With("survey_id", sv.SurveyID)

	if !s.checker.Reachable(ctx) {
		e, err := s.queue.Enqueue(ctx, queue.KindSurvey, payload, "")
		if err != nil {
			return Result{}, err
		}
		logger.Info("relay unreachable, survey queued", "entry_id", e.ID)
		s.recordQueued(ctx)
		return Result{Status: StatusQueued, ReportID: sv.SurveyID, EntryID: e.ID}, nil
	}

	if _, err := s.relay.SendSurvey(ctx, payload); err != nil {
		logger.Warn("survey submission failed", "error", err)
		metrics.SubmissionRecorded(StatusFailed.String())
		return Result{Status: StatusFailed, ReportID: sv.SurveyID, Err: err}, nil
	}

	logger.Info("survey sent")
	metrics.SubmissionRecorded(StatusSent.String())
	return Result{Status: StatusSent, ReportID: sv.SurveyID}, nil
}

// FlushQueue delivers queued entries oldest first. Delivered entries are
// removed; failed ones stay queued with the failure recorded. If a flush is
// already running it returns at once with Skipped set.
func (s *SubmissionService) FlushQueue(ctx context.Context) (FlushResult, error) {
	if !s.flushMu.TryLock() {
		s.logger.Debug("flush already in progress")
		return FlushResult{Skipped: true}, nil
	}
	defer s.flushMu.Unlock()

	entries, err := s.queue.List(ctx)
	if err != nil {
		return FlushResult{}, err
	}
	if len(entries) == 0 {
		metrics.SetQueueDepth(0)
		return FlushResult{}, nil
	}

	s.logger.Info("flushing queue", "pending", len(entries))

	var res FlushResult
	for i := range entries {
		if err := ctx.Err(); err != nil {
			s.finishFlush(ctx, res)
			return res, err
		}

		e := &entries[i]
		res.Attempted++
		logger := s.logger.With("entry_id", e.ID, "kind", e.Kind, "attempt", e.Attempts+1)

		if err := s.deliver(ctx, e); err != nil {
			res.Failed++
			logger.Warn("queued entry not delivered", "error", err)
			if rerr := s.queue.RecordFailure(ctx, e.ID, err.Error()); rerr != nil {
				logger.Error("failed to record delivery failure", "error", rerr)
			}
			continue
		}

		res.Sent++
		if err := s.queue.Delete(ctx, e.ID); err != nil {
			// Still queued, so the photo stays for the next flush to resend.
			logger.Error("failed to remove delivered entry", "error", err)
			continue
		}
		s.discardPhoto(ctx, e.PhotoKey)
		logger.Info("queued entry delivered")
	}

	s.finishFlush(ctx, res)
	return res, nil
}

// Pending lists the queued entries, oldest first.
func (s *SubmissionService) Pending(ctx context.Context) ([]queue.Entry, error) {
	return s.queue.List(ctx)
}

// PendingEntry returns one queued entry. A delivered or unknown entry is
// ENOTFOUND.
func (s *SubmissionService) PendingEntry(ctx context.Context, id uuid.UUID) (*queue.Entry, error) {
	return s.queue.Get(ctx, id)
}

// PendingCount returns the number of queued entries.
func (s *SubmissionService) PendingCount(ctx context.Context) (int, error) {
	return s.queue.Count(ctx)
}

func (s *SubmissionService) deliver(ctx context.Context, e *queue.Entry) error {
	d, ok := s.deliverers[e.Kind]
	if !ok {
		return fmt.Errorf("no deliverer registered for kind %q", e.Kind)
	}
	return d.Deliver(ctx, e)
}

// sendReport posts a report payload, attaching the stored photo if any.
func (s *SubmissionService) sendReport(ctx context.Context, p relay.ReportPayload, photoKey string) error {
	if photoKey != "" {
		photo, err := s.loadPhoto(ctx, photoKey)
		if err != nil {
			return err
		}
		p.Photo = photo
	}
	_, err := s.relay.SendReport(ctx, p)
	return err
}

// loadPhoto reads a stored photo as a data URL.
func (s *SubmissionService) loadPhoto(ctx context.Context, key string) (string, error) {
	if s.photos == nil {
		return "", fmt.Errorf("photo %s: photo storage is not configured", key)
	}
	rc, info, err := s.photos.Get(ctx, key)
	if err != nil {
		return "", fmt.Errorf("load photo: %w", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return "", fmt.Errorf("read photo %s: %w", key, err)
	}
	return storage.EncodeDataURL(storage.DetectContentType(info.ContentType, key, data), data), nil
}

// discardPhoto deletes a photo that no queued entry refers to.
func (s *SubmissionService) discardPhoto(ctx context.Context, key string) {
	if key == "" || s.photos == nil {
		return
	}
	if err := s.photos.Delete(ctx, key); err != nil {
		s.logger.Warn("failed to delete photo", "key", key, "error", err)
	}
}

func (s *SubmissionService) recordQueued(ctx context.Context) {
	metrics.SubmissionRecorded(StatusQueued.String())
	if n, err := s.queue.Count(ctx); err == nil {
		metrics.SetQueueDepth(n)
	}
}

func (s *SubmissionService) finishFlush(ctx context.Context, res FlushResult) {
	metrics.FlushRecorded(res.Sent, res.Failed)
	n, err := s.queue.Count(ctx)
	if err == nil {
		metrics.SetQueueDepth(n)
	}
	s.logger.Info("queue flush finished",
		"attempted", res.Attempted,
		"sent", res.Sent,
		"failed", res.Failed,
		"remaining", n,
	)
}

// reportPayload renders r as the CSV body the relay expects.
func reportPayload(r *domain.IssueReport) (relay.ReportPayload, error) {
	csvData, err := report.CSV(r, r.CreatedAt, r.HasPhoto())
	if err != nil {
		return relay.ReportPayload{}, err
	}
	return relay.ReportPayload{
		CSVData:  csvData,
		FileName: report.FileName(r),
	}, nil
}

// =============================================================================
// Deliverers
// =============================================================================

type reportDeliverer struct {
	s *SubmissionService
}

func (d *reportDeliverer) Kind() queue.Kind { return queue.KindReport }

func (d *reportDeliverer) Deliver(ctx context.Context, e *queue.Entry) error {
	var p relay.ReportPayload
	if err := e.Decode(&p); err != nil {
		return err
	}
	return d.s.sendReport(ctx, p, e.PhotoKey)
}

type surveyDeliverer struct {
	s *SubmissionService
}

func (d *surveyDeliverer) Kind() queue.Kind { return queue.KindSurvey }

func (d *surveyDeliverer) Deliver(ctx context.Context, e *queue.Entry) error {
	var p relay.SurveyPayload
	if err := e.Decode(&p); err != nil {
		return err
	}
	_, err := d.s.relay.SendSurvey(ctx, p)
	return err
}

var (
	_ Deliverer = (*reportDeliverer)(nil)
	_ Deliverer = (*surveyDeliverer)(nil)
)
