package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pathlabs/trackmate/internal"
	"github.com/pathlabs/trackmate/internal/domain"
	"github.com/pathlabs/trackmate/internal/network"
	"github.com/pathlabs/trackmate/internal/queue"
	"github.com/pathlabs/trackmate/internal/relay"
	"github.com/pathlabs/trackmate/internal/report"
	"github.com/pathlabs/trackmate/internal/storage"
)

// =============================================================================
// Test doubles
// =============================================================================

type fakeRelay struct {
	mu      sync.Mutex
	reports []relay.ReportPayload
	surveys []relay.SurveyPayload
	// fail decides whether the n-th call (zero based) fails.
	fail  func(n int) error
	calls int
	// started, when set, is signalled as each call begins.
	started chan struct{}
	// block, when set, holds every call until closed.
	block chan struct{}
}

func (f *fakeRelay) next() error {
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	n := f.calls
	f.calls++
	if f.fail != nil {
		return f.fail(n)
	}
	return nil
}

func (f *fakeRelay) SendReport(ctx context.Context, p relay.ReportPayload) (*relay.Response, error) {
	if err := f.next(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reports = append(f.reports, p)
	return &relay.Response{Message: "Report sent successfully"}, nil
}

func (f *fakeRelay) SendSurvey(ctx context.Context, p relay.SurveyPayload) (*relay.Response, error) {
	if err := f.next(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.surveys = append(f.surveys, p)
	return &relay.Response{Message: "Survey sent successfully"}, nil
}

func (f *fakeRelay) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// memQueue keeps entries in insertion order.
type memQueue struct {
	mu         sync.Mutex
	entries    []queue.Entry
	failures   map[uuid.UUID]string
	enqueueErr error
	deleteErr  error
}

func newMemQueue() *memQueue {
	return &memQueue{failures: make(map[uuid.UUID]string)}
}

func (q *memQueue) Enqueue(ctx context.Context, kind queue.Kind, payload interface{}, photoKey string) (*queue.Entry, error) {
	if q.enqueueErr != nil {
		return nil, q.enqueueErr
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	e := queue.Entry{ID: uuid.New(), Kind: kind, Payload: data, PhotoKey: photoKey, CreatedAt: time.Now()}
	q.entries = append(q.entries, e)
	return &e, nil
}

func (q *memQueue) List(ctx context.Context) ([]queue.Entry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]queue.Entry(nil), q.entries...), nil
}

func (q *memQueue) Get(ctx context.Context, id uuid.UUID) (*queue.Entry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, e := range q.entries {
		if e.ID == id {
			return &e, nil
		}
	}
	return nil, domain.NotFound("memQueue.Get", "queue entry", id.String())
}

func (q *memQueue) Delete(ctx context.Context, id uuid.UUID) error {
	if q.deleteErr != nil {
		return q.deleteErr
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, e := range q.entries {
		if e.ID == id {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			return nil
		}
	}
	return domain.NotFound("memQueue.Delete", "queue entry", id.String())
}

func (q *memQueue) RecordFailure(ctx context.Context, id uuid.UUID, cause string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := range q.entries {
		if q.entries[i].ID == id {
			q.entries[i].Attempts++
			q.entries[i].LastError = cause
			q.failures[id] = cause
			return nil
		}
	}
	return domain.NotFound("memQueue.RecordFailure", "queue entry", id.String())
}

func (q *memQueue) Count(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries), nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var testNow = time.Date(2026, 10, 18, 9, 30, 0, 0, time.UTC)

func newTestService(t *testing.T, online bool) (*SubmissionService, *memQueue, *fakeRelay, *network.Static) {
	t.Helper()
	q := newMemQueue()
	r := &fakeRelay{}
	checker := network.NewStatic(online)
	photos, err := storage.NewLocalStorage(storage.LocalConfig{BasePath: t.TempDir()}, discardLogger())
	require.NoError(t, err)

	s := NewSubmissionService(q, r, checker, photos, discardLogger())
	s.now = func() time.Time { return testNow }
	return s, q, r, checker
}

func validReport() *domain.IssueReport {
	acc := 8.0
	return &domain.IssueReport{
		ReportID:     "BTF-20261018-093000-1234",
		IssueType:    domain.IssueFallenTree,
		Urgency:      domain.UrgencyHigh,
		Name:         "Sam Walker",
		Email:        "sam@example.org",
		DateObserved: "2026-10-17",
		Description:  "Oak down across the path, blocks access",
		Coordinates:  &domain.Coordinates{Latitude: 53.3498, Longitude: -6.2603, Accuracy: &acc},
		CreatedAt:    testNow,
	}
}

// =============================================================================
// Submit
// =============================================================================

func TestSubmit_OnlineSendsExactlyOnePost(t *testing.T) {
	ctx := context.Background()
	s, q, r, _ := newTestService(t, true)
	rep := validReport()

	wantCSV, err := report.CSV(rep, rep.CreatedAt, false)
	require.NoError(t, err)

	res, err := s.Submit(ctx, rep)
	require.NoError(t, err)

	assert.Equal(t, StatusSent, res.Status)
	assert.Equal(t, rep.ReportID, res.ReportID)
	assert.True(t, rep.Synced)

	require.Len(t, r.reports, 1)
	assert.Equal(t, wantCSV, r.reports[0].CSVData)
	assert.Equal(t, "BTF-20261018-093000-1234_issue_report.csv", r.reports[0].FileName)
	assert.Empty(t, r.reports[0].Photo)

	n, _ := q.Count(ctx)
	assert.Zero(t, n, "a sent report must not also be queued")
}

func TestSubmit_OfflineQueuesWithoutNetworkCall(t *testing.T) {
	ctx := context.Background()
	s, q, r, _ := newTestService(t, false)
	rep := validReport()

	res, err := s.Submit(ctx, rep)
	require.NoError(t, err)

	assert.Equal(t, StatusQueued, res.Status)
	assert.NotEqual(t, uuid.Nil, res.EntryID)
	assert.False(t, rep.Synced)
	assert.Zero(t, r.callCount())

	entries, _ := q.List(ctx)
	require.Len(t, entries, 1)
	assert.Equal(t, queue.KindReport, entries[0].Kind)

	var p relay.ReportPayload
	require.NoError(t, entries[0].Decode(&p))
	assert.True(t, strings.HasPrefix(p.CSVData, strings.Join(report.Headers, ",")))
}

func TestSubmit_RelayFailureReportsFailed(t *testing.T) {
	ctx := context.Background()
	s, q, r, _ := newTestService(t, true)
	r.fail = func(int) error {
		return &relay.StatusError{StatusCode: 500, Message: "Failed to send email", Detail: "connection refused"}
	}
	rep := validReport()

	res, err := s.Submit(ctx, rep)
	require.NoError(t, err)

	assert.Equal(t, StatusFailed, res.Status)
	require.Error(t, res.Err)
	assert.Contains(t, res.Err.Error(), "connection refused")
	assert.False(t, rep.Synced)

	n, _ := q.Count(ctx)
	assert.Zero(t, n, "an online failure is not queued")
}

func TestSubmit_InvalidReport(t *testing.T) {
	s, _, r, _ := newTestService(t, true)
	rep := validReport()
	rep.Email = "not-an-email"
	rep.Description = "  "

	_, err := s.Submit(context.Background(), rep)
	require.Error(t, err)

	var ve *domain.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, ve.Fields, "email")
	assert.Contains(t, ve.Fields, "comments")
	assert.Zero(t, r.callCount())
}

func TestSubmit_AssignsIDAndDefaults(t *testing.T) {
	s, _, _, _ := newTestService(t, false)
	rep := validReport()
	rep.ReportID = ""
	rep.CreatedAt = time.Time{}
	rep.Urgency = ""

	res, err := s.Submit(context.Background(), rep)
	require.NoError(t, err)

	assert.Regexp(t, `^BTF-20261018-093000-\d{4}$`, res.ReportID)
	assert.Equal(t, testNow, rep.CreatedAt)
	assert.Equal(t, domain.UrgencyMedium, rep.Urgency)
}

func TestSubmit_QueueWriteFailureSurfaces(t *testing.T) {
	s, q, _, _ := newTestService(t, false)
	q.enqueueErr = errors.New("disk full")

	_, err := s.Submit(context.Background(), validReport())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}

func TestSubmit_PhotoAttachedAndDiscarded(t *testing.T) {
	ctx := context.Background()
	s, _, r, _ := newTestService(t, true)

	jpeg := []byte{0xFF, 0xD8, 0xFF, 0xE0, 'J', 'F', 'I', 'F'}
	key, err := s.StorePhoto(ctx, jpeg, "image/jpeg")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(key, "photos/"))

	rep := validReport()
	rep.PhotoRef = key

	res, err := s.Submit(ctx, rep)
	require.NoError(t, err)
	require.Equal(t, StatusSent, res.Status)

	require.Len(t, r.reports, 1)
	ct, data, err := storage.ParseDataURL(r.reports[0].Photo)
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", ct)
	assert.Equal(t, jpeg, data)
	assert.Contains(t, r.reports[0].CSVData, ",Yes")

	exists, err := s.photos.Exists(ctx, key)
	require.NoError(t, err)
	assert.False(t, exists, "photo should be removed once sent")
}

func TestSubmit_PhotoKeptOnlyWhileQueued(t *testing.T) {
	tests := []struct {
		name       string
		online     bool
		mutate     func(r *domain.IssueReport)
		relayErr   error
		wantStatus Status
		wantErr    bool
		wantPhoto  bool
	}{
		{name: "queued offline", wantStatus: StatusQueued, wantPhoto: true},
		{name: "sent", online: true, wantStatus: StatusSent},
		{name: "relay failure", online: true, relayErr: errors.New("relay returned 500"), wantStatus: StatusFailed},
		{name: "invalid report", online: true, mutate: func(r *domain.IssueReport) { r.Name = "" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			s, _, r, _ := newTestService(t, tt.online)
			if tt.relayErr != nil {
				r.fail = func(int) error { return tt.relayErr }
			}

			key, err := s.StorePhoto(ctx, []byte{0xFF, 0xD8, 0xFF}, "image/jpeg")
			require.NoError(t, err)

			rep := validReport()
			rep.PhotoRef = key
			if tt.mutate != nil {
				tt.mutate(rep)
			}

			res, err := s.Submit(ctx, rep)
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.wantStatus, res.Status)
			}

			exists, err := s.photos.Exists(ctx, key)
			require.NoError(t, err)
			assert.Equal(t, tt.wantPhoto, exists)
		})
	}
}

// =============================================================================
// Surveys
// =============================================================================

func TestSubmitSurvey(t *testing.T) {
	ctx := context.Background()

	t.Run("online", func(t *testing.T) {
		s, _, r, _ := newTestService(t, true)
		res, err := s.SubmitSurvey(ctx, &domain.Survey{SurveyID: "SRV-1", CSVData: "q,a\n1,yes"})
		require.NoError(t, err)
		assert.Equal(t, StatusSent, res.Status)
		require.Len(t, r.surveys, 1)
		assert.Equal(t, relay.SurveyPayload{ReportID: "SRV-1", CSVData: "q,a\n1,yes", FileName: "SRV-1_survey.csv"}, r.surveys[0])
	})

	t.Run("offline", func(t *testing.T) {
		s, q, r, _ := newTestService(t, false)
		res, err := s.SubmitSurvey(ctx, &domain.Survey{CSVData: "q,a\n1,yes"})
		require.NoError(t, err)
		assert.Equal(t, StatusQueued, res.Status)
		assert.NotEmpty(t, res.ReportID)
		assert.Zero(t, r.callCount())
		n, _ := q.Count(ctx)
		assert.Equal(t, 1, n)
	})

	t.Run("empty", func(t *testing.T) {
		s, _, _, _ := newTestService(t, true)
		_, err := s.SubmitSurvey(ctx, &domain.Survey{SurveyID: "SRV-2"})
		assert.Equal(t, domain.EINVALID, domain.ErrorCode(err))
	})
}

// =============================================================================
// FlushQueue
// =============================================================================

func TestFlushQueue_DeliversOldestFirst(t *testing.T) {
	ctx := context.Background()
	s, q, r, checker := newTestService(t, false)

	var ids []string
	for i := 0; i < 3; i++ {
		rep := validReport()
		rep.ReportID = ""
		_, err := s.Submit(ctx, rep)
		require.NoError(t, err)
		ids = append(ids, rep.ReportID)
	}
	_, err := s.SubmitSurvey(ctx, &domain.Survey{SurveyID: "SRV-9", CSVData: "x"})
	require.NoError(t, err)
	require.Zero(t, r.callCount())

	checker.Set(true)
	res, err := s.FlushQueue(ctx)
	require.NoError(t, err)

	assert.Equal(t, FlushResult{Attempted: 4, Sent: 4}, res)
	require.Len(t, r.reports, 3)
	for i, id := range ids {
		assert.Equal(t, id+"_issue_report.csv", r.reports[i].FileName)
	}
	require.Len(t, r.surveys, 1)

	n, _ := q.Count(ctx)
	assert.Zero(t, n)
}

func TestFlushQueue_RetainsFailures(t *testing.T) {
	ctx := context.Background()
	s, q, r, _ := newTestService(t, false)

	for i := 0; i < 3; i++ {
		_, err := s.Submit(ctx, validReport())
		require.NoError(t, err)
	}
	entries, _ := q.List(ctx)
	failedID := entries[1].ID

	r.fail = func(n int) error {
		if n == 1 {
			return errors.New("smtp timeout")
		}
		return nil
	}

	res, err := s.FlushQueue(ctx)
	require.NoError(t, err)
	assert.Equal(t, FlushResult{Attempted: 3, Sent: 2, Failed: 1}, res)

	remaining, _ := q.List(ctx)
	require.Len(t, remaining, 1)
	assert.Equal(t, failedID, remaining[0].ID)
	assert.Equal(t, 1, remaining[0].Attempts)
	assert.Equal(t, "smtp timeout", remaining[0].LastError)

	// A later flush retries the survivor.
	r.fail = nil
	res, err = s.FlushQueue(ctx)
	require.NoError(t, err)
	assert.Equal(t, FlushResult{Attempted: 1, Sent: 1}, res)
}

func TestFlushQueue_DeleteFailureKeepsPhoto(t *testing.T) {
	ctx := context.Background()
	s, q, r, _ := newTestService(t, false)

	jpeg := []byte{0xFF, 0xD8, 0xFF, 0xE0}
	key, err := s.StorePhoto(ctx, jpeg, "image/jpeg")
	require.NoError(t, err)
	rep := validReport()
	rep.PhotoRef = key
	_, err = s.Submit(ctx, rep)
	require.NoError(t, err)

	q.deleteErr = errors.New("database is locked")
	res, err := s.FlushQueue(ctx)
	require.NoError(t, err)
	assert.Equal(t, FlushResult{Attempted: 1, Sent: 1}, res)

	n, _ := q.Count(ctx)
	assert.Equal(t, 1, n, "entry should still be queued")
	exists, err := s.photos.Exists(ctx, key)
	require.NoError(t, err)
	assert.True(t, exists, "photo must outlive its queued entry")

	// The next flush resends the entry with its photo and clears both.
	q.deleteErr = nil
	res, err = s.FlushQueue(ctx)
	require.NoError(t, err)
	assert.Equal(t, FlushResult{Attempted: 1, Sent: 1}, res)

	require.Len(t, r.reports, 2)
	_, data, err := storage.ParseDataURL(r.reports[1].Photo)
	require.NoError(t, err)
	assert.Equal(t, jpeg, data)

	n, _ = q.Count(ctx)
	assert.Zero(t, n)
	exists, err = s.photos.Exists(ctx, key)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestFlushQueue_EmptyQueue(t *testing.T) {
	s, _, r, _ := newTestService(t, true)
	res, err := s.FlushQueue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, FlushResult{}, res)
	assert.Zero(t, r.callCount())
}

func TestFlushQueue_ConcurrentFlushIsSkipped(t *testing.T) {
	ctx := context.Background()
	s, _, r, _ := newTestService(t, false)
	_, err := s.Submit(ctx, validReport())
	require.NoError(t, err)

	r.started = make(chan struct{}, 1)
	r.block = make(chan struct{})
	done := make(chan FlushResult)
	go func() {
		res, _ := s.FlushQueue(ctx)
		done <- res
	}()

	// The first flush is now holding the lock inside the relay call.
	<-r.started

	res, err := s.FlushQueue(ctx)
	require.NoError(t, err)
	assert.True(t, res.Skipped)

	close(r.block)
	first := <-done
	assert.Equal(t, 1, first.Sent)
	assert.Equal(t, 1, r.callCount())
}

func TestFlushQueue_UnknownKindIsRetained(t *testing.T) {
	ctx := context.Background()
	s, q, _, _ := newTestService(t, true)
	delete(s.deliverers, queue.KindSurvey)

	_, err := q.Enqueue(ctx, queue.KindSurvey, relay.SurveyPayload{CSVData: "x"}, "")
	require.NoError(t, err)

	res, err := s.FlushQueue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	assert.Contains(t, q.failures[q.entries[0].ID], "no deliverer")
}

// TestFlushQueue_SQLiteStore runs the offline round trip against the real
// queue store.
func TestFlushQueue_SQLiteStore(t *testing.T) {
	ctx := context.Background()
	db, err := queue.Open(queue.DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, internal.RunMigrations(db, queue.DriverSQLite))

	store := queue.NewStore(db, queue.DriverSQLite, discardLogger())
	r := &fakeRelay{}
	checker := network.NewStatic(false)
	s := NewSubmissionService(store, r, checker, nil, discardLogger())
	s.now = func() time.Time { return testNow }

	res, err := s.Submit(ctx, validReport())
	require.NoError(t, err)
	require.Equal(t, StatusQueued, res.Status)

	pending, err := s.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, res.EntryID, pending[0].ID)

	entry, err := s.PendingEntry(ctx, res.EntryID)
	require.NoError(t, err)
	var payload relay.ReportPayload
	require.NoError(t, entry.Decode(&payload))
	assert.Equal(t, "BTF-20261018-093000-1234_issue_report.csv", payload.FileName)

	checker.Set(true)
	flushed, err := s.FlushQueue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, flushed.Sent)

	n, err := s.PendingCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = s.PendingEntry(ctx, res.EntryID)
	assert.Equal(t, domain.ENOTFOUND, domain.ErrorCode(err))
}
