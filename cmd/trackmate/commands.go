package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pathlabs/trackmate/internal/device"
	"github.com/pathlabs/trackmate/internal/domain"
	"github.com/pathlabs/trackmate/internal/middleware"
	"github.com/pathlabs/trackmate/internal/network"
	"github.com/pathlabs/trackmate/internal/queue"
	"github.com/pathlabs/trackmate/internal/service"
	"github.com/pathlabs/trackmate/internal/worker"
)

// =============================================================================
// submit
// =============================================================================

// reportFlags holds the submit command's form fields.
type reportFlags struct {
	name, email, phone string
	date               string
	issueType          string
	urgency            string
	location           string
	comments           string
	lat, lng, accuracy string
	photo              string
	offline            bool
}

func parseReportFlags(args []string, out io.Writer, now time.Time) (*reportFlags, error) {
	f := &reportFlags{}
	fs := flag.NewFlagSet("submit", flag.ContinueOnError)
	fs.SetOutput(out)
	fs.StringVar(&f.name, "name", "", "reporter name (required)")
	fs.StringVar(&f.email, "email", "", "reporter email (required)")
	fs.StringVar(&f.phone, "phone", "", "reporter telephone")
	fs.StringVar(&f.date, "date", now.Format(domain.DateLayout), "date observed, YYYY-MM-DD")
	fs.StringVar(&f.issueType, "issue", string(domain.IssueOther), "issue type, e.g. \"Fallen Tree\"")
	fs.StringVar(&f.urgency, "urgency", string(domain.UrgencyMedium), "low, medium or high")
	fs.StringVar(&f.location, "location", "", "description of where the issue is")
	fs.StringVar(&f.comments, "comments", "", "description of the issue (required)")
	fs.StringVar(&f.lat, "lat", "", "latitude in decimal degrees")
	fs.StringVar(&f.lng, "lng", "", "longitude in decimal degrees")
	fs.StringVar(&f.accuracy, "accuracy", "", "GPS accuracy in metres")
	fs.StringVar(&f.photo, "photo", "", "path to a photo of the issue")
	fs.BoolVar(&f.offline, "offline", false, "queue without contacting the relay")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return f, nil
}

// locator turns the coordinate flags into a Locator.
func (f *reportFlags) locator() (device.Locator, error) {
	if f.lat == "" && f.lng == "" {
		return device.StaticLocator{}, nil
	}
	if f.lat == "" || f.lng == "" {
		return nil, errors.New("-lat and -lng must be given together")
	}

	lat, err := strconv.ParseFloat(f.lat, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid -lat: %w", err)
	}
	lng, err := strconv.ParseFloat(f.lng, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid -lng: %w", err)
	}
	fix := &domain.Coordinates{Latitude: lat, Longitude: lng}
	if f.accuracy != "" {
		acc, err := strconv.ParseFloat(f.accuracy, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid -accuracy: %w", err)
		}
		fix.Accuracy = &acc
	}
	return device.StaticLocator{Fix: fix}, nil
}

// buildReport assembles the report from the form fields and the current
// position.
func buildReport(ctx context.Context, f *reportFlags, loc device.Locator) (*domain.IssueReport, error) {
	r := &domain.IssueReport{
		IssueType:           domain.IssueType(f.issueType),
		Urgency:             domain.Urgency(f.urgency),
		Name:                f.name,
		Email:               f.email,
		Telephone:           f.phone,
		DateObserved:        f.date,
		LocationDescription: f.location,
		Description:         f.comments,
	}

	fix, err := loc.CurrentPosition(ctx)
	switch {
	case err == nil:
		r.Coordinates = &fix
	case errors.Is(err, device.ErrPositionUnavailable):
		// A location description alone is enough
	default:
		return nil, err
	}
	return r, nil
}

func runSubmit(ctx context.Context, a *app, args []string) error {
	f, err := parseReportFlags(args, a.out, time.Now())
	if err != nil {
		return err
	}
	loc, err := f.locator()
	if err != nil {
		return err
	}
	r, err := buildReport(ctx, f, loc)
	if err != nil {
		return err
	}

	svc := a.service
	if f.offline {
		svc = a.withChecker(network.NewStatic(false))
	}

	if f.photo != "" {
		photo, err := device.FileCamera{Path: f.photo, Processor: device.NewPhotoProcessor()}.Capture(ctx)
		if err != nil {
			return err
		}
		key, err := svc.StorePhoto(ctx, photo.Data, photo.ContentType)
		if err != nil {
			return err
		}
		r.PhotoRef = key
	}

	res, err := svc.Submit(ctx, r)
	if err != nil {
		var ve *domain.ValidationError
		if errors.As(err, &ve) {
			printFieldErrors(a.out, ve)
		}
		return err
	}
	return printResult(a.out, res)
}

// =============================================================================
// survey
// =============================================================================

func runSurvey(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("survey", flag.ContinueOnError)
	fs.SetOutput(a.out)
	file := fs.String("file", "", "path to the survey CSV (required)")
	id := fs.String("id", "", "survey ID; generated when empty")
	offline := fs.Bool("offline", false, "queue without contacting the relay")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *file == "" {
		return errors.New("-file is required")
	}

	data, err := os.ReadFile(*file)
	if err != nil {
		return fmt.Errorf("read survey: %w", err)
	}

	svc := a.service
	if *offline {
		svc = a.withChecker(network.NewStatic(false))
	}

	res, err := svc.SubmitSurvey(ctx, &domain.Survey{SurveyID: *id, CSVData: string(data)})
	if err != nil {
		return err
	}
	return printResult(a.out, res)
}

// =============================================================================
// flush, pending, ping
// =============================================================================

func runFlush(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("flush", flag.ContinueOnError)
	fs.SetOutput(a.out)
	if err := fs.Parse(args); err != nil {
		return err
	}

	if !a.probe.Reachable(ctx) {
		return fmt.Errorf("relay at %s is not reachable", a.client.BaseURL())
	}

	res, err := a.service.FlushQueue(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "attempted %d, sent %d, failed %d\n", res.Attempted, res.Sent, res.Failed)
	if res.Failed > 0 {
		return fmt.Errorf("%d submissions remain queued", res.Failed)
	}
	return nil
}

func runPending(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("pending", flag.ContinueOnError)
	fs.SetOutput(a.out)
	id := fs.String("id", "", "show one queued submission in full")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *id != "" {
		entryID, err := uuid.Parse(*id)
		if err != nil {
			return fmt.Errorf("invalid -id: %w", err)
		}
		e, err := a.service.PendingEntry(ctx, entryID)
		if err != nil {
			return err
		}
		return printEntry(a.out, e)
	}

	entries, err := a.service.Pending(ctx)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(a.out, "No queued submissions")
		return nil
	}

	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tKIND\tQUEUED\tATTEMPTS\tPHOTO\tLAST ERROR")
	for _, e := range entries {
		photo := "-"
		if e.PhotoKey != "" {
			photo = "yes"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n",
			e.ID, e.Kind, e.CreatedAt.Local().Format("2006-01-02 15:04"), e.Attempts, photo, e.LastError)
	}
	return tw.Flush()
}

func runPing(ctx context.Context, a *app, args []string) error {
	start := time.Now()
	if err := a.client.Ping(ctx); err != nil {
		return fmt.Errorf("relay at %s: %w", a.client.BaseURL(), err)
	}
	fmt.Fprintf(a.out, "relay at %s is up (%s)\n", a.client.BaseURL(), time.Since(start).Round(time.Millisecond))
	return nil
}

// =============================================================================
// watch
// =============================================================================

func runWatch(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	fs.SetOutput(a.out)
	poll := fs.Duration("poll", a.cfg.SyncPollInterval, "connectivity poll interval")
	minSync := fs.Duration("min-sync", a.cfg.SyncMinInterval, "minimum interval between flushes while online")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg := worker.DefaultConfig()
	cfg.PollInterval = *poll
	cfg.MinSyncInterval = *minSync

	syncer, err := worker.New(a.service, a.probe, cfg, a.logger)
	if err != nil {
		return err
	}

	var metricsServer *http.Server
	if a.cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		auth := middleware.NewBasicAuth("trackmate reporter metrics", a.cfg.MetricsUsername, a.cfg.MetricsPassword, a.logger)
		mux.Handle("GET /metrics", auth.Handler(promhttp.Handler()))
		metricsServer = &http.Server{
			Addr:              a.cfg.MetricsAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			a.logger.Info("Metrics listener started", "address", metricsServer.Addr)
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				a.logger.Error("Metrics listener failed", "error", err)
			}
		}()
	}

	syncer.Start(ctx)
	<-ctx.Done()
	a.logger.Info("Shutdown signal received")
	syncer.Stop()

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("Metrics listener shutdown error", "error", err)
		}
	}
	return nil
}

// =============================================================================
// Output
// =============================================================================

func printResult(out io.Writer, res service.Result) error {
	switch res.Status {
	case service.StatusSent:
		fmt.Fprintf(out, "%s sent\n", res.ReportID)
	case service.StatusQueued:
		fmt.Fprintf(out, "%s queued (relay unreachable); it will be sent when connectivity returns\n", res.ReportID)
	case service.StatusFailed:
		fmt.Fprintf(out, "%s failed: %v\n", res.ReportID, res.Err)
		return res.Err
	}
	return nil
}

// printEntry shows a queued submission with the CSV it will send.
func printEntry(out io.Writer, e *queue.Entry) error {
	var p struct {
		CSVData  string `json:"csvData"`
		FileName string `json:"fileName"`
	}
	if err := e.Decode(&p); err != nil {
		return err
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "ID:\t%s\n", e.ID)
	fmt.Fprintf(tw, "Kind:\t%s\n", e.Kind)
	fmt.Fprintf(tw, "Queued:\t%s\n", e.CreatedAt.Local().Format("2006-01-02 15:04"))
	fmt.Fprintf(tw, "Attempts:\t%d\n", e.Attempts)
	if e.LastError != "" {
		fmt.Fprintf(tw, "Last error:\t%s\n", e.LastError)
	}
	if e.PhotoKey != "" {
		fmt.Fprintf(tw, "Photo:\t%s\n", e.PhotoKey)
	}
	fmt.Fprintf(tw, "File:\t%s\n", p.FileName)
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(out, "\n%s\n", p.CSVData)
	return nil
}

func printFieldErrors(out io.Writer, ve *domain.ValidationError) {
	fields := make([]string, 0, len(ve.Fields))
	for field := range ve.Fields {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	for _, field := range fields {
		fmt.Fprintf(out, "  %s: %s\n", field, ve.Fields[field])
	}
}
