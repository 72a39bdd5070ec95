package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"backupsync/internal/models"
)

type Options struct {
	// OutputDir is where the source service writes downloaded files.
	OutputDir           string
	DownloadConcurrency int
	SyncConcurrency     int
}

// Orchestrator composes one run: Validate, Download, Sync, Aggregate, Report
// and Notify. It is the only component that decides whether a run is fatal.
type Orchestrator struct {
	Source       SourceService
	Destinations []DestinationSpec
	Notifier     NotificationSink
	Reports      ReportSink
	Logger       *slog.Logger
	Options      Options
	OnProgress   ProgressFunc
	Now          func() time.Time
	Environment  func() models.Environment
}

// RunOutcome is the caller's view of a finished run.
type RunOutcome struct {
	Context        ExecutionContext
	Summary        models.Summary
	Validation     ValidationReport
	ReportLocation string
	State          State
	Transitions    []State
	// Failures holds the non-fatal failures of the run as *Error values.
	Failures []error
}

func (o *RunOutcome) Success() bool {
	return o.Context.Success()
}

// Run executes one backup run over targets. The returned error is non-nil only
// for fatal runs (State == StateFailed); partial failures are reported through
// the outcome. Cancelling ctx stops new downloads and syncs from starting, but
// the run is still aggregated and reported.
func (o *Orchestrator) Run(ctx context.Context, targets []string) (*RunOutcome, error) {
	now := clockOrDefault(o.Now)
	ec := NewExecutionContext(targets, now())
	logger := loggerOrDefault(o.Logger).With("execution_id", ec.ID)
	m := newMachine()
	outcome := &RunOutcome{}
	bookkeeping := context.WithoutCancel(ctx)

	fail := func(err error) (*RunOutcome, error) {
		if terr := m.to(StateFailed); terr != nil {
			return nil, terr
		}
		ec.recordError(err)
		ec.finish(now())
		ec.seal()
		kind, _ := KindOf(err)
		logger.Error("backup run failed", "kind", kind, "error", err)
		o.notifyError(bookkeeping, logger, err)
		outcome.fill(ec, m)
		return outcome, err
	}

	if o.Source == nil {
		return fail(Wrap(KindFatalConfig, "init", errors.New("no source service configured")))
	}
	destinations, err := ResolveDestinations(o.Destinations)
	if err != nil {
		return fail(Wrap(KindFatalConfig, "resolve destinations", err))
	}
	defer CloseAll(destinations, logger)

	if err := m.to(StateValidating); err != nil {
		return nil, err
	}
	logger.Info("backup run started", "targets", len(targets), "destinations", len(destinations))
	o.notifyStart(bookkeeping, logger, len(targets))

	outcome.Validation = ValidationGate{Logger: logger}.Validate(ctx, o.Source, destinations)
	if !outcome.Validation.Success {
		failed := strings.Join(outcome.Validation.Failed(), ", ")
		return fail(Wrap(KindFatalAuth, "validate", fmt.Errorf("capabilities not ready: %s", failed)))
	}

	if err := m.to(StateDownloading); err != nil {
		return nil, err
	}
	downloads := DownloadStage{
		Concurrency: o.Options.DownloadConcurrency,
		Logger:      logger,
		OnProgress:  o.OnProgress,
		Now:         now,
	}.Run(ctx, ec.Targets, o.Source, models.OutputOptions{Dir: o.Options.OutputDir, RunID: ec.ID})
	ec.recordDownloads(downloads)

	if err := m.to(StateSyncing); err != nil {
		return nil, err
	}
	syncs, uploads := SyncStage{
		Concurrency: o.Options.SyncConcurrency,
		Logger:      logger,
		Now:         now,
	}.Run(ctx, ec.Downloads, destinations)
	ec.recordSyncs(syncs, uploads)

	if err := m.to(StateAggregating); err != nil {
		return nil, err
	}
	ec.finish(now())
	outcome.Summary = Summarize(ec)
	outcome.Failures = stageFailures(ec)

	if err := m.to(StateReporting); err != nil {
		return nil, err
	}
	if location, err := o.persist(bookkeeping, ec, outcome.Summary, now); err != nil {
		reportErr := Wrap(KindReportFailed, "persist report", err)
		ec.recordError(reportErr)
		outcome.Failures = append(outcome.Failures, reportErr)
		logger.Error("report not saved", "kind", KindReportFailed, "error", err)
	} else {
		outcome.ReportLocation = location
	}

	if err := m.to(StateDone); err != nil {
		return nil, err
	}
	ec.seal()
	logger.Info("backup run finished",
		"status", outcome.Summary.Status,
		"successful", outcome.Summary.SuccessfulDownloads,
		"failed", outcome.Summary.FailedDownloads,
		"duration", outcome.Summary.Duration,
	)
	o.notifyComplete(bookkeeping, logger, ec.Downloads, outcome.Summary)
	outcome.fill(ec, m)
	return outcome, nil
}

// ResolveDestinations builds the enabled destinations, in spec order. Disabled
// specs are skipped without being built.
func ResolveDestinations(specs []DestinationSpec) ([]SyncDestination, error) {
	var out []SyncDestination
	for _, spec := range specs {
		if !spec.Enabled {
			continue
		}
		if spec.Build == nil {
			CloseAll(out, nil)
			return nil, fmt.Errorf("%s destination is enabled but has no configuration", spec.Kind)
		}
		dest, err := spec.Build()
		if err == nil && dest == nil {
			err = errors.New("builder returned no destination")
		}
		if err != nil {
			CloseAll(out, nil)
			return nil, fmt.Errorf("failed to build %s destination: %w", spec.Kind, err)
		}
		out = append(out, dest)
	}
	return out, nil
}

func (o *Orchestrator) persist(ctx context.Context, ec *ExecutionContext, summary models.Summary, now func() time.Time) (string, error) {
	if o.Reports == nil {
		return "", nil
	}
	env := RuntimeEnvironment
	if o.Environment != nil {
		env = o.Environment
	}
	return o.Reports.Persist(ctx, BuildReport(ec, summary, now(), env()))
}

func stageFailures(ec *ExecutionContext) []error {
	var failures []error
	for _, d := range ec.Downloads {
		if !d.Succeeded {
			failures = append(failures, Wrap(KindTargetFailed, d.Target, errors.New(d.Error)))
		}
	}
	for _, s := range ec.Syncs {
		if !s.Succeeded {
			failures = append(failures, Wrap(KindDestinationFailed, s.Destination, errors.New(s.Error)))
		}
	}
	return failures
}

func (o *Orchestrator) notifyStart(ctx context.Context, logger *slog.Logger, n int) {
	if o.Notifier == nil {
		return
	}
	guardNotify(logger, "start", func() { o.Notifier.OnRunStart(ctx, n) })
}

func (o *Orchestrator) notifyComplete(ctx context.Context, logger *slog.Logger, downloads []models.DownloadResult, summary models.Summary) {
	if o.Notifier == nil {
		return
	}
	batch := make([]models.DownloadResult, len(downloads))
	for i, d := range downloads {
		batch[i] = d.Clone()
	}
	guardNotify(logger, "complete", func() { o.Notifier.OnRunComplete(ctx, batch, summary) })
}

func (o *Orchestrator) notifyError(ctx context.Context, logger *slog.Logger, err error) {
	if o.Notifier == nil {
		return
	}
	guardNotify(logger, "error", func() { o.Notifier.OnRunError(ctx, err) })
}

func guardNotify(logger *slog.Logger, event string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Warn("notification failed", "event", event, "error", fmt.Sprint(r))
		}
	}()
	fn()
}

// CloseAll closes every destination that holds resources.
func CloseAll(destinations []SyncDestination, logger *slog.Logger) {
	for _, d := range destinations {
		c, ok := d.(io.Closer)
		if !ok {
			continue
		}
		if err := c.Close(); err != nil && logger != nil {
			logger.Warn("failed to close destination", "destination", d.Name(), "error", err)
		}
	}
}

func (o *RunOutcome) fill(ec *ExecutionContext, m *machine) {
	o.Context = ec.Snapshot()
	o.State = m.state
	o.Transitions = append([]State(nil), m.history...)
}
