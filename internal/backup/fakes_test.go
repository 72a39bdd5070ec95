package backup

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"backupsync/internal/models"
)

type fakeSource struct {
	mu      sync.Mutex
	files   map[string]int
	errs    map[string]error
	delay   map[string]time.Duration
	probe   *models.Probe
	calls   []string
	probed  int
	onCall  func(target string)
	panicOn string
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		files: map[string]int{},
		errs:  map[string]error{},
		delay: map[string]time.Duration{},
	}
}

func (s *fakeSource) DownloadTarget(ctx context.Context, target string, opts models.OutputOptions) (models.DownloadOutput, error) {
	s.mu.Lock()
	s.calls = append(s.calls, target)
	delay := s.delay[target]
	onCall := s.onCall
	s.mu.Unlock()

	if onCall != nil {
		onCall(target)
	}
	if target == s.panicOn {
		panic("boom")
	}
	if delay > 0 {
		time.Sleep(delay)
	}
	if err, ok := s.errs[target]; ok {
		return models.DownloadOutput{}, err
	}
	n, ok := s.files[target]
	if !ok {
		n = 1
	}
	out := models.DownloadOutput{OutputPath: opts.Dir + "/" + opts.RunID}
	for i := 0; i < n; i++ {
		out.Files = append(out.Files, fmt.Sprintf("%s/%s-%d", out.OutputPath, target, i))
	}
	return out, nil
}

func (s *fakeSource) ProbeReadiness(ctx context.Context) models.Probe {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.probed++
	if s.probe != nil {
		return *s.probe
	}
	return models.Probe{Name: "source", Valid: true, Detail: "ok"}
}

func (s *fakeSource) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

type fakeDestination struct {
	name    string
	kind    models.DestinationKind
	probe   models.Probe
	outcome models.SyncOutcome
	panics  bool
	mutate  bool

	mu      sync.Mutex
	batches [][]models.DownloadResult
	probed  int
	closed  bool
}

func newFakeDestination(name string, kind models.DestinationKind) *fakeDestination {
	return &fakeDestination{
		name:    name,
		kind:    kind,
		probe:   models.Probe{Name: name, Valid: true, Detail: "ok"},
		outcome: models.SyncOutcome{Succeeded: true, Detail: name + " synced"},
	}
}

func failingDestination(name string, kind models.DestinationKind, err error) *fakeDestination {
	d := newFakeDestination(name, kind)
	d.outcome = models.SyncOutcome{Succeeded: false, Err: err}
	return d
}

func (d *fakeDestination) Name() string                 { return d.name }
func (d *fakeDestination) Kind() models.DestinationKind { return d.kind }

func (d *fakeDestination) ProbeReadiness(ctx context.Context) models.Probe {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.probed++
	return d.probe
}

func (d *fakeDestination) SyncBatch(ctx context.Context, downloads []models.DownloadResult) models.SyncOutcome {
	d.mu.Lock()
	d.batches = append(d.batches, downloads)
	d.mu.Unlock()
	if d.mutate {
		for i := range downloads {
			downloads[i].Target = "mutated"
			if len(downloads[i].Files) > 0 {
				downloads[i].Files[0] = "mutated"
			}
		}
	}
	if d.panics {
		panic("destination exploded")
	}
	return d.outcome
}

func (d *fakeDestination) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

func (d *fakeDestination) Batches() [][]models.DownloadResult {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([][]models.DownloadResult(nil), d.batches...)
}

func specFor(d SyncDestination) DestinationSpec {
	return DestinationSpec{
		Kind:    d.Kind(),
		Enabled: true,
		Build:   func() (SyncDestination, error) { return d, nil },
	}
}

type recordingNotifier struct {
	mu        sync.Mutex
	started   []int
	completed []models.Summary
	errs      []error
	panics    bool
}

func (n *recordingNotifier) OnRunStart(ctx context.Context, targetCount int) {
	n.mu.Lock()
	n.started = append(n.started, targetCount)
	n.mu.Unlock()
	if n.panics {
		panic("notifier down")
	}
}

func (n *recordingNotifier) OnRunComplete(ctx context.Context, downloads []models.DownloadResult, summary models.Summary) {
	n.mu.Lock()
	n.completed = append(n.completed, summary)
	n.mu.Unlock()
	if n.panics {
		panic("notifier down")
	}
}

func (n *recordingNotifier) OnRunError(ctx context.Context, err error) {
	n.mu.Lock()
	n.errs = append(n.errs, err)
	n.mu.Unlock()
	if n.panics {
		panic("notifier down")
	}
}

type memoryReports struct {
	reports []models.Report
	err     error
}

func (m *memoryReports) Persist(ctx context.Context, report models.Report) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	m.reports = append(m.reports, report)
	return fmt.Sprintf("memory://%d", len(m.reports)), nil
}

var errNotFound = errors.New("not found")

func fixedClock() func() time.Time {
	var mu sync.Mutex
	t := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Second)
		return t
	}
}
