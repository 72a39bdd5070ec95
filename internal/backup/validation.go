package backup

import (
	"context"
	"fmt"
	"log/slog"

	"backupsync/internal/models"
)

type ValidationReport struct {
	Success bool           `json:"success"`
	Probes  []models.Probe `json:"probes"`
}

// Failed returns the names of the probes that were not valid, in probe order.
func (r ValidationReport) Failed() []string {
	var names []string
	for _, p := range r.Probes {
		if !p.Valid {
			names = append(names, p.Name)
		}
	}
	return names
}

// ValidationGate probes every capability for readiness before any mutating
// work begins. Only resolved (enabled) destinations are passed in.
type ValidationGate struct {
	Logger *slog.Logger
}

func (g ValidationGate) Validate(ctx context.Context, source SourceService, destinations []SyncDestination) ValidationReport {
	logger := loggerOrDefault(g.Logger)
	report := ValidationReport{Success: true}

	add := func(p models.Probe) {
		report.Probes = append(report.Probes, p)
		if !p.Valid {
			report.Success = false
			logger.Warn("capability not ready", "name", p.Name, "detail", p.Detail)
			return
		}
		logger.Debug("capability ready", "name", p.Name, "detail", p.Detail)
	}

	if source == nil {
		add(models.Probe{Name: "source", Valid: false, Detail: "no source service configured"})
	} else {
		add(safeProbe(ctx, "source", source.ProbeReadiness))
	}
	for _, d := range destinations {
		add(probeDestination(ctx, d))
	}
	return report
}

// probeDestination probes d. A panic while resolving its name is reported
// under the destination's kind, or "destination" when that panics too.
func probeDestination(ctx context.Context, d SyncDestination) (p models.Probe) {
	name := "destination"
	defer func() {
		if r := recover(); r != nil {
			p = models.Probe{Name: name, Valid: false, Detail: fmt.Sprintf("probe panicked: %v", r)}
		}
	}()
	name = string(d.Kind())
	name = d.Name()
	return safeProbe(ctx, name, d.ProbeReadiness)
}

func safeProbe(ctx context.Context, name string, probe func(context.Context) models.Probe) (p models.Probe) {
	defer func() {
		if r := recover(); r != nil {
			p = models.Probe{Name: name, Valid: false, Detail: fmt.Sprintf("probe panicked: %v", r)}
		}
	}()
	p = probe(ctx)
	if p.Name == "" {
		p.Name = name
	}
	return p
}
