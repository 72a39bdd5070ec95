package backup

import (
	"backupsync/internal/models"
	"backupsync/pkg/utils"
)

// Summarize folds the accumulated results of ec into a Summary. It has no side
// effects; calling it twice on an unchanged context yields equal summaries.
func Summarize(ec *ExecutionContext) models.Summary {
	summary := models.Summary{
		TotalTargets:  len(ec.Targets),
		TotalUploads:  len(ec.Uploads),
		FailedTargets: []string{},
		Destinations:  make([]models.DestinationSummary, 0, len(ec.Syncs)),
	}

	for _, d := range ec.Downloads {
		if d.Succeeded {
			summary.SuccessfulDownloads++
			summary.TotalFiles += len(d.Files)
			continue
		}
		summary.FailedDownloads++
		summary.FailedTargets = append(summary.FailedTargets, d.Target)
	}

	syncFailures := 0
	for _, s := range ec.Syncs {
		if !s.Succeeded {
			syncFailures++
		}
		summary.Destinations = append(summary.Destinations, models.DestinationSummary{
			Name:      s.Destination,
			Kind:      s.Kind,
			Succeeded: s.Succeeded,
			Detail:    s.Detail,
			Error:     s.Error,
		})
	}

	if !ec.EndTime.IsZero() {
		summary.Duration = utils.FormatDuration(ec.EndTime.Sub(ec.StartTime))
	} else {
		summary.Duration = utils.FormatDuration(0)
	}

	switch {
	case !ec.Success():
		summary.Status = models.StatusFailed
	case summary.FailedDownloads > 0 || syncFailures > 0:
		summary.Status = models.StatusPartial
	default:
		summary.Status = models.StatusSuccess
	}
	return summary
}
