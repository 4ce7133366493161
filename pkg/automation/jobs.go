package automation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mklimuk/frontdesk/pkg/courier"
	"github.com/mklimuk/frontdesk/pkg/incident"
	"github.com/mklimuk/frontdesk/pkg/notify"
)

// Names and default schedules of the built-in jobs.
const (
	JobArchiveWeek    = "courier-archive"
	JobArchiveCheck   = "courier-recovery-check"
	JobIncidentReport = "incident-report"
	JobPruneChanges   = "prune-changes"

	DefaultArchiveSchedule = "5 0 * * 0"
	DefaultCheckSchedule   = "@hourly"
	DefaultReportSchedule  = "0 6 * * 1"
	DefaultPruneSchedule   = "@daily"
)

// ArchivePreviousWeek archives the week before the one containing now. A week
// with no counts is not an error.
func ArchivePreviousWeek(t *courier.Tracker, now func() time.Time) JobFunc {
	return func(ctx context.Context) (string, error) {
		week := courier.WeekKey(now().AddDate(0, 0, -7))
		err := t.ArchiveWeek(ctx, week)
		if errors.Is(err, courier.ErrNothingToArchive) {
			return "nothing to archive for " + week, nil
		}
		if err != nil {
			return "", err
		}
		return "archived " + week, nil
	}
}

// CheckArchives reports an interrupted archive to the desk. Completing it is
// left to a person.
func CheckArchives(t *courier.Tracker, n notify.Notifier) JobFunc {
	return func(ctx context.Context) (string, error) {
		rec, err := t.RecoveryCheck(ctx)
		if err != nil {
			return "", err
		}
		if rec == nil {
			return "ok", nil
		}
		msg := fmt.Sprintf("Week %s is archived but its counts are still stored. Complete the archive to clear them.",
			courier.Label(rec.WeekKey))
		if err := n.Notify(ctx, notify.Notice{
			Level:   notify.LevelWarning,
			Title:   "Archive incomplete",
			Message: msg,
			Action:  "archive week",
			Time:    time.Now(),
		}); err != nil {
			return "", fmt.Errorf("failed to report incomplete archive: %w", err)
		}
		return "incomplete archive for " + rec.WeekKey, nil
	}
}

// Publisher stores an exported report somewhere people can open it.
type Publisher interface {
	Publish(ctx context.Context, name, mimeType string, data []byte) (string, error)
}

const xlsxMime = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// PublishIncidentReport exports the unified incident log as a workbook.
// Reruns on the same day replace that day's file.
func PublishIncidentReport(l *incident.Log, p Publisher, now func() time.Time) JobFunc {
	return func(ctx context.Context) (string, error) {
		list := l.All()
		data, err := incident.XLSX(list)
		if err != nil {
			return "", err
		}
		name := fmt.Sprintf("incident_report_%s.xlsx", now().Format("2006-01-02"))
		id, err := p.Publish(ctx, name, xlsxMime, data)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%d incidents in %s (%s)", len(list), name, id), nil
	}
}

// Pruner drops old change log rows.
type Pruner interface {
	PruneChanges(ctx context.Context, olderThan time.Time) (int64, error)
}

// PruneChanges keeps the change log of the sqlite store to the given age.
func PruneChanges(p Pruner, keep time.Duration, now func() time.Time) JobFunc {
	return func(ctx context.Context) (string, error) {
		n, err := p.PruneChanges(ctx, now().Add(-keep))
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("pruned %d changes", n), nil
	}
}
