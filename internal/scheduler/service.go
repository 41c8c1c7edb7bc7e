// Package scheduler fires recurring jobs from cron schedules. The only
// built-in schedule refreshes installed repository metadata, but the table
// accepts any job kind.
package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/palguna26/Quantum-Review/internal/domain"
	"github.com/palguna26/Quantum-Review/internal/queue"
)

type Service struct {
	repo     queue.Repository
	stop     chan struct{}
	interval time.Duration
}

func NewService(repo queue.Repository, checkInterval time.Duration) *Service {
	return &Service{
		repo:     repo,
		stop:     make(chan struct{}),
		interval: checkInterval,
	}
}

func (s *Service) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	log.Info().Dur("interval", s.interval).Msg("schedule service started")

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case now := <-ticker.C:
			s.processDueSchedules(ctx, now)
		}
	}
}

func (s *Service) Stop() {
	close(s.stop)
}

// EnsureRefreshSchedule creates the repository refresh schedule if none
// exists yet. Called once at startup.
func (s *Service) EnsureRefreshSchedule(ctx context.Context, cronExpr string) error {
	schedules, err := s.repo.ListSchedules(ctx)
	if err != nil {
		return err
	}
	for _, sch := range schedules {
		if sch.JobKind == domain.JobRefreshRepository {
			return nil
		}
	}
	next, err := NextRunTime(cronExpr, time.Now())
	if err != nil {
		return err
	}
	id, err := s.repo.CreateSchedule(ctx, domain.Schedule{
		Name:     "refresh-installed-repos",
		CronExpr: cronExpr,
		JobKind:  domain.JobRefreshRepository,
		Payload:  []byte(`{}`),
		Enabled:  true,
		NextRun:  next,
	})
	if err != nil {
		return err
	}
	log.Info().Str("schedule_id", id).Str("cron", cronExpr).Msg("repository refresh schedule created")
	return nil
}

func (s *Service) processDueSchedules(ctx context.Context, now time.Time) {
	schedules, err := s.repo.GetDueSchedules(ctx, now)
	if err != nil {
		log.Error().Err(err).Msg("failed to get due schedules")
		return
	}

	for _, schedule := range schedules {
		if err := s.processSchedule(ctx, schedule, now); err != nil {
			log.Error().Err(err).Str("schedule_id", schedule.ID).Msg("failed to process schedule")
		}
	}
}

func (s *Service) processSchedule(ctx context.Context, schedule domain.Schedule, now time.Time) error {
	cronSchedule, err := cron.ParseStandard(schedule.CronExpr)
	if err != nil {
		log.Error().Err(err).Str("cron_expr", schedule.CronExpr).Msg("invalid cron expression")
		return err
	}

	job := domain.Job{
		Kind:        schedule.JobKind,
		Payload:     schedule.Payload,
		Priority:    schedule.Priority,
		MaxAttempts: schedule.MaxAttempts,
	}

	jobID, err := s.repo.Enqueue(ctx, job)
	if err != nil {
		log.Error().Err(err).Str("schedule_id", schedule.ID).Msg("failed to enqueue scheduled job")
		return err
	}

	nextRun := cronSchedule.Next(now)
	if err := s.repo.UpdateScheduleLastRun(ctx, schedule.ID, now, nextRun); err != nil {
		log.Error().Err(err).Str("schedule_id", schedule.ID).Msg("failed to update schedule run times")
		return err
	}

	log.Info().
		Str("schedule_id", schedule.ID).
		Str("schedule_name", schedule.Name).
		Str("job_id", jobID).
		Time("next_run", nextRun).
		Msg("scheduled job enqueued")

	return nil
}

// ValidateCronExpression validates a cron expression
func ValidateCronExpression(expr string) error {
	_, err := cron.ParseStandard(expr)
	return err
}

// NextRunTime calculates the next run time for a cron expression
func NextRunTime(expr string, from time.Time) (time.Time, error) {
	cronSchedule, err := cron.ParseStandard(expr)
	if err != nil {
		return time.Time{}, err
	}
	return cronSchedule.Next(from), nil
}
