// Package scheduler triggers the recurring decision services per tenant on
// cron schedules.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	storex "github.com/tanpawarit/growth-orchestrator/agent/store"
)

type Config struct {
	Timezone       string        `split_words:"true" default:"UTC"`
	WeeklyReview   string        `split_words:"true" default:"0 6 * * MON"`
	DailyDigest    string        `split_words:"true" default:"0 7 * * MON-FRI"`
	SimilarityScan string        `split_words:"true" default:"30 2 * * *"`
	MaxConcurrent  int           `split_words:"true" default:"4"`
	JobTimeout     time.Duration `split_words:"true" default:"30m"`
}

// TenantJob runs one job for one tenant.
type TenantJob func(ctx context.Context, tenantID string) error

type Job struct {
	Name string
	Spec string
	Run  TenantJob
}

type TenantLister interface {
	ListTenants(ctx context.Context) ([]storex.Tenant, error)
}

type Scheduler struct {
	cron    *cron.Cron
	tenants TenantLister
	sem     *Semaphore
	timeout time.Duration

	mu       sync.Mutex
	inflight map[string]bool
	wg       sync.WaitGroup
}

func New(cfg Config, tenants TenantLister) (*Scheduler, error) {
	loc := time.UTC
	if cfg.Timezone != "" {
		l, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			return nil, fmt.Errorf("scheduler timezone: %w", err)
		}
		loc = l
	}
	return &Scheduler{
		cron:     cron.New(cron.WithLocation(loc)),
		tenants:  tenants,
		sem:      NewSemaphore(cfg.MaxConcurrent),
		timeout:  cfg.JobTimeout,
		inflight: map[string]bool{},
	}, nil
}

// Register schedules job. An empty schedule disables it.
func (s *Scheduler) Register(ctx context.Context, job Job) error {
	if job.Spec == "" {
		log.Info().Str("job", job.Name).Msg("scheduler job disabled")
		return nil
	}
	if _, err := s.cron.AddFunc(job.Spec, func() { s.Dispatch(ctx, job) }); err != nil {
		return fmt.Errorf("schedule %s: %w", job.Name, err)
	}
	log.Info().Str("job", job.Name).Str("spec", job.Spec).Msg("scheduler job registered")
	return nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts new triggers and waits for running jobs.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.wg.Wait()
}

// Dispatch fans job out over every tenant. A tenant whose previous run of the
// same job is still going is skipped for this tick.
func (s *Scheduler) Dispatch(ctx context.Context, job Job) {
	tenants, err := s.tenants.ListTenants(ctx)
	if err != nil {
		log.Error().Err(err).Str("job", job.Name).Msg("list tenants failed")
		return
	}

	for _, t := range tenants {
		key := job.Name + "/" + t.ID
		if !s.claim(key) {
			log.Warn().Str("job", job.Name).Str("tenant_id", t.ID).Msg("scheduler job skipped: previous run still active")
			continue
		}

		s.wg.Add(1)
		go func(tenantID string) {
			defer s.wg.Done()
			defer s.release(key)

			if err := s.sem.Acquire(ctx); err != nil {
				return
			}
			defer s.sem.Release()

			runCtx := ctx
			if s.timeout > 0 {
				var cancel context.CancelFunc
				runCtx, cancel = context.WithTimeout(ctx, s.timeout)
				defer cancel()
			}

			started := time.Now()
			logger := log.With().Str("job", job.Name).Str("tenant_id", tenantID).Logger()
			if err := job.Run(runCtx, tenantID); err != nil {
				logger.Error().Err(err).Dur("took", time.Since(started)).Msg("scheduler job failed")
				return
			}
			logger.Info().Dur("took", time.Since(started)).Msg("scheduler job finished")
		}(t.ID)
	}
}

// Wait blocks until every dispatched run has returned.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) claim(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight[key] {
		return false
	}
	s.inflight[key] = true
	return true
}

func (s *Scheduler) release(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inflight, key)
}
