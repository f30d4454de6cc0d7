package jobs

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const DefaultQueueSize = 128

type Func func(ctx context.Context) (any, error)

// Service runs queued background jobs on a single worker.
type Service struct {
	log   *zap.Logger
	queue chan job
	wg    sync.WaitGroup
}

type job struct {
	Type     string
	TenantID string
	Run      Func
}

func New(log *zap.Logger, queueSize int) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Service{
		log:   log,
		queue: make(chan job, queueSize),
	}
}

// Start launches the worker. It exits when ctx is cancelled; queued jobs
// that have not started are dropped.
func (s *Service) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.worker(ctx)
	}()
}

// Enqueue reports false when the queue is full and the job was dropped.
func (s *Service) Enqueue(jobType, tenantID string, run Func) bool {
	select {
	case s.queue <- job{Type: jobType, TenantID: tenantID, Run: run}:
		return true
	default:
		s.log.Warn("job queue full", zap.String("jobType", jobType), zap.String("tenantId", tenantID))
		return false
	}
}

func (s *Service) RunNow(ctx context.Context, jobType, tenantID string, run Func) (any, error) {
	return s.runJob(ctx, job{Type: jobType, TenantID: tenantID, Run: run})
}

// Every calls tick on each interval until ctx is cancelled.
func (s *Service) Every(ctx context.Context, interval time.Duration, tick func(ctx context.Context)) {
	if interval <= 0 {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				tick(ctx)
			}
		}
	}()
}

// Wait blocks until the worker and schedulers have exited.
func (s *Service) Wait() {
	s.wg.Wait()
}

func (s *Service) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-s.queue:
			if _, err := s.runJob(ctx, j); err != nil {
				s.log.Warn("job run failed", zap.String("jobType", j.Type), zap.String("tenantId", j.TenantID), zap.Error(err))
			}
		}
	}
}

func (s *Service) runJob(ctx context.Context, j job) (any, error) {
	start := time.Now()
	details, err := j.Run(ctx)
	status := "completed"
	if err != nil {
		status = "failed"
	}
	s.log.Debug("job run",
		zap.String("jobType", j.Type),
		zap.String("tenantId", j.TenantID),
		zap.String("status", status),
		zap.Duration("duration", time.Since(start)),
		zap.Any("details", details),
	)
	return details, err
}
