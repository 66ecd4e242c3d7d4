// Package reconciler repairs friend pairs left inconsistent by partial
// applies. It consumes the partial-apply outbox and periodically scans the
// whole user population for asymmetric pairs and dangling references.
package reconciler

import (
	"context"
	"errors"
	"time"

	"github.com/jason-s-yu/socialgraph/internal/friends"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Queue is the outbox the reconciler consumes.
type Queue interface {
	// Pop blocks up to timeout; a nil record means the queue stayed empty.
	Pop(ctx context.Context, timeout time.Duration) (*friends.Record, error)
	Push(ctx context.Context, rec friends.Record) error
}

// Options tunes the reconciler loops.
type Options struct {
	// MaxAttempts bounds how often a record is re-queued after a failed repair.
	MaxAttempts int
	// ScanInterval is the period of the full scan; 0 disables it.
	ScanInterval time.Duration
	// Concurrency bounds parallel repairs during a scan.
	Concurrency int
	// PopTimeout is the BLPOP timeout of the outbox loop.
	PopTimeout time.Duration
	// ErrorBackoff is the pause after a queue error.
	ErrorBackoff time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 5
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 4
	}
	if o.PopTimeout <= 0 {
		o.PopTimeout = 3 * time.Second
	}
	if o.ErrorBackoff <= 0 {
		o.ErrorBackoff = time.Second
	}
	return o
}

// Service runs the outbox and scan loops against one engine.
type Service struct {
	engine *friends.Engine
	queue  Queue
	opts   Options
	log    logrus.FieldLogger
}

// New builds a reconciler. queue may be nil, in which case only the scan runs.
func New(engine *friends.Engine, queue Queue, opts Options, log logrus.FieldLogger) *Service {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Service{
		engine: engine,
		queue:  queue,
		opts:   opts.withDefaults(),
		log:    log,
	}
}

// Run starts the outbox loop and, when ScanInterval is set, the scan loop.
// It returns when ctx is done.
func (s *Service) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	if s.queue != nil {
		g.Go(func() error { return s.outboxLoop(ctx) })
	}
	if s.opts.ScanInterval > 0 {
		g.Go(func() error { return s.scanLoop(ctx) })
	}

	s.log.WithFields(logrus.Fields{
		"outbox":        s.queue != nil,
		"scan_interval": s.opts.ScanInterval,
	}).Info("reconciler started")
	err := g.Wait()
	s.log.Info("reconciler shutting down")
	return err
}

// outboxLoop pops partial-apply records and repairs their pairs.
func (s *Service) outboxLoop(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		rec, err := s.queue.Pop(ctx, s.opts.PopTimeout)
		if errors.Is(err, friends.ErrInvalidRecord) {
			s.log.WithError(err).Warn("dropping invalid outbox record")
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.log.WithError(err).Error("outbox pop failed")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(s.opts.ErrorBackoff):
			}
			continue
		}
		if rec == nil {
			continue
		}

		_ = s.Handle(ctx, *rec)
	}
}

// Handle repairs the pair named by rec, using its op as the hint. A failed
// repair is re-queued with an incremented attempt count until MaxAttempts.
func (s *Service) Handle(ctx context.Context, rec friends.Record) error {
	fields := logrus.Fields{
		"op":        rec.Op,
		"requester": rec.Requester,
		"target":    rec.Target,
		"attempt":   rec.Attempt,
	}

	report, err := s.engine.RepairPair(ctx, rec.Requester, rec.Target, rec.Op)
	if err == nil {
		s.log.WithFields(fields).WithField("steps", len(report.Steps)).Info("outbox record reconciled")
		return nil
	}
	if errors.Is(err, friends.ErrSelfReference) {
		s.log.WithFields(fields).WithError(err).Warn("dropping outbox record")
		return err
	}

	rec.Attempt++
	if rec.Attempt >= s.opts.MaxAttempts {
		s.log.WithFields(fields).WithError(err).Error("giving up on outbox record, left for the scan")
		return err
	}
	if qerr := s.queue.Push(context.WithoutCancel(ctx), rec); qerr != nil {
		s.log.WithFields(fields).WithError(qerr).Error("failed to re-queue outbox record")
		return err
	}
	s.log.WithFields(fields).WithError(err).Warn("repair failed, re-queued")
	return err
}

func (s *Service) scanLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.opts.ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			sum, err := s.Scan(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.log.WithError(err).Error("scan failed")
				continue
			}
			s.log.WithFields(sum.Fields()).Info("scan finished")
		}
	}
}
