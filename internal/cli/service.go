package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/roach88/searchsync/internal/index"
	"github.com/roach88/searchsync/internal/mapping"
	"github.com/roach88/searchsync/internal/notify"
	"github.com/roach88/searchsync/internal/schedule"
	"github.com/roach88/searchsync/internal/store"
	"github.com/roach88/searchsync/internal/syncer"
)

// service is the long-running process behind the run command: the crawl
// scheduler plus, when events are enabled, the event intake feeding the
// dispatcher.
type service struct {
	env    *environment
	conn   index.Connector
	logger *slog.Logger

	scheduler  *schedule.Scheduler
	dispatcher *syncer.Dispatcher
	server     *http.Server
	listener   net.Listener
	subscriber *notify.Subscriber
	watcher    *mapping.Watcher

	drainTimeout time.Duration
	ready        chan struct{}
}

func newService(env *environment, st *store.Store, conn index.Connector, drainTimeout time.Duration) (*service, error) {
	cfg := env.cfg
	s := &service{
		env:          env,
		conn:         conn,
		logger:       env.logger,
		drainTimeout: drainTimeout,
		ready:        make(chan struct{}),
	}

	crawlers, err := env.crawlers(st, conn, "")
	if err != nil {
		return nil, err
	}
	jobs := make([]schedule.Crawler, len(crawlers))
	for i, c := range crawlers {
		jobs[i] = c
	}
	spec, err := cfg.Schedule()
	if err != nil {
		return nil, err
	}
	s.scheduler, err = schedule.New(spec, jobs,
		schedule.WithLogger(env.logger),
		schedule.WithReset(env.reset(conn)))
	if err != nil {
		return nil, err
	}

	if cfg.Mapping.Load && cfg.Mapping.Watch {
		s.watcher = mapping.NewWatcher(env.mappingLoader(conn))
	}

	if !cfg.Events.Enabled {
		return s, nil
	}
	synchronizer, err := syncer.New(cfg.Synchronizer(), conn, st, syncer.WithLogger(env.logger))
	if err != nil {
		return nil, err
	}
	s.dispatcher = syncer.NewDispatcher(synchronizer, cfg.Events.Workers, syncer.WithDispatcherLogger(env.logger))

	validator, err := notify.NewValidator()
	if err != nil {
		return nil, err
	}
	if cfg.Events.Listen != "" {
		s.server = &http.Server{
			Addr: cfg.Events.Listen,
			Handler: notify.NewServer(validator, s.dispatcher,
				notify.ServerConfig{MaxBodyBytes: int64(cfg.Events.MaxBodyBytes)}, env.logger),
			ReadHeaderTimeout: 10 * time.Second,
		}
	}
	if cfg.Events.StreamURL != "" {
		s.subscriber = notify.NewSubscriber(notify.SubscriberConfig{URL: cfg.Events.StreamURL},
			validator, s.dispatcher, env.logger)
	}
	return s, nil
}

// Addr returns the HTTP intake address once Ready is closed, or "" when
// the intake is disabled.
func (s *service) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Ready is closed once every component has started.
func (s *service) Ready() <-chan struct{} {
	return s.ready
}

// Run starts every component and blocks until ctx ends, or until the
// scheduler finishes when nothing else is running. Shutdown stops intake
// first, then the scheduler, then drains queued events.
func (s *service) Run(ctx context.Context) error {
	if s.env.cfg.Mapping.Load {
		if _, err := s.env.mappingLoader(s.conn).Load(ctx); err != nil {
			s.logger.Error("initial mapping load failed", "error", err)
		}
	}

	if s.server != nil {
		ln, err := net.Listen("tcp", s.server.Addr)
		if err != nil {
			return wrapCoded(ExitFailure, ErrCodeGeneric, "failed to listen for events", err)
		}
		s.listener = ln
	}

	intakeCtx, stopIntake := context.WithCancel(ctx)
	defer stopIntake()
	var wg sync.WaitGroup

	// The dispatcher outlives ctx so queued events can drain.
	dispatchCtx, stopDispatch := context.WithCancel(context.Background())
	defer stopDispatch()
	if s.dispatcher != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.dispatcher.Run(dispatchCtx); err != nil {
				s.logger.Debug("dispatcher exited", "error", err)
			}
		}()
	}
	if s.listener != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.logger.Info("event intake listening", "addr", s.listener.Addr().String())
			if err := s.server.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.logger.Error("event intake failed", "error", err)
			}
		}()
	}
	if s.subscriber != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.subscriber.Run(intakeCtx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error("event stream stopped", "error", err)
			}
		}()
	}
	if s.watcher != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.watcher.Run(intakeCtx); err != nil {
				s.logger.Error("mapping watcher stopped", "error", err)
			}
		}()
	}
	// Passes run on their own context so a signal lets the running pass
	// complete; shutdown ends the scheduler with Stop and only cancels the
	// pass once the drain timeout expires.
	passCtx, cancelPass := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelPass()
	s.scheduler.Start(passCtx)
	close(s.ready)

	if s.dispatcher == nil && s.watcher == nil {
		select {
		case <-ctx.Done():
		case <-s.scheduler.Done():
		}
	} else {
		<-ctx.Done()
	}
	return s.shutdown(stopIntake, cancelPass, &wg)
}

func (s *service) shutdown(stopIntake, cancelPass context.CancelFunc, wg *sync.WaitGroup) error {
	s.logger.Info("shutting down")
	drainCtx, cancel := context.WithTimeout(context.Background(), s.drainTimeout)
	defer cancel()

	var errs []error
	if s.server != nil {
		if err := s.server.Shutdown(drainCtx); err != nil {
			errs = append(errs, fmt.Errorf("stop event intake: %w", err))
		}
	}
	stopIntake()

	s.scheduler.Stop()
	select {
	case <-s.scheduler.Done():
	case <-drainCtx.Done():
		errs = append(errs, fmt.Errorf("scheduler did not stop: %w", drainCtx.Err()))
		cancelPass()
		<-s.scheduler.Done()
	}

	if s.dispatcher != nil {
		if err := s.dispatcher.Close(drainCtx); err != nil {
			errs = append(errs, fmt.Errorf("drain events: %w", err))
		}
		st := s.dispatcher.Stats()
		s.logger.Info("events drained", "applied", st.Applied, "failed", st.Failed, "abandoned", st.Pending)
	}
	wg.Wait()

	if err := flush(drainCtx, s.conn); err != nil {
		errs = append(errs, fmt.Errorf("flush index writes: %w", err))
	}
	return errors.Join(errs...)
}
