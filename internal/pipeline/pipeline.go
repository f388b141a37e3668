// Package pipeline wires sources, buffers and sinks into routes and runs
// them with per-route failure isolation.
//
// Every configured sink owns one buffer; sources fan each admitted payload
// into every healthy route's buffer. A route whose sink or buffer fails is
// taken out of rotation without stopping the others.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/telepipe/telepipe/internal/errors"
	"github.com/telepipe/telepipe/pkg/buffer"
	"github.com/telepipe/telepipe/pkg/event"
	"github.com/telepipe/telepipe/pkg/sink"
	"github.com/telepipe/telepipe/pkg/source"
)

const defaultGracePeriod = 30 * time.Second

// drainPollInterval is how often the shutdown path checks queue depth.
const drainPollInterval = 50 * time.Millisecond

// MetricsCollector defines metrics operations for the pipeline.
type MetricsCollector interface {
	SetRouteUp(route string, up bool)
}

// Route binds one sink to its dedicated buffer.
type Route struct {
	Name  string
	Queue buffer.Queue
	Sink  sink.Sink
}

// RouteStatus reports one route's health.
type RouteStatus struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Error   string `json:"error,omitempty"`
}

// Options configures a pipeline runner.
type Options struct {
	Sources     []source.Source
	Routes      []Route
	Validator   event.Validator
	GracePeriod time.Duration
	Logger      *zap.Logger
	Metrics     MetricsCollector
}

// Runner drives the configured sources and routes until its context is
// canceled or every source is exhausted, then drains the routes.
type Runner struct {
	sources   []source.Source
	routes    []*route
	validator event.Validator
	grace     time.Duration
	logger    *zap.Logger
	metrics   MetricsCollector
}

type route struct {
	name   string
	queue  buffer.Queue
	sink   sink.Sink
	failed atomic.Bool

	mu  sync.Mutex
	err error
}

func (r *route) setErr(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err == nil {
		r.err = err
	}
}

func (r *route) errValue() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// New creates a pipeline runner from pre-built components.
func New(opts Options) (*Runner, error) {
	if len(opts.Routes) == 0 {
		return nil, errors.New("pipeline: at least one route is required")
	}

	routes := make([]*route, 0, len(opts.Routes))
	for _, rt := range opts.Routes {
		if rt.Name == "" {
			return nil, errors.New("pipeline: every route needs a name")
		}
		if rt.Queue == nil || rt.Sink == nil {
			return nil, fmt.Errorf("pipeline: route %s needs a queue and a sink", rt.Name)
		}
		routes = append(routes, &route{name: rt.Name, queue: rt.Queue, sink: rt.Sink})
	}

	for _, src := range opts.Sources {
		if src == nil {
			return nil, errors.New("pipeline: nil source")
		}
	}

	grace := opts.GracePeriod
	if grace <= 0 {
		grace = defaultGracePeriod
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Runner{
		sources:   opts.Sources,
		routes:    routes,
		validator: opts.Validator,
		grace:     grace,
		logger:    logger,
		metrics:   opts.Metrics,
	}, nil
}

// Run starts every route consumer and every source, then blocks until ctx
// is canceled or all sources finish. A run with no sources drains whatever
// the buffers already hold and exits.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Info("pipeline started",
		zap.Int("sources", len(r.sources)),
		zap.Int("routes", len(r.routes)),
	)

	for _, rt := range r.routes {
		if r.metrics != nil {
			r.metrics.SetRouteUp(rt.name, true)
		}
	}

	// Sink contexts are independent of ctx so consumers can keep
	// draining after the shutdown signal.
	sinkCtx, cancelSinks := context.WithCancel(context.Background())
	defer cancelSinks()

	var sinkWG sync.WaitGroup
	for _, rt := range r.routes {
		sinkWG.Add(1)
		go func(rt *route) {
			defer sinkWG.Done()
			if err := rt.sink.Run(sinkCtx, rt.queue); err != nil {
				r.failRoute(rt, err)
			}
		}(rt)
	}

	srcCtx, cancelSources := context.WithCancel(ctx)
	defer cancelSources()

	var srcWG sync.WaitGroup
	for _, src := range r.sources {
		srcWG.Add(1)
		go func(src source.Source) {
			defer srcWG.Done()
			if err := src.Run(srcCtx, r.emit); err != nil {
				r.logger.Error("source failed",
					zap.String("source", src.Name()),
					zap.Error(err),
				)
			}
		}(src)
	}

	sourcesDone := make(chan struct{})
	go func() {
		srcWG.Wait()
		close(sourcesDone)
	}()

	select {
	case <-ctx.Done():
		r.logger.Info("pipeline shutting down", zap.Duration("grace_period", r.grace))
		cancelSources()
		<-sourcesDone
	case <-sourcesDone:
		r.logger.Info("all sources finished, draining routes")
	}

	r.drain(cancelSinks, &sinkWG)

	for _, src := range r.sources {
		if err := src.Close(); err != nil {
			r.logger.Warn("error closing source",
				zap.String("source", src.Name()),
				zap.Error(err),
			)
		}
	}
	for _, rt := range r.routes {
		if err := rt.sink.Close(); err != nil {
			r.logger.Warn("error closing sink",
				zap.String("route", rt.name),
				zap.Error(err),
			)
		}
	}

	r.logger.Info("pipeline stopped")
	return r.exitError()
}

// emit admits one payload into every healthy route's buffer. It returns
// the validation error for rejected payloads and ErrPipelineClosed once no
// route can accept records anymore.
func (r *Runner) emit(ctx context.Context, payload []byte) error {
	if r.validator != nil {
		if err := r.validator.Validate(payload); err != nil {
			return err
		}
	}

	active := 0
	for _, rt := range r.routes {
		if rt.failed.Load() {
			continue
		}
		active++

		if _, err := rt.queue.Enqueue(ctx, payload); err != nil {
			switch {
			case ctx.Err() != nil:
				return ctx.Err()
			case errors.Is(err, buffer.ErrFull):
				// drop_newest policy; the buffer counted the drop
			case errors.Is(err, buffer.ErrTooLarge):
				r.logger.Warn("record too large for route buffer",
					zap.String("route", rt.name),
					zap.Int("payload_bytes", len(payload)),
				)
			case errors.Is(err, buffer.ErrClosed):
				active--
			default:
				r.failRoute(rt, fmt.Errorf("enqueue: %w", err))
				active--
			}
		}
	}

	if active == 0 {
		return apperrors.ErrPipelineClosed
	}
	return nil
}

// failRoute takes a route out of rotation. Its buffer is closed so
// producers stop feeding it; disk-backed records survive for redelivery
// after a restart.
func (r *Runner) failRoute(rt *route, err error) {
	if rt.failed.Swap(true) {
		return
	}
	rt.setErr(err)

	r.logger.Error("sink route failed",
		zap.String("route", rt.name),
		zap.Error(err),
	)
	if r.metrics != nil {
		r.metrics.SetRouteUp(rt.name, false)
	}

	if cerr := rt.queue.Close(); cerr != nil {
		r.logger.Warn("error closing failed route buffer",
			zap.String("route", rt.name),
			zap.Error(cerr),
		)
	}
}

// drain waits for the queues to empty within the grace period, closes the
// buffers so consumers flush and stop, and cancels whatever remains when
// the budget runs out.
func (r *Runner) drain(cancelSinks context.CancelFunc, sinkWG *sync.WaitGroup) {
	deadline := time.Now().Add(r.grace)

	for time.Now().Before(deadline) && !r.queuesEmpty() {
		time.Sleep(drainPollInterval)
	}

	for _, rt := range r.routes {
		if err := rt.queue.Close(); err != nil {
			r.logger.Warn("error closing route buffer",
				zap.String("route", rt.name),
				zap.Error(err),
			)
		}
	}

	done := make(chan struct{})
	go func() {
		sinkWG.Wait()
		close(done)
	}()

	wait := time.Until(deadline)
	if wait < 0 {
		wait = 0
	}
	select {
	case <-done:
	case <-time.After(wait):
		r.logger.Warn("grace period expired, canceling sink routes")
		cancelSinks()
		<-done
	}
}

func (r *Runner) queuesEmpty() bool {
	for _, rt := range r.routes {
		if rt.failed.Load() {
			continue
		}
		if rt.queue.Len() > 0 {
			return false
		}
	}
	return true
}

// exitError reports total failure. Individual route failures degrade the
// pipeline but do not fail the run.
func (r *Runner) exitError() error {
	var errs []error
	failed := 0
	for _, rt := range r.routes {
		if rt.failed.Load() {
			failed++
			if err := rt.errValue(); err != nil {
				errs = append(errs, fmt.Errorf("route %s: %w", rt.name, err))
			}
		}
	}
	if failed == len(r.routes) {
		return errors.Join(errs...)
	}
	return nil
}

// Routes reports the health of every route.
func (r *Runner) Routes() []RouteStatus {
	statuses := make([]RouteStatus, 0, len(r.routes))
	for _, rt := range r.routes {
		status := RouteStatus{Name: rt.name, Healthy: !rt.failed.Load()}
		if err := rt.errValue(); err != nil {
			status.Error = err.Error()
		}
		statuses = append(statuses, status)
	}
	return statuses
}

// Ready reports whether the pipeline can still move records: at least one
// route is healthy. A degraded pipeline stays ready.
func (r *Runner) Ready() bool {
	for _, rt := range r.routes {
		if !rt.failed.Load() {
			return true
		}
	}
	return false
}
