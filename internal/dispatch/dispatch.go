// Package dispatch turns ai-bot detections into classification events and defers their
// delivery until after the triggering response has been sent.
package dispatch

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawler-sentinel/internal/classifier"
	"github.com/JakeFAU/crawler-sentinel/internal/deferred"
	"github.com/JakeFAU/crawler-sentinel/internal/event"
	"github.com/JakeFAU/crawler-sentinel/internal/metrics"
	"github.com/JakeFAU/crawler-sentinel/internal/reqinfo"
	"github.com/JakeFAU/crawler-sentinel/internal/telemetry"
)

// Deliverer makes the first delivery attempt for an event.
type Deliverer interface {
	Deliver(ctx context.Context, evt event.ClassificationEvent) error
}

// Publisher mirrors events to an analytics sink.
type Publisher interface {
	Publish(ctx context.Context, evt event.ClassificationEvent) error
}

// Recorder receives configuration errors.
type Recorder interface {
	RecordError(ctx context.Context, category telemetry.Category, msg string, fields map[string]string) telemetry.Category
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// Config holds the site identity and the detection switch.
type Config struct {
	Enabled bool
	SiteID  string
}

// Dispatcher classifies requests and queues events for ai-bot traffic.
type Dispatcher struct {
	cfg        Config
	classifier *classifier.Classifier
	deliverer  Deliverer
	mirror     Publisher
	recorder   Recorder
	clock      Clock
	logger     *zap.Logger
}

// New constructs a Dispatcher. mirror may be nil.
func New(
	cfg Config,
	cls *classifier.Classifier,
	deliverer Deliverer,
	mirror Publisher,
	recorder Recorder,
	clock Clock,
	logger *zap.Logger,
) *Dispatcher {
	metrics.Init()
	if cls == nil {
		cls = classifier.Default()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		cfg:        cfg,
		classifier: cls,
		deliverer:  deliverer,
		mirror:     mirror,
		recorder:   recorder,
		clock:      clock,
		logger:     logger.Named("dispatch"),
	}
}

// Dispatch builds an event and registers its delivery on the request's post-response hook
// list carried by ctx. It performs no network I/O and reports whether an event was queued.
func (d *Dispatcher) Dispatch(ctx context.Context, userAgent, ip, path string) bool {
	if d.cfg.SiteID == "" {
		d.reportMissingSiteID(ctx)
		return false
	}

	evt := event.New(d.cfg.SiteID, userAgent, ip, path, d.clock.Now())
	if !deferred.Defer(ctx, d.task(evt)) {
		d.logger.Warn("no post-response slot available, event discarded", zap.String("user_agent", userAgent))
		return false
	}
	metrics.ObserveDispatch()
	return true
}

// reportMissingSiteID records the configuration error after the response, since the recorder
// persists to the store.
func (d *Dispatcher) reportMissingSiteID(ctx context.Context) {
	record := func(ctx context.Context) {
		d.recorder.RecordError(ctx, telemetry.CategoryConfiguration, "site id not configured, event discarded", nil)
	}
	if !deferred.Defer(ctx, record) {
		d.logger.Warn("site id not configured, event discarded")
	}
}

// task captures evt by value so that each hook owns its own input.
func (d *Dispatcher) task(evt event.ClassificationEvent) deferred.Task {
	return func(ctx context.Context) {
		if err := d.deliverer.Deliver(ctx, evt); err != nil {
			d.logger.Debug("first delivery attempt failed", zap.Error(err))
		}
		if d.mirror == nil {
			return
		}
		err := d.mirror.Publish(ctx, evt)
		metrics.ObserveMirrorPublish(err == nil)
		if err != nil {
			d.logger.Warn("mirror publish failed", zap.Error(err))
		}
	}
}

// Middleware classifies every request and dispatches ai-bot detections. The response is
// never altered.
func (d *Dispatcher) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if d.cfg.Enabled {
			d.inspect(r)
		}
		next.ServeHTTP(w, r)
	})
}

func (d *Dispatcher) inspect(r *http.Request) {
	info := reqinfo.Extract(r)
	class := d.classifier.Classify(info.UserAgent)
	metrics.ObserveDetection(string(class))
	if class != classifier.ClassAIBot {
		return
	}
	pattern, _ := d.classifier.MatchAIBot(info.UserAgent)
	d.logger.Debug("ai bot detected",
		zap.String("pattern", pattern),
		zap.String("ip", info.IP),
		zap.String("path", info.Path),
	)
	d.Dispatch(r.Context(), info.UserAgent, info.IP, info.Path)
}
