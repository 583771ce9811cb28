package observability

import (
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/rs/zerolog/log"
	"github.com/snappy-loop/magicstory/internal/pipeline"
)

const flushTimeout = 2 * time.Second

// InitSentry configures the global Sentry client. It returns a flush function
// to defer; both are no-ops when dsn is empty.
func InitSentry(dsn, environment, release string) func() {
	if dsn == "" {
		log.Info().Msg("Sentry not configured (SENTRY_DSN not set)")
		return func() {}
	}
	if err := sentry.Init(sentry.ClientOptions{
		Dsn:         dsn,
		Environment: environment,
		Release:     release,
	}); err != nil {
		log.Warn().Err(err).Msg("Failed to initialize Sentry")
		return func() {}
	}
	log.Info().Str("environment", environment).Str("release", release).Msg("Sentry initialized")
	return func() { sentry.Flush(flushTimeout) }
}

// SentryObserver reports fatal text failures as exceptions and records
// degraded image and audio stages as breadcrumbs.
type SentryObserver struct {
	hub *sentry.Hub
}

// NewSentryObserver reports to hub, or the current hub when nil.
func NewSentryObserver(hub *sentry.Hub) *SentryObserver {
	if hub == nil {
		hub = sentry.CurrentHub()
	}
	return &SentryObserver{hub: hub}
}

// OnTransition implements pipeline.Observer.
func (o *SentryObserver) OnTransition(e pipeline.Event) {
	if e.Err == nil {
		return
	}
	if e.To == pipeline.StateTextFailed {
		o.hub.WithScope(func(scope *sentry.Scope) {
			scope.SetTag("run_id", e.RunID)
			scope.SetTag("stage", string(e.Stage))
			o.hub.CaptureException(e.Err)
		})
		return
	}
	o.hub.AddBreadcrumb(&sentry.Breadcrumb{
		Category:  "pipeline",
		Message:   string(e.Stage) + " stage degraded: " + e.Err.Error(),
		Level:     sentry.LevelWarning,
		Timestamp: e.At,
		Data: map[string]interface{}{
			"run_id": e.RunID,
			"state":  string(e.To),
		},
	}, nil)
}
