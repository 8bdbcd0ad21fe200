package telemetry

import (
	"time"

	"github.com/getsentry/sentry-go"
)

// InitSentry enables Sentry reporting when dsn is non-empty. The returned
// flush function drains pending events and is safe to call on shutdown even
// when Sentry is disabled.
func InitSentry(dsn, serviceName, environment string) (flush func(), err error) {
	if dsn == "" {
		return func() {}, nil
	}

	err = sentry.Init(sentry.ClientOptions{
		Dsn:         dsn,
		ServerName:  serviceName,
		Environment: environment,
	})
	if err != nil {
		return func() {}, err
	}

	return func() { sentry.Flush(2 * time.Second) }, nil
}
