package telemetry

import (
	"errors"
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/storacha/upload-service/pkg/build"
)

// SetupErrorReporting configures the Sentry SDK for error reporting. Nothing
// is reported until it has been called with a non empty DSN.
func SetupErrorReporting(dsn string, environment string) error {
	if dsn == "" {
		return errors.New("missing sentry DSN")
	}
	err := sentry.Init(sentry.ClientOptions{
		Dsn:         dsn,
		Environment: environment,
		Release:     build.Version,
		Transport:   sentry.NewHTTPSyncTransport(),
	})
	if err != nil {
		return fmt.Errorf("sentry.Init: %w", err)
	}
	return nil
}

// ReportError reports an error to Sentry
func ReportError(err error) {
	sentry.CaptureException(err)
}

// Flush waits for buffered events to be sent.
func Flush(timeout time.Duration) bool {
	return sentry.Flush(timeout)
}
