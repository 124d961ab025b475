package observability

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Report is the one line summary of a kdctl run.
type Report struct {
	CDC           string
	Mode          string
	Outcome       string
	Phase         string
	CDCNQN        string
	Status        uint8
	FailureReason uint8
	Registered    []string
	Skipped       int
	Referrals     int
	ReferralFails int
	Trace         string
	Duration      time.Duration
	Err           error
}

// NewReportLogger builds a JSON logger for run reports. Output defaults to
// stdout; human logs stay on stderr.
func NewReportLogger(out io.Writer, app string) zerolog.Logger {
	if out == nil {
		out = os.Stdout
	}
	return zerolog.New(out).With().Timestamp().Str("app", app).Logger()
}

// InitLogger builds a console logger for interactive report output.
func InitLogger(out io.Writer, app string) zerolog.Logger {
	if out == nil {
		out = os.Stdout
	}
	output := zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: time.RFC3339,
	}
	return zerolog.New(output).With().Timestamp().Str("app", app).Logger()
}

// LogReport writes r at a level matching its outcome.
func LogReport(logger zerolog.Logger, r Report) {
	event := logger.Info()
	switch {
	case r.Err != nil:
		event = logger.Error().Err(r.Err)
	case r.Outcome == "rejected":
		event = logger.Warn()
	}

	event = event.
		Str("cdc", r.CDC).
		Str("mode", r.Mode).
		Str("outcome", r.Outcome).
		Str("phase", r.Phase).
		Strs("registered", r.Registered).
		Int("skipped", r.Skipped).
		Dur("duration", r.Duration)
	if r.CDCNQN != "" {
		event = event.Str("cdc_nqn", r.CDCNQN)
	}
	if r.Outcome == "rejected" {
		event = event.Uint8("status", r.Status).Uint8("failure_reason", r.FailureReason)
	}
	if r.Mode == "auto" {
		event = event.Int("referrals", r.Referrals).Int("referral_failures", r.ReferralFails)
	}
	if r.Trace != "" {
		event = event.Str("trace", r.Trace)
	}
	event.Msg("kickstart")
}
