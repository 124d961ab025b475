package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"

	"github.com/danmuck/kdctl/internal/kickstart"
	"github.com/danmuck/kdctl/internal/logging"
	"github.com/danmuck/kdctl/internal/nvmet"
	"github.com/danmuck/kdctl/internal/observability"
	"github.com/danmuck/kdctl/internal/record"
	"github.com/danmuck/kdctl/internal/trace"
	"github.com/danmuck/kdctl/internal/transport"
	logs "github.com/danmuck/smplog"
)

const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

type recordList []string

func (r *recordList) String() string { return strings.Join(*r, " ") }

func (r *recordList) Set(v string) error {
	*r = append(*r, v)
	return nil
}

func main() {
	logging.ConfigureRuntime()
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cfg, err := parseArgs(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		fmt.Fprintf(stderr, "kdctl: %v\n", err)
		return exitUsage
	}
	if cfg.LogLevel != "" && !logging.SetLevel(cfg.LogLevel) {
		logs.Warnf("kdctl: unknown log level %q", cfg.LogLevel)
	}

	rep := execute(ctx, cfg)

	if cfg.Metrics != "" {
		if err := observability.WriteTextfile(cfg.Metrics); err != nil {
			logs.Errorf(err, "kdctl: metrics export")
		}
	}
	logger := observability.InitLogger(stdout, "kdctl")
	if cfg.JSON {
		logger = observability.NewReportLogger(stdout, "kdctl")
	}
	observability.LogReport(logger, rep)

	if rep.Err != nil {
		return exitFailure
	}
	return exitOK
}

func parseArgs(args []string, stderr io.Writer) (runConfig, error) {
	fs := flag.NewFlagSet("kdctl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		records        recordList
		configPath     = fs.String("c", "", "kdctl TOML config file")
		address        = fs.String("a", "", "CDC address")
		port           = fs.String("p", record.DefaultServiceID, "CDC port")
		auto           = fs.Bool("auto", false, "register every port of the local nvmet target")
		root           = fs.String("root", nvmet.DefaultRoot, "nvmet configfs root")
		tracePath      = fs.String("trace", "", "write the exchange to a .pcap or .pcapng file")
		metrics        = fs.String("metrics", "", "write prometheus metrics to a textfile")
		jsonOut        = fs.Bool("json", false, "print the result as JSON")
		connectTimeout = fs.Duration("connect-timeout", transport.DefaultConnectTimeout, "per address connect timeout")
		ioTimeout      = fs.Duration("io-timeout", transport.DefaultIOTimeout, "deadline for the whole exchange")
		referralName   = fs.String("referral-name", nvmet.DefaultReferralName, "referral entry name in auto mode")
		logLevel       = fs.String("log-level", "", "log level: debug|info|warn|error|quiet")
	)
	fs.Var(&records, "r", "explicit record [transport,]address[:port]; repeatable")
	if err := fs.Parse(args); err != nil {
		return runConfig{}, err
	}
	if fs.NArg() > 0 {
		return runConfig{}, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}

	cfg := defaultRunConfig()
	if *configPath != "" {
		var err error
		if cfg, err = loadRunConfig(*configPath, cfg); err != nil {
			return runConfig{}, err
		}
	}

	// Flags given on the command line win over the file.
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "a":
			cfg.CDCAddress = strings.TrimSpace(*address)
		case "p":
			cfg.CDCPort = strings.TrimSpace(*port)
		case "auto":
			cfg.Auto = *auto
			if *auto {
				cfg.Records = nil
			}
		case "r":
			cfg.Records = normalizeRecords(records)
			cfg.Auto = false
		case "root":
			cfg.NvmetRoot = *root
		case "trace":
			cfg.Trace = *tracePath
		case "metrics":
			cfg.Metrics = *metrics
		case "json":
			cfg.JSON = *jsonOut
		case "connect-timeout":
			cfg.ConnectTimeout = *connectTimeout
		case "io-timeout":
			cfg.IOTimeout = *ioTimeout
		case "referral-name":
			cfg.ReferralName = *referralName
		case "log-level":
			cfg.LogLevel = *logLevel
		}
	})
	if *auto && len(records) > 0 {
		return runConfig{}, fmt.Errorf("-auto and -r are mutually exclusive")
	}
	if err := cfg.validate(); err != nil {
		return runConfig{}, err
	}
	return cfg, nil
}

// execute runs one registration and never returns an error; failures are
// carried in the report.
func execute(ctx context.Context, cfg runConfig) observability.Report {
	start := time.Now()
	cdc := net.JoinHostPort(strings.Trim(cfg.CDCAddress, "[]"), cfg.CDCPort)
	rep := observability.Report{
		CDC:     cdc,
		Mode:    cfg.mode(),
		Outcome: kickstart.OutcomeFailed.String(),
		Phase:   kickstart.PhaseIdle.String(),
		Trace:   cfg.Trace,
	}

	store := nvmet.NewFSStore(cfg.NvmetRoot)
	ports, err := collectRecords(cfg, store)
	if err != nil {
		rep.Err = err
		return finish(&rep, start)
	}

	conn, err := transport.Dial(ctx, cfg.CDCAddress, cfg.CDCPort, transport.Options{
		ConnectTimeout: cfg.ConnectTimeout,
		IOTimeout:      cfg.IOTimeout,
	})
	if err != nil {
		rep.Err = err
		return finish(&rep, start)
	}
	defer conn.Close()

	var stream io.ReadWriter = conn
	if cfg.Trace != "" {
		rec, err := trace.Create(cfg.Trace, conn)
		if err != nil {
			rep.Err = err
			return finish(&rep, start)
		}
		defer func() {
			if err := rec.Close(); err != nil {
				logs.Errorf(err, "kdctl: close trace %s", cfg.Trace)
			}
		}()
		stream = rec
	}

	res, err := kickstart.Run(stream, ports)
	rep.Outcome = res.Outcome.String()
	rep.Phase = res.Phase.String()
	rep.Skipped = len(res.Skipped)
	for _, p := range res.Registered {
		rep.Registered = append(rep.Registered, p.String())
	}
	observability.RecordRecords(cdc, len(res.Registered), len(res.Skipped))
	observability.RecordBytes(cdc, res.BytesSent, res.BytesReceived)
	if err != nil {
		rep.Err = err
		return finish(&rep, start)
	}

	switch res.Outcome {
	case kickstart.OutcomeRejected:
		rep.Status = res.Status
		rep.FailureReason = res.FailureReason
		logs.Warnf("kdctl: cdc=%s rejected registration status=%d reason=%d", cdc, res.Status, res.FailureReason)
	case kickstart.OutcomeRegistered:
		rep.CDCNQN = res.CDCNQN
		if cfg.Auto {
			registerReferrals(cfg, store, res.Registered, &rep)
		}
	}
	return finish(&rep, start)
}

func finish(rep *observability.Report, start time.Time) observability.Report {
	rep.Duration = time.Since(start)
	observability.RecordHandshake(rep.CDC, rep.Outcome, rep.Phase, rep.Duration)
	return *rep
}

func collectRecords(cfg runConfig, store nvmet.Store) ([]record.Port, error) {
	if !cfg.Auto {
		return record.ParseAll(cfg.Records)
	}
	en, err := nvmet.Enumerate(store)
	observability.RecordEnumeration(len(en.Ports), len(en.Skipped))
	if err != nil {
		return nil, err
	}
	return en.Ports, nil
}

func registerReferrals(cfg runConfig, store nvmet.Store, ports []record.Port, rep *observability.Report) {
	ref := nvmet.Referral{
		Name:      cfg.ReferralName,
		Address:   strings.Trim(cfg.CDCAddress, "[]"),
		ServiceID: cfg.CDCPort,
		Enable:    cfg.ReferralEnable,
	}
	for _, res := range nvmet.RegisterReferrals(store, ref, ports) {
		observability.RecordReferral(res.PortID, len(res.Written), len(res.Failed), res.Existed)
		if res.OK() {
			rep.Referrals++
			continue
		}
		rep.ReferralFails++
	}
}
