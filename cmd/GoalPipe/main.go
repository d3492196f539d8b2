package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/BTreeMap/GoalPipe/internal/api"
	"github.com/BTreeMap/GoalPipe/internal/flow"
	"github.com/BTreeMap/GoalPipe/internal/lockfile"
	"github.com/BTreeMap/GoalPipe/internal/messaging"
	"github.com/BTreeMap/GoalPipe/internal/metrics"
	"github.com/BTreeMap/GoalPipe/internal/recovery"
	"github.com/BTreeMap/GoalPipe/internal/scheduler"
	"github.com/BTreeMap/GoalPipe/internal/store"
	"github.com/BTreeMap/GoalPipe/internal/twiliowhatsapp"
	"github.com/BTreeMap/GoalPipe/internal/util"
	"github.com/BTreeMap/GoalPipe/internal/whatsapp"
	"github.com/joho/godotenv"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for GoalPipe state data
	DefaultStateDir = "/var/lib/goalpipe"
	// DefaultAppDBFileName is the goals document created in the state directory
	DefaultAppDBFileName = "goals.json"
	// DefaultWhatsAppDBFileName is the whatsmeow device database in the state directory
	DefaultWhatsAppDBFileName = "whatsmeow.db"
)

// Transport names accepted by -transport / GOALPIPE_TRANSPORT.
const (
	TransportTwilio   = "twilio"
	TransportWhatsApp = "whatsapp"
	TransportMock     = "mock"
)

// Config holds environment configuration
type Config struct {
	StateDir         string
	WhatsAppDBDSN    string
	ApplicationDBDSN string
	Timezone         string
	APIAddr          string
	Transport        string
	WebhookURL       string
	SessionTTL       time.Duration
	Debug            bool
}

// Flags holds command line flag values
type Flags struct {
	qrOutput   string
	numeric    bool
	stateDir   string
	dbDSN      string
	waDSN      string
	timezone   string
	apiAddr    string
	transport  string
	webhookURL string
	sessionTTL time.Duration
}

func main() {
	config := loadEnvironmentConfig()
	initializeLogger(config.Debug)

	flags, err := parseCommandLineFlags(os.Args[1:], config)
	if err != nil {
		slog.Error("Invalid command line", "error", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Bootstrapping GoalPipe", "state_dir", flags.stateDir, "transport", flags.transport, "timezone", flags.timezone)
	if err := run(ctx, flags); err != nil {
		slog.Error("GoalPipe failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("GoalPipe exited successfully")
}

// initializeLogger sets up structured logging, at debug level when requested
func initializeLogger(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		StateDir:         os.Getenv("GOALPIPE_STATE_DIR"),
		WhatsAppDBDSN:    os.Getenv("WHATSAPP_DB_DSN"),
		ApplicationDBDSN: os.Getenv("DATABASE_DSN"),
		Timezone:         os.Getenv("GOALPIPE_TIMEZONE"),
		APIAddr:          os.Getenv("API_ADDR"),
		Transport:        strings.ToLower(os.Getenv("GOALPIPE_TRANSPORT")),
		WebhookURL:       os.Getenv("TWILIO_WEBHOOK_URL"),
		SessionTTL:       util.ParseDurationEnv("GOALPIPE_SESSION_TTL", flow.DefaultSessionTTL),
		Debug:            util.ParseBoolEnv("GOALPIPE_DEBUG", false),
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
	}
	if config.ApplicationDBDSN == "" {
		config.ApplicationDBDSN = os.Getenv("DATABASE_URL")
	}
	if config.Transport == "" {
		config.Transport = TransportWhatsApp
		if os.Getenv("TWILIO_ACCOUNT_SID") != "" {
			config.Transport = TransportTwilio
		}
	}
	if config.APIAddr == "" {
		config.APIAddr = api.DefaultAddr
	}

	slog.Debug("environment variables loaded",
		"GOALPIPE_STATE_DIR", config.StateDir,
		"WHATSAPP_DB_DSN_SET", config.WhatsAppDBDSN != "",
		"DATABASE_DSN_SET", config.ApplicationDBDSN != "",
		"GOALPIPE_TIMEZONE", config.Timezone,
		"API_ADDR", config.APIAddr,
		"GOALPIPE_TRANSPORT", config.Transport,
		"GOALPIPE_SESSION_TTL", config.SessionTTL)

	return config
}

// parseCommandLineFlags parses args with environment defaults. DSNs left empty default
// to files in the (possibly overridden) state directory.
func parseCommandLineFlags(args []string, config Config) (Flags, error) {
	var flags Flags
	fs := flag.NewFlagSet("GoalPipe", flag.ContinueOnError)
	fs.StringVar(&flags.qrOutput, "qr-output", "", "path to write login QR code")
	fs.BoolVar(&flags.numeric, "numeric-code", false, "use numeric login code instead of QR code")
	fs.StringVar(&flags.stateDir, "state-dir", config.StateDir, "state directory for GoalPipe data (overrides $GOALPIPE_STATE_DIR)")
	fs.StringVar(&flags.dbDSN, "db-dsn", config.ApplicationDBDSN, "goal store DSN: postgres URL, SQLite path, or .json document (overrides $DATABASE_DSN / $DATABASE_URL)")
	fs.StringVar(&flags.waDSN, "whatsapp-db-dsn", config.WhatsAppDBDSN, "whatsmeow device store DSN (overrides $WHATSAPP_DB_DSN)")
	fs.StringVar(&flags.timezone, "timezone", config.Timezone, "IANA timezone for dates and reminders (overrides $GOALPIPE_TIMEZONE)")
	fs.StringVar(&flags.apiAddr, "api-addr", config.APIAddr, "API server address (overrides $API_ADDR)")
	fs.StringVar(&flags.transport, "transport", config.Transport, "chat transport: twilio, whatsapp or mock (overrides $GOALPIPE_TRANSPORT)")
	fs.StringVar(&flags.webhookURL, "webhook-url", config.WebhookURL, "public Twilio webhook URL; enables signature validation (overrides $TWILIO_WEBHOOK_URL)")
	fs.DurationVar(&flags.sessionTTL, "session-ttl", config.SessionTTL, "idle timeout of a conversation (overrides $GOALPIPE_SESSION_TTL)")
	if err := fs.Parse(args); err != nil {
		return Flags{}, err
	}

	if flags.dbDSN == "" {
		flags.dbDSN = filepath.Join(flags.stateDir, DefaultAppDBFileName)
	}
	if flags.waDSN == "" {
		flags.waDSN = "file:" + filepath.Join(flags.stateDir, DefaultWhatsAppDBFileName) + "?_foreign_keys=on"
	}
	flags.transport = strings.ToLower(flags.transport)
	switch flags.transport {
	case TransportTwilio, TransportWhatsApp, TransportMock:
	default:
		return Flags{}, fmt.Errorf("unknown transport %q", flags.transport)
	}
	if flags.sessionTTL <= 0 {
		flags.sessionTTL = flow.DefaultSessionTTL
	}

	slog.Debug("flags parsed",
		"stateDir", flags.stateDir,
		"dbDSN_type", store.DetectDSNType(flags.dbDSN),
		"timezone", flags.timezone,
		"apiAddr", flags.apiAddr,
		"transport", flags.transport,
		"webhook_validation", flags.webhookURL != "",
		"sessionTTL", flags.sessionTTL)
	return flags, nil
}

// loadLocation resolves the deployment timezone; empty means the host's local zone.
func loadLocation(name string) (*time.Location, error) {
	if name == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", name, err)
	}
	return loc, nil
}

// buildWhatsAppOptions constructs WhatsApp configuration options
func buildWhatsAppOptions(flags Flags) []whatsapp.Option {
	var waOpts []whatsapp.Option
	if flags.qrOutput != "" {
		waOpts = append(waOpts, whatsapp.WithQRCodeOutput(flags.qrOutput))
	}
	if flags.numeric {
		waOpts = append(waOpts, whatsapp.WithNumericCode())
	}
	if flags.waDSN != "" {
		waOpts = append(waOpts, whatsapp.WithDBDSN(flags.waDSN))
	}
	return waOpts
}

// transport is the chosen messaging service plus what the API and shutdown need from it.
type transport struct {
	svc     messaging.Service
	webhook func() api.Option
	close   func()
}

func buildTransport(flags Flags) (*transport, error) {
	switch flags.transport {
	case TransportTwilio:
		client, err := twiliowhatsapp.NewClient()
		if err != nil {
			return nil, fmt.Errorf("twilio transport: %w", err)
		}
		var opts []messaging.TwilioOption
		if flags.webhookURL != "" {
			opts = append(opts, messaging.WithSignatureValidation(
				twiliowhatsapp.NewWebhookValidator(os.Getenv("TWILIO_AUTH_TOKEN")), flags.webhookURL))
		}
		svc := messaging.NewTwilioService(client, opts...)
		return &transport{
			svc:     svc,
			webhook: func() api.Option { return api.WithTwilioWebhook(svc.TwilioWebhookHandler) },
			close:   func() {},
		}, nil
	case TransportWhatsApp:
		client, err := whatsapp.NewClient(buildWhatsAppOptions(flags)...)
		if err != nil {
			return nil, fmt.Errorf("whatsapp transport: %w", err)
		}
		return &transport{svc: messaging.NewWhatsAppService(client), close: client.Disconnect}, nil
	default:
		slog.Warn("Using mock transport: replies and reminders are recorded, not delivered")
		return &transport{svc: messaging.NewMockService(), close: func() {}}, nil
	}
}

// run wires every component and blocks until ctx is cancelled.
func run(ctx context.Context, flags Flags) error {
	loc, err := loadLocation(flags.timezone)
	if err != nil {
		return err
	}

	lock, err := lockfile.AcquireLock(flags.stateDir)
	if err != nil {
		return err
	}
	defer lock.Release()

	st, err := store.Open(flags.dbDSN)
	if err != nil {
		return fmt.Errorf("failed to open goal store: %w", err)
	}
	defer st.Close()

	sched := scheduler.NewScheduler(scheduler.WithLocation(loc))
	defer sched.Stop()
	metrics.SetActiveJobsSource(sched.Len)

	tr, err := buildTransport(flags)
	if err != nil {
		return err
	}
	defer tr.close()
	defer tr.svc.Stop()

	dispatcher := flow.NewReminderDispatcher(st, tr.svc)
	engine := flow.NewEngine(st, sched,
		flow.WithLocation(loc),
		flow.WithSessionTTL(flags.sessionTTL),
		flow.WithDispatcher(dispatcher))

	// Reminders are re-registered before any inbound event is accepted.
	reconciler := recovery.NewReminderReconciler()
	manager := recovery.NewRecoveryManager(st)
	manager.RegisterReminderRecovery(recovery.ReminderRecoveryHandler(sched, dispatcher))
	manager.RegisterRecoverable(reconciler)
	if err := manager.RecoverAll(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		slog.Error("Reminder recovery incomplete", "error", err)
	}
	res := reconciler.LastResult()
	slog.Info("Reminders recovered", "users", res.Users, "scheduled", res.Scheduled,
		"no_destination", res.NoDestination, "invalid_times", res.InvalidTimes, "failed", res.Failed)

	if err := tr.svc.Start(ctx); err != nil {
		return fmt.Errorf("failed to start messaging service: %w", err)
	}

	apiOpts := []api.Option{
		api.WithAddr(flags.apiAddr),
		api.WithLocation(loc),
		api.WithSessionCount(engine.Sessions().Active),
	}
	if tr.webhook != nil {
		apiOpts = append(apiOpts, tr.webhook())
	}
	server := api.NewServer(st, sched, apiOpts...)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	router := messaging.NewRouter(tr.svc, engine)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		router.Run(ctx)
	}()

	serveErr := server.Run(ctx)
	if serveErr != nil {
		slog.Error("API server stopped with error", "error", serveErr)
	}
	cancel()
	wg.Wait()
	return serveErr
}
