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
	"syscall"
	"time"

	"github.com/BTreeMap/CicekTerapi/internal/api"
	"github.com/BTreeMap/CicekTerapi/internal/chat"
	"github.com/BTreeMap/CicekTerapi/internal/flow"
	"github.com/BTreeMap/CicekTerapi/internal/genai"
	"github.com/BTreeMap/CicekTerapi/internal/insights"
	"github.com/BTreeMap/CicekTerapi/internal/lockfile"
	"github.com/BTreeMap/CicekTerapi/internal/prompt"
	"github.com/BTreeMap/CicekTerapi/internal/scheduler"
	"github.com/BTreeMap/CicekTerapi/internal/store"
	"github.com/BTreeMap/CicekTerapi/internal/util"
	"github.com/joho/godotenv"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for CicekTerapi state data
	DefaultStateDir = "/var/lib/cicekterapi"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "cicekterapi.db"
	// DefaultJobPollInterval is how often the job runner looks for due jobs
	DefaultJobPollInterval = 10 * time.Second
)

func main() {
	config := loadEnvironmentConfig()
	initializeLogger(config.LogLevel)

	flags, err := parseFlags(os.Args[1:], config)
	if err != nil {
		slog.Error("Failed to parse flags", "error", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Bootstrapping CicekTerapi", "stateDir", flags.StateDir, "dsnType", dsnType(flags.DBDSN), "apiAddr", flags.APIAddr)
	if err := run(ctx, flags); err != nil {
		slog.Error("CicekTerapi failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("CicekTerapi exited successfully")
}

// Config holds the configuration read from the environment. Flags start
// from these values.
type Config struct {
	StateDir          string
	DatabaseURL       string
	OpenAIKey         string
	OpenAIModel       string
	OpenAIBaseURL     string
	OpenAITemperature float64
	OpenAITimeout     time.Duration
	APIAddr           string
	InsightsSchedule  string
	PromptsDir        string
	GenAIDebug        bool
	JobPollInterval   time.Duration
	LogLevel          string
}

// Flags holds the resolved configuration after command line parsing.
type Flags struct {
	StateDir          string
	DBDSN             string
	OpenAIKey         string
	OpenAIModel       string
	OpenAIBaseURL     string
	OpenAITemperature float64
	OpenAITimeout     time.Duration
	APIAddr           string
	InsightsSchedule  string
	PromptsDir        string
	GenAIDebug        bool
	JobPollInterval   time.Duration
}

// initializeLogger sets up structured logging at the given level.
func initializeLogger(level string) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: parseLogLevel(level)}))
	slog.SetDefault(logger)
}

// parseLogLevel accepts slog level names (debug, info, warn, error) and
// defaults to info.
func parseLogLevel(s string) slog.Level {
	var level slog.Level
	if s == "" {
		return slog.LevelInfo
	}
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		StateDir:          os.Getenv("CICEK_STATE_DIR"),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		OpenAIKey:         os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:       os.Getenv("OPENAI_MODEL"),
		OpenAIBaseURL:     os.Getenv("OPENAI_BASE_URL"),
		OpenAITemperature: util.ParseFloatEnv("OPENAI_TEMPERATURE", genai.DefaultTemperature),
		OpenAITimeout:     util.ParseDurationEnv("OPENAI_TIMEOUT", 0),
		APIAddr:           os.Getenv("API_ADDR"),
		InsightsSchedule:  os.Getenv("INSIGHTS_SCHEDULE"),
		PromptsDir:        os.Getenv("CICEK_PROMPTS_DIR"),
		GenAIDebug:        util.ParseBoolEnv("GENAI_DEBUG", false),
		JobPollInterval:   util.ParseDurationEnv("JOB_POLL_INTERVAL", DefaultJobPollInterval),
		LogLevel:          os.Getenv("LOG_LEVEL"),
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
	}
	if config.OpenAIModel == "" {
		config.OpenAIModel = genai.DefaultModel
	}
	if config.APIAddr == "" {
		config.APIAddr = api.DefaultAddr
	}
	if config.InsightsSchedule == "" {
		config.InsightsSchedule = insights.DefaultSchedule
	}

	slog.Debug("environment variables loaded",
		"CICEK_STATE_DIR", config.StateDir,
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"OPENAI_MODEL", config.OpenAIModel,
		"API_ADDR", config.APIAddr,
		"INSIGHTS_SCHEDULE", config.InsightsSchedule,
		"GENAI_DEBUG", config.GenAIDebug)

	return config
}

// parseFlags parses command line arguments with environment defaults. When
// no DSN is given the database is a SQLite file in the state directory.
func parseFlags(args []string, config Config) (Flags, error) {
	fs := flag.NewFlagSet("cicekterapi", flag.ContinueOnError)
	var f Flags
	fs.StringVar(&f.StateDir, "state-dir", config.StateDir, "state directory for CicekTerapi data (overrides $CICEK_STATE_DIR)")
	fs.StringVar(&f.DBDSN, "db-dsn", config.DatabaseURL, "database DSN, Postgres URL or SQLite path (overrides $DATABASE_URL)")
	fs.StringVar(&f.OpenAIKey, "openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)")
	fs.StringVar(&f.OpenAIModel, "openai-model", config.OpenAIModel, "OpenAI model (overrides $OPENAI_MODEL)")
	fs.StringVar(&f.OpenAIBaseURL, "openai-base-url", config.OpenAIBaseURL, "OpenAI-compatible API base URL (overrides $OPENAI_BASE_URL)")
	fs.Float64Var(&f.OpenAITemperature, "openai-temperature", config.OpenAITemperature, "sampling temperature (overrides $OPENAI_TEMPERATURE)")
	fs.DurationVar(&f.OpenAITimeout, "openai-timeout", config.OpenAITimeout, "per-request timeout for completion calls, 0 for none (overrides $OPENAI_TIMEOUT)")
	fs.StringVar(&f.APIAddr, "api-addr", config.APIAddr, "API server address (overrides $API_ADDR)")
	fs.StringVar(&f.InsightsSchedule, "insights-schedule", config.InsightsSchedule, "cron schedule for survey analysis (overrides $INSIGHTS_SCHEDULE)")
	fs.StringVar(&f.PromptsDir, "prompts-dir", config.PromptsDir, "directory of prompt template overrides (overrides $CICEK_PROMPTS_DIR)")
	fs.BoolVar(&f.GenAIDebug, "genai-debug", config.GenAIDebug, "write completion requests and responses to <state-dir>/debug (overrides $GENAI_DEBUG)")
	fs.DurationVar(&f.JobPollInterval, "job-poll-interval", config.JobPollInterval, "job runner poll interval (overrides $JOB_POLL_INTERVAL)")
	if err := fs.Parse(args); err != nil {
		return Flags{}, err
	}
	if f.DBDSN == "" {
		f.DBDSN = filepath.Join(f.StateDir, DefaultDBFileName)
	}
	if _, err := scheduler.ParseSpec(f.InsightsSchedule); err != nil {
		return Flags{}, err
	}

	slog.Debug("flags parsed",
		"stateDir", f.StateDir,
		"dbDSN_set", f.DBDSN != "",
		"openaiKeySet", f.OpenAIKey != "",
		"openaiModel", f.OpenAIModel,
		"apiAddr", f.APIAddr,
		"insightsSchedule", f.InsightsSchedule,
		"promptsDir", f.PromptsDir)
	return f, nil
}

func dsnType(dsn string) string {
	if dsn == "" {
		return "memory"
	}
	return store.DetectDSNType(dsn)
}

// buildGenAIOptions constructs GenAI configuration options
func buildGenAIOptions(f Flags) []genai.Option {
	opts := []genai.Option{
		genai.WithModel(f.OpenAIModel),
		genai.WithTemperature(f.OpenAITemperature),
	}
	if f.OpenAIKey != "" {
		opts = append(opts, genai.WithAPIKey(f.OpenAIKey))
	}
	if f.OpenAIBaseURL != "" {
		opts = append(opts, genai.WithBaseURL(f.OpenAIBaseURL))
	}
	if f.OpenAITimeout > 0 {
		opts = append(opts, genai.WithTimeout(f.OpenAITimeout))
	}
	if f.GenAIDebug {
		opts = append(opts, genai.WithDebugMode(true, f.StateDir))
	}
	return opts
}

// buildRenderer returns the built-in templates with any overrides from dir.
func buildRenderer(dir string) (*prompt.Renderer, error) {
	r := prompt.NewRenderer()
	if dir == "" {
		return r, nil
	}
	if err := r.LoadDir(dir); err != nil {
		return nil, err
	}
	return r, nil
}

// run wires every module and blocks until ctx is cancelled or the HTTP
// server fails.
func run(ctx context.Context, f Flags) error {
	lock, err := lockfile.Acquire(f.StateDir, f.APIAddr)
	if err != nil {
		return err
	}
	defer lock.Release()

	st, err := store.Open(f.DBDSN)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	renderer, err := buildRenderer(f.PromptsDir)
	if err != nil {
		return err
	}
	client, err := genai.NewClient(buildGenAIOptions(f)...)
	if err != nil {
		if errors.Is(err, genai.ErrMissingAPIKey) {
			return fmt.Errorf("set OPENAI_API_KEY or -openai-api-key: %w", err)
		}
		return err
	}

	flows := flow.NewSet(client, renderer)
	chatSvc := chat.NewService(st, flows)
	analyzer := insights.NewAnalyzer(st, flows)

	runner := store.NewJobRunner(st, f.JobPollInterval)
	runner.RegisterHandler(insights.JobKind, insights.JobHandler(analyzer))
	if err := runner.RecoverStaleJobs(); err != nil {
		slog.Warn("Failed to recover stale jobs", "error", err)
	}
	go runner.Run(ctx)

	sched, err := insights.NewScheduler(st, f.InsightsSchedule)
	if err != nil {
		return err
	}
	if err := sched.Start(ctx); err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), api.DefaultShutdownTimeout)
		defer cancel()
		sched.Stop(stopCtx)
	}()

	server := api.NewServer(st, chatSvc, analyzer, api.WithAddr(f.APIAddr))
	return server.Run(ctx)
}
