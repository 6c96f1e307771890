package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
	"golang.org/x/sync/errgroup"

	"github.com/zombor/expense-tracker/internal/expense"
	"github.com/zombor/expense-tracker/internal/scanning"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	if err := loadEnvFile(".env"); err != nil {
		slog.Warn("Failed to load .env file", "error", err)
	}

	fs := ff.NewFlagSet("expense-tracker")
	var (
		port              = fs.IntLong("port", 5000, "HTTP server port")
		storeType         = fs.StringLong("store", "bolt", "Expense store: 'bolt' or 'sqlite'")
		dbPath            = fs.StringLong("db", "expenses.db", "Database file path")
		stagingPath       = fs.StringLong("staging", filepath.Join(os.TempDir(), "expense-tracker-uploads"), "Directory for receipts being processed")
		sweepInterval     = fs.DurationLong("staging-sweep-interval", 10*time.Minute, "How often abandoned staged receipts are removed")
		stagingMaxAge     = fs.DurationLong("staging-max-age", time.Hour, "Age after which a staged receipt counts as abandoned")
		recognizer        = fs.StringLong("recognizer", "worker", "Receipt recognizer: 'worker', 'gemini' or 'ollama'")
		recognizerTimeout = fs.DurationLong("recognizer-timeout", expense.DefaultRecognizerTimeout, "Timeout for one recognizer call")
		workerURL         = fs.StringLong("worker-url", "http://localhost:8000", "Receipt processing worker base URL")
		geminiKey         = fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		geminiModel       = fs.StringLong("gemini-model", "gemini-2.5-flash", "Google Gemini model name")
		ollamaURL         = fs.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL")
		ollamaModel       = fs.StringLong("ollama-model", "llava", "Ollama vision model name")
		corsOrigin        = fs.StringLong("cors-origin", "http://localhost:3000", "Allowed CORS origin")
		authUser          = fs.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass          = fs.StringLong("auth-pass", "", "Basic auth password (optional)")
		logLevel          = fs.StringLong("log-level", "info", "Log level: debug, info, warn or error")
		logFormat         = fs.StringLong("log-format", "text", "Log format: 'text' or 'json'")
		_                 = fs.StringLong("config", "", "Config file with one 'flag value' per line (optional)")
		showVersion       = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("EXPENSE_TRACKER"),
		ff.WithConfigFileFlag("config"),
		ff.WithConfigFileParser(ff.PlainParser),
		ff.WithConfigAllowMissingFile(),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	if err := setupLogging(*logLevel, *logFormat); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	slog.Info("Initializing expense store...", "store", *storeType, "path", *dbPath)
	db, err := openStore(*storeType, *dbPath)
	if err != nil {
		slog.Error("Failed to initialize expense store", "error", err)
		os.Exit(1)
	}

	scanner, err := newScanner(*recognizer, scannerConfig{
		workerURL:   *workerURL,
		geminiKey:   *geminiKey,
		geminiModel: *geminiModel,
		ollamaURL:   *ollamaURL,
		ollamaModel: *ollamaModel,
	})
	if err != nil {
		db.Close()
		slog.Error("Failed to initialize recognizer", "recognizer", *recognizer, "error", err)
		os.Exit(1)
	}

	slog.Info("Initializing staging area...", "path", *stagingPath)
	staging, err := expense.NewDiskStaging(*stagingPath)
	if err != nil {
		scanner.Close()
		db.Close()
		slog.Error("Failed to initialize staging area", "error", err)
		os.Exit(1)
	}

	pipeline := expense.NewPipelineWithDeps(staging, scanner, expense.SystemClock{}, *recognizerTimeout)
	service := expense.NewService(expense.NewRepository(db), pipeline)
	defer func() {
		if err := service.Close(); err != nil {
			slog.Error("Failed to close service", "error", err)
		}
	}()

	server := expense.NewServer(service, expense.BasicAuth{
		Username: *authUser,
		Password: *authPass,
	}, *corsOrigin)

	if *authUser != "" || *authPass != "" {
		slog.Info("Basic auth enabled", "user", *authUser)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	addr := fmt.Sprintf(":%d", *port)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Run(gctx, addr)
	})
	g.Go(func() error {
		return staging.RunSweeper(gctx, expense.SystemClock{}, *sweepInterval, *stagingMaxAge)
	})
	slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr), "version", version)

	if err := g.Wait(); err != nil {
		slog.Error("Server error", "error", err)
		stop()
		service.Close()
		os.Exit(1)
	}
	slog.Info("Shut down")
}

// loadEnvFile loads variables from a dotenv file. A missing file is not an error.
func loadEnvFile(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

func setupLogging(level, format string) error {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	opts := &slog.HandlerOptions{Level: lvl}

	var handler slog.Handler
	switch format {
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		return fmt.Errorf("invalid log format %q, expected text or json", format)
	}
	slog.SetDefault(slog.New(handler))
	return nil
}

func openStore(storeType, path string) (expense.DB, error) {
	switch storeType {
	case "bolt":
		return expense.NewBoltDB(path)
	case "sqlite":
		return expense.NewSQLiteDB(path)
	default:
		return nil, fmt.Errorf("invalid store type %q, expected bolt or sqlite", storeType)
	}
}

type scannerConfig struct {
	workerURL   string
	geminiKey   string
	geminiModel string
	ollamaURL   string
	ollamaModel string
}

func newScanner(kind string, cfg scannerConfig) (scanning.Scanner, error) {
	switch kind {
	case "worker":
		slog.Info("Initializing receipt worker client...", "url", cfg.workerURL)
		return scanning.NewWorker(cfg.workerURL)
	case "gemini":
		apiKey := cfg.geminiKey
		if apiKey == "" {
			apiKey = os.Getenv("GEMINI_API_KEY")
		}
		if apiKey == "" {
			return nil, fmt.Errorf("gemini API key is required, set --gemini-key or GEMINI_API_KEY")
		}
		slog.Info("Initializing Gemini scanner...", "model", cfg.geminiModel)
		return scanning.NewGemini(apiKey, cfg.geminiModel)
	case "ollama":
		slog.Info("Initializing Ollama scanner...", "url", cfg.ollamaURL, "model", cfg.ollamaModel)
		return scanning.NewOllama(cfg.ollamaURL, cfg.ollamaModel)
	default:
		return nil, fmt.Errorf("invalid recognizer %q, expected worker, gemini or ollama", kind)
	}
}
