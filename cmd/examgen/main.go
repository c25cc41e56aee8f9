package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pablosanz/examgen/internal/exam"
	"github.com/pablosanz/examgen/internal/handler"
	appI18n "github.com/pablosanz/examgen/internal/i18n"
	"github.com/pablosanz/examgen/internal/llm"
	"github.com/pablosanz/examgen/internal/ocr"
	"github.com/pablosanz/examgen/internal/store"
	"github.com/pablosanz/examgen/internal/tempfile"
)

// handlerTimeoutDefault bounds the OCR + generation round trip per request.
const handlerTimeoutDefault = 60 * time.Second

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "examgen",
		Short: "Exam generation and result-sharing API powered by LLMs",
	}

	serve := serveCmd()
	root.AddCommand(serve)

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `examgen --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.String("mongo-uri", "mongodb://localhost:27017", "MongoDB connection string")
	f.String("mongo-db", "examgen", "MongoDB database name")
	f.String("mongo-collection", "results", "MongoDB collection for exam results")
	f.String("llm-url", "http://localhost:11434/v1", "OpenAI-compatible API base URL")
	f.String("llm-key", "ollama", "API key for the generation provider")
	f.String("llm-model", "llama3.2-vision", "Generation model name")
	f.String("ocr-url", "https://vision.googleapis.com/v1/images:annotate", "Vision API annotate endpoint (ocr mode)")
	f.String("ocr-key", "", "API key for the OCR provider (ocr mode)")
	f.StringP("mode", "m", string(exam.ModeImage), "Material mode: image (send images to the LLM) or ocr (extract text first)")
	f.Int64("max-upload-bytes", 10<<20, "Maximum size of a single uploaded file")
	f.Int64("max-request-bytes", 64<<20, "Maximum size of a whole multipart request body")
	f.String("tmp-dir", "", "Directory for temporary upload artifacts (default: system temp)")
	f.Duration("provider-timeout", handlerTimeoutDefault, "Overall timeout for the OCR + generation round trip")
	f.StringP("lang", "l", "es", "API message language (en, es)")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	return cmd
}

func setupLogging(cmd *cobra.Command) {
	v := viperForCmd(cmd)

	var logLevel slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("EXAMGEN")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("examgen")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/examgen")
	v.AddConfigPath("/etc/examgen")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Info("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	// Initialize i18n.
	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	mode := exam.Mode(strings.ToLower(v.GetString("mode")))
	if !exam.ValidMode(mode) {
		return fmt.Errorf("invalid mode %q: must be %q or %q", mode, exam.ModeImage, exam.ModeOCR)
	}

	// Result store connects lazily on first use.
	resultStore := store.New(
		v.GetString("mongo-uri"),
		v.GetString("mongo-db"),
		v.GetString("mongo-collection"),
	)
	defer resultStore.Close(context.Background())

	// Create the generation provider client and check it is reachable.
	llmClient := llm.New(
		v.GetString("llm-url"),
		v.GetString("llm-key"),
		v.GetString("llm-model"),
	)
	if err := llmClient.Ping(context.Background()); err != nil {
		return fmt.Errorf("LLM health check: %w", err)
	}
	slog.Info("LLM endpoint OK", "url", v.GetString("llm-url"), "model", v.GetString("llm-model"))

	var extractor exam.TextExtractor
	if mode == exam.ModeOCR {
		if v.GetString("ocr-key") == "" {
			return fmt.Errorf("ocr mode requires --ocr-key (or EXAMGEN_OCR_KEY)")
		}
		extractor = ocr.New(v.GetString("ocr-url"), v.GetString("ocr-key"))
	}

	files, err := tempfile.NewManager(v.GetString("tmp-dir"), v.GetInt64("max-upload-bytes"))
	if err != nil {
		return fmt.Errorf("create temp file manager: %w", err)
	}

	pipeline := exam.NewPipeline(llmClient, extractor, mode)

	h := handler.New(resultStore, pipeline, files, handler.Config{
		MaxUploadBytes:  v.GetInt64("max-upload-bytes"),
		MaxRequestBytes: v.GetInt64("max-request-bytes"),
		ProviderTimeout: v.GetDuration("provider-timeout"),
	})

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(appI18n.Middleware(lang))
	h.Routes(r)

	addr := v.GetString("addr")
	slog.Info("starting server",
		"addr", addr,
		"mode", mode,
		"model", v.GetString("llm-model"),
		"llm_url", v.GetString("llm-url"),
		"mongo_db", v.GetString("mongo-db"),
		"lang", lang,
	)
	return http.ListenAndServe(addr, r)
}
