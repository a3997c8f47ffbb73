package main

import (
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"examtutor"
	"examtutor/internal/handler"
	appI18n "examtutor/internal/i18n"
	"examtutor/internal/llm/prompts"
	"examtutor/internal/model"
	"examtutor/internal/store"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "examtutor",
		Short: "Exam practice server with AI explanations and grading",
	}

	serve := serveCmd()
	root.AddCommand(serve, exportCmd(), clearChatsCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `examtutor --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP exam server",
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.String("db", "examtutor.db", "SQLite database path")
	f.StringP("exams", "e", "exams", "Directory of exam JSON files")
	f.String("llm-url", "http://localhost:11434/v1/chat/completions", "OpenAI-compatible chat completions URL")
	f.String("llm-key", "", "API key for the completion endpoint")
	f.String("llm-model", "llama3.2", "Model name for the completion endpoint")
	f.Duration("llm-timeout", 2*time.Minute, "Per-request completion timeout")
	f.String("choice-template", "", "Override the choice-question explanation template")
	f.String("subjective-template", "", "Override the subjective-question explanation template")
	f.StringP("lang", "l", "zh", "UI language (zh, en)")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export stored conversations for one exam as JSON",
		RunE:  runExport,
	}
	f := cmd.Flags()
	f.String("db", "examtutor.db", "SQLite database path")
	f.String("exam-key", "", "Exam key to export (required; see `examtutor export --list`)")
	f.Bool("list", false, "List exam keys with stored conversations and exit")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	return cmd
}

func clearChatsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clear-chats",
		Short: "Delete stored conversations",
		RunE:  runClearChats,
	}
	f := cmd.Flags()
	f.String("db", "examtutor.db", "SQLite database path")
	f.String("exam-key", "", "Only delete conversations for this exam key (default: all)")
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

	v.SetEnvPrefix("EXAMTUTOR")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("examtutor")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/examtutor")
	v.AddConfigPath("/etc/examtutor")
	v.AddConfigPath("/data")
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

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	// Seed a default API profile from flags when none is saved yet, so
	// a fresh install works without visiting the settings page.
	if err := seedAPIConfig(db, v); err != nil {
		return fmt.Errorf("seed API config: %w", err)
	}

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	promptTmpl := prompts.Templates{
		Choice:     v.GetString("choice-template"),
		Subjective: v.GetString("subjective-template"),
	}
	h, err := handler.New(db, v.GetString("exams"), v.GetDuration("llm-timeout"), promptTmpl, slog.Default())
	if err != nil {
		return fmt.Errorf("create handler: %w", err)
	}

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(appI18n.Middleware())
	h.Routes(r)

	staticFS, err := fs.Sub(examtutor.StaticFS, "static")
	if err != nil {
		return fmt.Errorf("static assets: %w", err)
	}
	r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.FS(staticFS))))

	addr := v.GetString("addr")
	slog.Info("starting server",
		"addr", addr,
		"exams", v.GetString("exams"),
		"lang", lang,
		"llm_timeout", v.GetDuration("llm-timeout"),
	)
	return http.ListenAndServe(addr, r)
}

func runExport(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	if v.GetBool("list") {
		keys, err := db.ListExamKeys()
		if err != nil {
			return fmt.Errorf("list exam keys: %w", err)
		}
		for _, k := range keys {
			fmt.Println(k)
		}
		return nil
	}

	examKey := v.GetString("exam-key")
	if examKey == "" {
		return fmt.Errorf("--exam-key is required (use --list to see stored keys)")
	}

	export, err := db.ExportExam(examKey)
	if err != nil {
		return fmt.Errorf("export conversations: %w", err)
	}

	data, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}

	outPath := v.GetString("output")
	var w io.Writer
	if outPath == "" || outPath == "-" {
		w = os.Stdout
	} else {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	_, _ = fmt.Fprintln(w)

	return nil
}

func runClearChats(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	var count int
	if examKey := v.GetString("exam-key"); examKey != "" {
		count, err = db.DeleteAllForExam(examKey)
	} else {
		count, err = db.ClearAll()
	}
	if err != nil {
		return fmt.Errorf("delete conversations: %w", err)
	}

	fmt.Printf("deleted %d conversation(s)\n", count)
	return nil
}

func seedAPIConfig(db *store.Store, v *viper.Viper) error {
	configs, err := db.ListConfigs()
	if err != nil {
		return err
	}
	if len(configs) > 0 {
		return nil
	}
	_, err = db.AddConfig(model.APIConfig{
		Name:   "default",
		APIURL: v.GetString("llm-url"),
		APIKey: v.GetString("llm-key"),
		Model:  v.GetString("llm-model"),
	})
	if err == nil {
		slog.Info("seeded default API profile",
			"url", v.GetString("llm-url"),
			"model", v.GetString("llm-model"))
	}
	return err
}
