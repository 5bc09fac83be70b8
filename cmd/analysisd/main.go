// Command analysisd serves the data-analysis API: it plans analysis tasks
// with an LLM, executes generated code in sandboxed interpreter sessions,
// and reports progress to a polling UI.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/nebelbild/data-analysis/pkg/model/gemini"
	"github.com/nebelbild/data-analysis/pkg/orchestrator"
	"github.com/nebelbild/data-analysis/pkg/sandbox/docker"
	"github.com/nebelbild/data-analysis/pkg/server"
	"github.com/nebelbild/data-analysis/pkg/store"
	"github.com/nebelbild/data-analysis/pkg/store/sqlite"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configFile string

	root := &cobra.Command{
		Use:           "analysisd",
		Short:         "AI-driven data analysis service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configFile, "config", "c", "", "path to config file")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Start the analysis API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configFile)
		},
	}
	root.AddCommand(serve)
	return root
}

func loadConfig(configFile string) error {
	viper.SetDefault("addr", ":8080")
	viper.SetDefault("output_root", "output")
	viper.SetDefault("allowed_dirs", []string{"data"})
	viper.SetDefault("db_path", "analysis.db")
	viper.SetDefault("sandbox.image", docker.DefaultImage)
	viper.SetDefault("sandbox.create_timeout", 2*time.Minute)
	viper.SetDefault("sandbox.exec_timeout", 30*time.Minute)
	viper.SetDefault("models.plan", "gemini-2.5-pro")
	viper.SetDefault("models.code", "gemini-2.5-pro")
	viper.SetDefault("models.review", "gemini-2.5-flash")
	viper.SetDefault("models.report", "gemini-2.5-pro")
	viper.SetDefault("context_window", 1)
	viper.SetDefault("log_level", "info")

	viper.SetEnvPrefix("DATA_ANALYSIS")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if configFile != "" {
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("reading config: %w", err)
		}
		return nil
	}

	viper.SetConfigName("analysisd")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("/etc/analysisd")
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("reading config: %w", err)
		}
	}
	return nil
}

func run(configFile string) error {
	if err := loadConfig(configFile); err != nil {
		return err
	}
	setupLogging(viper.GetString("log_level"))

	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		return fmt.Errorf("GEMINI_API_KEY is required")
	}
	gateway, err := gemini.New(context.Background(), apiKey)
	if err != nil {
		return fmt.Errorf("creating model gateway: %w", err)
	}

	factory, err := docker.New(viper.GetString("sandbox.image"))
	if err != nil {
		return fmt.Errorf("creating sandbox manager: %w", err)
	}
	defer factory.Close()

	var runs store.RunStore
	if dbPath := viper.GetString("db_path"); dbPath != "" {
		runs, err = sqlite.New(dbPath)
		if err != nil {
			return fmt.Errorf("opening run store: %w", err)
		}
		defer runs.Close()
	}

	orch := orchestrator.New(gateway, factory, runs, orchestrator.Config{
		PlanModel:     viper.GetString("models.plan"),
		CodeModel:     viper.GetString("models.code"),
		ReviewModel:   viper.GetString("models.review"),
		ReportModel:   viper.GetString("models.report"),
		AllowedDirs:   viper.GetStringSlice("allowed_dirs"),
		OutputRoot:    viper.GetString("output_root"),
		ExecTimeout:   viper.GetDuration("sandbox.exec_timeout"),
		CreateTimeout: viper.GetDuration("sandbox.create_timeout"),
		ContextWindow: viper.GetInt("context_window"),
	})

	srv := server.New(orch, runs, gateway, viper.GetString("output_root"))

	addr := viper.GetString("addr")
	slog.Info("Starting analysis server", "addr", addr)
	if err := http.ListenAndServe(addr, srv.Handler()); err != nil {
		return fmt.Errorf("serving: %w", err)
	}
	return nil
}

func setupLogging(level string) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: lvl,
	})))
}
