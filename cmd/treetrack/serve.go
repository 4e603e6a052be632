package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/treetrack/treetrack/internal/events"
	"github.com/treetrack/treetrack/internal/server"
	"github.com/treetrack/treetrack/internal/store"
	"github.com/treetrack/treetrack/internal/synth"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the TreeTrack HTTP server",
	Long: `Start the API server: account routes, project graph CRUD, the
generative planning endpoint, and per-project WebSocket feeds.

Requires session_secret (TREETRACK_SESSION_SECRET). Without
anthropic_api_key the server runs with planning disabled.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func runServe() error {
	logger, err := buildLogger()
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync()

	secret := viper.GetString("session_secret")
	if secret == "" {
		return fmt.Errorf("session_secret is required (set TREETRACK_SESSION_SECRET)")
	}

	st, err := store.Open(viper.GetString("db_path"))
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := st.InitSchema(ctx); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	var sc *synth.Client
	if key := viper.GetString("anthropic_api_key"); key != "" {
		provider := synth.NewAnthropicProvider(key, viper.GetString("anthropic_model"))
		sc = synth.NewClient(provider)
	} else {
		logger.Warn("anthropic_api_key not set, planning endpoint disabled")
	}

	hub := events.NewHub(logger.Named("events"))
	defer hub.Close()

	srv, err := server.New(server.Config{
		Addr:           viper.GetString("listen_addr"),
		SessionSecret:  secret,
		SessionTTL:     viper.GetDuration("session_ttl"),
		AllowedOrigins: viper.GetStringSlice("allowed_origins"),
		LoginLimit:     viper.GetInt("login_limit"),
		LoginWindow:    viper.GetDuration("login_window"),
		SecureCookies:  viper.GetBool("secure_cookies"),
	}, st, sc, hub, logger.Named("http"))
	if err != nil {
		return fmt.Errorf("failed to build server: %w", err)
	}

	if err := srv.Start(); err != nil {
		return err
	}

	// Log config file edits; a restart is still needed to apply them.
	viper.OnConfigChange(func(e fsnotify.Event) {
		logger.Info("config file changed", zap.String("file", e.Name), zap.String("op", e.Op.String()))
	})
	if viper.ConfigFileUsed() != "" {
		viper.WatchConfig()
	}

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// buildLogger creates the process logger: console output always, plus
// a rotating file sink when log_file is configured.
func buildLogger() (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(viper.GetString("log_level"))); err != nil {
		return nil, fmt.Errorf("invalid log_level %q: %w", viper.GetString("log_level"), err)
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(encoderCfg), zapcore.Lock(os.Stderr), level),
	}

	if path := viper.GetString("log_file"); path != "" {
		rotator := &lumberjack.Logger{
			Filename:   path,
			MaxSize:    50, // megabytes
			MaxBackups: 5,
			MaxAge:     30, // days
			Compress:   true,
		}
		cores = append(cores,
			zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), zapcore.AddSync(rotator), level))
	}

	return zap.New(zapcore.NewTee(cores...)), nil
}
