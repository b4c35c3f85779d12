package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/botdesk/internal/auth"
	"github.com/MarcoPoloResearchLab/botdesk/internal/broadcast"
	"github.com/MarcoPoloResearchLab/botdesk/internal/config"
	"github.com/MarcoPoloResearchLab/botdesk/internal/database"
	"github.com/MarcoPoloResearchLab/botdesk/internal/ingest"
	"github.com/MarcoPoloResearchLab/botdesk/internal/logging"
	"github.com/MarcoPoloResearchLab/botdesk/internal/server"
	"github.com/MarcoPoloResearchLab/botdesk/internal/store"
	"github.com/MarcoPoloResearchLab/botdesk/internal/telegram"
)

const shutdownTimeout = 10 * time.Second

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "botdesk-api",
		Short: "Telegram bot admin backend: event ingestion and broadcast campaigns",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(newIssueTokenCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("log-file", defaults.GetString("log.file"), "Optional rotating log file")
	cmd.PersistentFlags().String("telegram-api-url", defaults.GetString("telegram.api_url"), "Telegram Bot API server")
	cmd.PersistentFlags().Int("broadcast-workers", defaults.GetInt("broadcast.workers"), "Concurrent deliveries per campaign")
	cmd.PersistentFlags().Int("broadcast-rate", defaults.GetInt("broadcast.rate_per_second"), "Maximum deliveries per second")
	cmd.PersistentFlags().String("signing-secret", "", "Operator token signing secret (overrides env)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "log.file", "log-file")
	bindFlag(cmd, "telegram.api_url", "telegram-api-url")
	bindFlag(cmd, "broadcast.workers", "broadcast-workers")
	bindFlag(cmd, "broadcast.rate_per_second", "broadcast-rate")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func newIssueTokenCommand() *cobra.Command {
	var (
		operatorName string
		role         string
	)
	cmd := &cobra.Command{
		Use:   "issue-token",
		Short: "Print a signed operator token for the panel",
		RunE: func(cmd *cobra.Command, args []string) error {
			authConfig, err := config.LoadAuth(viper.GetViper())
			if err != nil {
				return err
			}
			parsedRole, err := auth.ParseRole(role)
			if err != nil {
				return err
			}
			tokens, err := auth.NewOperatorTokens(auth.OperatorTokensConfig{
				SigningSecret: []byte(authConfig.SigningSecret),
				Issuer:        authConfig.Issuer,
				TokenTTL:      authConfig.TokenTTL,
			})
			if err != nil {
				return err
			}
			token, expiresAt, err := tokens.Issue(auth.Operator{Name: operatorName, Role: parsedRole})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires at %s\n", expiresAt.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&operatorName, "operator", "", "Operator name recorded in the token")
	cmd.Flags().StringVar(&role, "role", string(auth.RoleAdmin), "Operator role (owner or admin)")
	_ = cmd.MarkFlagRequired("operator")
	return cmd
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel, logging.FileOutput{
		Path:       appConfig.LogFile.Path,
		MaxSizeMB:  appConfig.LogFile.MaxSizeMB,
		MaxBackups: appConfig.LogFile.MaxBackups,
		MaxAgeDays: appConfig.LogFile.MaxAgeDays,
	})
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	eventStore, err := store.NewService(store.ServiceConfig{
		Database: db,
		Clock:    time.Now,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	ingestRouter, err := ingest.NewRouter(ingest.RouterConfig{Store: eventStore, Logger: logger})
	if err != nil {
		return err
	}

	var sender broadcast.Sender
	if appConfig.BroadcastEnabled() {
		telegramSender, err := telegram.NewSender(telegram.SenderConfig{
			Token:  appConfig.TelegramBotToken,
			APIURL: appConfig.TelegramAPIURL,
			Logger: logger,
		})
		if err != nil {
			return err
		}
		sender = telegramSender
	} else {
		logger.Warn("telegram bot token not configured, broadcasts will be rejected")
	}

	feed := server.NewCampaignFeed()
	broadcasts, err := broadcast.NewService(broadcast.Config{
		Store:         eventStore,
		Sender:        sender,
		Notifier:      feed,
		Workers:       appConfig.BroadcastWorkers,
		RatePerSecond: float64(appConfig.BroadcastRatePerSecond),
		SendTimeout:   appConfig.BroadcastSendTimeout,
		StuckAfter:    appConfig.StuckCampaignAfter,
		Logger:        logger,
	})
	if err != nil {
		return err
	}

	stuckReporter, err := broadcast.NewStuckReporter(broadcast.StuckReporterConfig{
		Source:   eventStore,
		After:    appConfig.StuckCampaignAfter,
		Interval: appConfig.StuckCheckInterval,
		Notifier: feed,
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	if err := stuckReporter.Start(); err != nil {
		return err
	}
	defer func() {
		if err := stuckReporter.Stop(); err != nil {
			logger.Warn("stuck campaign reporter shutdown failed", zap.Error(err))
		}
	}()

	authConfig := appConfig.Auth()
	operatorTokens, err := auth.NewOperatorTokens(auth.OperatorTokensConfig{
		SigningSecret: []byte(authConfig.SigningSecret),
		Issuer:        authConfig.Issuer,
		TokenTTL:      authConfig.TokenTTL,
	})
	if err != nil {
		return err
	}
	webhookGate, err := auth.NewWebhookGate(appConfig.WebhookSecret)
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Ingester:   ingestRouter,
		Broadcasts: broadcasts,
		Users:      eventStore,
		Operators:  operatorTokens,
		Webhook:    webhookGate,
		Feed:       feed,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	// Cancelled on shutdown so open campaign event streams let go of their connections.
	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()
	httpServer := &http.Server{
		Addr:              appConfig.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
	}
	httpServer.RegisterOnShutdown(cancelBase)

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("address", appConfig.HTTPAddress),
			zap.Bool("broadcast_enabled", appConfig.BroadcastEnabled()),
			zap.Int("broadcast_workers", appConfig.BroadcastWorkers))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
