package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"convo-chat/internal/analytics"
	"convo-chat/internal/auth"
	"convo-chat/internal/llm"
	"convo-chat/internal/reply"
	"convo-chat/internal/scheduler"
	"convo-chat/internal/server"
	"convo-chat/internal/session"
	"convo-chat/internal/storage"
	"convo-chat/internal/telegram"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and live sessions",
	Long: `Run the HTTP API and WebSocket live sessions.

The Telegram transport starts when TELEGRAM_BOT_TOKEN is set. The daily
report runs when an exchange log is configured.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	if a.cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	source, err := reply.New(a.cfg, llm.NewFactory(a.cfg), a.log.Named("reply"))
	if err != nil {
		return err
	}

	var rec storage.Recorder
	if a.cfg.ExchangeLogPath != "" {
		fr, err := storage.NewFileRecorder(a.cfg.ExchangeLogPath)
		if err != nil {
			a.log.Warn("exchange log disabled", zap.Error(err))
		} else {
			rec = fr
		}
	}

	opts := []session.Option{
		session.WithLogger(a.log.Named("session")),
		session.WithSystemPrompt(a.cfg.SystemPrompt),
		session.WithContextWindow(a.cfg.ContextWindow),
	}
	if rec != nil {
		opts = append(opts, session.WithRecorder(rec))
	}
	loop := session.NewLoop(a.registry, a.store, source, opts...)

	srv := server.New(server.Deps{
		Conversations: a.registry,
		History:       a.store,
		Sessions:      loop,
		Identities:    a.identities,
		AllowedOrigin: a.cfg.AllowedOrigin,
		Log:           a.log.Named("http"),
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx, a.cfg.HTTPAddr) })

	if a.cfg.TelegramBotToken != "" {
		allow := auth.NewAllowlist(a.cfg.TelegramAllowedChats)
		if !allow.Open() {
			a.log.Info("telegram allowlist active", zap.Int64s("chats", allow.List()))
		}
		bot, err := telegram.New(a.cfg.TelegramBotToken, loop, allow, a.log.Named("telegram"))
		if err != nil {
			a.log.Error("telegram transport disabled", zap.Error(err))
		} else {
			g.Go(func() error { return bot.Run(gctx) })
		}
	}

	if rec != nil && a.cfg.DailyReportSpec != "" {
		sched := scheduler.New(a.cfg.DailyReportSpec, a.log.Named("scheduler"))
		sched.SetReportFunction(dailyReport(rec, a.log.Named("report")))
		g.Go(func() error { return sched.Run(gctx) })
	}

	return g.Wait()
}

func dailyReport(rec storage.Recorder, log *zap.Logger) func(context.Context) error {
	return func(context.Context) error {
		stats, err := analytics.Daily(rec, time.Now())
		if err != nil {
			return err
		}
		log.Info("daily report",
			zap.String("date", stats.Date),
			zap.Int("exchanges", stats.Exchanges),
			zap.Int("conversations", stats.UniqueConversations),
			zap.Float64("failure_rate", stats.FailureRate()))
		log.Info(stats.GenerateReportSummary())
		details, err := stats.ToJSON()
		if err != nil {
			return fmt.Errorf("encode daily report: %w", err)
		}
		log.Debug("daily report details", zap.String("stats", details))
		return nil
	}
}
