package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	audioimpl "github.com/foxseedlab/rokuon/external/audio"
	configloader "github.com/foxseedlab/rokuon/external/config"
	"github.com/foxseedlab/rokuon/external/discord"
	metricsimpl "github.com/foxseedlab/rokuon/external/metrics"
	repositoryimpl "github.com/foxseedlab/rokuon/external/repository"
	responderimpl "github.com/foxseedlab/rokuon/external/responder"
	speechimpl "github.com/foxseedlab/rokuon/external/speech"
	storageimpl "github.com/foxseedlab/rokuon/external/storage"
	transcodeimpl "github.com/foxseedlab/rokuon/external/transcode"
	transcriberimpl "github.com/foxseedlab/rokuon/external/transcriber"
	webhookimpl "github.com/foxseedlab/rokuon/external/webhook"
	"github.com/foxseedlab/rokuon/internal/config"
	discordpkg "github.com/foxseedlab/rokuon/internal/discord"
	"github.com/foxseedlab/rokuon/internal/repository"
	"github.com/foxseedlab/rokuon/internal/session"
	"github.com/samber/do/v2"
)

const (
	discordConnectTimeout = 20 * time.Second
	orphanCleanupTimeout  = 15 * time.Second
	shutdownTimeout       = 2 * time.Minute
	orphanFailureReason   = "server restarted before the recording finished"
)

func main() {
	slog.Info("startup: loading configuration")
	cfg := mustLoadConfig()
	initLogger(cfg)
	slog.Info("startup: configuration loaded", "env", cfg.Env, "transcriber_backend", cfg.TranscriberBackend)

	slog.Info("startup: building dependency graph")
	injector := setupDI(cfg)

	slog.Info("startup: launching discord bot")
	runBot(cfg, injector)
}

func mustLoadConfig() *config.Config {
	cfg, err := configloader.Load()
	if err != nil {
		slog.Error("config validation failed", "error", err)
		os.Exit(1)
	}
	return cfg
}

func initLogger(cfg *config.Config) {
	logLevel := slog.LevelInfo
	if cfg.IsDevelopment() {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))
}

func setupDI(cfg *config.Config) do.Injector {
	injector := do.New()

	do.ProvideValue(injector, cfg)
	metricsimpl.RegisterDI(injector)
	repositoryimpl.RegisterDI(injector)
	audioimpl.RegisterDI(injector)
	discord.RegisterDI(injector)
	transcriberimpl.RegisterDI(injector)
	responderimpl.RegisterDI(injector)
	speechimpl.RegisterDI(injector)
	transcodeimpl.RegisterDI(injector)
	storageimpl.RegisterDI(injector)
	webhookimpl.RegisterDI(injector)
	session.RegisterDI(injector)

	return injector
}

func mustInvoke[T any](injector do.Injector, name string) T {
	v, err := do.Invoke[T](injector)
	if err != nil {
		slog.Error("failed to resolve dependency", "dependency", name, "error", err)
		os.Exit(1)
	}
	return v
}

func runBot(cfg *config.Config, injector do.Injector) {
	exporter := mustInvoke[*metricsimpl.Exporter](injector, "metrics exporter")
	recordings := mustInvoke[repository.RecordingLog](injector, "recording log")
	dc := mustInvoke[discordpkg.Client](injector, "discord client")
	manager := mustInvoke[*session.Manager](injector, "session manager")

	exporter.Start()
	failUnfinishedRecordings(recordings)

	ctx, cancel := context.WithTimeout(context.Background(), discordConnectTimeout)
	defer cancel()

	slog.Info("startup: connecting to discord gateway")
	if err := dc.Connect(ctx); err != nil {
		slog.Error("discord connect failed", "error", err)
		os.Exit(1)
	}
	slog.Info("startup: discord connected")

	botUserID, err := dc.GetBotUserID()
	if err != nil {
		slog.Error("failed to resolve bot user id", "error", err)
		os.Exit(1)
	}
	manager.SetBotUserID(botUserID)

	defs := session.SlashCommandDefinitions()
	if err := dc.UpsertGuildSlashCommands(cfg.DiscordGuildID, defs); err != nil {
		slog.Error("failed to upsert slash commands", "error", err, "guild_id", cfg.DiscordGuildID)
		os.Exit(1)
	}
	names := make([]string, 0, len(defs))
	for _, d := range defs {
		names = append(names, d.Name)
	}

	dc.RegisterVoiceStateUpdateHandler(manager.HandleVoiceStateUpdate)
	dc.RegisterSlashCommandHandler(manager.HandleSlashCommand)
	slog.Info("discord handlers registered", "guild_id", cfg.DiscordGuildID, "commands", names, "auto_record_guild_ids", cfg.DiscordAutoRecordGuildIDs)

	done := make(chan struct{})
	go func() {
		slog.Info("startup: entering discord run loop")
		if err := dc.Run(); err != nil {
			slog.Error("discord run failed", "error", err)
		}
		close(done)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
		slog.Info("shutting down")
	case <-done:
	}
	shutdown(manager, exporter, dc)
}

// failUnfinishedRecordings closes out rows left non-terminal by a previous
// process; their raw files are not recoverable.
func failUnfinishedRecordings(recordings repository.RecordingLog) {
	ctx, cancel := context.WithTimeout(context.Background(), orphanCleanupTimeout)
	defer cancel()
	n, err := recordings.FailUnfinishedRecordings(ctx, orphanFailureReason)
	if err != nil {
		slog.Error("failed to close out unfinished recordings", "error", err)
		return
	}
	if n > 0 {
		slog.Warn("marked unfinished recordings as failed", "count", n)
	}
}

func shutdown(manager *session.Manager, exporter *metricsimpl.Exporter, dc discordpkg.Client) {
	stopped := manager.StopAllSessions(session.StopReasonServerClosed)
	slog.Info("sessions stopped for shutdown", "count", stopped)

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := manager.WaitForProcessing(ctx); err != nil {
		slog.Error("recording processing did not finish before shutdown", "error", err)
	}
	if err := exporter.Shutdown(ctx); err != nil {
		slog.Error("metrics exporter shutdown failed", "error", err)
	}
	if err := dc.Close(); err != nil {
		slog.Error("discord close failed", "error", err)
	}
}
