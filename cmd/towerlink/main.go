// towerlink connects to a running tower-defense match over its local
// websocket API and drives it: an interactive console, a REST API, MQTT
// telemetry and a persistent journal of every command sent to the game.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/energizer-project/towerlink/internal/api"
	"github.com/energizer-project/towerlink/internal/cli"
	"github.com/energizer-project/towerlink/internal/client"
	"github.com/energizer-project/towerlink/internal/config"
	"github.com/energizer-project/towerlink/internal/db"
	"github.com/energizer-project/towerlink/internal/dispatch"
	"github.com/energizer-project/towerlink/internal/events"
	"github.com/energizer-project/towerlink/internal/network"
	"github.com/energizer-project/towerlink/internal/scheduler"
	"github.com/energizer-project/towerlink/internal/telemetry"
	"github.com/energizer-project/towerlink/internal/util"
)

const (
	AppName    = "towerlink"
	AppVersion = "1.0.0"
	Banner     = `
  _                           _ _       _    
 | |_ _____      _____ _ __  | (_)_ __ | | __
 | __/ _ \ \ /\ / / _ \ '__| | | | '_ \| |/ /
 | || (_) \ V  V /  __/ |    | | | | | |   < 
  \__\___/ \_/\_/ \___|_|    |_|_|_| |_|_|\_\
                                       v%s
 Tower defense game API client
`
	dialRetryDelay = 2 * time.Second
)

func main() {
	fmt.Printf(Banner, AppVersion)
	fmt.Println()

	// Defaults until the config is loaded
	if err := util.InitLogger(util.DefaultLogConfig()); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log.Info().
		Str("version", AppVersion).
		Str("platform", runtime.GOOS).
		Str("arch", runtime.GOARCH).
		Msg("starting towerlink")

	cfg, err := config.Load(config.DefaultConfigDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	if err := util.InitLogger(cfg.Logging); err != nil {
		log.Warn().Err(err).Msg("failed to reconfigure logger, using defaults")
	}

	if cfg.NeedsToken() {
		if err := config.PromptToken(os.Stdin, os.Stdout, cfg); err != nil {
			log.Fatal().Err(err).Msg("no game token available")
		}
	}

	validation := config.Validate(cfg)
	for _, w := range validation.Warnings {
		log.Warn().Str("field", w.Field).Msg(w.Message)
	}
	if !validation.IsValid() {
		for _, e := range validation.Errors {
			log.Error().Str("field", e.Field).Msg(e.Message)
		}
		if cfg.Unattended {
			log.Fatal().Msg("configuration validation failed, please fix the errors above")
		}
		log.Info().Msg("launching setup wizard")
		if err := config.RunSetupWizard(os.Stdin, os.Stdout, cfg); err != nil {
			log.Fatal().Err(err).Msg("setup wizard failed")
		}
		if v := config.Validate(cfg); !v.IsValid() {
			log.Fatal().Str("error", v.Errors[0].Error()).Msg("configuration is still invalid")
		}
	}

	sysInfo := util.GetSystemInfo()
	log.Info().
		Str("hostname", sysInfo.Hostname).
		Str("os", sysInfo.OS).
		Str("cpu", sysInfo.CPUModel).
		Int("cores", sysInfo.CPUCores).
		Uint64("memory_mb", sysInfo.TotalMemory).
		Msg("system information")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eventBus := events.NewEventBus()

	var journal *db.Journal
	if cfg.Journal.Enabled {
		journal, err = db.OpenJournal(cfg.Journal.Path)
		if err != nil {
			log.Warn().Err(err).Msg("failed to open command journal, journaling disabled")
		} else {
			journal.Subscribe(eventBus)
		}
	}

	game := cfg.GetGame()
	conn, err := network.DialWithRetry(ctx, network.DialOptions{
		Host:             game.Host,
		Port:             game.Port,
		Token:            game.Token,
		HandshakeTimeout: game.HandshakeTimeout(),
	}, game.DialAttempts, dialRetryDelay)
	if err != nil {
		if errors.Is(err, network.ErrAuthFailed) {
			log.Fatal().Err(err).Msg("game rejected the token, check game.token")
		}
		log.Fatal().Err(err).Str("url", network.URL(game.Host, game.Port)).Msg("could not reach the game")
	}

	dispatcher := dispatch.New(conn, dispatch.Options{
		Timeout:       game.CommandTimeout(),
		Retries:       game.RetryCount,
		MaxGatedPolls: game.GatedPollLimit(),
		OnReport: func(r dispatch.Report) {
			eventBus.Emit(context.Background(), events.Event{
				Type:    events.EventCommandCompleted,
				Source:  "dispatcher",
				Payload: events.CommandCompletedPayload{Report: r},
			})
		},
	})
	sessionID := dispatcher.SessionID()

	gameClient, err := client.New(dispatcher, game.TerrainCacheSize)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create game client")
	}

	var mqttHandler *telemetry.MQTTHandler
	if cfg.MQTT.Enabled {
		mqttHandler, err = telemetry.NewMQTTHandler(cfg.MQTT, eventBus, AppVersion)
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize MQTT, telemetry disabled")
		}
	}

	schedOpts := scheduler.Options{
		Interval:  cfg.Poller.Interval(),
		SessionID: sessionID,
	}
	if journal != nil {
		schedOpts.Pruner = journal
		schedOpts.Keep = cfg.Journal.MaxEntries
	}
	sched := scheduler.NewScheduler(gameClient, eventBus, schedOpts)

	deps := api.Deps{Invoker: dispatcher, Session: conn, Poller: sched}
	cliOpts := cli.Options{
		In:        os.Stdin,
		Out:       os.Stdout,
		Client:    gameClient,
		SessionID: sessionID,
		Session:   conn,
		EventBus:  eventBus,
	}
	if journal != nil {
		deps.Journal = journal
		cliOpts.Journal = journal
	}
	var apiServer *api.Server
	if cfg.API.Enabled {
		apiServer = api.NewServer(cfg.API, AppVersion, deps, cfg.Logging.Level == "debug")
	}
	cliHandler := cli.NewCLI(cliOpts)

	quitCh := make(chan struct{})
	var quitOnce sync.Once
	eventBus.Subscribe(events.EventShutdown, "main", func(ctx context.Context, e events.Event) error {
		quitOnce.Do(func() { close(quitCh) })
		return nil
	})

	var wg sync.WaitGroup

	if mqttHandler != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info().Msg("starting MQTT telemetry")
			if err := mqttHandler.Start(ctx); err != nil {
				log.Warn().Err(err).Msg("MQTT telemetry failed")
			}
		}()
	}

	if apiServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info().Int("port", cfg.API.Port).Msg("starting REST API server")
			if err := apiServer.Start(ctx); err != nil {
				log.Warn().Err(err).Msg("API server failed (non-fatal)")
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info().Msg("starting task scheduler")
		sched.Start(ctx)
	}()

	eventBus.Emit(ctx, events.Event{
		Type:   events.EventSessionConnected,
		Source: "main",
		Payload: events.SessionPayload{
			SessionID:   sessionID,
			URL:         conn.URL(),
			ConnectedAt: conn.ConnectedAt(),
		},
	})

	// The CLI blocks on stdin, so it is not waited for on shutdown.
	if !cfg.Unattended {
		go func() {
			log.Info().Msg("starting interactive CLI")
			cliHandler.Start(ctx)
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	reason := "shutdown"
	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
		reason = sig.String()
	case <-quitCh:
		log.Info().Msg("shutdown requested from CLI")
	}

	log.Info().Msg("initiating graceful shutdown...")

	// Listeners still need to see the session end before they unsubscribe.
	if err := eventBus.EmitSync(context.Background(), events.Event{
		Type:   events.EventSessionClosed,
		Source: "main",
		Payload: events.SessionPayload{
			SessionID:   sessionID,
			URL:         conn.URL(),
			ConnectedAt: conn.ConnectedAt(),
			Reason:      reason,
		},
	}); err != nil {
		log.Warn().Err(err).Msg("session close handlers failed")
	}

	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("all tasks stopped gracefully")
	case <-time.After(15 * time.Second):
		log.Warn().Msg("shutdown timed out after 15 seconds, forcing exit")
	}

	if err := conn.Close(); err != nil {
		log.Debug().Err(err).Msg("closing game connection")
	}

	eventBus.Stop()

	if journal != nil {
		if err := journal.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close journal")
		}
	}

	log.Info().Msg("towerlink stopped")
}
