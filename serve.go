package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"pitwall/pkg/config"
	"pitwall/pkg/hub"
	"pitwall/pkg/incidents"
	"pitwall/pkg/ingest"
	"pitwall/pkg/notification"
	"pitwall/pkg/rules"
	"pitwall/pkg/store"
	"pitwall/pkg/strategy"
	"pitwall/pkg/webserver"
)

func serveCmd() *cobra.Command {
	var configPath string
	var addr string
	var rulesPath string
	var teamToken string
	var upstream string
	var debugRoutes bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the ingest and viewer server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath, os.Getenv)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") {
				cfg.Address = addr
			}
			if cmd.Flags().Changed("rules") {
				cfg.RulesPath = rulesPath
			}
			if cmd.Flags().Changed("team-token") {
				cfg.TeamToken = teamToken
			}
			if cmd.Flags().Changed("upstream") {
				cfg.Upstream = upstream
			}
			if dbPath != "" {
				cfg.DBPath = dbPath
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return serve(cfg, debugRoutes)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", os.Getenv("PITWALL_CONFIG"), "JSON configuration file")
	cmd.Flags().StringVarP(&addr, "addr", "a", "", "Listen address (overrides WEBSERVER_ADDRESS)")
	cmd.Flags().StringVarP(&rulesPath, "rules", "r", "", "Incident rulebook JSON file")
	cmd.Flags().StringVar(&teamToken, "team-token", "", "Token required from team role viewers")
	cmd.Flags().StringVarP(&upstream, "upstream", "u", "", "Capture agent websocket to pull telemetry from")
	cmd.Flags().BoolVar(&debugRoutes, "debug-routes", false, "Print the HTTP routes on start")
	return cmd
}

func serve(cfg config.Config, debugRoutes bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rulebook, err := rules.LoadRules(cfg.RulesPath)
	if err != nil {
		return err
	}
	log.Printf("loaded %d incident rules\n", len(rulebook))

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer st.Close()
	writer := store.NewWriter(st, cfg.Writer)
	defer writer.Close()

	h := hub.NewHub(cfg.Hub)
	strategies := strategy.NewManager(cfg.Strategy, writer, h)
	defer func() {
		for _, id := range strategies.Sessions() {
			strategies.EndSession(id)
		}
	}()

	classifier := incidents.NewClassifier(rules.NewEvaluator(log.Printf), rulebook)
	dispatcher := ingest.NewDispatcher(strategies, h, classifier).WithRecorder(writer)

	ws := webserver.NewManager(cfg.Address, h, strategies, dispatcher).
		WithTeamToken(cfg.TeamToken).
		WithIngestIdle(cfg.IngestIdle).
		WithStats("store", func() any { return writer.Stats() }).
		WithStats("rules", func() any { return classifier.Evaluator().Unresolved() })

	if cfg.TelegramToken != "" {
		bot, err := tgbotapi.NewBotAPI(cfg.TelegramToken)
		if err != nil {
			return errors.Wrap(err, "telegram")
		}
		alerts := notification.NewManager(ctx, notification.NewTelegramNotifier(bot, cfg.TelegramChats), cfg.Notification)
		exitChan := make(chan bool)
		defer close(exitChan)
		go alerts.Start(exitChan)
		dispatcher.WithAlerter(alerts)
		ws.WithStats("notification", func() any { return alerts.Stats() })
		log.Printf("steward alerts enabled for %d chats\n", len(cfg.TelegramChats))
	}

	broadcastTicker := time.NewTicker(cfg.BroadcastInterval)
	defer broadcastTicker.Stop()
	strategies.Run(ctx, broadcastTicker)

	pruneTicker := time.NewTicker(cfg.PruneInterval)
	defer pruneTicker.Stop()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-pruneTicker.C:
				if pruned := h.Prune(); len(pruned) > 0 {
					log.Printf("pruned rooms %v\n", pruned)
				}
			}
		}
	}()

	if cfg.Upstream != "" {
		relay := ingest.NewRelay(ctx, cfg.Upstream, dispatcher, cfg.IngestIdle)
		reconnectTicker := time.NewTicker(cfg.ReconnectEvery)
		defer reconnectTicker.Stop()
		exitChan := make(chan bool)
		defer close(exitChan)
		relay.Sync(reconnectTicker, exitChan)
		ws.WithStats("relay", func() any { return map[string]bool{"connected": relay.Running()} })
		log.Printf("pulling telemetry from %s\n", cfg.Upstream)
	}

	if debugRoutes {
		ws.Debug()
	}
	return ws.Serve(ctx)
}
