package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/Tosinfamzy/games-night-sub000/internal/api"
	"github.com/Tosinfamzy/games-night-sub000/internal/config"
	"github.com/Tosinfamzy/games-night-sub000/internal/realtime"
	"github.com/Tosinfamzy/games-night-sub000/internal/store"
)

// gamenight connects to a games-night server, lists the host's sessions and
// tails global score events until interrupted.
func main() {
	cfg := config.Load()

	logger, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	apiClient := api.New(cfg.APIBaseURL, cfg.RequestTimeout, logger)
	rt := realtime.New(realtime.Config{URL: cfg.RealtimeURL}, logger)
	host := store.NewHostKeeper(cfg.HostStateFile, logger)
	sessions := store.NewSessionStore(apiClient, host, logger)

	rt.OnStatus(func(s realtime.State) {
		logger.Info("connection status", zap.String("state", string(s)))
	})
	if err := rt.Connect(); err != nil {
		logger.Warn("initial connect failed, retrying in background", zap.Error(err))
	}
	defer rt.Disconnect()

	rt.On(realtime.GlobalPlayerScore, func(data json.RawMessage) {
		var ev realtime.ScoreEvent
		if json.Unmarshal(data, &ev) == nil {
			logger.Info("player scored",
				zap.Int("playerId", ev.PlayerID), zap.Int("gameId", ev.GameID), zap.Int("points", ev.Points))
		}
	})
	rt.On(realtime.GlobalTeamScore, func(data json.RawMessage) {
		var ev realtime.ScoreEvent
		if json.Unmarshal(data, &ev) == nil {
			logger.Info("team scored",
				zap.Int("teamId", ev.TeamID), zap.Int("gameId", ev.GameID), zap.Int("points", ev.Points))
		}
	})

	ctx := context.Background()
	if _, ok := host.ID(); ok {
		list, err := sessions.FetchSessions(ctx)
		if err != nil {
			logger.Warn("could not fetch sessions", zap.Error(err))
		}
		for _, sess := range list {
			logger.Info("session",
				zap.Int("id", sess.ID), zap.String("name", sess.Name),
				zap.String("joinCode", sess.JoinCode), zap.Bool("active", sess.Active))
		}
		if cfg.JoinCode != "" {
			if sess, ok := sessions.FindByJoinCode(cfg.JoinCode); ok {
				logger.Info("join code resolved", zap.String("code", cfg.JoinCode), zap.Int("sessionId", sess.ID))
			} else {
				logger.Warn("join code matched no session", zap.String("code", cfg.JoinCode))
			}
		}
	} else {
		logger.Info("no host identity yet; events only")
	}

	ctrlc := make(chan os.Signal, 1)
	signal.Notify(ctrlc, os.Interrupt, syscall.SIGTERM)
	<-ctrlc
	logger.Info("shutting down")
}
