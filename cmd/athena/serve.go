package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/athenaai/athena/internal/discord"
	httpapi "github.com/athenaai/athena/internal/http"
	"github.com/athenaai/athena/internal/knowledge"
	"github.com/athenaai/athena/internal/scheduler"
)

// purgeSpec is how often expired processed-event rows are removed.
const purgeSpec = "@every 1h"

func newServeCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the Discord bot, admin API and scheduled jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(e.cfg)
			if err != nil {
				return err
			}
			defer a.Close()
			return serve(cmd.Context(), a)
		},
	}
}

// serve runs every long-lived component until ctx is done or one of them
// fails, then shuts the rest down within ShutdownTimeout.
func serve(ctx context.Context, a *app) error {
	cfg := a.cfg

	var bot *discord.Bot
	if cfg.Discord.Enabled {
		b, err := discord.New(cfg.Discord.Token, a.conversation)
		if err != nil {
			return err
		}
		bot = b
	} else {
		log.Warn().Msg("discord disabled; serving the admin API only")
	}

	sched, err := newScheduler(a)
	if err != nil {
		return err
	}

	gin.SetMode(cfg.GinMode)
	r := gin.New()
	httpapi.RegisterRoutes(r, httpapi.Deps{Handlers: a.handlers(), Ready: a.ping}, cfg)
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", srv.Addr).Msg("admin API listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(gctx), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	if bot != nil {
		g.Go(func() error { return bot.Run(gctx) })
	}
	if a.knowledge != nil {
		g.Go(func() error {
			if err := a.knowledge.Refresh(gctx); err != nil {
				log.Warn().Err(err).Str("path", cfg.Knowledge.Path).Msg("initial knowledge load failed")
			}
			return nil
		})
		if cfg.Knowledge.Watch {
			g.Go(func() error {
				if err := knowledge.Watch(gctx, cfg.Knowledge.Path, a.knowledge); err != nil {
					log.Warn().Err(err).Msg("knowledge watcher stopped")
				}
				return nil
			})
		}
	}
	g.Go(func() error { return sched.Run(gctx) })

	start := time.Now()
	err = g.Wait()
	log.Info().Dur("uptime", time.Since(start)).Msg("athena stopped")
	return err
}

// newScheduler registers the maintenance jobs enabled by the config.
func newScheduler(a *app) (*scheduler.Scheduler, error) {
	cfg := a.cfg
	s := scheduler.New()
	if err := s.Add(scheduler.JobPurgeEvents, purgeSpec, scheduler.PurgeEvents(a.db)); err != nil {
		return nil, err
	}
	if err := s.Add(scheduler.JobBackfill, cfg.Backfill.Cron, scheduler.ResumeBackfill(a.backfill, cfg.Backfill.PageSize)); err != nil {
		return nil, err
	}
	if a.knowledge != nil {
		if err := s.Add(scheduler.JobKnowledgeRefresh, cfg.Knowledge.RefreshCron, scheduler.RefreshKnowledge(a.knowledge)); err != nil {
			return nil, err
		}
	}
	return s, nil
}
