package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/kudos-app/kudos/pkg/kudos/authz"
	"github.com/kudos-app/kudos/pkg/kudos/config"
	"github.com/kudos-app/kudos/pkg/kudos/dictionary"
	"github.com/kudos-app/kudos/pkg/kudos/gamification"
	"github.com/kudos-app/kudos/pkg/kudos/group"
	"github.com/kudos-app/kudos/pkg/kudos/httpapi"
	"github.com/kudos-app/kudos/pkg/kudos/identity"
	"github.com/kudos-app/kudos/pkg/kudos/ledger"
	"github.com/kudos-app/kudos/pkg/kudos/notification"
	"github.com/kudos-app/kudos/pkg/kudos/report"
	"github.com/kudos-app/kudos/pkg/kudos/scheduler"
	"github.com/kudos-app/kudos/pkg/kudos/store"
	"github.com/kudos-app/kudos/pkg/kudos/task"
	"github.com/kudos-app/kudos/pkg/kudos/token"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := buildLogger(cmd, cfg)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			// ── Storage ──
			st, err := store.New(ctx, cfg.DatabaseURL, logger)
			if err != nil {
				return err
			}
			defer st.Close()
			if err := st.Migrate(ctx); err != nil {
				return err
			}
			if err := dictionary.Seed(ctx, st.Pool(), logger); err != nil {
				return err
			}
			dict := dictionary.NewResolver(st.Pool(), logger)

			// ── Tokens ──
			var blacklist token.Blacklist
			if cfg.RedisURL != "" {
				opt, err := redis.ParseURL(cfg.RedisURL)
				if err != nil {
					return fmt.Errorf("redis: %w", err)
				}
				client := redis.NewClient(opt)
				defer client.Close()
				if err := client.Ping(ctx).Err(); err != nil {
					return fmt.Errorf("redis: ping: %w", err)
				}
				blacklist = token.NewRedisBlacklist(client)
				logger.Info("one-time token blacklist on redis")
			} else {
				blacklist = token.NewDBBlacklist(st.Pool())
				logger.Info("one-time token blacklist on postgres")
			}
			tokens, err := token.NewService(st, cfg, blacklist, logger)
			if err != nil {
				return err
			}

			// ── Services ──
			queue := notification.NewQueue(st, dict, logger)
			dispatcher := notification.NewDispatcher(queue,
				notification.LogSender{ChannelCode: dictionary.ChannelEmail, Queue: queue},
				notification.LogSender{ChannelCode: dictionary.ChannelSMS, Queue: queue},
				notification.LogSender{ChannelCode: dictionary.ChannelPushFCM, Queue: queue},
				notification.LogSender{ChannelCode: dictionary.ChannelPushAPNS, Queue: queue},
				notification.LogSender{ChannelCode: dictionary.ChannelTelegram, Queue: queue},
				notification.LogSender{ChannelCode: dictionary.ChannelSlack, Queue: queue},
			)

			az := authz.NewResolver(st.Pool(), dict, logger)
			users := identity.NewService(st, dict, tokens, queue, cfg.BcryptCost, logger)
			groups := group.NewService(st, dict, az, logger)
			accounts := ledger.NewService(st, dict, az, logger)
			games := gamification.NewService(st, dict, az, queue, logger)
			tasks := task.NewService(st, dict, az, games, logger)
			reports := report.NewManager(st, az, cfg.ReportDir, logger)

			if err := identity.SeedSystemUsers(ctx, st, dict, logger); err != nil {
				return err
			}

			// ── Scheduler ──
			if cfg.SchedulerEnabled {
				sched := scheduler.New(st, cfg.SchedulerTick(), logger)
				err := sched.RegisterStandard(ctx, scheduler.Deps{
					Groups:        groups,
					Tasks:         tasks,
					Dispatcher:    dispatcher,
					Reports:       reports,
					Gamification:  games,
					Tokens:        tokens,
					DeliveryBatch: 50,
					ReportBatch:   10,
				})
				if err != nil {
					return err
				}
				go sched.Run(ctx)
			} else {
				logger.Info("scheduler disabled")
			}

			// ── HTTP ──
			api := httpapi.NewServer(httpapi.Deps{
				Config:        cfg,
				Logger:        logger,
				Store:         st,
				Tokens:        tokens,
				Identity:      users,
				Groups:        groups,
				Tasks:         tasks,
				Ledger:        accounts,
				Gamification:  games,
				Notifications: queue,
				Reports:       reports,
			})
			srv := &http.Server{
				Addr:              cfg.ListenAddr,
				Handler:           api.Router(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				logger.Info("listening", "addr", cfg.ListenAddr)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			logger.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
}
