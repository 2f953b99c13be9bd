package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/gofrs/flock"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"stud.l9labs.ru/raspsync/modules/api"
	"stud.l9labs.ru/raspsync/modules/pusher"
)

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "raspsync",
		Short:         "Синхронизация расписания СГТУ",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newSyncCommand())
	rootCmd.AddCommand(newPushCommand())
	rootCmd.AddCommand(newLatestCommand())
	rootCmd.AddCommand(newTeacherCommand())

	return rootCmd
}

// Обёртка для команд, которым нужны собранные компоненты
func withApp(withDB bool, fn func(ctx context.Context, a *app) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		a, err := newApp(withDB)
		if err != nil {
			return err
		}
		defer a.Close()

		return fn(cmd.Context(), a)
	}
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "HTTP API и синхронизация по расписанию",
		RunE:  withApp(true, serve),
	}
}

// Журнал cron через zap
type cronLogger struct {
	log *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Errorw(msg, append(keysAndValues, "error", err)...)
}

func serve(ctx context.Context, a *app) error {
	lock := flock.New(a.cfg.Sync.LockPath)
	ok, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("another raspsync instance holds %s", a.cfg.Sync.LockPath)
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			a.log.Warn("failed to release lock", zap.Error(err))
		}
	}()

	cl := cronLogger{a.log.Sugar()}
	c := cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	if _, err := c.AddFunc(a.cfg.Sync.Cron, func() {
		if _, err := a.syncer.SyncAll(ctx); err != nil {
			a.log.Warn("scheduled sync skipped", zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("SYNC_CRON: %w", err)
	}
	c.Start()
	defer func() { <-c.Stop().Done() }()
	a.log.Info("scheduler started", zap.String("cron", a.cfg.Sync.Cron))

	srv := api.New(a.syncer, api.Options{
		Token:   a.cfg.API.Token,
		Log:     a.log,
		Metrics: a.metrics,
	})

	return srv.Run(ctx, a.cfg.API.Addr)
}

func newSyncCommand() *cobra.Command {
	var group int64
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Один проход синхронизации",
		RunE: withApp(true, func(ctx context.Context, a *app) error {
			if group != 0 {
				res, err := a.syncer.SyncGroup(ctx, group)
				if err != nil {
					return err
				}
				fmt.Println(renderTable(
					[]string{"Группа", "Получено", "Создано", "Изменено", "Удалено"},
					[][]string{{
						strconv.FormatInt(group, 10),
						strconv.Itoa(res.Received),
						strconv.Itoa(res.Created),
						strconv.Itoa(res.Updated),
						strconv.Itoa(res.Removed),
					}},
					[]columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignRight},
				))

				return nil
			}
			run, err := a.syncer.SyncAll(ctx)
			if err != nil {
				return err
			}
			fmt.Println(renderRun(api.Summarize(run, time.Now())))
			if run.Error != "" {
				return fmt.Errorf("sync failed: %s", run.Error)
			}

			return nil
		}),
	}
	cmd.Flags().Int64Var(&group, "group", 0, "Номер группы на сайте расписания")

	return cmd
}

func newPushCommand() *cobra.Command {
	var every time.Duration
	cmd := &cobra.Command{
		Use:   "push",
		Short: "Разбор расписания локально и отправка на сервер",
		RunE: withApp(false, func(ctx context.Context, a *app) error {
			p := pusher.New(a.parser, a.timetable, pusher.Options{
				URL:     a.cfg.Push.URL,
				Token:   a.cfg.Push.Token,
				Timeout: a.cfg.Push.Timeout,
				Log:     a.log,
			})
			if every <= 0 {
				res, err := p.Run(ctx)
				if err != nil {
					return err
				}
				fmt.Println(renderPush(res))

				return nil
			}

			ticker := time.NewTicker(every)
			defer ticker.Stop()
			for {
				if _, err := p.Run(ctx); err != nil {
					a.log.Error("push failed", zap.Error(err))
				}
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
				}
			}
		}),
	}
	cmd.Flags().DurationVar(&every, "every", 0, "Повторять с указанным периодом, например 3h")

	return cmd
}

func newLatestCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "latest",
		Short: "Последний проход синхронизации",
		RunE: withApp(true, func(ctx context.Context, a *app) error {
			run, err := a.syncer.Latest(ctx)
			if err != nil {
				return err
			}
			fmt.Println(renderRun(api.Summarize(run, time.Now())))

			return nil
		}),
	}
}

func newTeacherCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "teacher ID",
		Short: "Неделя преподавателя с сайта расписания",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("bad teacher id %q", args[0])
			}

			return withApp(false, func(ctx context.Context, a *app) error {
				page, err := a.parser.ParseTeacherWeek(ctx, id)
				if err != nil {
					return err
				}
				fmt.Println(renderLessons(a.timetable.Normalize(page, time.Now())))

				return nil
			})(cmd, args)
		},
	}
}
