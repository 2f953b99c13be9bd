package main

import (
	"io"

	"go.uber.org/zap"
	"xorm.io/xorm"
	"stud.l9labs.ru/raspsync/modules/config"
	"stud.l9labs.ru/raspsync/modules/database"
	"stud.l9labs.ru/raspsync/modules/fetcher"
	"stud.l9labs.ru/raspsync/modules/logs"
	"stud.l9labs.ru/raspsync/modules/metrics"
	"stud.l9labs.ru/raspsync/modules/normalize"
	"stud.l9labs.ru/raspsync/modules/sstuparser"
	"stud.l9labs.ru/raspsync/modules/syncer"
)

// Собранные компоненты для одной команды
type app struct {
	cfg       *config.Config
	log       *zap.Logger
	metrics   *metrics.Metrics
	timetable normalize.Timetable
	parser    *sstuparser.Parser

	db     *xorm.Engine
	syncer *syncer.Syncer

	closers []io.Closer
}

func newApp(withDB bool) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	log, err := logs.New(logs.Options{
		Dir:    cfg.Log.Dir,
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		MaxAge: cfg.Log.MaxAge,
	})
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, log: log, metrics: metrics.New()}

	a.timetable, err = cfg.Timetable()
	if err != nil {
		return nil, err
	}
	if monday, ok := a.timetable.Monday(); !ok {
		a.log.Warn("semester start is not a Monday, weeks are counted from its Monday",
			zap.Time("configured", a.timetable.SemesterStart),
			zap.Time("monday", monday),
		)
	}
	a.log.Info("timetable", zap.Stringer("slots", a.timetable))

	f, err := fetcher.New(fetcher.Options{
		Timeout:  cfg.Source.Timeout,
		Retries:  cfg.Source.Retries,
		Proxy:    cfg.Source.Proxy,
		RelayURL: cfg.Source.RelayURL,
	}, log, a.metrics)
	if err != nil {
		return nil, err
	}
	a.parser = sstuparser.New(f, cfg.Source.BaseURL, a.timetable, log)

	if !withDB {
		return a, nil
	}
	if err := a.connect(); err != nil {
		a.Close()

		return nil, err
	}

	return a, nil
}

func (a *app) connect() error {
	var sqlLog io.Writer
	if a.cfg.DB.ShowSQL && a.cfg.Log.Dir != "" {
		file, err := logs.InitLog(a.cfg.Log.Dir, "sql", a.cfg.Log.MaxAge)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, file)
		sqlLog = file
	}
	db, err := database.Connect(database.DB{
		Driver:  a.cfg.DB.Driver,
		Host:    a.cfg.DB.Host,
		Port:    a.cfg.DB.Port,
		User:    a.cfg.DB.User,
		Pass:    a.cfg.DB.Pass,
		Schema:  a.cfg.DB.Schema,
		Path:    a.cfg.DB.Path,
		ShowSQL: a.cfg.DB.ShowSQL,
	}, sqlLog)
	if err != nil {
		return err
	}
	a.db = db
	a.closers = append(a.closers, db)

	a.syncer = syncer.New(db, a.parser, a.timetable, syncer.Options{
		StaleAfter: a.cfg.Sync.StaleAfter,
		Log:        a.log,
		Metrics:    a.metrics,
	})

	return nil
}

func (a *app) Close() {
	if a.syncer != nil {
		a.syncer.Wait()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			a.log.Warn("close failed", zap.Error(err))
		}
	}
	_ = a.log.Sync()
}
