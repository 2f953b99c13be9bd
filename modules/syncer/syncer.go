package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"xorm.io/xorm"
	"stud.l9labs.ru/raspsync/modules/calendar"
	"stud.l9labs.ru/raspsync/modules/database"
	"stud.l9labs.ru/raspsync/modules/metrics"
	"stud.l9labs.ru/raspsync/modules/normalize"
	"stud.l9labs.ru/raspsync/modules/reconcile"
	"stud.l9labs.ru/raspsync/modules/sstuparser"
)

var ErrEmptyDirectory = errors.New("directory contains no institutes")

type Parser interface {
	ParseDirectory(ctx context.Context) ([]sstuparser.InstituteRecord, error)
	ParseGroupWeek(ctx context.Context, groupID int64) (sstuparser.WeekPage, error)
}

type Options struct {
	StaleAfter time.Duration
	Log        *zap.Logger
	Metrics    *metrics.Metrics
	Now        func() time.Time
}

// Проходы синхронизации расписания и импорт групп со стороны
type Syncer struct {
	db         *xorm.Engine
	parser     Parser
	timetable  normalize.Timetable
	engine     *reconcile.Engine
	log        *zap.Logger
	metrics    *metrics.Metrics
	staleAfter time.Duration
	now        func() time.Time
	validate   *validator.Validate

	running atomic.Bool
	wg      sync.WaitGroup
}

func New(db *xorm.Engine, parser Parser, tt normalize.Timetable, opt Options) *Syncer {
	if opt.Log == nil {
		opt.Log = zap.NewNop()
	}
	if opt.Now == nil {
		opt.Now = time.Now
	}

	return &Syncer{
		db:         db,
		parser:     parser,
		timetable:  tt,
		engine:     reconcile.New(db, opt.Log),
		log:        opt.Log,
		metrics:    opt.Metrics,
		staleAfter: opt.StaleAfter,
		now:        opt.Now,
		validate:   newValidator(),
	}
}

// Полный проход. Неудачный проход возвращается без ошибки со статусом failed;
// ошибка означает, что проход не начался
func (s *Syncer) SyncAll(ctx context.Context) (database.SyncRun, error) {
	run, err := s.begin()
	if err != nil {
		return run, err
	}
	s.pass(ctx, &run)

	return run, nil
}

// Запуск полного прохода в фоне. Запись о проходе создаётся сразу
func (s *Syncer) Start(ctx context.Context) (database.SyncRun, error) {
	run, err := s.begin()
	if err != nil {
		return run, err
	}
	created := run
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.pass(context.WithoutCancel(ctx), &run)
	}()

	return created, nil
}

// Ожидание фоновых проходов
func (s *Syncer) Wait() {
	s.wg.Wait()
}

func (s *Syncer) begin() (database.SyncRun, error) {
	if !s.running.CompareAndSwap(false, true) {
		return database.SyncRun{}, database.ErrSyncInProgress
	}
	run, err := database.StartRun(s.db, s.now(), s.staleAfter)
	if err != nil {
		s.running.Store(false)

		return run, err
	}
	s.log.Info("sync started", zap.Int64("run", run.RunID))

	return run, nil
}

func (s *Syncer) pass(ctx context.Context, run *database.SyncRun) {
	defer s.running.Store(false)
	started := s.now()
	defer func() {
		if r := recover(); r != nil {
			s.fail(run, fmt.Errorf("panic: %v", r))
		}
		s.metrics.Run(string(run.Status), s.now().Sub(started).Seconds())
	}()

	institutes, err := s.parser.ParseDirectory(ctx)
	if err == nil && len(institutes) == 0 {
		err = ErrEmptyDirectory
	}
	if err != nil {
		s.fail(run, fmt.Errorf("failed to parse main page: %w", err))

		return
	}

	for _, inst := range institutes {
		if err := ctx.Err(); err != nil {
			s.fail(run, err)

			return
		}
		s.syncInstitute(ctx, inst, run)
	}

	run.Status = database.RunSuccess
	run.Finished = s.now()
	if err := database.FinishRun(s.db, run); err != nil {
		s.log.Error("sync run not saved", zap.Int64("run", run.RunID), zap.Error(err))
	}
	s.log.Info("sync finished",
		zap.Int64("run", run.RunID),
		zap.Int("groups_updated", run.GroupsUpdated),
		zap.Int("groups_failed", run.GroupsFailed),
		zap.Int("lessons_added", run.LessonsAdded),
		zap.Int("lessons_removed", run.LessonsRemoved),
	)
}

func (s *Syncer) fail(run *database.SyncRun, err error) {
	run.Status = database.RunFailed
	run.Finished = s.now()
	run.Error = err.Error()
	if err := database.FinishRun(s.db, run); err != nil {
		s.log.Error("sync run not saved", zap.Int64("run", run.RunID), zap.Error(err))
	}
	s.log.Error("sync failed", zap.Int64("run", run.RunID), zap.String("error", run.Error))
}

func (s *Syncer) syncInstitute(ctx context.Context, rec sstuparser.InstituteRecord, run *database.SyncRun) {
	sess := s.db.NewSession().Context(ctx)
	defer sess.Close()
	inst, err := database.UpsertInstitute(sess, rec.Name, rec.ExternalID)
	if err != nil {
		s.log.Error("institute not saved", zap.String("institute", rec.Name), zap.Error(err))
		run.GroupsFailed += len(rec.Groups)

		return
	}

	for _, info := range rec.Groups {
		gr, err := database.UpsertGroup(sess, info, inst.InstituteID)
		if err != nil {
			s.groupFailed(run, info.Name, err)

			continue
		}
		// Без номера на сайте страницу группы не открыть
		if gr.ExternalID == nil {
			continue
		}
		res, err := s.syncGroup(ctx, gr)
		if err != nil {
			s.groupFailed(run, gr.Name, err)

			continue
		}
		run.GroupsUpdated++
		run.LessonsAdded += res.Added()
		run.LessonsRemoved += res.Removed
	}
}

func (s *Syncer) groupFailed(run *database.SyncRun, name string, err error) {
	run.GroupsFailed++
	s.metrics.Group("failed")
	s.log.Warn("group skipped", zap.String("group", name), zap.Error(err))
}

func (s *Syncer) syncGroup(ctx context.Context, gr database.Group) (reconcile.Result, error) {
	page, err := s.parser.ParseGroupWeek(ctx, database.ExtValue(gr.ExternalID))
	if err != nil {
		return reconcile.Result{}, err
	}
	lessons := s.timetable.Normalize(page, s.now())
	res, err := s.engine.Reconcile(ctx, gr, lessons)
	if err != nil {
		return res, err
	}
	s.metrics.Group("ok")
	s.metrics.Lessons(res.Created, res.Updated, res.Removed)

	return res, nil
}

// Синхронизация одной группы вне полного прохода
func (s *Syncer) SyncGroup(ctx context.Context, extID int64) (reconcile.Result, error) {
	if s.running.Load() {
		return reconcile.Result{}, database.ErrSyncInProgress
	}
	sess := s.db.NewSession().Context(ctx)
	defer sess.Close()
	active, err := database.HasActiveRun(sess)
	if err != nil {
		return reconcile.Result{}, err
	}
	if active {
		return reconcile.Result{}, database.ErrSyncInProgress
	}
	gr, err := database.GroupByExternalID(sess, extID)
	if err != nil {
		return reconcile.Result{}, err
	}

	return s.syncGroup(ctx, gr)
}

// То же, что SyncGroup, но только с признаком успеха
func (s *Syncer) SyncOne(ctx context.Context, extID int64) bool {
	if _, err := s.SyncGroup(ctx, extID); err != nil {
		s.log.Warn("group sync failed", zap.Int64("group", extID), zap.Error(err))

		return false
	}

	return true
}

// Последний проход синхронизации
func (s *Syncer) Latest(ctx context.Context) (database.SyncRun, error) {
	sess := s.db.NewSession().Context(ctx)
	defer sess.Close()

	return database.LatestRun(sess)
}

// Датированные занятия группы для экспорта в календарь
func (s *Syncer) Calendar(ctx context.Context, extID int64) (database.Group, []calendar.Event, error) {
	sess := s.db.NewSession().Context(ctx)
	defer sess.Close()
	gr, err := database.GroupByExternalID(sess, extID)
	if err != nil {
		return gr, nil, err
	}
	events, err := calendar.GroupEvents(sess, gr, time.Local)

	return gr, events, err
}
