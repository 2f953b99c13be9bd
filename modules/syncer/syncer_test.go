package syncer

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"xorm.io/builder"
	"xorm.io/xorm"
	"stud.l9labs.ru/raspsync/modules/database"
	"stud.l9labs.ru/raspsync/modules/metrics"
	"stud.l9labs.ru/raspsync/modules/normalize"
	"stud.l9labs.ru/raspsync/modules/sstuparser"
)

var testNow = time.Date(2026, time.January, 10, 12, 0, 0, 0, time.Local)

type fakeParser struct {
	dir    []sstuparser.InstituteRecord
	dirErr error
	pages  map[int64]sstuparser.WeekPage
	block  chan struct{}
}

func (f *fakeParser) ParseDirectory(ctx context.Context) ([]sstuparser.InstituteRecord, error) {
	if f.block != nil {
		<-f.block
	}

	return f.dir, f.dirErr
}

func (f *fakeParser) ParseGroupWeek(ctx context.Context, groupID int64) (sstuparser.WeekPage, error) {
	page, ok := f.pages[groupID]
	if !ok {
		return page, sstuparser.ErrNoCalendar
	}

	return page, nil
}

func prepareDB(t *testing.T) *xorm.Engine {
	t.Helper()
	engine, err := database.Connect(database.DB{
		Driver: "sqlite3",
		Path:   filepath.Join(t.TempDir(), "test.db"),
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { engine.Close() })

	return engine
}

func prepareSyncer(t *testing.T, p Parser) (*Syncer, *xorm.Engine) {
	t.Helper()
	db := prepareDB(t)
	s := New(db, p, normalize.DefaultTimetable(), Options{
		StaleAfter: 6 * time.Hour,
		Metrics:    metrics.New(),
		Now:        func() time.Time { return testNow },
	})

	return s, db
}

func directory() *fakeParser {
	return &fakeParser{
		dir: []sstuparser.InstituteRecord{{
			Name:       "Институт прикладных информационных технологий и коммуникаций",
			ExternalID: 12,
			Groups: []database.GroupInfo{
				{Name: "б-ИФСТ-21", ExternalID: 101, EduForm: database.FullTime, Degree: database.Bachelor, CourseNumber: 2},
				{Name: "б-ИФСТ-22", ExternalID: 102, EduForm: database.FullTime, Degree: database.Bachelor, CourseNumber: 2},
				{Name: "б-ИФСТв-41", EduForm: database.Evening, Degree: database.Bachelor, CourseNumber: 4},
			},
		}},
		pages: map[int64]sstuparser.WeekPage{
			101: {Lessons: []sstuparser.RawLesson{
				{
					Slot: 1, SourceWeek: 1, Room: "1/301", Subject: "Математика", Type: "лек",
					Weekday: "понедельник12.01", Date: "12.01",
					Teacher: database.TeacherRef{Name: "Иванов И.И.", ExternalID: 77},
				},
				{Slot: 2, SourceWeek: 1, Room: "ВЦ", Subject: "Программирование", Type: "лаб", Weekday: "вторник13.01", Date: "13.01"},
				// Повтор ячейки
				{Slot: 2, SourceWeek: 1, Room: "ВЦ", Subject: "Программирование", Type: "лаб", Weekday: "вторник13.01", Date: "13.01"},
			}},
		},
	}
}

func countLessons(t *testing.T, db *xorm.Engine, extID int64) int {
	t.Helper()
	gr, err := database.GroupByExternalID(db, extID)
	require.NoError(t, err)
	n, err := db.Where(builder.Eq{"GroupID": gr.GroupID, "IsActive": true}).Count(&database.Lesson{})
	require.NoError(t, err)

	return int(n)
}

func TestSyncAll(t *testing.T) {
	s, db := prepareSyncer(t, directory())
	ctx := context.Background()

	run, err := s.SyncAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, database.RunSuccess, run.Status)
	assert.Equal(t, 1, run.GroupsUpdated)
	assert.Equal(t, 1, run.GroupsFailed)
	assert.Equal(t, 2, run.LessonsAdded)
	assert.Zero(t, run.LessonsRemoved)
	assert.Equal(t, 2, countLessons(t, db, 101))

	// Группа без номера сохранена, но не загружалась
	var evening database.Group
	has, err := db.Where(builder.Eq{"Name": "б-ИФСТв-41"}).Get(&evening)
	require.NoError(t, err)
	require.True(t, has)
	assert.Equal(t, database.Evening, evening.EduForm)

	latest, err := s.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, run.RunID, latest.RunID)
	assert.Equal(t, database.RunSuccess, latest.Status)
	assert.Equal(t, 1, latest.GroupsFailed)

	// Повторный проход ничего не меняет
	again, err := s.SyncAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, database.RunSuccess, again.Status)
	assert.Zero(t, again.LessonsAdded)
	assert.Zero(t, again.LessonsRemoved)
	assert.Equal(t, 2, countLessons(t, db, 101))
}

func TestSyncAllDirectoryFailure(t *testing.T) {
	p := directory()
	p.dirErr = errors.New("timeout: https://rasp.sstu.ru/")
	s, _ := prepareSyncer(t, p)

	run, err := s.SyncAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, database.RunFailed, run.Status)
	assert.Contains(t, run.Error, "failed to parse main page")
	assert.False(t, run.Finished.IsZero())

	latest, err := s.Latest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, database.RunFailed, latest.Status)
}

func TestSyncAllEmptyDirectory(t *testing.T) {
	s, _ := prepareSyncer(t, &fakeParser{})

	run, err := s.SyncAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, database.RunFailed, run.Status)
	assert.Contains(t, run.Error, ErrEmptyDirectory.Error())
}

func TestSyncAllRefusedWhileInProgress(t *testing.T) {
	s, db := prepareSyncer(t, directory())

	// Проход, начатый другим процессом
	_, err := database.StartRun(db, testNow.Add(-time.Minute), time.Hour)
	require.NoError(t, err)

	_, err = s.SyncAll(context.Background())
	assert.ErrorIs(t, err, database.ErrSyncInProgress)
	assert.False(t, s.SyncOne(context.Background(), 101))
}

func TestStart(t *testing.T) {
	p := directory()
	p.block = make(chan struct{})
	s, db := prepareSyncer(t, p)
	ctx := context.Background()

	run, err := s.Start(ctx)
	require.NoError(t, err)
	assert.Equal(t, database.RunInProgress, run.Status)

	_, err = s.Start(ctx)
	assert.ErrorIs(t, err, database.ErrSyncInProgress)
	_, err = s.SyncGroup(ctx, 101)
	assert.ErrorIs(t, err, database.ErrSyncInProgress)

	close(p.block)
	s.Wait()

	latest, err := s.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, run.RunID, latest.RunID)
	assert.Equal(t, database.RunSuccess, latest.Status)
	assert.Equal(t, 2, countLessons(t, db, 101))
}

func TestSyncOne(t *testing.T) {
	p := directory()
	s, db := prepareSyncer(t, p)
	ctx := context.Background()

	// Группа ещё не известна
	assert.False(t, s.SyncOne(ctx, 101))

	_, err := s.SyncAll(ctx)
	require.NoError(t, err)

	page := p.pages[101]
	page.Lessons = page.Lessons[:1]
	p.pages[101] = page
	res, err := s.SyncGroup(ctx, 101)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Removed)
	assert.Equal(t, 1, countLessons(t, db, 101))

	assert.True(t, s.SyncOne(ctx, 101))
	assert.False(t, s.SyncOne(ctx, 102))
}

func TestLatestWithoutRuns(t *testing.T) {
	s, _ := prepareSyncer(t, directory())
	_, err := s.Latest(context.Background())
	assert.ErrorIs(t, err, database.ErrNoRuns)
}

func TestCalendar(t *testing.T) {
	s, _ := prepareSyncer(t, directory())
	ctx := context.Background()

	_, _, err := s.Calendar(ctx, 101)
	assert.ErrorIs(t, err, database.ErrGroupNotFound)

	_, err = s.SyncAll(ctx)
	require.NoError(t, err)
	gr, events, err := s.Calendar(ctx, 101)
	require.NoError(t, err)
	assert.Equal(t, "б-ИФСТ-21", gr.Name)
	require.Len(t, events, 2)
	assert.Equal(t, "Математика", events[0].Summary)
	assert.Equal(t, "Иванов И.И.", events[0].Teacher)
}
