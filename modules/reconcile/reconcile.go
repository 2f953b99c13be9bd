package reconcile

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
	"xorm.io/builder"
	"xorm.io/xorm"
	"stud.l9labs.ru/raspsync/modules/database"
	"stud.l9labs.ru/raspsync/modules/normalize"
)

// Итог сверки расписания одной группы
type Result struct {
	Received  int
	Deduped   int
	Created   int
	Updated   int
	Unchanged int
	Removed   int
}

// Добавленные или изменённые занятия
func (r Result) Added() int {
	return r.Created + r.Updated
}

type Engine struct {
	db  *xorm.Engine
	log *zap.Logger
	mu  sync.Mutex
}

func New(db *xorm.Engine, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}

	return &Engine{db: db, log: log}
}

// Ключ, по которому повторяющиеся ячейки страницы считаются одним занятием
type dedupKey struct {
	date    string
	weekday int
	slot    int
	subject string
	teacher string
	room    string
}

// Ключ занятия в БД
type identity struct {
	weekday int
	slot    int
	subject int64
	date    string
	teacher int64
}

func dateKey(l normalize.Lesson) string {
	if !l.HasDate() {
		return ""
	}

	return l.Date.Format("2006-01-02")
}

// Удаление повторов, первое вхождение сохраняется
func Dedup(lessons []normalize.Lesson) []normalize.Lesson {
	seen := make(map[dedupKey]struct{}, len(lessons))
	out := make([]normalize.Lesson, 0, len(lessons))
	for _, l := range lessons {
		if strings.TrimSpace(l.Subject) == "" {
			continue
		}
		k := dedupKey{
			date:    dateKey(l),
			weekday: l.Weekday,
			slot:    l.Slot,
			subject: strings.TrimSpace(l.Subject),
			teacher: strings.TrimSpace(l.Teacher.Name),
			room:    strings.TrimSpace(l.Room),
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, l)
	}

	return out
}

// Сверка расписания группы со свежим списком занятий в одной транзакции:
// все активные занятия помечаются удалёнными, свежие находятся по ключу
// и оживают либо создаются, оставшиеся помеченными удаляются
func (e *Engine) Reconcile(ctx context.Context, group database.Group, fresh []normalize.Lesson) (Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	res := Result{Received: len(fresh)}
	lessons := Dedup(fresh)
	res.Deduped = len(lessons)

	sess := e.db.NewSession().Context(ctx)
	defer sess.Close()
	if err := sess.Begin(); err != nil {
		return res, err
	}
	if err := apply(sess, group, lessons, &res); err != nil {
		_ = sess.Rollback()

		return Result{Received: res.Received, Deduped: res.Deduped}, fmt.Errorf("group %s: %w", group.Name, err)
	}
	if err := sess.Commit(); err != nil {
		return Result{Received: res.Received, Deduped: res.Deduped}, fmt.Errorf("group %s: %w", group.Name, err)
	}

	e.log.Info("group reconciled",
		zap.String("group", group.Name),
		zap.Int("received", res.Received),
		zap.Int("deduped", res.Deduped),
		zap.Int("created", res.Created),
		zap.Int("updated", res.Updated),
		zap.Int("removed", res.Removed),
	)

	return res, nil
}

func apply(sess *xorm.Session, group database.Group, lessons []normalize.Lesson, res *Result) error {
	subjects := make(map[string]int64)
	teachers := make(map[database.TeacherRef]int64)
	for _, l := range lessons {
		name := strings.TrimSpace(l.Subject)
		if _, ok := subjects[name]; !ok {
			id, err := database.GetSubject(sess, name)
			if err != nil {
				return err
			}
			subjects[name] = id
		}
		ref := teacherRef(l.Teacher)
		if _, ok := teachers[ref]; !ok {
			id, err := database.GetTeacher(sess, ref)
			if err != nil {
				return err
			}
			teachers[ref] = id
		}
	}

	byGroup := builder.Eq{"GroupID": group.GroupID}
	_, err := sess.Where(builder.And(byGroup, builder.Eq{"IsActive": true})).
		Cols("IsActive").
		Update(&database.Lesson{IsActive: false})
	if err != nil {
		return err
	}

	var stored []database.Lesson
	if err := sess.Where(byGroup).Asc("LessonID").Find(&stored); err != nil {
		return err
	}
	index := make(map[identity]int, len(stored))
	for i, row := range stored {
		k := rowIdentity(row)
		if _, ok := index[k]; !ok {
			index[k] = i
		}
	}

	rows := make([]database.Lesson, 0, len(lessons))
	pos := make(map[identity]int, len(lessons))
	for _, l := range lessons {
		row := database.Lesson{
			GroupID:   group.GroupID,
			Weekday:   l.Weekday,
			Slot:      l.Slot,
			SubjectID: subjects[strings.TrimSpace(l.Subject)],
			Date:      dateKey(l),
			TeacherID: teachers[teacherRef(l.Teacher)],
			Type:      l.Type,
			Room:      strings.TrimSpace(l.Room),
			Begin:     l.Begin,
			End:       l.End,
			Week:      l.Week,
			IsActive:  true,
			Comment:   l.Comment,
		}
		// Одно занятие в нескольких аудиториях: остальные поля берутся из первой записи
		k := rowIdentity(row)
		if i, ok := pos[k]; ok {
			rows[i].Room = mergeRooms(rows[i].Room, row.Room)

			continue
		}
		pos[k] = len(rows)
		rows = append(rows, row)
	}

	for _, row := range rows {
		i, found := index[rowIdentity(row)]
		if !found {
			if _, err := sess.Insert(&row); err != nil {
				return err
			}
			res.Created++

			continue
		}

		old := stored[i]
		row.LessonID = old.LessonID
		row.Created = old.Created
		_, err := sess.ID(old.LessonID).
			Cols("Type", "Room", "Begin", "End", "Week", "IsActive", "Comment").
			Update(&row)
		if err != nil {
			return err
		}
		if sameContent(old, row) {
			res.Unchanged++
		} else {
			res.Updated++
		}
	}

	removed, err := sess.Where(builder.And(byGroup, builder.Eq{"IsActive": false})).Delete(&database.Lesson{})
	if err != nil {
		return err
	}
	res.Removed = int(removed)

	return nil
}

func mergeRooms(have, room string) string {
	if room == "" {
		return have
	}
	if have == "" {
		return room
	}
	for _, r := range strings.Split(have, ", ") {
		if r == room {
			return have
		}
	}

	return have + ", " + room
}

func teacherRef(t database.TeacherRef) database.TeacherRef {
	t.Name = strings.TrimSpace(t.Name)

	return t
}

func rowIdentity(row database.Lesson) identity {
	return identity{
		weekday: row.Weekday,
		slot:    row.Slot,
		subject: row.SubjectID,
		date:    row.Date,
		teacher: row.TeacherID,
	}
}

// Совпадают ли изменяемые поля. Активность не учитывается:
// до сверки занятие уже было помечено удалённым
func sameContent(old, fresh database.Lesson) bool {
	return old.Type == fresh.Type &&
		old.Room == fresh.Room &&
		old.Begin == fresh.Begin &&
		old.End == fresh.End &&
		old.Week == fresh.Week &&
		old.Comment == fresh.Comment
}
