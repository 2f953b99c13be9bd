package syncer

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"stud.l9labs.ru/raspsync/modules/database"
	"stud.l9labs.ru/raspsync/modules/normalize"
)

var ErrInvalidPayload = errors.New("invalid import payload")

// Расписание одной группы, присланное внешним клиентом
type ImportPayload struct {
	Institute ImportInstitute `json:"institute"`
	Group     ImportGroup     `json:"group"`
	Lessons   []ImportLesson  `json:"lessons"`
}

type ImportInstitute struct {
	Name   string `json:"name" validate:"required"`
	SSTUID int64  `json:"sstu_id,omitempty" validate:"gte=0"`
}

type ImportGroup struct {
	Name          string `json:"name" validate:"required"`
	SSTUID        int64  `json:"sstu_id" validate:"required,gt=0"`
	EducationForm string `json:"education_form,omitempty" validate:"omitempty,oneof=full_time part_time evening"`
	DegreeType    string `json:"degree_type,omitempty" validate:"omitempty,oneof=bachelor master specialty postgraduate"`
	CourseNumber  int    `json:"course_number,omitempty" validate:"gte=0,lte=6"`
}

type ImportLesson struct {
	SubjectName    string `json:"subject_name" validate:"required"`
	TeacherName    string `json:"teacher_name,omitempty"`
	TeacherID      int64  `json:"teacher_id,omitempty" validate:"gte=0"`
	TeacherURL     string `json:"teacher_url,omitempty" validate:"omitempty,url"`
	LessonType     string `json:"lesson_type"`
	Room           string `json:"room"`
	Weekday        int    `json:"weekday" validate:"min=1,max=7"`
	LessonNumber   int    `json:"lesson_number" validate:"min=1,max=7"`
	StartTime      string `json:"start_time,omitempty"`
	EndTime        string `json:"end_time,omitempty"`
	SpecificDate   string `json:"specific_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	WeekNumber     int    `json:"week_number,omitempty" validate:"gte=0"`
	AdditionalInfo string `json:"additional_info,omitempty"`
}

type ImportResult struct {
	LessonsReceived int `json:"lessons_received"`
	LessonsDeduped  int `json:"lessons_deduped"`
	LessonsCreated  int `json:"lessons_created"`
	LessonsUpdated  int `json:"lessons_updated"`
	LessonsRemoved  int `json:"lessons_removed"`
}

// Занятие для отправки на сервер
func FromLesson(l normalize.Lesson) ImportLesson {
	out := ImportLesson{
		SubjectName:    l.Subject,
		TeacherName:    l.Teacher.Name,
		TeacherID:      l.Teacher.ExternalID,
		TeacherURL:     l.Teacher.URL,
		LessonType:     string(l.Type),
		Room:           l.Room,
		Weekday:        l.Weekday,
		LessonNumber:   l.Slot,
		StartTime:      l.Begin,
		EndTime:        l.End,
		WeekNumber:     l.Week,
		AdditionalInfo: l.Comment,
	}
	if l.HasDate() {
		out.SpecificDate = l.Date.Format("2006-01-02")
	}

	return out
}

var canonicalKinds = map[string]database.Kind{
	string(database.Lecture):      database.Lecture,
	string(database.Practice):     database.Practice,
	string(database.Lab):          database.Lab,
	string(database.Exam):         database.Exam,
	string(database.Consultation): database.Consultation,
	string(database.Other):        database.Other,
}

// Тип занятия: канонический код либо сокращение со страницы
func importKind(raw string) database.Kind {
	if k, ok := canonicalKinds[strings.ToLower(strings.TrimSpace(raw))]; ok {
		return k
	}

	return normalize.Kind(raw)
}

func importTime(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range []string{"15:04:05", "15:04"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.Format("15:04"), nil
		}
	}

	return "", fmt.Errorf("bad time %q", raw)
}

// Проверка и приведение присланного занятия
func (s *Syncer) importLesson(in ImportLesson) (normalize.Lesson, error) {
	in.SubjectName = strings.TrimSpace(in.SubjectName)
	in.TeacherURL = strings.TrimSpace(in.TeacherURL)
	in.SpecificDate = strings.TrimSpace(in.SpecificDate)
	if err := s.validate.Struct(in); err != nil {
		return normalize.Lesson{}, err
	}
	l := normalize.Lesson{
		Subject: in.SubjectName,
		Type:    importKind(in.LessonType),
		Room:    strings.TrimSpace(in.Room),
		Weekday: in.Weekday,
		Slot:    in.LessonNumber,
		Week:    in.WeekNumber,
		Teacher: database.TeacherRef{
			Name:       strings.TrimSpace(in.TeacherName),
			ExternalID: in.TeacherID,
			URL:        in.TeacherURL,
		},
		Comment: in.AdditionalInfo,
	}

	slot, known := s.timetable.Slot(l.Slot)
	var err error
	switch {
	case in.StartTime != "":
		if l.Begin, err = importTime(in.StartTime); err != nil {
			return l, err
		}
	case known:
		l.Begin = slot.Begin
	default:
		return l, errors.New("no start_time")
	}
	switch {
	case in.EndTime != "":
		if l.End, err = importTime(in.EndTime); err != nil {
			return l, err
		}
	case known:
		l.End = slot.End
	default:
		return l, errors.New("no end_time")
	}

	if in.SpecificDate != "" {
		date, err := time.ParseInLocation("2006-01-02", in.SpecificDate, time.Local)
		if err != nil {
			return l, fmt.Errorf("bad specific_date %q", in.SpecificDate)
		}
		l.Date = date
		if l.Week == 0 {
			l.Week = s.timetable.Week(date)
		}
	}

	return l, nil
}

// Поля в ошибках называются как в JSON
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}

		return name
	})

	return v
}

// Ошибки проверки в виде "institute.name: required"
func invalid(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		_, field, _ := strings.Cut(fe.Namespace(), ".")
		fields = append(fields, fmt.Sprintf("%s: %s", field, fe.Tag()))
	}

	return fmt.Errorf("%w: %s", ErrInvalidPayload, strings.Join(fields, ", "))
}

// Импорт расписания группы через ту же сверку, что и при полном проходе.
// Некорректные занятия пропускаются
func (s *Syncer) Import(ctx context.Context, p ImportPayload) (ImportResult, error) {
	p.Institute.Name = strings.TrimSpace(p.Institute.Name)
	p.Group.Name = strings.TrimSpace(p.Group.Name)
	p.Group.EducationForm = strings.TrimSpace(p.Group.EducationForm)
	p.Group.DegreeType = strings.TrimSpace(p.Group.DegreeType)
	if err := s.validate.Struct(p); err != nil {
		return ImportResult{}, invalid(err)
	}
	info := database.GroupInfo{
		Name:         p.Group.Name,
		ExternalID:   p.Group.SSTUID,
		EduForm:      database.EduForm(p.Group.EducationForm),
		Degree:       database.Degree(p.Group.DegreeType),
		CourseNumber: p.Group.CourseNumber,
	}

	sess := s.db.NewSession().Context(ctx)
	defer sess.Close()
	inst, err := database.UpsertInstitute(sess, p.Institute.Name, p.Institute.SSTUID)
	if err != nil {
		return ImportResult{}, err
	}
	gr, err := database.UpsertGroup(sess, info, inst.InstituteID)
	if err != nil {
		return ImportResult{}, err
	}

	lessons := make([]normalize.Lesson, 0, len(p.Lessons))
	for i, in := range p.Lessons {
		l, err := s.importLesson(in)
		if err != nil {
			s.log.Warn("import lesson skipped",
				zap.String("group", gr.Name),
				zap.Int("index", i),
				zap.Error(err),
			)

			continue
		}
		lessons = append(lessons, l)
	}

	res, err := s.engine.Reconcile(ctx, gr, lessons)
	if err != nil {
		return ImportResult{}, err
	}
	s.metrics.Group("ok")
	s.metrics.Lessons(res.Created, res.Updated, res.Removed)

	return ImportResult{
		LessonsReceived: len(p.Lessons),
		LessonsDeduped:  res.Deduped,
		LessonsCreated:  res.Created,
		LessonsUpdated:  res.Updated,
		LessonsRemoved:  res.Removed,
	}, nil
}
