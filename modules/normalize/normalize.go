package normalize

import (
	"strconv"
	"strings"
	"time"

	"stud.l9labs.ru/raspsync/modules/database"
	"stud.l9labs.ru/raspsync/modules/sstuparser"
)

// Занятие в каноническом виде, готовое к сверке с БД
type Lesson struct {
	Subject string
	Type    database.Kind
	Room    string
	Weekday int
	Slot    int
	Begin   string
	End     string
	Date    time.Time // нулевая, если дата неизвестна
	Week    int
	Teacher database.TeacherRef
	Group   string
	Comment string
}

func (l Lesson) HasDate() bool {
	return !l.Date.IsZero()
}

var kinds = map[string]database.Kind{
	"лек":                 database.Lecture,
	"лекц":                database.Lecture,
	"установочная лекция": database.Lecture,
	"пр":                  database.Practice,
	"прак":                database.Practice,
	"лаб":                 database.Lab,
	"экз":                 database.Exam,
	"зач":                 database.Exam,
	"конс":                database.Consultation,
}

// Канонический тип занятия по сокращению со страницы
func Kind(abbr string) database.Kind {
	abbr = strings.ToLower(strings.TrimSpace(strings.Trim(abbr, "()")))
	abbr = strings.TrimSuffix(abbr, ".")
	if k, ok := kinds[abbr]; ok {
		return k
	}

	return database.Other
}

// Порядок важен: берётся первое совпадение
var weekdays = []string{
	"понедельник",
	"вторник",
	"среда",
	"четверг",
	"пятница",
	"суббота",
	"воскресенье",
}

// Номер дня недели 1..7 по заголовку дня; 0, если день не распознан
func Weekday(header string) int {
	header = strings.ToLower(header)
	for i, name := range weekdays {
		if strings.Contains(header, name) {
			return i + 1
		}
	}

	return 0
}

// Дата из фрагмента DD.MM. На странице нет года, поэтому рядом с новым
// годом он выводится из текущего месяца
func ResolveDate(day, month int, now time.Time) (time.Time, bool) {
	year := now.Year()
	switch {
	case month <= 2 && now.Month() >= time.November:
		year++
	case month >= 11 && now.Month() <= time.February:
		year--
	}
	date := time.Date(year, time.Month(month), day, 0, 0, 0, 0, now.Location())
	// 31.02 и подобные
	if date.Day() != day || int(date.Month()) != month {
		return time.Time{}, false
	}

	return date, true
}

// Разбор фрагмента "12.01"
func parseFragment(frag string, now time.Time) (time.Time, bool) {
	d, m, ok := strings.Cut(strings.TrimSpace(frag), ".")
	if !ok {
		return time.Time{}, false
	}
	day, err := strconv.Atoi(d)
	if err != nil {
		return time.Time{}, false
	}
	month, err := strconv.Atoi(m)
	if err != nil || month < 1 || month > 12 {
		return time.Time{}, false
	}

	return ResolveDate(day, month, now)
}

// Приведение недельного расписания к каноническому виду.
// Занятия без распознанного дня недели или с неизвестной парой отбрасываются
func (t Timetable) Normalize(page sstuparser.WeekPage, now time.Time) []Lesson {
	lessons := make([]Lesson, 0, len(page.Lessons))
	for _, raw := range page.Lessons {
		l, ok := t.Lesson(raw, page.Exams, now)
		if !ok {
			continue
		}
		lessons = append(lessons, l)
	}

	return lessons
}

// Приведение одного занятия
func (t Timetable) Lesson(raw sstuparser.RawLesson, exams map[string]time.Time, now time.Time) (Lesson, bool) {
	slot, ok := t.Slot(raw.Slot)
	if !ok {
		return Lesson{}, false
	}
	weekday := Weekday(raw.Weekday)
	if weekday == 0 {
		return Lesson{}, false
	}

	l := Lesson{
		Subject: strings.TrimSpace(raw.Subject),
		Type:    Kind(raw.Type),
		Room:    strings.TrimSpace(raw.Room),
		Weekday: weekday,
		Slot:    raw.Slot,
		Begin:   slot.Begin,
		End:     slot.End,
		Teacher: raw.Teacher,
		Group:   raw.Group,
	}
	if l.Subject == "" {
		return Lesson{}, false
	}

	if raw.Date != "" {
		if date, ok := parseFragment(raw.Date, now); ok {
			l.Date = date
		}
	}
	// Дата экзамена из предупреждений важнее даты в заголовке
	if l.Type == database.Exam {
		if date, ok := exams[l.Subject]; ok {
			l.Date = date
		}
	}

	if l.HasDate() {
		l.Week = t.Week(l.Date)
	} else {
		l.Week = raw.SourceWeek
	}

	return l, true
}
