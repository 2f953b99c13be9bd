package calendar

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"text/template"
	"time"
	"unicode/utf8"

	"xorm.io/builder"
	"xorm.io/xorm"
	"stud.l9labs.ru/raspsync/modules/database"
)

// Занятие с датой в виде события календаря
type Event struct {
	UID     string
	Summary string
	Kind    database.Kind
	Teacher string
	Room    string
	Comment string
	Begin   time.Time
	End     time.Time
}

var kindNames = map[database.Kind]string{
	database.Lecture:      "Лекция",
	database.Practice:     "Практика",
	database.Lab:          "Лабораторная",
	database.Exam:         "Экзамен",
	database.Consultation: "Консультация",
	database.Other:        "Занятие",
}

// События группы по сохранённым занятиям. Занятия без даты пропускаются
func GroupEvents(db xorm.Interface, gr database.Group, loc *time.Location) ([]Event, error) {
	var lessons []database.Lesson
	err := db.
		Where(builder.Eq{"GroupID": gr.GroupID, "IsActive": true}.And(builder.Neq{"Date": ""})).
		Asc("Date", "Slot").
		Find(&lessons)
	if err != nil {
		return nil, err
	}
	if len(lessons) == 0 {
		return nil, nil
	}

	subjectIDs := make([]int64, 0, len(lessons))
	teacherIDs := make([]int64, 0, len(lessons))
	for _, l := range lessons {
		subjectIDs = append(subjectIDs, l.SubjectID)
		if l.TeacherID != 0 {
			teacherIDs = append(teacherIDs, l.TeacherID)
		}
	}
	var subjects []database.Subject
	if err := db.In("SubjectID", subjectIDs).Find(&subjects); err != nil {
		return nil, err
	}
	names := make(map[int64]string, len(subjects))
	for _, s := range subjects {
		names[s.SubjectID] = s.Name
	}
	teachers := make(map[int64]string)
	if len(teacherIDs) != 0 {
		var rows []database.Teacher
		if err := db.In("TeacherID", teacherIDs).Find(&rows); err != nil {
			return nil, err
		}
		for _, t := range rows {
			teachers[t.TeacherID] = t.FullName
		}
	}

	events := make([]Event, 0, len(lessons))
	for _, l := range lessons {
		begin, err := time.ParseInLocation("2006-01-02 15:04", l.Date+" "+l.Begin, loc)
		if err != nil {
			continue
		}
		end, err := time.ParseInLocation("2006-01-02 15:04", l.Date+" "+l.End, loc)
		if err != nil {
			continue
		}
		events = append(events, Event{
			UID:     fmt.Sprintf("lesson-%d@rasp.sstu.ru", l.LessonID),
			Summary: names[l.SubjectID],
			Kind:    l.Type,
			Teacher: teachers[l.TeacherID],
			Room:    l.Room,
			Comment: l.Comment,
			Begin:   begin,
			End:     end,
		})
	}

	return events, nil
}

// Экранирование текста по RFC 5545
func escape(s string) string {
	return strings.NewReplacer(
		`\`, `\\`,
		";", `\;`,
		",", `\,`,
		"\r\n", `\n`,
		"\n", `\n`,
	).Replace(s)
}

// Перенос строки длиннее 75 октетов, символы UTF-8 не разрываются
func fold(line string) string {
	const limit = 75
	if len(line) <= limit {
		return line
	}
	var b strings.Builder
	// Строка продолжения начинается с пробела, он тоже входит в лимит
	for width := limit; len(line) > width; width = limit - 1 {
		cut := width
		for cut > 0 && !utf8.RuneStart(line[cut]) {
			cut--
		}
		b.WriteString(line[:cut])
		b.WriteString("\r\n ")
		line = line[cut:]
	}
	b.WriteString(line)

	return b.String()
}

func stamp(t time.Time) string {
	return t.UTC().Format("20060102T150405Z")
}

func describe(e Event) string {
	parts := make([]string, 0, 3)
	if name, ok := kindNames[e.Kind]; ok {
		parts = append(parts, name)
	}
	if e.Teacher != "" {
		parts = append(parts, e.Teacher)
	}
	if e.Comment != "" {
		parts = append(parts, e.Comment)
	}

	return escape(strings.Join(parts, "\n"))
}

var icsTemplate = template.Must(template.New("ics").Funcs(template.FuncMap{
	"escape":   escape,
	"stamp":    stamp,
	"describe": describe,
}).Parse(strings.ReplaceAll(`BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//raspsync//SSTU timetable//RU
CALSCALE:GREGORIAN
X-WR-CALNAME:{{escape .Name}}
{{range .Events}}BEGIN:VEVENT
UID:{{.UID}}
DTSTAMP:{{stamp $.Now}}
DTSTART:{{stamp .Begin}}
DTEND:{{stamp .End}}
SUMMARY:{{escape .Summary}}
DESCRIPTION:{{describe .}}
LOCATION:{{escape .Room}}
END:VEVENT
{{end}}END:VCALENDAR
`, "\n", "\r\n")))

// Файл .ics для приложений календаря
func Render(w io.Writer, name string, events []Event, now time.Time) error {
	var buf bytes.Buffer
	err := icsTemplate.Execute(&buf, struct {
		Name   string
		Events []Event
		Now    time.Time
	}{name, events, now})
	if err != nil {
		return err
	}
	lines := strings.Split(buf.String(), "\r\n")
	for i, line := range lines {
		lines[i] = fold(line)
	}
	_, err = io.WriteString(w, strings.Join(lines, "\r\n"))

	return err
}
