package calendar

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"stud.l9labs.ru/raspsync/modules/database"
	"stud.l9labs.ru/raspsync/modules/normalize"
	"stud.l9labs.ru/raspsync/modules/reconcile"
)

func TestGroupEvents(t *testing.T) {
	db, err := database.Connect(database.DB{
		Driver: "sqlite3",
		Path:   filepath.Join(t.TempDir(), "test.db"),
	}, nil)
	require.NoError(t, err)
	defer db.Close()

	inst, err := database.UpsertInstitute(db, "Институт энергетики", 3)
	require.NoError(t, err)
	gr, err := database.UpsertGroup(db, database.GroupInfo{Name: "б-ЭЛЭТ-11", ExternalID: 501}, inst.InstituteID)
	require.NoError(t, err)

	day := time.Date(2026, time.January, 12, 0, 0, 0, 0, time.UTC)
	_, err = reconcile.New(db, nil).Reconcile(context.Background(), gr, []normalize.Lesson{
		{
			Subject: "Электротехника", Type: database.Lecture, Room: "6/101",
			Weekday: 1, Slot: 1, Begin: "08:00", End: "09:30", Date: day, Week: 1,
			Teacher: database.TeacherRef{Name: "Смирнов С.С."},
		},
		{
			Subject: "Физика", Type: database.Practice, Room: "1/202",
			Weekday: 1, Slot: 2, Begin: "09:45", End: "11:15", Date: day, Week: 1,
			Comment: "Подгр. 1",
		},
		// Без даты в календарь не попадает
		{Subject: "История", Type: database.Lecture, Weekday: 2, Slot: 1, Begin: "08:00", End: "09:30"},
	})
	require.NoError(t, err)

	events, err := GroupEvents(db, gr, time.UTC)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "Электротехника", events[0].Summary)
	assert.Equal(t, "Смирнов С.С.", events[0].Teacher)
	assert.Equal(t, time.Date(2026, time.January, 12, 8, 0, 0, 0, time.UTC), events[0].Begin)
	assert.Equal(t, time.Date(2026, time.January, 12, 11, 15, 0, 0, time.UTC), events[1].End)
	assert.Empty(t, events[1].Teacher)

	empty, err := GroupEvents(db, database.Group{GroupID: gr.GroupID + 100}, time.UTC)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestRender(t *testing.T) {
	begin := time.Date(2026, time.January, 12, 8, 0, 0, 0, time.UTC)
	var buf bytes.Buffer
	err := Render(&buf, "б-ЭЛЭТ-11", []Event{{
		UID:     "lesson-1@rasp.sstu.ru",
		Summary: "Теория цепей, часть 1",
		Kind:    database.Exam,
		Teacher: "Смирнов С.С.",
		Room:    "6/101",
		Begin:   begin,
		End:     begin.Add(90 * time.Minute),
	}}, begin)
	require.NoError(t, err)

	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "BEGIN:VCALENDAR\r\n"))
	assert.True(t, strings.HasSuffix(out, "END:VCALENDAR\r\n"))
	assert.Contains(t, out, "DTSTART:20260112T080000Z\r\n")
	assert.Contains(t, out, "DTEND:20260112T093000Z\r\n")
	assert.Contains(t, out, `SUMMARY:Теория цепей\, часть 1`)
	assert.Contains(t, out, `DESCRIPTION:Экзамен\nСмирнов С.С.`)
	assert.Equal(t, 1, strings.Count(out, "BEGIN:VEVENT"))
}

func TestRenderFoldsLongLines(t *testing.T) {
	begin := time.Date(2026, time.January, 12, 8, 0, 0, 0, time.UTC)
	summary := "Теоретические основы электротехники и электроники, курсовое проектирование"
	var buf bytes.Buffer
	err := Render(&buf, "б-ЭЛЭТ-11", []Event{{
		UID:     "lesson-2@rasp.sstu.ru",
		Summary: summary,
		Kind:    database.Lecture,
		Begin:   begin,
		End:     begin.Add(90 * time.Minute),
	}}, begin)
	require.NoError(t, err)

	out := buf.String()
	require.True(t, strings.HasSuffix(out, "END:VCALENDAR\r\n"))
	for _, line := range strings.Split(strings.TrimSuffix(out, "\r\n"), "\r\n") {
		assert.LessOrEqual(t, len(line), 75, line)
		assert.True(t, utf8.ValidString(line), line)
	}
	unfolded := strings.ReplaceAll(out, "\r\n ", "")
	assert.Contains(t, unfolded, "SUMMARY:"+escape(summary)+"\r\n")
}

func TestFold(t *testing.T) {
	assert.Equal(t, "SUMMARY:short", fold("SUMMARY:short"))

	line := "SUMMARY:" + strings.Repeat("ж", 80)
	folded := fold(line)
	parts := strings.Split(folded, "\r\n")
	require.Len(t, parts, 3)
	assert.Len(t, parts[0], 74)
	for _, p := range parts[1:] {
		assert.True(t, strings.HasPrefix(p, " "))
		assert.LessOrEqual(t, len(p), 75)
	}
	assert.Equal(t, line, strings.ReplaceAll(folded, "\r\n ", ""))
}

func TestEscape(t *testing.T) {
	assert.Equal(t, `a\;b\,c\\d\ne`, escape("a;b,c\\d\ne"))
}
