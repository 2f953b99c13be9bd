package normalize

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/icza/gox/timex"
)

// Время начала и конца пары, 15:04
type SlotTime struct {
	Begin string
	End   string
}

// Сетка звонков и начало семестра. Меняется от семестра к семестру
type Timetable struct {
	Version       string
	SemesterStart time.Time
	Slots         map[int]SlotTime
}

// Весенний семестр 2026 года
func DefaultTimetable() Timetable {
	return Timetable{
		Version:       "2026-spring",
		SemesterStart: time.Date(2026, 1, 12, 0, 0, 0, 0, time.Local),
		Slots: map[int]SlotTime{
			1: {"08:00", "09:30"},
			2: {"09:45", "11:15"},
			3: {"11:30", "13:00"},
			4: {"13:40", "15:10"},
			5: {"15:20", "16:50"},
			6: {"17:00", "18:30"},
			7: {"18:40", "20:10"},
		},
	}
}

func (t Timetable) Has(slot int) bool {
	_, ok := t.Slots[slot]

	return ok
}

func (t Timetable) Slot(slot int) (SlotTime, bool) {
	s, ok := t.Slots[slot]

	return s, ok
}

// Номер недели семестра, отсчёт от понедельника недели начала семестра;
// 0, если дата раньше этого понедельника
func (t Timetable) Week(date time.Time) int {
	start, _ := t.Monday()
	day := dayOf(date)
	if day.Before(start) {
		return 0
	}
	days := int(day.Sub(start).Hours()+12) / 24

	return days/7 + 1
}

// Начало семестра, приведённое к понедельнику его недели.
// Второе значение false, если дата в настройках была не понедельником
func (t Timetable) Monday() (time.Time, bool) {
	year, week := t.SemesterStart.ISOWeek()
	m := timex.WeekStart(year, week)
	monday := time.Date(m.Year(), m.Month(), m.Day(), 0, 0, 0, 0, t.SemesterStart.Location())

	return monday, monday.Equal(dayOf(t.SemesterStart))
}

// Разбор сетки звонков вида "1=08:00-09:30,2=09:45-11:15"
func ParseSlots(raw string) (map[int]SlotTime, error) {
	slots := make(map[int]SlotTime)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		num, span, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("slot %q: expected N=HH:MM-HH:MM", part)
		}
		n, err := strconv.Atoi(strings.TrimSpace(num))
		if err != nil || n < 1 || n > 7 {
			return nil, fmt.Errorf("slot %q: number must be 1..7", part)
		}
		begin, end, ok := strings.Cut(span, "-")
		if !ok {
			return nil, fmt.Errorf("slot %q: expected N=HH:MM-HH:MM", part)
		}
		b, err := time.Parse("15:04", strings.TrimSpace(begin))
		if err != nil {
			return nil, fmt.Errorf("slot %q: %w", part, err)
		}
		e, err := time.Parse("15:04", strings.TrimSpace(end))
		if err != nil {
			return nil, fmt.Errorf("slot %q: %w", part, err)
		}
		if !e.After(b) {
			return nil, fmt.Errorf("slot %q: ends before it starts", part)
		}
		if _, dup := slots[n]; dup {
			return nil, fmt.Errorf("slot %d: defined twice", n)
		}
		slots[n] = SlotTime{Begin: b.Format("15:04"), End: e.Format("15:04")}
	}
	if len(slots) == 0 {
		return nil, fmt.Errorf("empty slot table")
	}

	return slots, nil
}

// Строковое представление сетки для журнала
func (t Timetable) String() string {
	nums := make([]int, 0, len(t.Slots))
	for n := range t.Slots {
		nums = append(nums, n)
	}
	sort.Ints(nums)
	parts := make([]string, 0, len(nums))
	for _, n := range nums {
		parts = append(parts, fmt.Sprintf("%d=%s-%s", n, t.Slots[n].Begin, t.Slots[n].End))
	}

	return t.Version + " from " + t.SemesterStart.Format("2006-01-02") + ": " + strings.Join(parts, ",")
}

func dayOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
