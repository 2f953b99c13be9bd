package sstuparser

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"stud.l9labs.ru/raspsync/modules/database"
)

var (
	examRe      = regexp.MustCompile(`^(.+?)\s*\((\d{2}\.\d{2}\.\d{4})\)`)
	slotRe      = regexp.MustCompile(`n(\d+)`)
	weekRe      = regexp.MustCompile(`w(\d+)n\d+`)
	dateRe      = regexp.MustCompile(`(\d{2})\.(\d{2})`)
	teacherRe   = regexp.MustCompile(`teachers/(\d+)-`)
	subgroupRe  = regexp.MustCompile(`:\s*(.+)$`)
	notGroupTag = []string{"аудитория", "корпус"}
)

// Расписание группы со страницы /rasp/group/{id}
func (p *Parser) GroupWeekFromDocument(doc *goquery.Document) (WeekPage, error) {
	return p.weekFromDocument(doc, true)
}

// Расписание преподавателя со страницы /rasp/teacher/{id}.
// Занятие с несколькими группами раскрывается в отдельные записи
func (p *Parser) TeacherWeekFromDocument(doc *goquery.Document) (WeekPage, error) {
	return p.weekFromDocument(doc, false)
}

func (p *Parser) weekFromDocument(doc *goquery.Document, isGroup bool) (WeekPage, error) {
	calendar := doc.Find("div.calendar").First()
	if calendar.Length() == 0 {
		return WeekPage{}, ErrNoCalendar
	}

	page := WeekPage{Exams: parseExams(calendar)}
	calendar.Find("div.week").Each(func(i int, week *goquery.Selection) {
		sourceWeek := weekNumber(week)
		week.ChildrenFiltered("div.day").Each(func(j int, day *goquery.Selection) {
			// Колонка с временем пар
			if day.HasClass("day-header-color-blue") {
				return
			}
			page.Lessons = append(page.Lessons, p.parseDay(day, isGroup, sourceWeek)...)
		})
	})

	return page, nil
}

// Даты экзаменов из предупреждений вида "Предмет (12.01.2026)"
func parseExams(calendar *goquery.Selection) map[string]time.Time {
	exams := make(map[string]time.Time)
	calendar.Find("div.lesson-warnings div.lesson-warning-text").Each(func(i int, s *goquery.Selection) {
		m := examRe.FindStringSubmatch(clean(s))
		if m == nil {
			return
		}
		date, err := time.ParseInLocation("02.01.2006", m[2], time.Local)
		if err != nil {
			return
		}
		exams[strings.TrimSpace(m[1])] = date
	})

	return exams
}

// Номер недели из первого занятия с атрибутом вида w03n1
func weekNumber(week *goquery.Selection) int {
	n := 0
	week.Find("div.day-lesson[data-lesson]").EachWithBreak(func(i int, s *goquery.Selection) bool {
		if m := weekRe.FindStringSubmatch(s.AttrOr("data-lesson", "")); m != nil {
			n, _ = strconv.Atoi(m[1])

			return false
		}

		return true
	})

	return n
}

// Парсинг дня
func (p *Parser) parseDay(day *goquery.Selection, isGroup bool, sourceWeek int) []RawLesson {
	header := day.Find("div.day-header").First()
	if header.Length() == 0 {
		return nil
	}
	// <div class="day-header"><div><span>Понедельник</span>12.01</div></div>
	title := header.ChildrenFiltered("div").First()
	if title.Length() == 0 {
		title = header
	}
	text := strings.ToLower(clean(title))
	if text == "" {
		return nil
	}

	date := ""
	if isGroup {
		if m := dateRe.FindString(text); m != "" {
			date = m
		} else {
			p.log.Warn("no date in day header", zap.String("header", text))
		}
	}

	var lessons []RawLesson
	day.ChildrenFiltered("div.day-lesson").Each(func(i int, cell *goquery.Selection) {
		if cell.HasClass("day-lesson-empty") {
			return
		}
		for _, l := range p.parseCell(cell, isGroup) {
			l.Weekday = text
			l.Date = date
			l.SourceWeek = sourceWeek
			lessons = append(lessons, l)
		}
	})

	return lessons
}

// Парсинг занятия; ячейка расписания преподавателя может дать несколько записей
func (p *Parser) parseCell(cell *goquery.Selection, isGroup bool) []RawLesson {
	attr := cell.AttrOr("data-lesson", "")
	m := slotRe.FindStringSubmatch(attr)
	if m == nil {
		p.log.Debug("lesson without slot", zap.String("data-lesson", attr))

		return nil
	}
	slot, _ := strconv.Atoi(m[1])
	if p.slots != nil && !p.slots.Has(slot) {
		p.log.Debug("unknown slot", zap.Int("slot", slot))

		return nil
	}

	inner := cell.ChildrenFiltered("div").First()
	if inner.Length() == 0 {
		return nil
	}
	lesson := RawLesson{
		Slot:    slot,
		Room:    clean(inner.Find("div.lesson-room").First()),
		Subject: clean(inner.Find("div.lesson-name").First()),
		Type:    strings.Trim(clean(inner.Find("div.lesson-type").First()), "() "),
	}
	if lesson.Subject == "" {
		return nil
	}

	if isGroup {
		if a := inner.Find("a").First(); a.Length() != 0 {
			lesson.Teacher = p.teacherRef(a)
		}

		return []RawLesson{lesson}
	}

	groups := lessonGroups(inner)
	if len(groups) == 0 {
		return []RawLesson{lesson}
	}
	lessons := make([]RawLesson, 0, len(groups))
	for _, gr := range groups {
		l := lesson
		l.Group = gr
		lessons = append(lessons, l)
	}

	return lessons
}

// Преподаватель из ссылки на профиль
func (p *Parser) teacherRef(a *goquery.Selection) database.TeacherRef {
	ref := database.TeacherRef{Name: clean(a)}
	href := strings.TrimSpace(a.AttrOr("href", ""))
	if href == "" {
		return ref
	}
	if m := teacherRe.FindStringSubmatch(href); m != nil {
		ref.ExternalID, _ = strconv.ParseInt(m[1], 10, 64)
	}
	ref.URL = p.absolute(href)

	return ref
}

func (p *Parser) absolute(href string) string {
	base, err := url.Parse(p.base + "/")
	if err != nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}

	return base.ResolveReference(ref).String()
}

// Группы занятия в расписании преподавателя: "Подгр. 1: б-ЗМКДз-11" или просто название
func lessonGroups(inner *goquery.Selection) []string {
	var groups []string
	inner.Find("div.lesson-room, div.lesson-room-1").Each(func(i int, s *goquery.Selection) {
		if !s.HasClass("mt-2") && !s.HasClass("lesson-room-1") {
			return
		}
		text := clean(s)
		lower := strings.ToLower(text)
		if strings.Contains(lower, "подгр.") {
			if m := subgroupRe.FindStringSubmatch(text); m != nil {
				groups = append(groups, strings.TrimSpace(m[1]))
			}

			return
		}
		if text == "" {
			return
		}
		for _, tag := range notGroupTag {
			if strings.Contains(lower, tag) {
				return
			}
		}
		groups = append(groups, text)
	})

	return groups
}
