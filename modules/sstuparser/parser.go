package sstuparser

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"stud.l9labs.ru/raspsync/modules/database"
)

// Адрес основного сайта (прод или тестовый)
const BaseURL = "https://rasp.sstu.ru"

var (
	ErrNoDirectory = errors.New("schedule structure not found on main page")
	ErrNoCalendar  = errors.New("calendar not found on schedule page")
)

type Fetcher interface {
	Fetch(ctx context.Context, url string) (*goquery.Document, error)
}

// Известные номера пар
type SlotSet interface {
	Has(slot int) bool
}

// Институт со списком групп из справочника
type InstituteRecord struct {
	Name       string
	ExternalID int64
	Groups     []database.GroupInfo
}

// Занятие в том виде, в каком оно указано на странице
type RawLesson struct {
	Slot       int
	SourceWeek int // номер недели из атрибута data-lesson
	Room       string
	Subject    string
	Type       string // сокращение типа, без скобок
	Weekday    string // заголовок дня в нижнем регистре
	Date       string // DD.MM из заголовка дня
	Teacher    database.TeacherRef
	Group      string // только для расписания преподавателя
}

// Недельное расписание группы или преподавателя
type WeekPage struct {
	Lessons []RawLesson
	Exams   map[string]time.Time // дата экзамена по названию предмета
}

type Parser struct {
	fetch Fetcher
	base  string
	slots SlotSet
	log   *zap.Logger
}

func New(f Fetcher, base string, slots SlotSet, log *zap.Logger) *Parser {
	if base == "" {
		base = BaseURL
	}
	if log == nil {
		log = zap.NewNop()
	}

	return &Parser{
		fetch: f,
		base:  strings.TrimRight(base, "/"),
		slots: slots,
		log:   log,
	}
}

// Справочник институтов и групп с главной страницы
func (p *Parser) ParseDirectory(ctx context.Context) ([]InstituteRecord, error) {
	doc, err := p.fetch.Fetch(ctx, p.base+"/")
	if err != nil {
		return nil, err
	}
	if doc.Find("div#raspStructure").Length() == 0 {
		return nil, ErrNoDirectory
	}
	institutes := p.DirectoryFromDocument(doc)
	p.log.Info("directory parsed", zap.Int("institutes", len(institutes)))

	return institutes, nil
}

// Расписание группы по её номеру на сайте
func (p *Parser) ParseGroupWeek(ctx context.Context, groupID int64) (WeekPage, error) {
	doc, err := p.fetch.Fetch(ctx, p.base+"/rasp/group/"+strconv.FormatInt(groupID, 10))
	if err != nil {
		return WeekPage{}, err
	}
	page, err := p.GroupWeekFromDocument(doc)
	if err != nil {
		return page, err
	}
	p.log.Debug("group parsed", zap.Int64("group", groupID), zap.Int("lessons", len(page.Lessons)))

	return page, nil
}

// Расписание преподавателя по его номеру на сайте
func (p *Parser) ParseTeacherWeek(ctx context.Context, teacherID int64) (WeekPage, error) {
	doc, err := p.fetch.Fetch(ctx, p.base+"/rasp/teacher/"+strconv.FormatInt(teacherID, 10))
	if err != nil {
		return WeekPage{}, err
	}
	page, err := p.TeacherWeekFromDocument(doc)
	if err != nil {
		return page, err
	}
	p.log.Debug("teacher parsed", zap.Int64("teacher", teacherID), zap.Int("lessons", len(page.Lessons)))

	return page, nil
}

// Текст элемента без лишних пробелов
func clean(s *goquery.Selection) string {
	return strings.Join(strings.Fields(s.Text()), " ")
}
