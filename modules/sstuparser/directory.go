package sstuparser

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/exp/slices"
	"stud.l9labs.ru/raspsync/modules/database"
)

type eventKind int

const (
	formHeader eventKind = iota
	degreeHeader
	groupLink
)

// Элемент тела карточки института в порядке следования в документе
type event struct {
	kind eventKind
	text string
	href string
}

// Текущий раздел карточки: форма обучения и уровень образования
type sectionState struct {
	form   database.EduForm
	degree database.Degree
}

var defaultSection = sectionState{form: database.FullTime, degree: database.Bachelor}

var courseRe = regexp.MustCompile(`-(\d)1$`)

// Парсинг справочника институтов
func (p *Parser) DirectoryFromDocument(doc *goquery.Document) []InstituteRecord {
	var institutes []InstituteRecord
	doc.Find("div#raspStructure div.card").Each(func(i int, card *goquery.Selection) {
		inst, ok := parseInstitute(card)
		if !ok {
			p.log.Debug("skip institute card", zap.Int("card", i))

			return
		}
		institutes = append(institutes, inst)
	})

	return institutes
}

func parseInstitute(card *goquery.Selection) (InstituteRecord, bool) {
	header := card.Find("div.card-header").First()
	name := clean(header.Find("div.institute").First())
	body := card.Find("div.card-body").First()
	if header.Length() == 0 || name == "" || body.Length() == 0 {
		return InstituteRecord{}, false
	}

	inst := InstituteRecord{Name: name}
	if id, ok := header.Attr("id"); ok && strings.HasPrefix(id, "heading") {
		if n, err := strconv.ParseInt(strings.TrimPrefix(id, "heading"), 10, 64); err == nil {
			inst.ExternalID = n
		}
	}
	inst.Groups = foldGroups(panelEvents(body))

	return inst, true
}

// Заголовки разделов и ссылки на группы в порядке документа
func panelEvents(body *goquery.Selection) []event {
	var events []event
	body.Find(".edu-form, .group-type, .groups a").Each(func(i int, s *goquery.Selection) {
		switch {
		case s.HasClass("edu-form"):
			events = append(events, event{kind: formHeader, text: strings.ToLower(clean(s))})
		case s.HasClass("group-type"):
			events = append(events, event{kind: degreeHeader, text: strings.ToLower(clean(s))})
		case goquery.NodeName(s) == "a":
			events = append(events, event{kind: groupLink, text: clean(s), href: s.AttrOr("href", "")})
		}
	})

	return events
}

// Свёртка событий: заголовки меняют текущий раздел, ссылки дают группы
func foldGroups(events []event) []database.GroupInfo {
	state := defaultSection
	var groups []database.GroupInfo
	for _, ev := range events {
		switch ev.kind {
		case formHeader:
			if form, ok := eduForm(ev.text); ok {
				state.form = form
			}
		case degreeHeader:
			if degree, ok := degreeType(ev.text); ok {
				state.degree = degree
			}
		case groupLink:
			if ev.text == "" {
				continue
			}
			if slices.IndexFunc(groups, func(g database.GroupInfo) bool { return g.Name == ev.text }) != -1 {
				continue
			}
			gr := database.GroupInfo{
				Name:       ev.text,
				ExternalID: groupID(ev.href),
				EduForm:    state.form,
				Degree:     state.degree,
			}
			if m := courseRe.FindStringSubmatch(ev.text); m != nil {
				gr.CourseNumber, _ = strconv.Atoi(m[1])
			}
			groups = append(groups, gr)
		}
	}

	return groups
}

func eduForm(text string) (database.EduForm, bool) {
	switch {
	case strings.Contains(text, "очно-заочн"),
		strings.Contains(text, "заочн") && strings.Contains(text, "сокращ"):
		return database.Evening, true
	case strings.Contains(text, "заочн"):
		return database.PartTime, true
	case strings.Contains(text, "очн"):
		return database.FullTime, true
	}

	return "", false
}

func degreeType(text string) (database.Degree, bool) {
	switch {
	case strings.Contains(text, "бакалавриат"):
		return database.Bachelor, true
	case strings.Contains(text, "магистратура"):
		return database.Master, true
	case strings.Contains(text, "специалитет"):
		return database.Specialty, true
	case strings.Contains(text, "аспирантура"):
		return database.Postgraduate, true
	}

	return "", false
}

// Номер группы из ссылки вида /rasp/group/123
func groupID(href string) int64 {
	const prefix = "/rasp/group/"
	idx := strings.Index(href, prefix)
	if idx == -1 {
		return 0
	}
	raw := href[idx+len(prefix):]
	if end := strings.IndexAny(raw, "/?#"); end != -1 {
		raw = raw[:end]
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0
	}

	return id
}
