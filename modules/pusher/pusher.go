package pusher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	"stud.l9labs.ru/raspsync/modules/database"
	"stud.l9labs.ru/raspsync/modules/normalize"
	"stud.l9labs.ru/raspsync/modules/sstuparser"
	"stud.l9labs.ru/raspsync/modules/syncer"
)

const importPath = "/api/schedule/updates/import_group"

type Options struct {
	URL     string
	Token   string
	Timeout time.Duration
	Log     *zap.Logger
	Now     func() time.Time
}

// Итоги отправки
type Result struct {
	Groups  int
	Pushed  int
	Failed  int
	Lessons int
}

// Разбирает расписание на своей стороне и отправляет его на сервер группами
type Pusher struct {
	parser    syncer.Parser
	timetable normalize.Timetable
	url       string
	token     string
	client    *http.Client
	log       *zap.Logger
	now       func() time.Time
}

func New(parser syncer.Parser, tt normalize.Timetable, opt Options) *Pusher {
	if opt.Log == nil {
		opt.Log = zap.NewNop()
	}
	if opt.Now == nil {
		opt.Now = time.Now
	}
	if opt.Timeout == 0 {
		opt.Timeout = 60 * time.Second
	}

	return &Pusher{
		parser:    parser,
		timetable: tt,
		url:       opt.URL + importPath,
		token:     opt.Token,
		client:    &http.Client{Timeout: opt.Timeout},
		log:       opt.Log,
		now:       opt.Now,
	}
}

// Один обход всех групп. Ошибка возвращается, только если не удалось
// получить список групп
func (p *Pusher) Run(ctx context.Context) (Result, error) {
	var res Result
	institutes, err := p.parser.ParseDirectory(ctx)
	if err != nil {
		return res, fmt.Errorf("failed to parse main page: %w", err)
	}
	if len(institutes) == 0 {
		return res, syncer.ErrEmptyDirectory
	}

	for _, inst := range institutes {
		for _, gr := range inst.Groups {
			if gr.ExternalID == 0 {
				continue
			}
			if err := ctx.Err(); err != nil {
				return res, err
			}
			res.Groups++
			n, err := p.pushGroup(ctx, inst, gr)
			if err != nil {
				res.Failed++
				p.log.Warn("group not pushed", zap.String("group", gr.Name), zap.Error(err))

				continue
			}
			res.Pushed++
			res.Lessons += n
		}
	}
	p.log.Info("push finished",
		zap.Int("groups", res.Groups),
		zap.Int("pushed", res.Pushed),
		zap.Int("failed", res.Failed),
		zap.Int("lessons", res.Lessons),
	)

	return res, nil
}

func (p *Pusher) pushGroup(ctx context.Context, inst sstuparser.InstituteRecord, gr database.GroupInfo) (int, error) {
	page, err := p.parser.ParseGroupWeek(ctx, gr.ExternalID)
	if err != nil {
		return 0, err
	}
	lessons := p.timetable.Normalize(page, p.now())

	payload := syncer.ImportPayload{
		Institute: syncer.ImportInstitute{Name: inst.Name, SSTUID: inst.ExternalID},
		Group: syncer.ImportGroup{
			Name:          gr.Name,
			SSTUID:        gr.ExternalID,
			EducationForm: string(gr.EduForm),
			DegreeType:    string(gr.Degree),
			CourseNumber:  gr.CourseNumber,
		},
		Lessons: make([]syncer.ImportLesson, 0, len(lessons)),
	}
	for _, l := range lessons {
		payload.Lessons = append(payload.Lessons, syncer.FromLesson(l))
	}

	out, err := p.Push(ctx, payload)
	if err != nil {
		return 0, err
	}
	p.log.Debug("group pushed",
		zap.String("group", gr.Name),
		zap.Int("created", out.LessonsCreated),
		zap.Int("updated", out.LessonsUpdated),
		zap.Int("removed", out.LessonsRemoved),
	)

	return len(payload.Lessons), nil
}

// Отправка расписания одной группы
func (p *Pusher) Push(ctx context.Context, payload syncer.ImportPayload) (syncer.ImportResult, error) {
	var out syncer.ImportResult
	body, err := json.Marshal(payload)
	if err != nil {
		return out, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return out, err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return out, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return out, err
	}
	if resp.StatusCode != http.StatusOK {
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(raw, &e) == nil && e.Error != "" {
			return out, fmt.Errorf("server response %d: %s", resp.StatusCode, e.Error)
		}

		return out, fmt.Errorf("server response %d", resp.StatusCode)
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("server response: %w", err)
	}

	return out, nil
}
