package main

import (
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"stud.l9labs.ru/raspsync/modules/api"
	"stud.l9labs.ru/raspsync/modules/normalize"
	"stud.l9labs.ru/raspsync/modules/pusher"
)

type columnAlignment int

const (
	alignLeft columnAlignment = iota
	alignRight
)

func renderTable(headers []string, rows [][]string, aligns []columnAlignment) string {
	columns := len(headers)
	if columns == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, columns)
	for i := range headers {
		header[i] = headers[i]
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, columns)
		for i := 0; i < columns; i++ {
			if i < len(row) {
				r[i] = row[i]
			}
		}
		tw.AppendRow(r)
	}

	configs := make([]table.ColumnConfig, 0, columns)
	for i := 0; i < columns; i++ {
		align := text.AlignLeft
		if i < len(aligns) && aligns[i] == alignRight {
			align = text.AlignRight
		}
		configs = append(configs, table.ColumnConfig{
			Number:      i + 1,
			Align:       align,
			AlignHeader: text.AlignLeft,
		})
	}
	tw.SetColumnConfigs(configs)

	return tw.Render()
}

func renderRun(sum api.RunSummary) string {
	finished := "-"
	if sum.FinishedAt != nil {
		finished = sum.FinishedAt.Format("2006-01-02 15:04:05")
	}
	rows := [][]string{
		{"Проход", strconv.FormatInt(sum.ID, 10)},
		{"Статус", string(sum.Status)},
		{"Начат", sum.StartedAt.Format("2006-01-02 15:04:05") + " (" + sum.Ago + ")"},
		{"Завершён", finished},
		{"Групп обновлено", strconv.Itoa(sum.GroupsUpdated)},
		{"Групп с ошибкой", strconv.Itoa(sum.GroupsFailed)},
		{"Занятий добавлено", strconv.Itoa(sum.LessonsAdded)},
		{"Занятий удалено", strconv.Itoa(sum.LessonsRemoved)},
	}
	if sum.ErrorMessage != "" {
		rows = append(rows, []string{"Ошибка", sum.ErrorMessage})
	}

	return renderTable([]string{"", ""}, rows, nil)
}

func renderPush(res pusher.Result) string {
	return renderTable(
		[]string{"Групп", "Отправлено", "С ошибкой", "Занятий"},
		[][]string{{
			strconv.Itoa(res.Groups),
			strconv.Itoa(res.Pushed),
			strconv.Itoa(res.Failed),
			strconv.Itoa(res.Lessons),
		}},
		[]columnAlignment{alignRight, alignRight, alignRight, alignRight},
	)
}

func renderLessons(lessons []normalize.Lesson) string {
	rows := make([][]string, 0, len(lessons))
	for _, l := range lessons {
		date := "-"
		if l.HasDate() {
			date = l.Date.Format("02.01")
		}
		rows = append(rows, []string{
			date,
			strconv.Itoa(l.Slot),
			l.Begin + "-" + l.End,
			l.Subject,
			string(l.Type),
			l.Room,
			l.Group,
		})
	}

	return renderTable(
		[]string{"Дата", "Пара", "Время", "Предмет", "Тип", "Ауд.", "Группа"},
		rows,
		[]columnAlignment{alignLeft, alignRight},
	)
}
