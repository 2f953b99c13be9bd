package database

import (
	"errors"
	"fmt"

	"xorm.io/builder"
	"xorm.io/xorm"
)

var ErrGroupNotFound = errors.New("group not found")

// Сведения о группе со страницы справочника или из импорта
type GroupInfo struct {
	Name         string
	ExternalID   int64
	EduForm      EduForm
	Degree       Degree
	CourseNumber int
}

// Преподаватель, как он указан в занятии
type TeacherRef struct {
	Name       string
	ExternalID int64
	URL        string
}

func (t TeacherRef) IsEmpty() bool {
	return t.Name == "" && t.ExternalID == 0
}

// Поиск записи справочника по номеру на сайте, иначе по названию
func findByExtOrName(db xorm.Interface, extID int64, name string, bean interface{}) (bool, error) {
	if extID != 0 {
		has, err := db.Where(builder.Eq{"ExternalID": extID}).Get(bean)
		if err != nil || has {
			return has, err
		}
	}

	return db.Where(builder.Eq{"Name": name}).Get(bean)
}

// Поиск или создание института с обновлением названия
func UpsertInstitute(db xorm.Interface, name string, extID int64) (Institute, error) {
	var inst Institute
	has, err := findByExtOrName(db, extID, name, &inst)
	if err != nil {
		return inst, err
	}
	if !has {
		inst = Institute{Name: name, ExternalID: ExtID(extID)}
		_, err := db.Insert(&inst)
		if err == nil {
			return inst, nil
		}
		if !IsDuplicate(err) {
			return inst, fmt.Errorf("institute %q: %w", name, err)
		}
		// Успели создать раньше нас
		inst = Institute{}
		has, err = findByExtOrName(db, extID, name, &inst)
		if err != nil {
			return inst, err
		}
		if !has {
			return inst, fmt.Errorf("institute %q: lost after conflict", name)
		}
	}

	if inst.Name == name && (extID == 0 || ExtValue(inst.ExternalID) == extID) {
		return inst, nil
	}
	inst.Name = name
	if extID != 0 {
		inst.ExternalID = ExtID(extID)
	}
	if _, err := db.ID(inst.InstituteID).Cols("Name", "ExternalID").Update(&inst); err != nil {
		return inst, fmt.Errorf("institute %q: %w", name, err)
	}

	return inst, nil
}

// Поиск или создание группы; поля обновляются только при изменениях
func UpsertGroup(db xorm.Interface, info GroupInfo, instituteID int64) (Group, error) {
	var gr Group
	has, err := findByExtOrName(db, info.ExternalID, info.Name, &gr)
	if err != nil {
		return gr, err
	}
	fresh := Group{
		Name:         info.Name,
		InstituteID:  instituteID,
		ExternalID:   ExtID(info.ExternalID),
		EduForm:      info.EduForm,
		Degree:       info.Degree,
		CourseNumber: info.CourseNumber,
	}
	if fresh.EduForm == "" {
		fresh.EduForm = FullTime
	}
	if fresh.Degree == "" {
		fresh.Degree = Bachelor
	}
	if !has {
		row := fresh
		_, err := db.Insert(&row)
		if err == nil {
			return row, nil
		}
		if !IsDuplicate(err) {
			return row, fmt.Errorf("group %q: %w", info.Name, err)
		}
		has, err = findByExtOrName(db, info.ExternalID, info.Name, &gr)
		if err != nil {
			return gr, err
		}
		if !has {
			return gr, fmt.Errorf("group %q: lost after conflict", info.Name)
		}
	}

	if fresh.ExternalID == nil {
		fresh.ExternalID = gr.ExternalID
	}
	if gr.Name == fresh.Name &&
		gr.InstituteID == fresh.InstituteID &&
		ExtValue(gr.ExternalID) == ExtValue(fresh.ExternalID) &&
		gr.EduForm == fresh.EduForm &&
		gr.Degree == fresh.Degree &&
		gr.CourseNumber == fresh.CourseNumber {
		return gr, nil
	}
	fresh.GroupID = gr.GroupID
	fresh.Created = gr.Created
	_, err = db.ID(gr.GroupID).
		Cols("Name", "InstituteID", "ExternalID", "EduForm", "Degree", "CourseNumber").
		Update(&fresh)
	if err != nil {
		return gr, fmt.Errorf("group %q: %w", info.Name, err)
	}

	return fresh, nil
}

// Группа по номеру на сайте расписания
func GroupByExternalID(db xorm.Interface, extID int64) (Group, error) {
	var gr Group
	has, err := db.Where(builder.Eq{"ExternalID": extID}).Get(&gr)
	if err != nil {
		return gr, err
	}
	if !has {
		return gr, fmt.Errorf("%w: %d", ErrGroupNotFound, extID)
	}

	return gr, nil
}

// Получение или создание предмета по названию
func GetSubject(db xorm.Interface, name string) (int64, error) {
	var sub Subject
	has, err := db.Where(builder.Eq{"Name": name}).Get(&sub)
	if err != nil {
		return 0, err
	}
	if has {
		return sub.SubjectID, nil
	}

	sub = Subject{Name: name}
	if _, err := db.Insert(&sub); err != nil {
		if !IsDuplicate(err) {
			return 0, fmt.Errorf("subject %q: %w", name, err)
		}
		// Успели создать раньше нас
		sub = Subject{}
		has, err = db.Where(builder.Eq{"Name": name}).Get(&sub)
		if err != nil {
			return 0, err
		}
		if !has {
			return 0, fmt.Errorf("subject %q: lost after conflict", name)
		}
	}

	return sub.SubjectID, nil
}

// Получение или создание преподавателя: по номеру на сайте, иначе по ФИО.
// Найденному преподавателю обновляются ФИО и ссылка на профиль
func GetTeacher(db xorm.Interface, ref TeacherRef) (int64, error) {
	if ref.IsEmpty() {
		return 0, nil
	}
	cond := builder.Eq{"FullName": ref.Name}
	if ref.ExternalID != 0 {
		cond = builder.Eq{"ExternalID": ref.ExternalID}
	}

	var t Teacher
	has, err := db.Where(cond).Get(&t)
	if err != nil {
		return 0, err
	}
	if !has {
		t = Teacher{
			FullName:   ref.Name,
			ExternalID: ExtID(ref.ExternalID),
			ProfileURL: ref.URL,
		}
		_, err := db.Insert(&t)
		if err == nil {
			return t.TeacherID, nil
		}
		if !IsDuplicate(err) {
			return 0, fmt.Errorf("teacher %q: %w", ref.Name, err)
		}
		t = Teacher{}
		has, err = db.Where(cond).Get(&t)
		if err != nil {
			return 0, err
		}
		if !has {
			return 0, fmt.Errorf("teacher %q: lost after conflict", ref.Name)
		}
	}

	if (ref.Name != "" && t.FullName != ref.Name) || (ref.URL != "" && t.ProfileURL != ref.URL) {
		if ref.Name != "" {
			t.FullName = ref.Name
		}
		if ref.URL != "" {
			t.ProfileURL = ref.URL
		}
		if _, err := db.ID(t.TeacherID).Cols("FullName", "ProfileURL").Update(&t); err != nil {
			return 0, fmt.Errorf("teacher %q: %w", ref.Name, err)
		}
	}

	return t.TeacherID, nil
}
