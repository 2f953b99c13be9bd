package database

import "time"

// Тип занятия
type Kind string

const (
	Lecture      Kind = "lecture"
	Practice     Kind = "practice"
	Lab          Kind = "lab"
	Exam         Kind = "exam"
	Consultation Kind = "consultation"
	Other        Kind = "other"
)

// Форма обучения
type EduForm string

const (
	FullTime EduForm = "full_time"
	PartTime EduForm = "part_time"
	Evening  EduForm = "evening"
)

// Уровень образования
type Degree string

const (
	Bachelor     Degree = "bachelor"
	Master       Degree = "master"
	Specialty    Degree = "specialty"
	Postgraduate Degree = "postgraduate"
)

type Institute struct {
	InstituteID int64     `xorm:"pk autoincr"`
	Name        string    `xorm:"varchar(255) notnull unique"`
	ExternalID  *int64    `xorm:"unique"` // номер на сайте расписания
	Created     time.Time `xorm:"created"`
	Updated     time.Time `xorm:"updated"`
}

type Group struct {
	GroupID      int64     `xorm:"pk autoincr"`
	Name         string    `xorm:"varchar(64) notnull unique"`
	InstituteID  int64     `xorm:"index"`
	ExternalID   *int64    `xorm:"unique"`
	EduForm      EduForm   `xorm:"varchar(16)"`
	Degree       Degree    `xorm:"varchar(16)"`
	CourseNumber int       // 0, если курс не определён
	Created      time.Time `xorm:"created"`
	Updated      time.Time `xorm:"updated"`
}

type Subject struct {
	SubjectID int64     `xorm:"pk autoincr"`
	Name      string    `xorm:"varchar(255) notnull unique"`
	Created   time.Time `xorm:"created"`
}

type Teacher struct {
	TeacherID  int64     `xorm:"pk autoincr"`
	FullName   string    `xorm:"varchar(255) notnull index"`
	ExternalID *int64    `xorm:"unique"`
	ProfileURL string    `xorm:"varchar(512)"`
	Created    time.Time `xorm:"created"`
	Updated    time.Time `xorm:"updated"`
}

// Занятие группы. Поля индекса lesson_identity однозначно определяют занятие.
// Week - номер недели семестра, 0 - не определён
type Lesson struct {
	LessonID  int64     `xorm:"pk autoincr"`
	GroupID   int64     `xorm:"notnull index(lesson_identity)"`
	Weekday   int       `xorm:"index(lesson_identity)"`
	Slot      int       `xorm:"index(lesson_identity)"`
	SubjectID int64     `xorm:"notnull index(lesson_identity)"`
	Date      string    `xorm:"varchar(10) index(lesson_identity)"` // 2006-01-02, пустая строка - без даты
	TeacherID int64     `xorm:"index(lesson_identity)"`             // 0 - без преподавателя
	Type      Kind      `xorm:"varchar(16)"`
	Room      string    `xorm:"varchar(128)"`
	Begin     string    `xorm:"varchar(5)"` // 15:04
	End       string    `xorm:"varchar(5)"`
	Week      int
	IsActive  bool      `xorm:"index"`
	Comment   string    `xorm:"text"`
	Created   time.Time `xorm:"created"`
	Updated   time.Time `xorm:"updated"`
}

type RunStatus string

const (
	RunInProgress RunStatus = "in_progress"
	RunSuccess    RunStatus = "success"
	RunFailed     RunStatus = "failed"
)

// Запись о проходе синхронизации
type SyncRun struct {
	RunID          int64     `xorm:"pk autoincr"`
	Started        time.Time `xorm:"index"`
	Finished       time.Time
	Status         RunStatus `xorm:"varchar(16) index"`
	GroupsUpdated  int
	GroupsFailed   int
	LessonsAdded   int
	LessonsRemoved int
	Error          string    `xorm:"text"`
}
