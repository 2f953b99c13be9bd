package database

import (
	"errors"
	"time"

	"xorm.io/builder"
	"xorm.io/xorm"
)

var (
	ErrSyncInProgress = errors.New("schedule sync already in progress")
	ErrNoRuns         = errors.New("no schedule sync runs yet")
)

// Открыть новый проход синхронизации. Если предыдущий проход висит дольше
// staleAfter, он закрывается как неудачный
func StartRun(db *xorm.Engine, now time.Time, staleAfter time.Duration) (SyncRun, error) {
	run, err := db.Transaction(func(s *xorm.Session) (interface{}, error) {
		var active []SyncRun
		if err := s.Where(builder.Eq{"Status": RunInProgress}).Find(&active); err != nil {
			return nil, err
		}
		for _, a := range active {
			if staleAfter <= 0 || now.Sub(a.Started) < staleAfter {
				return nil, ErrSyncInProgress
			}
			a.Status = RunFailed
			a.Finished = now
			a.Error = "abandoned: no progress since " + a.Started.Format(time.RFC3339)
			if _, err := s.ID(a.RunID).Cols("Status", "Finished", "Error").Update(&a); err != nil {
				return nil, err
			}
		}

		run := SyncRun{Started: now, Status: RunInProgress}
		if _, err := s.Insert(&run); err != nil {
			return nil, err
		}

		return run, nil
	})
	if err != nil {
		return SyncRun{}, err
	}

	return run.(SyncRun), nil
}

// Записать итог прохода
func FinishRun(db xorm.Interface, run *SyncRun) error {
	_, err := db.ID(run.RunID).
		Cols("Finished", "Status", "GroupsUpdated", "GroupsFailed", "LessonsAdded", "LessonsRemoved", "Error").
		Update(run)

	return err
}

// Идёт ли сейчас проход синхронизации
func HasActiveRun(db xorm.Interface) (bool, error) {
	return db.Where(builder.Eq{"Status": RunInProgress}).Exist(&SyncRun{})
}

// Последний по времени начала проход
func LatestRun(db xorm.Interface) (SyncRun, error) {
	var run SyncRun
	has, err := db.Desc("Started", "RunID").Get(&run)
	if err != nil {
		return run, err
	}
	if !has {
		return run, ErrNoRuns
	}

	return run, nil
}
