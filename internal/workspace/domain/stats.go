package domain

import (
	"math"
	"time"
)

type TaskStats struct {
	Total          int     `json:"total"`
	Pending        int     `json:"pending"`
	InProgress     int     `json:"inProgress"`
	Completed      int     `json:"completed"`
	Overdue        int     `json:"overdue"`
	CompletionRate float64 `json:"completionRate"`
}

type NoteStats struct {
	Total int `json:"total"`
}

type PomodoroStats struct {
	Total        int `json:"total"`
	Completed    int `json:"completed"`
	TotalMinutes int `json:"totalMinutes"`
}

// Stats backs the progress dashboard.
type Stats struct {
	Tasks    TaskStats     `json:"tasks"`
	Notes    NoteStats     `json:"notes"`
	Pomodoro PomodoroStats `json:"pomodoro"`
}

// ComputeStats aggregates the dashboard figures. CompletionRate is a
// percentage rounded to one decimal.
func ComputeStats(tasks []Task, notes []Note, sessions []PomodoroSession, now time.Time) Stats {
	var s Stats

	s.Tasks.Total = len(tasks)
	for _, t := range tasks {
		switch t.Status {
		case TaskPending:
			s.Tasks.Pending++
		case TaskInProgress:
			s.Tasks.InProgress++
		case TaskCompleted:
			s.Tasks.Completed++
		}
		if t.Overdue(now) {
			s.Tasks.Overdue++
		}
	}
	if s.Tasks.Total > 0 {
		rate := float64(s.Tasks.Completed) / float64(s.Tasks.Total) * 100
		s.Tasks.CompletionRate = math.Round(rate*10) / 10
	}

	s.Notes.Total = len(notes)

	s.Pomodoro.Total = len(sessions)
	for _, p := range sessions {
		if p.Completed {
			s.Pomodoro.Completed++
			s.Pomodoro.TotalMinutes += p.Duration
		}
	}
	return s
}
