package domain

import "time"

// PomodoroSession is one timed work block. Duration is in minutes.
type PomodoroSession struct {
	ID          string     `json:"id"`
	TenantID    TenantID   `json:"tenant_id"`
	StartedAt   time.Time  `json:"started_at"`
	Duration    int        `json:"duration"`
	Completed   bool       `json:"completed"`
	CompletedAt *time.Time `json:"completed_at"`
	CreatedAt   time.Time  `json:"created_at"`
}

func (p PomodoroSession) EntityID() string { return p.ID }

type PomodoroInput struct {
	StartedAt *time.Time `json:"started_at,omitempty"`
	Duration  int        `json:"duration" validate:"required,gte=1,lte=240"`
	Completed bool       `json:"completed,omitempty"`
}

// Draft defaults StartedAt to now and keeps CompletedAt consistent with
// Completed.
func (in PomodoroInput) Draft(tenant TenantID, now time.Time) PomodoroSession {
	now = now.UTC()
	p := PomodoroSession{TenantID: tenant, StartedAt: now, Duration: in.Duration, Completed: in.Completed}
	if in.StartedAt != nil {
		p.StartedAt = in.StartedAt.UTC()
	}
	if in.Completed {
		p.CompletedAt = &now
	}
	return p
}

type PomodoroPatch struct {
	Duration  *int  `json:"duration,omitempty" validate:"omitempty,gte=1,lte=240"`
	Completed *bool `json:"completed,omitempty"`
}

// Columns has no updated_at: pomodoro_sessions does not carry one.
func (p PomodoroPatch) Columns(now time.Time) map[string]any {
	cols := map[string]any{}
	if p.Duration != nil {
		cols["duration"] = *p.Duration
	}
	if p.Completed != nil {
		cols["completed"] = *p.Completed
		if *p.Completed {
			cols["completed_at"] = now.UTC()
		} else {
			cols["completed_at"] = nil
		}
	}
	return cols
}

// PomodoroSettingsKey is the local storage key of the timer settings.
const PomodoroSettingsKey = "personal-workspace-pomodoro-settings"

// CompletedPomodorosKey is the local storage key of the completed counter.
const CompletedPomodorosKey = "personal-workspace-completed-pomodoros"

// PomodoroSettings are the timer lengths in minutes. They live only in the
// local store.
type PomodoroSettings struct {
	WorkTime          int `json:"workTime" validate:"gte=1,lte=120"`
	ShortBreakTime    int `json:"shortBreakTime" validate:"gte=1,lte=60"`
	LongBreakTime     int `json:"longBreakTime" validate:"gte=1,lte=120"`
	LongBreakInterval int `json:"longBreakInterval" validate:"gte=1,lte=12"`
}

func DefaultPomodoroSettings() PomodoroSettings {
	return PomodoroSettings{WorkTime: 25, ShortBreakTime: 5, LongBreakTime: 15, LongBreakInterval: 4}
}

// NextBreak returns the break length after the completed-th work block.
func (s PomodoroSettings) NextBreak(completed int) time.Duration {
	if s.LongBreakInterval > 0 && completed > 0 && completed%s.LongBreakInterval == 0 {
		return time.Duration(s.LongBreakTime) * time.Minute
	}
	return time.Duration(s.ShortBreakTime) * time.Minute
}
