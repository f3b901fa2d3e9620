package form

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"schedform/internal/client"
	"schedform/internal/crontab"
	"schedform/internal/domain"
)

var ErrClosed = errors.New("form is closed")

// Client is the subset of the scheduler client a form session calls.
type Client interface {
	GetSchedule(ctx context.Context, catalogueID int) (*domain.Schedule, error)
	UpsertSchedule(ctx context.Context, catalogueID int, s domain.Schedule) (string, error)
	CreateTask(ctx context.Context, dinkyTaskID int, upstreamCodes string, body domain.TaskRequest) (string, error)
	UpdateTask(ctx context.Context, ref client.TaskRef, upstreamCodes string, body domain.TaskRequest) (string, error)
}

// Presenter is whatever shows the form to a user.
type Presenter interface {
	// Error shows a message in place; the form stays open.
	Error(msg string)
	// Close tells the owner the form finished and can be dismissed.
	Close()
}

type nopPresenter struct{}

func (nopPresenter) Error(string) {}
func (nopPresenter) Close()       {}

// Target identifies what the form edits.
type Target struct {
	DinkyTaskID int
	CatalogueID int
}

// Session is one open form. It is not safe for concurrent use.
type Session struct {
	client Client
	view   Presenter
	log    zerolog.Logger

	target Target
	record *domain.TaskDefinition
	closed bool

	Task   domain.TaskForm
	Window domain.ScheduleWindow
}

type Option func(*Session)

func WithLogger(l zerolog.Logger) Option { return func(s *Session) { s.log = l } }

func New(c Client, p Presenter, opts ...Option) *Session {
	if p == nil {
		p = nopPresenter{}
	}
	s := &Session{client: c, view: p, log: log.Logger, Task: DefaultTaskForm(), Window: DefaultScheduleWindow()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// DefaultTaskForm is what a form shows when no record backs it.
func DefaultTaskForm() domain.TaskForm {
	return domain.TaskForm{
		RunFlag:          true,
		TaskPriority:     domain.PriorityMedium,
		NotifyStrategies: []domain.NotifyStrategy{},
		UpstreamCodes:    []int64{},
	}
}

// DefaultScheduleWindow is the window of a task with no schedule yet. The
// values match the scheduler's own defaults for a new schedule.
func DefaultScheduleWindow() domain.ScheduleWindow {
	return domain.ScheduleWindow{
		FailureStrategy:         domain.FailureContinue,
		ProcessInstancePriority: domain.PriorityMedium,
		WarningGroupID:          1,
		WarningType:             domain.WarningNone,
	}
}

// Record returns the backing task record, nil in create mode.
func (s *Session) Record() *domain.TaskDefinition { return s.record }

func (s *Session) Closed() bool { return s.closed }

// Load fills the form. With a nil record nothing is fetched and the form
// keeps its defaults. A record without a schedule gets the default window.
// Otherwise the schedule window is fetched and the
// task fields are copied from record. Task fields are populated even when
// the schedule fetch fails; that failure is shown and returned.
func (s *Session) Load(ctx context.Context, t Target, record *domain.TaskDefinition) error {
	if s.closed {
		return ErrClosed
	}
	s.target = t
	s.record = record
	if record == nil {
		return nil
	}

	s.Task = domain.DecodeTask(*record)

	sched, err := s.client.GetSchedule(ctx, t.CatalogueID)
	if err != nil {
		s.log.Warn().Err(err).Int("catalogue_id", t.CatalogueID).Msg("schedule fetch failed")
		s.view.Error(client.Message(err))
		return fmt.Errorf("load schedule: %w", err)
	}
	if sched == nil {
		s.Window = DefaultScheduleWindow()
		return nil
	}
	w, err := domain.DecodeSchedule(*sched)
	if err != nil {
		s.view.Error(err.Error())
		return fmt.Errorf("load schedule: %w", err)
	}
	s.Window = w
	return nil
}

// Submit encodes the task fields and issues exactly one create or update.
// A validation failure issues no call. On success the form closes.
func (s *Session) Submit(ctx context.Context) error {
	if s.closed {
		return ErrClosed
	}
	sub, err := domain.EncodeTask(s.Task)
	if err != nil {
		s.view.Error(err.Error())
		return err
	}

	var msg string
	if s.record == nil {
		msg, err = s.client.CreateTask(ctx, s.target.DinkyTaskID, sub.UpstreamCodes, sub.Body)
	} else {
		sub.Body.ProcessCode = s.record.ProcessDefinitionCode
		msg, err = s.client.UpdateTask(ctx, s.TaskRef(), sub.UpstreamCodes, sub.Body)
	}
	if err != nil {
		s.log.Error().Err(err).Int("dinky_task_id", s.target.DinkyTaskID).Msg("save task failed")
		s.view.Error("save task failed: " + client.Message(err))
		return err
	}

	s.log.Info().Int("dinky_task_id", s.target.DinkyTaskID).Str("result", msg).Msg("task saved")
	s.closed = true
	s.view.Close()
	return nil
}

// TaskRef addresses the backing record. It is zero in create mode.
func (s *Session) TaskRef() client.TaskRef {
	if s.record == nil {
		return client.TaskRef{}
	}
	return client.TaskRef{
		ProcessCode: s.record.ProcessDefinitionCode,
		ProjectCode: s.record.ProjectCode,
		TaskCode:    s.record.Code,
	}
}

// SaveSchedule validates the window and upserts it. The form stays open.
func (s *Session) SaveSchedule(ctx context.Context) error {
	if s.closed {
		return ErrClosed
	}
	sched, err := domain.EncodeSchedule(s.Window)
	if err != nil {
		s.view.Error(err.Error())
		return err
	}
	if _, err := s.client.UpsertSchedule(ctx, s.target.CatalogueID, sched); err != nil {
		s.view.Error("save schedule failed: " + client.Message(err))
		return err
	}
	return nil
}

// Preview lists the next n fire times of the window's crontab after from,
// bounded by the window end when one is set.
func (s *Session) Preview(from time.Time, n int) ([]time.Time, error) {
	if s.Window.Crontab == "" {
		return nil, &domain.ValidationError{Field: "crontab", Msg: "no cron expression"}
	}
	loc, err := crontab.Location(s.Window.TimezoneID)
	if err != nil {
		return nil, err
	}
	var until time.Time
	if s.Window.HasWindow() {
		// window timestamps are wall-clock times in the schedule's timezone
		start, end := wall(s.Window.Start, loc), wall(s.Window.End, loc)
		if from.Before(start) {
			from = start.Add(-time.Second)
		}
		until = end
	}
	return crontab.Preview(s.Window.Crontab, s.Window.TimezoneID, from, until, n)
}

func wall(t time.Time, loc *time.Location) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, loc)
}
