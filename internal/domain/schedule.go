package domain

import (
	"strings"
	"time"

	"schedform/internal/crontab"
)

// TimestampLayout is the one format used for schedule start and end.
const TimestampLayout = "2006-01-02 15:04:05"

// ScheduleRequest is the time window as the scheduler stores it.
type ScheduleRequest struct {
	StartTime  string `json:"startTime,omitempty"`
	EndTime    string `json:"endTime,omitempty"`
	Crontab    string `json:"crontab,omitempty"`
	TimezoneID string `json:"timezoneId,omitempty"`
}

// Schedule is the wire record served by GET /api/scheduler/{catalogueId}/schedule.
type Schedule struct {
	ID                      int             `json:"id,omitempty"`
	ProcessDefinitionCode   int64           `json:"processDefinitionCode,omitempty"`
	ProcessDefinitionName   string          `json:"processDefinitionName,omitempty"`
	ScheduleRequest         ScheduleRequest `json:"scheduleRequest"`
	EnvironmentCode         int64           `json:"environmentCode,omitempty"`
	FailureStrategy         FailureStrategy `json:"failureStrategy,omitempty"`
	ProcessInstancePriority Priority        `json:"processInstancePriority"`
	WarningGroupID          int             `json:"warningGroupId"`
	WarningType             WarningType     `json:"warningType,omitempty"`
	WorkerGroup             string          `json:"workerGroup,omitempty"`
	ReleaseState            ReleaseState    `json:"releaseState,omitempty"`
}

// ScheduleWindow is the form side of a Schedule. Zero Start and End mean
// no window.
type ScheduleWindow struct {
	Start                   time.Time
	End                     time.Time
	Crontab                 string
	TimezoneID              string
	EnvironmentCode         int64
	FailureStrategy         FailureStrategy
	ProcessInstancePriority Priority
	ScheduleID              int
	WarningGroupID          int
	WarningType             WarningType
	WorkerGroup             string
}

// HasWindow reports whether the start/end pair is set.
func (w ScheduleWindow) HasWindow() bool { return !w.Start.IsZero() }

func (w ScheduleWindow) Validate() error {
	if w.Start.IsZero() != w.End.IsZero() {
		return &ValidationError{Field: "startTime", Msg: "start and end must be set together"}
	}
	if w.HasWindow() && w.Start.After(w.End) {
		return &ValidationError{Field: "endTime", Msg: "end is before start"}
	}
	if w.Crontab != "" {
		if err := crontab.Validate(w.Crontab); err != nil {
			return &ValidationError{Field: "crontab", Msg: err.Error()}
		}
	}
	if err := crontab.ValidateTimezone(w.TimezoneID); err != nil {
		return &ValidationError{Field: "timezoneId", Msg: err.Error()}
	}
	if w.FailureStrategy != "" && !w.FailureStrategy.Valid() {
		return &ValidationError{Field: "failureStrategy", Msg: "must be CONTINUE or END"}
	}
	if w.WarningType != "" && !w.WarningType.Valid() {
		return &ValidationError{Field: "warningType", Msg: "must be NONE, SUCCESS, FAILURE or ALL"}
	}
	if !w.ProcessInstancePriority.Valid() {
		return &ValidationError{Field: "processInstancePriority", Msg: "unknown priority " + w.ProcessInstancePriority.String()}
	}
	return nil
}

// DecodeSchedule derives the form window from a wire schedule.
func DecodeSchedule(s Schedule) (ScheduleWindow, error) {
	w := ScheduleWindow{
		Crontab:                 s.ScheduleRequest.Crontab,
		TimezoneID:              s.ScheduleRequest.TimezoneID,
		EnvironmentCode:         s.EnvironmentCode,
		FailureStrategy:         s.FailureStrategy,
		ProcessInstancePriority: s.ProcessInstancePriority,
		ScheduleID:              s.ID,
		WarningGroupID:          s.WarningGroupID,
		WarningType:             s.WarningType,
		WorkerGroup:             s.WorkerGroup,
	}
	start, end := strings.TrimSpace(s.ScheduleRequest.StartTime), strings.TrimSpace(s.ScheduleRequest.EndTime)
	if (start == "") != (end == "") {
		return w, &ValidationError{Field: "startTime", Msg: "start and end must be set together"}
	}
	if start == "" {
		return w, nil
	}
	var err error
	if w.Start, err = time.Parse(TimestampLayout, start); err != nil {
		return w, &ValidationError{Field: "startTime", Msg: err.Error()}
	}
	if w.End, err = time.Parse(TimestampLayout, end); err != nil {
		return w, &ValidationError{Field: "endTime", Msg: err.Error()}
	}
	return w, nil
}

// EncodeSchedule validates the window and maps it back to wire shape.
func EncodeSchedule(w ScheduleWindow) (Schedule, error) {
	if err := w.Validate(); err != nil {
		return Schedule{}, err
	}
	s := Schedule{
		ID:                      w.ScheduleID,
		EnvironmentCode:         w.EnvironmentCode,
		FailureStrategy:         w.FailureStrategy,
		ProcessInstancePriority: w.ProcessInstancePriority,
		WarningGroupID:          w.WarningGroupID,
		WarningType:             w.WarningType,
		WorkerGroup:             w.WorkerGroup,
		ScheduleRequest: ScheduleRequest{
			Crontab:    w.Crontab,
			TimezoneID: w.TimezoneID,
		},
	}
	if w.HasWindow() {
		s.ScheduleRequest.StartTime = w.Start.Format(TimestampLayout)
		s.ScheduleRequest.EndTime = w.End.Format(TimestampLayout)
	}
	return s, nil
}
