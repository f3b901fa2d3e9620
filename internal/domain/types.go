package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

type Flag string

const (
	FlagYes Flag = "YES"
	FlagNo  Flag = "NO"
)

type TimeoutFlag string

const (
	TimeoutOpen  TimeoutFlag = "OPEN"
	TimeoutClose TimeoutFlag = "CLOSE"
)

type NotifyStrategy string

const (
	NotifyWarn   NotifyStrategy = "WARN"
	NotifyFailed NotifyStrategy = "FAILED"

	// NotifyWarnFailed is the wire spelling for both strategies at once.
	NotifyWarnFailed = "WARNFAILED"
)

type FailureStrategy string

const (
	FailureContinue FailureStrategy = "CONTINUE"
	FailureEnd      FailureStrategy = "END"
)

func (f FailureStrategy) Valid() bool { return f == FailureContinue || f == FailureEnd }

type WarningType string

const (
	WarningNone    WarningType = "NONE"
	WarningSuccess WarningType = "SUCCESS"
	WarningFailure WarningType = "FAILURE"
	WarningAll     WarningType = "ALL"
)

func (w WarningType) Valid() bool {
	switch w {
	case WarningNone, WarningSuccess, WarningFailure, WarningAll:
		return true
	}
	return false
}

type ReleaseState string

const (
	ReleaseOnline  ReleaseState = "ONLINE"
	ReleaseOffline ReleaseState = "OFFLINE"
)

func ParseReleaseState(s string) (ReleaseState, error) {
	switch ReleaseState(strings.ToUpper(strings.TrimSpace(s))) {
	case ReleaseOnline:
		return ReleaseOnline, nil
	case ReleaseOffline:
		return ReleaseOffline, nil
	}
	return "", fmt.Errorf("unknown release state %q", s)
}

// Priority is ordered: a lower rank runs first.
type Priority int

const (
	PriorityHighest Priority = iota
	PriorityHigh
	PriorityMedium
	PriorityLow
	PriorityLowest
)

var priorityNames = [...]string{"HIGHEST", "HIGH", "MEDIUM", "LOW", "LOWEST"}

// Valid reports whether p is one of the five named ranks.
func (p Priority) Valid() bool { return p >= PriorityHighest && p <= PriorityLowest }

func (p Priority) String() string {
	if !p.Valid() {
		return "Priority(" + strconv.Itoa(int(p)) + ")"
	}
	return priorityNames[p]
}

func ParsePriority(s string) (Priority, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	for i, n := range priorityNames {
		if n == s {
			return Priority(i), nil
		}
	}
	if n, err := strconv.Atoi(s); err == nil && n >= int(PriorityHighest) && n <= int(PriorityLowest) {
		return Priority(n), nil
	}
	return PriorityMedium, fmt.Errorf("unknown priority %q", s)
}

func (p Priority) MarshalJSON() ([]byte, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("priority %d out of range", int(p))
	}
	return json.Marshal(p.String())
}

func (p *Priority) UnmarshalJSON(b []byte) error {
	var raw any
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	var s string
	switch v := raw.(type) {
	case string:
		s = v
	case float64:
		if v != math.Trunc(v) {
			return fmt.Errorf("priority: %s is not a rank", b)
		}
		s = strconv.Itoa(int(v))
	case nil:
		*p = PriorityMedium
		return nil
	default:
		return fmt.Errorf("priority: unexpected %s", b)
	}
	parsed, err := ParsePriority(s)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

func (p Priority) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

func (p *Priority) UnmarshalText(b []byte) error {
	parsed, err := ParsePriority(string(b))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// TaskDefinition is the scheduler's task record as returned by
// GET /api/scheduler/task.
type TaskDefinition struct {
	Code                     int64            `json:"code"`
	ProjectCode              int64            `json:"projectCode"`
	ProcessDefinitionCode    int64            `json:"processDefinitionCode"`
	ProcessDefinitionName    string           `json:"processDefinitionName,omitempty"`
	ProcessDefinitionVersion int              `json:"processDefinitionVersion,omitempty"`
	Name                     string           `json:"name,omitempty"`
	Description              string           `json:"description,omitempty"`
	TaskType                 string           `json:"taskType,omitempty"`
	TaskParams               string           `json:"taskParams,omitempty"`
	Flag                     Flag             `json:"flag,omitempty"`
	TaskPriority             Priority         `json:"taskPriority"`
	WorkerGroup              string           `json:"workerGroup,omitempty"`
	EnvironmentCode          int64            `json:"environmentCode,omitempty"`
	FailRetryTimes           int              `json:"failRetryTimes"`
	FailRetryInterval        int              `json:"failRetryInterval"`
	DelayTime                int              `json:"delayTime"`
	TimeoutFlag              TimeoutFlag      `json:"timeoutFlag,omitempty"`
	Timeout                  int              `json:"timeout"`
	TimeoutNotifyStrategy    string           `json:"timeoutNotifyStrategy,omitempty"`
	UpstreamTaskMap          map[int64]string `json:"upstreamTaskMap,omitempty"`
}

// TaskRequest is the body of task create and update calls.
// TimeoutNotifyStrategy is nil when timeout is closed so the key is omitted.
type TaskRequest struct {
	Code                  int64       `json:"code,omitempty"`
	Name                  string      `json:"name,omitempty"`
	Description           string      `json:"description"`
	TaskType              string      `json:"taskType,omitempty"`
	TaskParams            string      `json:"taskParams,omitempty"`
	Flag                  Flag        `json:"flag"`
	TaskPriority          Priority    `json:"taskPriority"`
	FailRetryTimes        int         `json:"failRetryTimes"`
	FailRetryInterval     int         `json:"failRetryInterval"`
	DelayTime             int         `json:"delayTime"`
	TimeoutFlag           TimeoutFlag `json:"timeoutFlag"`
	Timeout               int         `json:"timeout"`
	TimeoutNotifyStrategy *string     `json:"timeoutNotifyStrategy,omitempty"`
	ProcessCode           int64       `json:"processCode,omitempty"`
}

// TaskMainInfo is a candidate upstream task.
type TaskMainInfo struct {
	TaskCode                 int64            `json:"taskCode"`
	TaskName                 string           `json:"taskName"`
	TaskVersion              int              `json:"taskVersion,omitempty"`
	TaskType                 string           `json:"taskType,omitempty"`
	ProcessDefinitionCode    int64            `json:"processDefinitionCode"`
	ProcessDefinitionName    string           `json:"processDefinitionName,omitempty"`
	ProcessDefinitionVersion int              `json:"processDefinitionVersion,omitempty"`
	ProcessReleaseState      ReleaseState     `json:"processReleaseState,omitempty"`
	UpstreamTaskMap          map[int64]string `json:"upstreamTaskMap,omitempty"`
}

// ProcessInstance is one run of a workflow.
type ProcessInstance struct {
	ID                      int      `json:"id"`
	ProcessDefinitionCode   int64    `json:"processDefinitionCode"`
	Name                    string   `json:"name"`
	State                   string   `json:"state"`
	StartTime               string   `json:"startTime,omitempty"`
	EndTime                 string   `json:"endTime,omitempty"`
	RunTimes                int      `json:"runTimes"`
	Host                    string   `json:"host,omitempty"`
	CommandType             string   `json:"commandType,omitempty"`
	Duration                string   `json:"duration,omitempty"`
	ProcessInstancePriority Priority `json:"processInstancePriority"`
	SchedulerURL            string   `json:"schedulerUrl,omitempty"`
}

// ProcessSummary is an entry of the workflow simple-list.
type ProcessSummary struct {
	Code         int64        `json:"code"`
	Name         string       `json:"name"`
	ReleaseState ReleaseState `json:"releaseState,omitempty"`
}
