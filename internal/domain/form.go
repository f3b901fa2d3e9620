package domain

import (
	"sort"
	"strconv"
	"strings"
)

// TimeoutSentinel is the duration sent whenever the timeout alarm is
// switched on. The form has no duration input yet.
const TimeoutSentinel = 1

// TaskForm is the editable projection of a TaskDefinition.
type TaskForm struct {
	Description       string           `json:"description" yaml:"description"`
	RunFlag           bool             `json:"flag" yaml:"flag"`
	TaskPriority      Priority         `json:"taskPriority" yaml:"taskPriority"`
	FailRetryTimes    int              `json:"failRetryTimes" yaml:"failRetryTimes"`
	FailRetryInterval int              `json:"failRetryInterval" yaml:"failRetryInterval"`
	DelayTime         int              `json:"delayTime" yaml:"delayTime"`
	TimeoutEnabled    bool             `json:"timeoutFlag" yaml:"timeoutFlag"`
	Timeout           int              `json:"timeout" yaml:"timeout"`
	NotifyStrategies  []NotifyStrategy `json:"timeoutNotifyStrategy" yaml:"timeoutNotifyStrategy"`
	UpstreamCodes     []int64          `json:"upstreamCodes" yaml:"upstreamCodes"`
}

// TaskSubmission is an encoded form: the request body plus the
// comma-joined upstream codes sent as a query parameter.
type TaskSubmission struct {
	Body          TaskRequest
	UpstreamCodes string
}

// DecodeTask derives form fields from a task record.
func DecodeTask(def TaskDefinition) TaskForm {
	return TaskForm{
		Description:       def.Description,
		RunFlag:           def.Flag == FlagYes,
		TaskPriority:      def.TaskPriority,
		FailRetryTimes:    def.FailRetryTimes,
		FailRetryInterval: def.FailRetryInterval,
		DelayTime:         def.DelayTime,
		TimeoutEnabled:    def.TimeoutFlag == TimeoutOpen,
		Timeout:           def.Timeout,
		NotifyStrategies:  DecodeNotifyStrategy(def.TimeoutNotifyStrategy),
		UpstreamCodes:     UpstreamKeys(def.UpstreamTaskMap),
	}
}

// EncodeTask reverses DecodeTask and applies the timeout rules. It fails
// with a *ValidationError when the timeout alarm is on but no notify
// strategy is selected.
func EncodeTask(f TaskForm) (TaskSubmission, error) {
	if !f.TaskPriority.Valid() {
		return TaskSubmission{}, &ValidationError{Field: "taskPriority", Msg: "unknown priority " + f.TaskPriority.String()}
	}
	body := TaskRequest{
		Description:       f.Description,
		Flag:              FlagNo,
		TaskPriority:      f.TaskPriority,
		FailRetryTimes:    f.FailRetryTimes,
		FailRetryInterval: f.FailRetryInterval,
		DelayTime:         f.DelayTime,
	}
	if f.RunFlag {
		body.Flag = FlagYes
	}

	if !f.TimeoutEnabled {
		body.TimeoutFlag = TimeoutClose
		body.Timeout = 0
	} else {
		body.TimeoutFlag = TimeoutOpen
		body.Timeout = TimeoutSentinel
		wire, err := EncodeNotifyStrategy(f.NotifyStrategies)
		if err != nil {
			return TaskSubmission{}, err
		}
		body.TimeoutNotifyStrategy = &wire
	}

	return TaskSubmission{Body: body, UpstreamCodes: JoinCodes(f.UpstreamCodes)}, nil
}

// DecodeNotifyStrategy expands the wire strategy into a selection.
func DecodeNotifyStrategy(wire string) []NotifyStrategy {
	wire = strings.TrimSpace(wire)
	if wire == "" {
		return []NotifyStrategy{}
	}
	if wire == NotifyWarnFailed {
		return []NotifyStrategy{NotifyWarn, NotifyFailed}
	}
	parts := strings.Split(wire, ",")
	out := make([]NotifyStrategy, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, NotifyStrategy(p))
		}
	}
	return out
}

// EncodeNotifyStrategy collapses a selection into its wire form.
func EncodeNotifyStrategy(sel []NotifyStrategy) (string, error) {
	var warn, failed bool
	for _, s := range sel {
		switch s {
		case NotifyWarn:
			warn = true
		case NotifyFailed:
			failed = true
		default:
			return "", &ValidationError{Field: "timeoutNotifyStrategy", Msg: "unknown strategy " + strconv.Quote(string(s))}
		}
	}
	switch {
	case warn && failed:
		return NotifyWarnFailed, nil
	case warn:
		return string(NotifyWarn), nil
	case failed:
		return string(NotifyFailed), nil
	}
	return "", &ValidationError{Field: "timeoutNotifyStrategy", Msg: "select at least one timeout strategy"}
}

// UpstreamKeys returns the codes of an upstream map in ascending order.
func UpstreamKeys(m map[int64]string) []int64 {
	out := make([]int64, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func JoinCodes(codes []int64) string {
	parts := make([]string, len(codes))
	for i, c := range codes {
		parts[i] = strconv.FormatInt(c, 10)
	}
	return strings.Join(parts, ",")
}

// SplitCodes parses a comma-joined code list. Blank input yields nil.
func SplitCodes(s string) ([]int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]int64, 0, len(parts))
	for _, p := range parts {
		c, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64)
		if err != nil {
			return nil, &ValidationError{Field: "upstreamCodes", Msg: "invalid code " + strconv.Quote(p)}
		}
		out = append(out, c)
	}
	return out, nil
}
