package main

import (
	"bytes"
	"fmt"
	"os"
	"time"

	yaml "go.yaml.in/yaml/v3"

	"schedform/internal/domain"
)

// formFile is the YAML document `schedform apply` reads. Absent keys keep
// the value loaded from the scheduler.
type formFile struct {
	DinkyTaskID int           `yaml:"dinkyTaskId"`
	CatalogueID int           `yaml:"catalogueId"`
	Task        *taskFields   `yaml:"task"`
	Schedule    *windowFields `yaml:"schedule"`
}

type taskFields struct {
	Description           *string  `yaml:"description"`
	Flag                  *bool    `yaml:"flag"`
	TaskPriority          *string  `yaml:"taskPriority"`
	FailRetryTimes        *int     `yaml:"failRetryTimes"`
	FailRetryInterval     *int     `yaml:"failRetryInterval"`
	DelayTime             *int     `yaml:"delayTime"`
	TimeoutFlag           *bool    `yaml:"timeoutFlag"`
	TimeoutNotifyStrategy []string `yaml:"timeoutNotifyStrategy"`
	UpstreamCodes         []int64  `yaml:"upstreamCodes"`
}

type windowFields struct {
	StartTime               *string `yaml:"startTime"`
	EndTime                 *string `yaml:"endTime"`
	Crontab                 *string `yaml:"crontab"`
	TimezoneID              *string `yaml:"timezoneId"`
	FailureStrategy         *string `yaml:"failureStrategy"`
	ProcessInstancePriority *string `yaml:"processInstancePriority"`
	WarningType             *string `yaml:"warningType"`
	WarningGroupID          *int    `yaml:"warningGroupId"`
	WorkerGroup             *string `yaml:"workerGroup"`
	EnvironmentCode         *int64  `yaml:"environmentCode"`
}

func readFormFile(path string) (formFile, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return formFile{}, err
	}
	var f formFile
	if err := unmarshalStrict(b, &f); err != nil {
		return formFile{}, fmt.Errorf("%s: %w", path, err)
	}
	if f.DinkyTaskID <= 0 {
		return formFile{}, fmt.Errorf("%s: dinkyTaskId is required", path)
	}
	return f, nil
}

func unmarshalStrict(b []byte, v any) error {
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	return dec.Decode(v)
}

func (t *taskFields) apply(f *domain.TaskForm) error {
	if t == nil {
		return nil
	}
	if t.Description != nil {
		f.Description = *t.Description
	}
	if t.Flag != nil {
		f.RunFlag = *t.Flag
	}
	if t.TaskPriority != nil {
		p, err := domain.ParsePriority(*t.TaskPriority)
		if err != nil {
			return &domain.ValidationError{Field: "taskPriority", Msg: err.Error()}
		}
		f.TaskPriority = p
	}
	if t.FailRetryTimes != nil {
		f.FailRetryTimes = *t.FailRetryTimes
	}
	if t.FailRetryInterval != nil {
		f.FailRetryInterval = *t.FailRetryInterval
	}
	if t.DelayTime != nil {
		f.DelayTime = *t.DelayTime
	}
	if t.TimeoutFlag != nil {
		f.TimeoutEnabled = *t.TimeoutFlag
	}
	if t.TimeoutNotifyStrategy != nil {
		f.NotifyStrategies = make([]domain.NotifyStrategy, len(t.TimeoutNotifyStrategy))
		for i, s := range t.TimeoutNotifyStrategy {
			f.NotifyStrategies[i] = domain.NotifyStrategy(s)
		}
	}
	if t.UpstreamCodes != nil {
		f.UpstreamCodes = t.UpstreamCodes
	}
	return nil
}

func (s *windowFields) apply(w *domain.ScheduleWindow) error {
	if s == nil {
		return nil
	}
	if s.StartTime != nil {
		t, err := parseStamp("startTime", *s.StartTime)
		if err != nil {
			return err
		}
		w.Start = t
	}
	if s.EndTime != nil {
		t, err := parseStamp("endTime", *s.EndTime)
		if err != nil {
			return err
		}
		w.End = t
	}
	if s.Crontab != nil {
		w.Crontab = *s.Crontab
	}
	if s.TimezoneID != nil {
		w.TimezoneID = *s.TimezoneID
	}
	if s.FailureStrategy != nil {
		w.FailureStrategy = domain.FailureStrategy(*s.FailureStrategy)
	}
	if s.ProcessInstancePriority != nil {
		p, err := domain.ParsePriority(*s.ProcessInstancePriority)
		if err != nil {
			return &domain.ValidationError{Field: "processInstancePriority", Msg: err.Error()}
		}
		w.ProcessInstancePriority = p
	}
	if s.WarningType != nil {
		w.WarningType = domain.WarningType(*s.WarningType)
	}
	if s.WarningGroupID != nil {
		w.WarningGroupID = *s.WarningGroupID
	}
	if s.WorkerGroup != nil {
		w.WorkerGroup = *s.WorkerGroup
	}
	if s.EnvironmentCode != nil {
		w.EnvironmentCode = *s.EnvironmentCode
	}
	return nil
}

func parseStamp(field, v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(domain.TimestampLayout, v)
	if err != nil {
		return time.Time{}, &domain.ValidationError{Field: field, Msg: err.Error()}
	}
	return t, nil
}
