package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schedform/internal/domain"
	"schedform/internal/form"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "form.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestReadFormFile(t *testing.T) {
	t.Parallel()

	ff, err := readFormFile(writeFile(t, `
dinkyTaskId: 7
catalogueId: 70
task:
  description: nightly
  flag: false
  taskPriority: low
  timeoutFlag: true
  timeoutNotifyStrategy: [WARN, FAILED]
  upstreamCodes: [101, 205]
schedule:
  startTime: "2024-01-01 00:00:00"
  endTime: "2024-12-31 00:00:00"
  crontab: "0 0 2 * * ? *"
  timezoneId: Asia/Shanghai
  processInstancePriority: HIGHEST
`))
	require.NoError(t, err)
	assert.Equal(t, 7, ff.DinkyTaskID)
	assert.Equal(t, 70, ff.CatalogueID)

	f := form.DefaultTaskForm()
	f.FailRetryTimes = 3
	require.NoError(t, ff.Task.apply(&f))
	assert.Equal(t, "nightly", f.Description)
	assert.False(t, f.RunFlag)
	assert.Equal(t, domain.PriorityLow, f.TaskPriority)
	assert.Equal(t, 3, f.FailRetryTimes, "absent keys keep loaded values")
	assert.True(t, f.TimeoutEnabled)
	assert.Equal(t, []domain.NotifyStrategy{domain.NotifyWarn, domain.NotifyFailed}, f.NotifyStrategies)
	assert.Equal(t, []int64{101, 205}, f.UpstreamCodes)

	sub, err := domain.EncodeTask(f)
	require.NoError(t, err)
	assert.Equal(t, domain.NotifyWarnFailed, *sub.Body.TimeoutNotifyStrategy)

	var w domain.ScheduleWindow
	w.WorkerGroup = "kept"
	require.NoError(t, ff.Schedule.apply(&w))
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), w.Start)
	assert.Equal(t, "0 0 2 * * ? *", w.Crontab)
	assert.Equal(t, domain.PriorityHighest, w.ProcessInstancePriority)
	assert.Equal(t, "kept", w.WorkerGroup)
	assert.NoError(t, w.Validate())
}

func TestReadFormFile_Rejects(t *testing.T) {
	t.Parallel()

	_, err := readFormFile(writeFile(t, "catalogueId: 1\n"))
	assert.ErrorContains(t, err, "dinkyTaskId is required")

	_, err = readFormFile(writeFile(t, "dinkyTaskId: 1\ntask:\n  colour: red\n"))
	assert.Error(t, err, "unknown keys are rejected")

	_, err = readFormFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestApply_BadValues(t *testing.T) {
	t.Parallel()

	prio := "URGENT"
	f := form.DefaultTaskForm()
	err := (&taskFields{TaskPriority: &prio}).apply(&f)
	var ve *domain.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "taskPriority", ve.Field)

	stamp := "01/02/2024"
	var w domain.ScheduleWindow
	err = (&windowFields{StartTime: &stamp}).apply(&w)
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "startTime", ve.Field)

	var nilTask *taskFields
	assert.NoError(t, nilTask.apply(&f))
	var nilWindow *windowFields
	assert.NoError(t, nilWindow.apply(&w))
}

func TestExitCode(t *testing.T) {
	t.Parallel()

	assert.Equal(t, exitOK, exitCode(nil))
	assert.Equal(t, exitValidation, exitCode(&domain.ValidationError{Field: "x", Msg: "y"}))
}
