package store

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schedform/internal/domain"
)

func newRepo(t *testing.T) Repository {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "store.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewSQLiteRepo(db)
}

func TestOpen_Reopen(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "store.db")
	db, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, NewSQLiteRepo(db).RegisterNode(context.Background(), 1, 2, "n"))
	require.NoError(t, db.Close())

	db, err = Open(path)
	require.NoError(t, err)
	defer db.Close()
	cat, name, err := NewSQLiteRepo(db).GetNode(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 2, cat)
	assert.Equal(t, "n", name)
}

func TestSubmissions(t *testing.T) {
	t.Parallel()

	repo := newRepo(t)
	ctx := context.Background()
	base := time.UnixMilli(1_700_000_000_000)

	for i, kind := range []domain.SubmissionKind{domain.SubmitCreate, domain.SubmitSchedule, domain.SubmitUpdate} {
		id, err := repo.RecordSubmission(ctx, domain.Submission{
			DinkyTaskID: 10,
			CatalogueID: 100,
			Kind:        kind,
			Outcome:     "ok",
			CreatedAt:   base.Add(time.Duration(i) * time.Second),
		})
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(id, "sub_"))
	}
	_, err := repo.RecordSubmission(ctx, domain.Submission{Kind: "delete", Outcome: "ok"})
	assert.Error(t, err, "kind is constrained")

	list, err := repo.ListSubmissions(ctx, 2)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, domain.SubmitUpdate, list[0].Kind)
	assert.Equal(t, domain.SubmitSchedule, list[1].Kind)
	assert.True(t, list[0].CreatedAt.Equal(base.Add(2*time.Second)))
}

func TestNodes(t *testing.T) {
	t.Parallel()

	repo := newRepo(t)
	ctx := context.Background()

	_, _, err := repo.GetNode(ctx, 1)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, repo.RegisterNode(ctx, 1, 100, "a"))
	require.NoError(t, repo.RegisterNode(ctx, 1, 200, "b"))
	cat, name, err := repo.GetNode(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 200, cat)
	assert.Equal(t, "b", name)
}

func TestProcesses(t *testing.T) {
	t.Parallel()

	repo := newRepo(t)
	ctx := context.Background()

	_, err := repo.GetProcess(ctx, 100)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, repo.SetReleaseState(ctx, 100, domain.ReleaseOnline), ErrNotFound)

	p, err := repo.EnsureProcess(ctx, 100, "etl")
	require.NoError(t, err)
	assert.Equal(t, domain.ReleaseOffline, p.ReleaseState)

	again, err := repo.EnsureProcess(ctx, 100, "renamed")
	require.NoError(t, err)
	assert.Equal(t, p, again, "ensure keeps the existing row")

	require.NoError(t, repo.SetReleaseState(ctx, 100, domain.ReleaseOnline))
	byCode, cat, err := repo.GetProcessByCode(ctx, p.Code)
	require.NoError(t, err)
	assert.Equal(t, 100, cat)
	assert.Equal(t, domain.ReleaseOnline, byCode.ReleaseState)

	_, err = repo.EnsureProcess(ctx, 200, "other")
	require.NoError(t, err)
	list, err := repo.ListProcesses(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "etl", list[0].Name)
}

func TestTasks(t *testing.T) {
	t.Parallel()

	repo := newRepo(t)
	ctx := context.Background()
	p, err := repo.EnsureProcess(ctx, 100, "etl")
	require.NoError(t, err)

	def := domain.TaskDefinition{
		ProjectCode:           1,
		ProcessDefinitionCode: p.Code,
		Name:                  "orders",
		Flag:                  domain.FlagYes,
		TaskPriority:          domain.PriorityLow,
		TimeoutFlag:           domain.TimeoutClose,
	}
	code, err := repo.CreateTask(ctx, 10, def)
	require.NoError(t, err)
	assert.NotZero(t, code)

	_, err = repo.CreateTask(ctx, 10, def)
	assert.Error(t, err, "one task per editor task")

	got, err := repo.GetTaskByDinkyID(ctx, 10)
	require.NoError(t, err)
	def.Code = code
	if diff := cmp.Diff(def, got); diff != "" {
		t.Fatalf("task mismatch (-want +got):\n%s", diff)
	}

	got.Description = "changed"
	got.UpstreamTaskMap = map[int64]string{99: "x"}
	require.NoError(t, repo.UpdateTask(ctx, got))
	st, err := repo.GetTaskByCode(ctx, code)
	require.NoError(t, err)
	assert.Equal(t, 10, st.DinkyTaskID)
	assert.Equal(t, "changed", st.Def.Description)
	assert.Equal(t, map[int64]string{99: "x"}, st.Def.UpstreamTaskMap)

	missing := got
	missing.Code = code + 100
	assert.ErrorIs(t, repo.UpdateTask(ctx, missing), ErrNotFound)
	_, err = repo.GetTaskByDinkyID(ctx, 11)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = repo.GetTaskByCode(ctx, code+100)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = repo.CreateTask(ctx, 11, domain.TaskDefinition{ProcessDefinitionCode: p.Code, Name: "items"})
	require.NoError(t, err)
	tasks, err := repo.ListProcessTasks(ctx, p.Code)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, 10, tasks[0].DinkyTaskID)
	assert.Equal(t, 11, tasks[1].DinkyTaskID)
}

func TestSchedules(t *testing.T) {
	t.Parallel()

	repo := newRepo(t)
	ctx := context.Background()

	_, err := repo.GetSchedule(ctx, 100)
	assert.ErrorIs(t, err, ErrNotFound)

	s := domain.Schedule{
		ScheduleRequest: domain.ScheduleRequest{Crontab: "0 0 * * *", TimezoneID: "UTC"},
		WarningType:     domain.WarningNone,
	}
	id, err := repo.PutSchedule(ctx, 100, s)
	require.NoError(t, err)
	assert.NotZero(t, id)

	s.ScheduleRequest.Crontab = "0 1 * * *"
	id2, err := repo.PutSchedule(ctx, 100, s)
	require.NoError(t, err)
	assert.Equal(t, id, id2, "replace keeps the id")

	got, err := repo.GetSchedule(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, id, got.ID)
	assert.Equal(t, "0 1 * * *", got.ScheduleRequest.Crontab)
}

func TestInstances(t *testing.T) {
	t.Parallel()

	repo := newRepo(t)
	ctx := context.Background()

	for _, name := range []string{"r1", "r2", "r3"} {
		_, err := repo.AddInstance(ctx, 100, domain.ProcessInstance{Name: name, State: "SUBMITTED_SUCCESS"})
		require.NoError(t, err)
	}
	_, err := repo.AddInstance(ctx, 200, domain.ProcessInstance{Name: "other"})
	require.NoError(t, err)

	list, err := repo.ListInstances(ctx, 100, 0, 10)
	require.NoError(t, err)
	names := make([]string, len(list))
	for i, inst := range list {
		names[i] = inst.Name
		assert.NotZero(t, inst.ID)
	}
	assert.Equal(t, []string{"r3", "r2", "r1"}, names)

	page, err := repo.ListInstances(ctx, 100, 2, 2)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "r1", page[0].Name)
}
