package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"

	"schedform/internal/domain"
)

const apiRoot = "/api/scheduler"

// TaskRef addresses a task inside a workflow inside a project.
type TaskRef struct {
	ProcessCode int64
	ProjectCode int64
	TaskCode    int64
}

// StartRequest holds the start-process parameters. ScheduleTime,
// FailureStrategy and WarningType are required by the server.
type StartRequest struct {
	ScheduleTime            string
	FailureStrategy         domain.FailureStrategy
	WarningType             domain.WarningType
	WarningGroupID          int
	ProcessInstancePriority *domain.Priority
	WorkerGroup             string
	EnvironmentCode         int64
	Timeout                 int
	StartNodeList           string
	DryRun                  bool
}

// InstanceQuery pages and filters the run-instance listing.
type InstanceQuery struct {
	PageNo    int
	PageSize  int
	SearchVal string
	StateType string
	StartDate string
	EndDate   string
}

func catalogue(id int) string { return apiRoot + "/" + strconv.Itoa(id) }

// Enabled reports whether the backend has scheduling configured.
func (c *Client) Enabled(ctx context.Context) (bool, error) {
	var ok bool
	err := c.call(ctx, "enabled", http.MethodGet, apiRoot, nil, nil, &ok)
	return ok, err
}

// GetTaskDefinition returns nil without error when the task has no
// scheduler record yet.
func (c *Client) GetTaskDefinition(ctx context.Context, dinkyTaskID int) (*domain.TaskDefinition, error) {
	q := url.Values{"dinkyTaskId": {strconv.Itoa(dinkyTaskID)}}
	var def *domain.TaskDefinition
	if err := c.call(ctx, "get task definition", http.MethodGet, apiRoot+"/task", q, nil, &def); err != nil {
		return nil, err
	}
	return def, nil
}

func (c *Client) ListUpstreamTasks(ctx context.Context, dinkyTaskID int) ([]domain.TaskMainInfo, error) {
	q := url.Values{"dinkyTaskId": {strconv.Itoa(dinkyTaskID)}}
	var out []domain.TaskMainInfo
	if err := c.call(ctx, "list upstream tasks", http.MethodGet, apiRoot+"/upstream/tasks", q, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) CreateTask(ctx context.Context, dinkyTaskID int, upstreamCodes string, body domain.TaskRequest) (string, error) {
	q := url.Values{"dinkyTaskId": {strconv.Itoa(dinkyTaskID)}}
	if upstreamCodes != "" {
		q.Set("upstreamCodes", upstreamCodes)
	}
	return c.callMsg(ctx, "create task", http.MethodPost, apiRoot+"/task", q, body)
}

func (c *Client) UpdateTask(ctx context.Context, ref TaskRef, upstreamCodes string, body domain.TaskRequest) (string, error) {
	q := url.Values{
		"processCode": {strconv.FormatInt(ref.ProcessCode, 10)},
		"projectCode": {strconv.FormatInt(ref.ProjectCode, 10)},
		"taskCode":    {strconv.FormatInt(ref.TaskCode, 10)},
	}
	if upstreamCodes != "" {
		q.Set("upstreamCodes", upstreamCodes)
	}
	return c.callMsg(ctx, "update task", http.MethodPut, apiRoot+"/task", q, body)
}

// ReleaseWorkflow switches the catalogue's workflow online or offline.
func (c *Client) ReleaseWorkflow(ctx context.Context, catalogueID int, state domain.ReleaseState) (string, error) {
	q := url.Values{"releaseState": {string(state)}}
	return c.callMsg(ctx, "release workflow", http.MethodPost, catalogue(catalogueID)+"/release", q, nil)
}

func (c *Client) GetSchedule(ctx context.Context, catalogueID int) (*domain.Schedule, error) {
	var s *domain.Schedule
	if err := c.call(ctx, "get schedule", http.MethodGet, catalogue(catalogueID)+"/schedule", nil, nil, &s); err != nil {
		return nil, err
	}
	return s, nil
}

// UpsertSchedule creates the schedule when s.ID is zero, else updates it.
// Policy fields travel as query parameters, the time window as the body.
func (c *Client) UpsertSchedule(ctx context.Context, catalogueID int, s domain.Schedule) (string, error) {
	if !s.ProcessInstancePriority.Valid() {
		return "", priorityError(s.ProcessInstancePriority)
	}
	q := url.Values{}
	if s.ID != 0 {
		q.Set("scheduleId", strconv.Itoa(s.ID))
	}
	if s.WarningType != "" {
		q.Set("warningType", string(s.WarningType))
	}
	q.Set("warningGroupId", strconv.Itoa(s.WarningGroupID))
	if s.FailureStrategy != "" {
		q.Set("failureStrategy", string(s.FailureStrategy))
	}
	if s.WorkerGroup != "" {
		q.Set("workerGroup", s.WorkerGroup)
	}
	if s.EnvironmentCode != 0 {
		q.Set("environmentCode", strconv.FormatInt(s.EnvironmentCode, 10))
	}
	q.Set("processInstancePriority", s.ProcessInstancePriority.String())
	return c.callMsg(ctx, "upsert schedule", http.MethodPost, catalogue(catalogueID)+"/schedule", q, s.ScheduleRequest)
}

func priorityError(p domain.Priority) error {
	return &domain.ValidationError{Field: "processInstancePriority", Msg: "unknown priority " + p.String()}
}

// StartProcess triggers one run of the catalogue's workflow.
func (c *Client) StartProcess(ctx context.Context, catalogueID int, r StartRequest) (string, error) {
	q := url.Values{
		"scheduleTime":    {r.ScheduleTime},
		"failureStrategy": {string(r.FailureStrategy)},
		"warningType":     {string(r.WarningType)},
		"warningGroupId":  {strconv.Itoa(r.WarningGroupID)},
	}
	if p := r.ProcessInstancePriority; p != nil {
		if !p.Valid() {
			return "", priorityError(*p)
		}
		q.Set("processInstancePriority", p.String())
	}
	if r.WorkerGroup != "" {
		q.Set("workerGroup", r.WorkerGroup)
	}
	if r.EnvironmentCode != 0 {
		q.Set("environmentCode", strconv.FormatInt(r.EnvironmentCode, 10))
	}
	if r.Timeout > 0 {
		q.Set("timeout", strconv.Itoa(r.Timeout))
	}
	if r.StartNodeList != "" {
		q.Set("startNodeList", r.StartNodeList)
	}
	if r.DryRun {
		q.Set("dryRun", "1")
	}
	return c.callMsg(ctx, "start process", http.MethodPost, catalogue(catalogueID)+"/start-process", q, nil)
}

// ListInstances returns the catalogue's runs, newest first.
func (c *Client) ListInstances(ctx context.Context, catalogueID int, iq InstanceQuery) ([]domain.ProcessInstance, error) {
	if iq.PageNo <= 0 {
		iq.PageNo = 1
	}
	if iq.PageSize <= 0 {
		iq.PageSize = 10
	}
	q := url.Values{
		"pageNo":   {strconv.Itoa(iq.PageNo)},
		"pageSize": {strconv.Itoa(iq.PageSize)},
	}
	for k, v := range map[string]string{"searchVal": iq.SearchVal, "stateType": iq.StateType, "startDate": iq.StartDate, "endDate": iq.EndDate} {
		if v != "" {
			q.Set(k, v)
		}
	}
	var out []domain.ProcessInstance
	if err := c.call(ctx, "list instances", http.MethodGet, catalogue(catalogueID)+"/instance", q, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// PreviewSchedule asks the server for the next fire times of expr.
func (c *Client) PreviewSchedule(ctx context.Context, expr string) ([]string, error) {
	q := url.Values{"schedule": {expr}}
	var out []string
	if err := c.call(ctx, "preview schedule", http.MethodPost, apiRoot+"/schedule/preview", q, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ListProcesses(ctx context.Context) ([]domain.ProcessSummary, error) {
	var out []domain.ProcessSummary
	if err := c.call(ctx, "list processes", http.MethodGet, apiRoot+"/process/simple-list", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// callMsg is call for operations whose payload is a status sentence.
func (c *Client) callMsg(ctx context.Context, op, method, path string, q url.Values, body any) (string, error) {
	var raw json.RawMessage
	if err := c.call(ctx, op, method, path, q, body, &raw); err != nil {
		return "", err
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s, nil
	}
	return string(raw), nil
}
