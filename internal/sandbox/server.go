// Package sandbox serves the scheduler REST contract from a local SQLite
// store so the client and the form can be exercised without a scheduler.
// It records what it is sent and answers with the same envelopes; it never
// schedules or runs anything.
package sandbox

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"schedform/internal/client"
	"schedform/internal/crontab"
	"schedform/internal/domain"
	"schedform/internal/store"
)

// CodeFailed is the envelope code of every rejection.
const CodeFailed = 1

type Server struct {
	r           *chi.Mux
	repo        store.Repository
	projectCode int64
	uiURL       string
	now         func() time.Time
}

type Option func(*Server)

func WithProjectCode(code int64) Option { return func(s *Server) { s.projectCode = code } }

// WithUIURL sets the base of the links returned with run instances.
func WithUIURL(u string) Option { return func(s *Server) { s.uiURL = u } }

func WithClock(now func() time.Time) Option { return func(s *Server) { s.now = now } }

func NewServer(repo store.Repository, opts ...Option) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)

	s := &Server{r: r, repo: repo, projectCode: 1, uiURL: "http://127.0.0.1:12345/dolphinscheduler", now: time.Now}
	for _, o := range opts {
		o(s)
	}

	r.Get("/health", s.health)
	r.Get("/api/scheduler", s.enabled)
	r.Get("/api/scheduler/task", s.getTask)
	r.Post("/api/scheduler/task", s.createTask)
	r.Put("/api/scheduler/task", s.updateTask)
	r.Get("/api/scheduler/upstream/tasks", s.upstreamTasks)
	r.Post("/api/scheduler/schedule/preview", s.previewSchedule)
	r.Get("/api/scheduler/process/simple-list", s.listProcesses)
	r.Post("/api/scheduler/{catalogueId}/release", s.release)
	r.Get("/api/scheduler/{catalogueId}/schedule", s.getSchedule)
	r.Post("/api/scheduler/{catalogueId}/schedule", s.upsertSchedule)
	r.Post("/api/scheduler/{catalogueId}/start-process", s.startProcess)
	r.Get("/api/scheduler/{catalogueId}/instance", s.listInstances)

	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) enabled(w http.ResponseWriter, r *http.Request) {
	succeed(w, true)
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	dinkyID, ok := intParam(w, r, "dinkyTaskId")
	if !ok {
		return
	}
	if _, _, err := s.repo.GetNode(r.Context(), dinkyID); err != nil {
		s.fail(w, err, "node not found")
		return
	}
	def, err := s.repo.GetTaskByDinkyID(r.Context(), dinkyID)
	if errors.Is(err, store.ErrNotFound) {
		succeed(w, nil)
		return
	}
	if err != nil {
		s.fail(w, err, "")
		return
	}
	if p, _, err := s.repo.GetProcessByCode(r.Context(), def.ProcessDefinitionCode); err == nil {
		def.ProcessDefinitionName = p.Name
	}
	succeed(w, def)
}

func (s *Server) createTask(w http.ResponseWriter, r *http.Request) {
	dinkyID, ok := intParam(w, r, "dinkyTaskId")
	if !ok {
		return
	}
	var req domain.TaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		failed(w, "invalid body: "+err.Error())
		return
	}

	ctx := r.Context()
	catalogueID, name, err := s.repo.GetNode(ctx, dinkyID)
	if err != nil {
		s.fail(w, err, "node not found")
		return
	}
	process, err := s.repo.EnsureProcess(ctx, catalogueID, processName(catalogueID))
	if err != nil {
		s.fail(w, err, "")
		return
	}
	if process.ReleaseState == domain.ReleaseOnline {
		failed(w, fmt.Sprintf("workflow [%s] is online", process.Name))
		return
	}
	if _, err := s.repo.GetTaskByDinkyID(ctx, dinkyID); err == nil {
		failed(w, fmt.Sprintf("workflow [%s] already has task [%s], refresh and edit it", process.Name, name))
		return
	}
	upstream, err := s.upstreamMap(r, process.Code, dinkyID)
	if err != nil {
		failed(w, err.Error())
		return
	}

	def := domain.TaskDefinition{
		ProjectCode:           s.projectCode,
		ProcessDefinitionCode: process.Code,
		Name:                  fmt.Sprintf("%s:%d", name, dinkyID),
		TaskType:              "DINKY",
		UpstreamTaskMap:       upstream,
	}
	applyRequest(&def, req)
	code, err := s.repo.CreateTask(ctx, dinkyID, def)
	if err != nil {
		s.fail(w, err, "")
		return
	}
	log.Info().Int("dinky_task_id", dinkyID).Int64("task_code", code).Msg("sandbox task created")
	succeed(w, "task definition created")
}

func (s *Server) updateTask(w http.ResponseWriter, r *http.Request) {
	processCode, ok := int64Param(w, r, "processCode")
	if !ok {
		return
	}
	projectCode, ok := int64Param(w, r, "projectCode")
	if !ok {
		return
	}
	taskCode, ok := int64Param(w, r, "taskCode")
	if !ok {
		return
	}
	var req domain.TaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		failed(w, "invalid body: "+err.Error())
		return
	}

	ctx := r.Context()
	if projectCode != s.projectCode {
		failed(w, fmt.Sprintf("project %d does not exist", projectCode))
		return
	}
	st, err := s.repo.GetTaskByCode(ctx, taskCode)
	if err != nil {
		s.fail(w, err, "task does not exist")
		return
	}
	process, _, err := s.repo.GetProcessByCode(ctx, processCode)
	if err != nil || st.Def.ProcessDefinitionCode != processCode {
		s.fail(w, store.ErrNotFound, "workflow does not exist")
		return
	}
	if process.ReleaseState == domain.ReleaseOnline {
		failed(w, fmt.Sprintf("workflow [%s] is online", process.Name))
		return
	}
	upstream, err := s.upstreamMap(r, process.Code, st.DinkyTaskID)
	if err != nil {
		failed(w, err.Error())
		return
	}

	def := st.Def
	applyRequest(&def, req)
	def.UpstreamTaskMap = upstream
	if err := s.repo.UpdateTask(ctx, def); err != nil {
		s.fail(w, err, "")
		return
	}
	succeed(w, "task definition updated")
}

func (s *Server) upstreamTasks(w http.ResponseWriter, r *http.Request) {
	dinkyID, ok := intParam(w, r, "dinkyTaskId")
	if !ok {
		return
	}
	ctx := r.Context()
	catalogueID, _, err := s.repo.GetNode(ctx, dinkyID)
	if err != nil {
		s.fail(w, err, "node not found")
		return
	}
	out := []domain.TaskMainInfo{}
	process, err := s.repo.GetProcess(ctx, catalogueID)
	if errors.Is(err, store.ErrNotFound) {
		succeed(w, out)
		return
	}
	if err != nil {
		s.fail(w, err, "")
		return
	}
	tasks, err := s.repo.ListProcessTasks(ctx, process.Code)
	if err != nil {
		s.fail(w, err, "")
		return
	}
	for _, t := range tasks {
		if t.DinkyTaskID == dinkyID {
			continue
		}
		out = append(out, domain.TaskMainInfo{
			TaskCode:              t.Def.Code,
			TaskName:              t.Def.Name,
			TaskType:              t.Def.TaskType,
			ProcessDefinitionCode: process.Code,
			ProcessDefinitionName: process.Name,
			ProcessReleaseState:   process.ReleaseState,
			UpstreamTaskMap:       t.Def.UpstreamTaskMap,
		})
	}
	succeed(w, out)
}

func (s *Server) release(w http.ResponseWriter, r *http.Request) {
	catalogueID, ok := s.catalogue(w, r)
	if !ok {
		return
	}
	state, err := domain.ParseReleaseState(r.URL.Query().Get("releaseState"))
	if err != nil {
		failed(w, err.Error())
		return
	}
	if err := s.repo.SetReleaseState(r.Context(), catalogueID, state); err != nil {
		s.fail(w, err, "create the workflow first")
		return
	}
	succeed(w, "release state set to "+string(state))
}

func (s *Server) getSchedule(w http.ResponseWriter, r *http.Request) {
	catalogueID, ok := s.catalogue(w, r)
	if !ok {
		return
	}
	process, err := s.repo.GetProcess(r.Context(), catalogueID)
	if err != nil {
		s.fail(w, err, "create the workflow first")
		return
	}
	sched, err := s.repo.GetSchedule(r.Context(), catalogueID)
	if errors.Is(err, store.ErrNotFound) {
		succeed(w, nil)
		return
	}
	if err != nil {
		s.fail(w, err, "")
		return
	}
	sched.ProcessDefinitionCode = process.Code
	sched.ProcessDefinitionName = process.Name
	sched.ReleaseState = process.ReleaseState
	succeed(w, sched)
}

func (s *Server) upsertSchedule(w http.ResponseWriter, r *http.Request) {
	catalogueID, ok := s.catalogue(w, r)
	if !ok {
		return
	}
	var window domain.ScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&window); err != nil {
		failed(w, "invalid body: "+err.Error())
		return
	}
	ctx := r.Context()
	if _, err := s.repo.GetProcess(ctx, catalogueID); err != nil {
		s.fail(w, err, "create the workflow first")
		return
	}

	q := r.URL.Query()
	sched := domain.Schedule{
		ScheduleRequest:         window,
		WarningType:             domain.WarningType(orDefault(q.Get("warningType"), string(domain.WarningNone))),
		FailureStrategy:         domain.FailureStrategy(orDefault(q.Get("failureStrategy"), string(domain.FailureContinue))),
		WorkerGroup:             orDefault(q.Get("workerGroup"), "default"),
		ProcessInstancePriority: domain.PriorityMedium,
		WarningGroupID:          1,
		EnvironmentCode:         -1,
	}
	if v := q.Get("processInstancePriority"); v != "" {
		p, err := domain.ParsePriority(v)
		if err != nil {
			failed(w, err.Error())
			return
		}
		sched.ProcessInstancePriority = p
	}
	if v := q.Get("warningGroupId"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			failed(w, "invalid warningGroupId")
			return
		}
		sched.WarningGroupID = n
	}
	if v := q.Get("environmentCode"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			failed(w, "invalid environmentCode")
			return
		}
		sched.EnvironmentCode = n
	}
	w2, err := domain.DecodeSchedule(sched)
	if err == nil {
		err = w2.Validate()
	}
	if err != nil {
		failed(w, err.Error())
		return
	}

	existing, err := s.repo.GetSchedule(ctx, catalogueID)
	switch v := q.Get("scheduleId"); {
	case v != "" && errors.Is(err, store.ErrNotFound):
		failed(w, "schedule "+v+" does not exist")
		return
	case v != "" && err == nil && strconv.Itoa(existing.ID) != v:
		failed(w, "schedule "+v+" does not belong to this workflow")
		return
	case v == "" && err == nil:
		failed(w, "workflow already has a schedule, pass scheduleId to update it")
		return
	case err != nil && !errors.Is(err, store.ErrNotFound):
		s.fail(w, err, "")
		return
	}

	if _, err := s.repo.PutSchedule(ctx, catalogueID, sched); err != nil {
		s.fail(w, err, "")
		return
	}
	if q.Get("scheduleId") == "" {
		succeed(w, "schedule created")
		return
	}
	succeed(w, "schedule updated")
}

func (s *Server) startProcess(w http.ResponseWriter, r *http.Request) {
	catalogueID, ok := s.catalogue(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	for _, k := range []string{"scheduleTime", "failureStrategy", "warningType"} {
		if q.Get(k) == "" {
			failed(w, k+" is required")
			return
		}
	}
	ctx := r.Context()
	process, err := s.repo.GetProcess(ctx, catalogueID)
	if err != nil {
		s.fail(w, err, "create the workflow first")
		return
	}
	if process.ReleaseState != domain.ReleaseOnline {
		failed(w, fmt.Sprintf("workflow [%s] is not online", process.Name))
		return
	}
	prio := domain.PriorityMedium
	if v := q.Get("processInstancePriority"); v != "" {
		if prio, err = domain.ParsePriority(v); err != nil {
			failed(w, err.Error())
			return
		}
	}
	now := s.now()
	inst := domain.ProcessInstance{
		ProcessDefinitionCode:   process.Code,
		Name:                    fmt.Sprintf("%s-%s", process.Name, now.Format("20060102150405")),
		State:                   "SUBMITTED_SUCCESS",
		StartTime:               now.Format(domain.TimestampLayout),
		RunTimes:                1,
		CommandType:             "START_PROCESS",
		ProcessInstancePriority: prio,
	}
	id, err := s.repo.AddInstance(ctx, catalogueID, inst)
	if err != nil {
		s.fail(w, err, "")
		return
	}
	log.Info().Int("catalogue_id", catalogueID).Int("instance_id", id).Msg("sandbox process started")
	succeed(w, "process started")
}

func (s *Server) listInstances(w http.ResponseWriter, r *http.Request) {
	catalogueID, ok := s.catalogue(w, r)
	if !ok {
		return
	}
	pageNo, ok := intParam(w, r, "pageNo")
	if !ok {
		return
	}
	pageSize, ok := intParam(w, r, "pageSize")
	if !ok {
		return
	}
	if pageNo < 1 || pageSize < 1 {
		failed(w, "pageNo and pageSize must be positive")
		return
	}
	ctx := r.Context()
	process, err := s.repo.GetProcess(ctx, catalogueID)
	if err != nil {
		s.fail(w, err, "create the workflow first")
		return
	}
	list, err := s.repo.ListInstances(ctx, catalogueID, (pageNo-1)*pageSize, pageSize)
	if err != nil {
		s.fail(w, err, "")
		return
	}
	out := make([]domain.ProcessInstance, 0, len(list))
	base := fmt.Sprintf("%s/ui/projects/%d/workflow/instances/", s.uiURL, s.projectCode)
	for _, inst := range list {
		inst.SchedulerURL = fmt.Sprintf("%s%d?code=%d", base, inst.ID, process.Code)
		out = append(out, inst)
	}
	succeed(w, out)
}

func (s *Server) previewSchedule(w http.ResponseWriter, r *http.Request) {
	expr := r.URL.Query().Get("schedule")
	times, err := crontab.Preview(expr, "", s.now(), time.Time{}, crontab.PreviewCount)
	if errors.Is(err, crontab.ErrNotPreviewable) {
		failed(w, err.Error())
		return
	}
	if err != nil {
		failed(w, "invalid cron expression: "+err.Error())
		return
	}
	out := make([]string, len(times))
	for i, t := range times {
		out[i] = t.Format(domain.TimestampLayout)
	}
	succeed(w, out)
}

func (s *Server) listProcesses(w http.ResponseWriter, r *http.Request) {
	list, err := s.repo.ListProcesses(r.Context())
	if err != nil {
		s.fail(w, err, "")
		return
	}
	if list == nil {
		list = []domain.ProcessSummary{}
	}
	succeed(w, list)
}

// upstreamMap resolves the upstreamCodes query against the tasks of the
// same workflow.
func (s *Server) upstreamMap(r *http.Request, processCode int64, self int) (map[int64]string, error) {
	codes, err := domain.SplitCodes(r.URL.Query().Get("upstreamCodes"))
	if err != nil {
		return nil, err
	}
	if len(codes) == 0 {
		return nil, nil
	}
	tasks, err := s.repo.ListProcessTasks(r.Context(), processCode)
	if err != nil {
		return nil, err
	}
	names := make(map[int64]string, len(tasks))
	for _, t := range tasks {
		if t.DinkyTaskID != self {
			names[t.Def.Code] = t.Def.Name
		}
	}
	out := make(map[int64]string, len(codes))
	for _, c := range codes {
		name, ok := names[c]
		if !ok {
			return nil, fmt.Errorf("upstream task %d is not in this workflow", c)
		}
		out[c] = name
	}
	return out, nil
}

func (s *Server) catalogue(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "catalogueId"))
	if err != nil {
		failed(w, "invalid catalogue id")
		return 0, false
	}
	return id, true
}

// fail reports err, using notFoundMsg for missing records.
func (s *Server) fail(w http.ResponseWriter, err error, notFoundMsg string) {
	if errors.Is(err, store.ErrNotFound) && notFoundMsg != "" {
		failed(w, notFoundMsg)
		return
	}
	log.Error().Err(err).Msg("sandbox store error")
	failed(w, err.Error())
}

func applyRequest(def *domain.TaskDefinition, req domain.TaskRequest) {
	def.Description = req.Description
	def.Flag = req.Flag
	def.TaskPriority = req.TaskPriority
	def.FailRetryTimes = req.FailRetryTimes
	def.FailRetryInterval = req.FailRetryInterval
	def.DelayTime = req.DelayTime
	def.TimeoutFlag = req.TimeoutFlag
	def.Timeout = req.Timeout
	def.TimeoutNotifyStrategy = ""
	if req.TimeoutNotifyStrategy != nil {
		def.TimeoutNotifyStrategy = *req.TimeoutNotifyStrategy
	}
}

func processName(catalogueID int) string { return "catalogue:" + strconv.Itoa(catalogueID) }

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func intParam(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	n, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil {
		failed(w, name+" is required")
		return 0, false
	}
	return n, true
}

func int64Param(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	n, err := strconv.ParseInt(r.URL.Query().Get(name), 10, 64)
	if err != nil {
		failed(w, name+" is required")
		return 0, false
	}
	return n, true
}

func succeed(w http.ResponseWriter, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		failed(w, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, client.Envelope{Code: client.CodeSuccess, Datas: raw, Time: time.Now().Format(domain.TimestampLayout)})
}

func failed(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusOK, client.Envelope{Code: CodeFailed, Msg: msg, Time: time.Now().Format(domain.TimestampLayout)})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
