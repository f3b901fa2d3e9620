package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"schedform/internal/client"
	"schedform/internal/config"
	"schedform/internal/crontab"
	"schedform/internal/domain"
	"schedform/internal/form"
	"schedform/internal/sandbox"
	"schedform/internal/store"
)

const usage = `usage: schedform [-config file] [-url URL] [-log-level level] <command> [flags]

commands:
  enabled      check whether the backend has scheduling configured
  show         print a task definition and its form projection
  upstream     list upstream task candidates
  apply        load, edit and submit a task form from a YAML file
  schedule     print or save a workflow schedule window
  release      put a workflow online or offline
  start        trigger a workflow run
  instances    list workflow runs
  preview      list the next fire times of a cron expression
  processes    list workflows
  journal      list recorded submissions
  sandbox      serve the scheduler REST contract from the local store
`

// exit codes by failure kind
const (
	exitOK         = 0
	exitOther      = 1
	exitValidation = 2
	exitRemote     = 3
	exitTransport  = 4
)

type app struct {
	cfg    config.Config
	client *client.Client
}

func main() {
	var (
		cfgPath  = flag.String("config", "", "YAML config file")
		baseURL  = flag.String("url", "", "scheduler API base URL (overrides config)")
		logLevel = flag.String("log-level", "", "log level (overrides config)")
		dbPath   = flag.String("db", "", "SQLite DB path (overrides config)")
	)
	flag.Usage = func() { fmt.Fprint(flag.CommandLine.Output(), usage) }
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(exitOther)
	}
	if *baseURL != "" {
		cfg.Server.URL = *baseURL
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if *dbPath != "" {
		cfg.Store.Path = *dbPath
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(exitOther)
	}

	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.SetGlobalLevel(cfg.Level())
	if cfg.Log.Console {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	} else {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(exitOther)
	}

	opts := []client.Option{client.WithTimeout(cfg.Timeout())}
	for k, v := range cfg.Server.Headers {
		opts = append(opts, client.WithHeader(k, v))
	}
	c, err := client.New(cfg.Server.URL, opts...)
	if err != nil {
		log.Fatal().Err(err).Msg("client")
	}
	a := &app{cfg: cfg, client: c}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cmds := map[string]func(context.Context, []string) error{
		"enabled":   a.enabled,
		"show":      a.show,
		"upstream":  a.upstream,
		"apply":     a.apply,
		"schedule":  a.schedule,
		"release":   a.release,
		"start":     a.start,
		"instances": a.instances,
		"preview":   a.preview,
		"processes": a.processes,
		"journal":   a.journal,
		"sandbox":   a.sandbox,
	}
	run, ok := cmds[args[0]]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", args[0])
		flag.Usage()
		os.Exit(exitOther)
	}
	err = run(ctx, args[1:])
	cancel()
	os.Exit(exitCode(err))
}

func exitCode(err error) int {
	if err == nil || errors.Is(err, flag.ErrHelp) {
		return exitOK
	}
	log.Error().Str("kind", form.Classify(err).String()).Msg(client.Message(err))
	switch form.Classify(err) {
	case form.KindValidation:
		return exitValidation
	case form.KindRemote:
		return exitRemote
	case form.KindTransport:
		return exitTransport
	}
	return exitOther
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (a *app) openStore() (*sql.DB, store.Repository, error) {
	db, err := store.Open(a.cfg.Store.Path)
	if err != nil {
		return nil, nil, err
	}
	return db, store.NewSQLiteRepo(db), nil
}

func (a *app) enabled(ctx context.Context, args []string) error {
	ok, err := a.client.Enabled(ctx)
	if err != nil {
		return err
	}
	return printJSON(map[string]bool{"enabled": ok})
}

func (a *app) show(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("show", flag.ContinueOnError)
	task := fs.Int("task", 0, "editor task id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	def, err := a.client.GetTaskDefinition(ctx, *task)
	if err != nil {
		return err
	}
	if def == nil {
		return printJSON(map[string]any{"record": nil, "form": form.DefaultTaskForm()})
	}
	return printJSON(map[string]any{"record": def, "form": domain.DecodeTask(*def)})
}

func (a *app) upstream(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("upstream", flag.ContinueOnError)
	task := fs.Int("task", 0, "editor task id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	list, err := a.client.ListUpstreamTasks(ctx, *task)
	if err != nil {
		return err
	}
	return printJSON(list)
}

// logPresenter shows form messages on the log.
type logPresenter struct{ closed bool }

func (p *logPresenter) Error(msg string) { log.Warn().Msg(msg) }
func (p *logPresenter) Close()           { p.closed = true }

func (a *app) apply(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("apply", flag.ContinueOnError)
	file := fs.String("f", "", "form YAML file")
	dryRun := fs.Bool("dry-run", false, "print the encoded request instead of sending it")
	if err := fs.Parse(args); err != nil {
		return err
	}
	ff, err := readFormFile(*file)
	if err != nil {
		return err
	}

	record, err := a.client.GetTaskDefinition(ctx, ff.DinkyTaskID)
	if err != nil {
		return err
	}
	view := &logPresenter{}
	s := form.New(a.client, view)
	target := form.Target{DinkyTaskID: ff.DinkyTaskID, CatalogueID: ff.CatalogueID}
	if err := s.Load(ctx, target, record); err != nil {
		log.Warn().Err(err).Msg("continuing without schedule window")
	}
	if err := ff.Task.apply(&s.Task); err != nil {
		return err
	}
	if err := ff.Schedule.apply(&s.Window); err != nil {
		return err
	}

	if *dryRun {
		sub, err := domain.EncodeTask(s.Task)
		if err != nil {
			return err
		}
		return printJSON(map[string]any{"create": record == nil, "ref": s.TaskRef(), "upstreamCodes": sub.UpstreamCodes, "body": sub.Body})
	}

	db, repo, err := a.openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	kind := domain.SubmitUpdate
	if record == nil {
		kind = domain.SubmitCreate
	}
	err = s.Submit(ctx)
	a.record(ctx, repo, target, kind, err)
	if err != nil {
		return err
	}
	log.Info().Bool("closed", view.closed).Str("kind", string(kind)).Msg("form submitted")
	if ff.Schedule == nil {
		return nil
	}

	// the task form is closed now and a created task has its workflow, so
	// the window goes through a session of its own
	ws := form.New(a.client, view)
	if err := ws.Load(ctx, target, nil); err != nil {
		return err
	}
	ws.Window = s.Window
	err = ws.SaveSchedule(ctx)
	a.record(ctx, repo, target, domain.SubmitSchedule, err)
	return err
}

func (a *app) record(ctx context.Context, repo store.Repository, t form.Target, kind domain.SubmissionKind, err error) {
	sub := domain.Submission{
		DinkyTaskID: t.DinkyTaskID,
		CatalogueID: t.CatalogueID,
		Kind:        kind,
		Outcome:     "ok",
	}
	if err != nil {
		sub.Outcome = form.Classify(err).String()
		sub.Message = client.Message(err)
	}
	if _, rerr := repo.RecordSubmission(ctx, sub); rerr != nil {
		log.Warn().Err(rerr).Msg("journal write failed")
	}
}

func (a *app) schedule(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("schedule", flag.ContinueOnError)
	cat := fs.Int("catalogue", 0, "catalogue id")
	file := fs.String("f", "", "schedule YAML file; when set the window is saved")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *file == "" {
		sched, err := a.client.GetSchedule(ctx, *cat)
		if err != nil {
			return err
		}
		return printJSON(sched)
	}

	b, err := os.ReadFile(*file)
	if err != nil {
		return err
	}
	var wf windowFields
	if err := unmarshalStrict(b, &wf); err != nil {
		return fmt.Errorf("%s: %w", *file, err)
	}

	s := form.New(a.client, &logPresenter{})
	target := form.Target{CatalogueID: *cat}
	if err := s.Load(ctx, target, nil); err != nil {
		return err
	}
	// a nil record skips fetching, so the window is read here
	sched, err := a.client.GetSchedule(ctx, *cat)
	if err != nil {
		return err
	}
	if sched != nil {
		if s.Window, err = domain.DecodeSchedule(*sched); err != nil {
			return err
		}
	}
	if err := wf.apply(&s.Window); err != nil {
		return err
	}

	db, repo, err := a.openStore()
	if err != nil {
		return err
	}
	defer db.Close()
	err = s.SaveSchedule(ctx)
	a.record(ctx, repo, target, domain.SubmitSchedule, err)
	return err
}

func (a *app) release(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("release", flag.ContinueOnError)
	cat := fs.Int("catalogue", 0, "catalogue id")
	state := fs.String("state", string(domain.ReleaseOnline), "ONLINE or OFFLINE")
	if err := fs.Parse(args); err != nil {
		return err
	}
	rs, err := domain.ParseReleaseState(*state)
	if err != nil {
		return &domain.ValidationError{Field: "state", Msg: err.Error()}
	}
	msg, err := a.client.ReleaseWorkflow(ctx, *cat, rs)
	if err != nil {
		return err
	}
	log.Info().Int("catalogue_id", *cat).Str("state", string(rs)).Msg(msg)
	return nil
}

func (a *app) start(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	cat := fs.Int("catalogue", 0, "catalogue id")
	when := fs.String("schedule-time", "", "schedule time passed to the run")
	failure := fs.String("failure", string(domain.FailureContinue), "failure strategy: CONTINUE or END")
	warning := fs.String("warning", string(domain.WarningNone), "warning type: NONE, SUCCESS, FAILURE or ALL")
	group := fs.Int("warning-group", 0, "warning group id")
	prio := fs.String("priority", "", "process instance priority")
	worker := fs.String("worker-group", "", "worker group")
	dry := fs.Bool("dry-run", false, "ask the scheduler for a dry run")
	if err := fs.Parse(args); err != nil {
		return err
	}
	req := client.StartRequest{
		ScheduleTime:    *when,
		FailureStrategy: domain.FailureStrategy(*failure),
		WarningType:     domain.WarningType(*warning),
		WarningGroupID:  *group,
		WorkerGroup:     *worker,
		DryRun:          *dry,
	}
	if req.ScheduleTime == "" {
		req.ScheduleTime = time.Now().Format(domain.TimestampLayout)
	}
	if !req.FailureStrategy.Valid() {
		return &domain.ValidationError{Field: "failure", Msg: "must be CONTINUE or END"}
	}
	if !req.WarningType.Valid() {
		return &domain.ValidationError{Field: "warning", Msg: "must be NONE, SUCCESS, FAILURE or ALL"}
	}
	if *prio != "" {
		p, err := domain.ParsePriority(*prio)
		if err != nil {
			return &domain.ValidationError{Field: "priority", Msg: err.Error()}
		}
		req.ProcessInstancePriority = &p
	}
	msg, err := a.client.StartProcess(ctx, *cat, req)
	if err != nil {
		return err
	}
	log.Info().Int("catalogue_id", *cat).Msg(msg)
	return nil
}

func (a *app) instances(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("instances", flag.ContinueOnError)
	cat := fs.Int("catalogue", 0, "catalogue id")
	page := fs.Int("page", 1, "page number")
	size := fs.Int("size", 10, "page size")
	state := fs.String("state", "", "filter by execution state")
	if err := fs.Parse(args); err != nil {
		return err
	}
	list, err := a.client.ListInstances(ctx, *cat, client.InstanceQuery{PageNo: *page, PageSize: *size, StateType: *state})
	if err != nil {
		return err
	}
	return printJSON(list)
}

func (a *app) preview(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("preview", flag.ContinueOnError)
	expr := fs.String("cron", "", "cron expression")
	tz := fs.String("tz", "", "timezone id")
	n := fs.Int("n", crontab.PreviewCount, "number of fire times")
	remote := fs.Bool("remote", false, "ask the scheduler instead of computing locally")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *remote {
		list, err := a.client.PreviewSchedule(ctx, *expr)
		if err != nil {
			return err
		}
		return printJSON(list)
	}
	times, err := crontab.Preview(*expr, *tz, time.Now(), time.Time{}, *n)
	if err != nil {
		return &domain.ValidationError{Field: "cron", Msg: err.Error()}
	}
	out := make([]string, len(times))
	for i, t := range times {
		out[i] = t.Format(domain.TimestampLayout)
	}
	return printJSON(out)
}

func (a *app) processes(ctx context.Context, args []string) error {
	list, err := a.client.ListProcesses(ctx)
	if err != nil {
		return err
	}
	return printJSON(list)
}

func (a *app) journal(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("journal", flag.ContinueOnError)
	n := fs.Int("n", 20, "number of entries")
	if err := fs.Parse(args); err != nil {
		return err
	}
	db, repo, err := a.openStore()
	if err != nil {
		return err
	}
	defer db.Close()
	list, err := repo.ListSubmissions(ctx, *n)
	if err != nil {
		return err
	}
	return printJSON(list)
}

func (a *app) sandbox(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("sandbox", flag.ContinueOnError)
	addr := fs.String("addr", a.cfg.Sandbox.Addr, "HTTP bind address")
	if err := fs.Parse(args); err != nil {
		return err
	}
	db, repo, err := a.openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	for _, n := range a.cfg.Sandbox.Nodes {
		if err := repo.RegisterNode(ctx, n.DinkyTaskID, n.CatalogueID, n.Name); err != nil {
			return fmt.Errorf("register node %d: %w", n.DinkyTaskID, err)
		}
	}

	opts := []sandbox.Option{sandbox.WithProjectCode(a.cfg.Sandbox.ProjectCode)}
	if a.cfg.Sandbox.UIURL != "" {
		opts = append(opts, sandbox.WithUIURL(a.cfg.Sandbox.UIURL))
	}
	srv := &http.Server{Addr: *addr, Handler: sandbox.NewServer(repo, opts...)}
	errc := make(chan error, 1)
	go func() {
		log.Info().Str("addr", *addr).Int("nodes", len(a.cfg.Sandbox.Nodes)).Msg("sandbox starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	log.Info().Msg("shutting down")
	ctxTimeout, cancelTimeout := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelTimeout()
	return srv.Shutdown(ctxTimeout)
}
