package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ldi/signoff/internal/config"
	"github.com/ldi/signoff/internal/db"
	"github.com/ldi/signoff/internal/engine"
	"github.com/ldi/signoff/internal/mcp"
	"github.com/ldi/signoff/internal/reviewer"
	"github.com/ldi/signoff/pkg/models"
)

var (
	dbPath  string
	verbose bool
)

func main() {
	flag.StringVar(&dbPath, "db-path", ".signoff/signoff.db", "Path to database file")
	flag.BoolVar(&verbose, "verbose", false, "Enable verbose logging")
	flag.Parse()

	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(level).
		With().Timestamp().Logger()

	if flag.NArg() == 0 {
		usage()
		os.Exit(1)
	}
	command := flag.Arg(0)
	args := flag.Args()[1:]

	var err error
	switch command {
	case "init":
		err = runInit(args)
	case "mcp":
		err = runMCP(args)
	case "create-task":
		err = runCreateTask(args)
	case "task-status":
		err = runTaskStatus(args)
	case "trigger":
		err = runTrigger(args)
	case "review":
		err = runReview(args)
	case "status":
		err = runStatus(args)
	case "issue":
		err = runIssue(args)
	case "verify":
		err = runVerify(args)
	case "list-tasks":
		err = runListTasks(args)
	case "list-requirements":
		err = runListRequirements(args)
	default:
		fmt.Printf("Unknown command: %s\n", command)
		usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Println("Usage: signoff [flags] <command> [arguments]")
	fmt.Println("\nCommands:")
	fmt.Println("  init                 Initialize the database (optionally seed --rules)")
	fmt.Println("  mcp                  Serve the engine over MCP stdio")
	fmt.Println("  create-task          Create a task")
	fmt.Println("  task-status          Move a task through its work lifecycle")
	fmt.Println("  trigger              Open a review round for a task")
	fmt.Println("  review               Submit a verdict (or run the rule-based reviewer)")
	fmt.Println("  status               Show a task's QA status")
	fmt.Println("  issue                Advance an issue through its lifecycle")
	fmt.Println("  verify               Verify a task's audit hash chain")
	fmt.Println("  list-tasks           List tasks")
	fmt.Println("  list-requirements    List configured quorum rules")
}

func openDB(ctx context.Context) (*db.DB, error) {
	database, err := db.Open(dbPath)
	if err != nil {
		return nil, err
	}
	if err := database.Init(ctx); err != nil {
		database.Close()
		return nil, err
	}
	return database, nil
}

func newEngine(database *db.DB) *engine.Engine {
	return engine.New(database, engine.NewLocalTaskStore(database))
}

func runInit(args []string) error {
	initFlags := flag.NewFlagSet("init", flag.ContinueOnError)
	rulesPath := initFlags.String("rules", "", "YAML rules file to seed sign-off requirements from")
	if err := initFlags.Parse(args); err != nil {
		return err
	}

	ctx := context.Background()
	database, err := openDB(ctx)
	if err != nil {
		return err
	}
	defer database.Close()
	fmt.Printf("✓ Initialized database at %s\n", dbPath)

	if *rulesPath != "" {
		rules, err := config.LoadRules(*rulesPath)
		if err != nil {
			return err
		}
		for i := range rules.Requirements {
			r := rules.Requirements[i]
			if err := database.UpsertRequirement(ctx, &r); err != nil {
				return fmt.Errorf("failed to seed requirement %s/%s: %w", r.Category, r.Area, err)
			}
		}
		fmt.Printf("✓ Seeded %d sign-off requirement(s) from %s\n", len(rules.Requirements), *rulesPath)
	}
	return nil
}

func runMCP(args []string) error {
	ctx := context.Background()
	database, err := openDB(ctx)
	if err != nil {
		return err
	}
	defer database.Close()

	s := mcp.NewServer(database, newEngine(database), engine.NewIssueTracker(database))
	return mcp.Serve(s)
}

func runCreateTask(args []string) error {
	taskFlags := flag.NewFlagSet("create-task", flag.ContinueOnError)
	name := taskFlags.String("name", "", "Task name")
	description := taskFlags.String("description", "", "Task description")
	category := taskFlags.String("category", "", "Task category")
	area := taskFlags.String("area", "", "Task area")
	if err := taskFlags.Parse(args); err != nil {
		return err
	}
	if *name == "" || *category == "" || *area == "" {
		return fmt.Errorf("--name, --category, and --area are required")
	}

	ctx := context.Background()
	database, err := openDB(ctx)
	if err != nil {
		return err
	}
	defer database.Close()

	t := &models.Task{Name: *name, Description: *description, Category: *category, Area: *area}
	if err := database.CreateTask(ctx, t); err != nil {
		return err
	}
	fmt.Printf("✓ Created task %s\n", t.ID)
	return nil
}

func runTaskStatus(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: signoff task-status <task-id> <status>")
	}

	ctx := context.Background()
	database, err := openDB(ctx)
	if err != nil {
		return err
	}
	defer database.Close()

	if err := database.UpdateTaskStatus(ctx, args[0], models.TaskStatus(args[1])); err != nil {
		return err
	}
	fmt.Printf("✓ Task %s is now %s\n", args[0], args[1])
	return nil
}

func runTrigger(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: signoff trigger <task-id>")
	}

	ctx := context.Background()
	database, err := openDB(ctx)
	if err != nil {
		return err
	}
	defer database.Close()

	result, err := newEngine(database).TriggerReview(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Printf("✓ Round %d opened, awaiting: %s\n", result.Round, strings.Join(result.RequiredReviewers, ", "))
	return nil
}

func runReview(args []string) error {
	reviewFlags := flag.NewFlagSet("review", flag.ContinueOnError)
	taskID := reviewFlags.String("task", "", "Task ID")
	reviewerID := reviewFlags.String("reviewer", "", "Reviewer ID")
	decision := reviewFlags.String("decision", "", "approve or reject")
	notes := reviewFlags.String("notes", "", "Verdict notes")
	issueTitle := reviewFlags.String("issue", "", "Issue title backing a rejection")
	severity := reviewFlags.String("severity", "medium", "Issue severity")
	auto := reviewFlags.Bool("auto", false, "Run the rule-based reviewer instead of a manual verdict")
	if err := reviewFlags.Parse(args); err != nil {
		return err
	}
	if *taskID == "" || *reviewerID == "" {
		return fmt.Errorf("--task and --reviewer are required")
	}

	ctx := context.Background()
	database, err := openDB(ctx)
	if err != nil {
		return err
	}
	defer database.Close()
	eng := newEngine(database)

	var verdict reviewer.Verdict
	if *auto {
		task, err := database.GetTask(ctx, *taskID)
		if err != nil {
			return err
		}
		if task == nil {
			return fmt.Errorf("%w: task %s", models.ErrNotFound, *taskID)
		}
		verdict, err = reviewer.NewRuleBased().Review(ctx, reviewer.Request{Task: *task, Round: task.CurrentRound})
		if err != nil {
			return err
		}
	} else {
		if *decision == "" {
			return fmt.Errorf("--decision is required without --auto")
		}
		verdict = reviewer.Verdict{Decision: models.Decision(*decision), Notes: *notes}
		if *issueTitle != "" {
			verdict.Issues = append(verdict.Issues, engine.IssueReport{
				Title:    *issueTitle,
				Severity: models.IssueSeverity(*severity),
			})
		}
	}

	result, err := eng.SubmitReview(ctx, *taskID, *reviewerID, verdict.Decision, verdict.Notes, verdict.Issues)
	if err != nil {
		return err
	}
	fmt.Printf("✓ Verdict %s recorded, task is %s (round %d)\n", verdict.Decision, result.State, result.Round)
	return nil
}

func runStatus(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: signoff status <task-id>")
	}

	ctx := context.Background()
	database, err := openDB(ctx)
	if err != nil {
		return err
	}
	defer database.Close()

	status, err := newEngine(database).GetStatus(ctx, args[0])
	if err != nil {
		return err
	}

	fmt.Printf("Task %s: %s (round %d)\n", status.TaskID, status.State, status.Round)
	if len(status.PendingReviewers) > 0 {
		fmt.Printf("Awaiting: %s\n", strings.Join(status.PendingReviewers, ", "))
	}
	for _, issue := range status.OpenIssues {
		fmt.Printf("Issue %s [%s/%s] round %d: %s\n", issue.ID, issue.Severity, issue.Status, issue.Round, issue.Title)
	}
	return nil
}

func runIssue(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: signoff issue <issue-id> <status>")
	}

	ctx := context.Background()
	database, err := openDB(ctx)
	if err != nil {
		return err
	}
	defer database.Close()

	issue, err := engine.NewIssueTracker(database).Advance(ctx, args[0], models.IssueStatus(args[1]))
	if err != nil {
		return err
	}
	fmt.Printf("✓ Issue %s is now %s\n", issue.ID, issue.Status)
	return nil
}

func runVerify(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: signoff verify <task-id>")
	}

	ctx := context.Background()
	database, err := openDB(ctx)
	if err != nil {
		return err
	}
	defer database.Close()

	ok, err := newEngine(database).VerifyAuditChain(ctx, args[0])
	if ok {
		fmt.Println("✓ Audit chain intact")
		return nil
	}
	return err
}

func runListTasks(args []string) error {
	taskFlags := flag.NewFlagSet("list-tasks", flag.ContinueOnError)
	statusFilter := taskFlags.String("status", "", "Filter by work status")
	qaFilter := taskFlags.String("qa-state", "", "Filter by QA state")
	if err := taskFlags.Parse(args); err != nil {
		return err
	}

	ctx := context.Background()
	database, err := openDB(ctx)
	if err != nil {
		return err
	}
	defer database.Close()

	var status *models.TaskStatus
	if *statusFilter != "" {
		s := models.TaskStatus(*statusFilter)
		status = &s
	}
	var qaState *models.QAState
	if *qaFilter != "" {
		q := models.QAState(*qaFilter)
		qaState = &q
	}

	tasks, err := database.ListTasks(ctx, status, qaState)
	if err != nil {
		return err
	}

	fmt.Printf("%-36s %-25s %-12s %-15s %s\n", "ID", "NAME", "STATUS", "QA STATE", "ROUND")
	for _, t := range tasks {
		fmt.Printf("%-36s %-25s %-12s %-15s %d\n", t.ID, t.Name, t.Status, t.QAState, t.CurrentRound)
	}
	return nil
}

func runListRequirements(args []string) error {
	ctx := context.Background()
	database, err := openDB(ctx)
	if err != nil {
		return err
	}
	defer database.Close()

	reqs, err := database.ListRequirements(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("%-15s %-15s %-10s %-10s %s\n", "CATEGORY", "AREA", "MIN", "UNANIMOUS", "REVIEWERS")
	for _, r := range reqs {
		fmt.Printf("%-15s %-15s %-10d %-10t %s\n", r.Category, r.Area, r.MinApprovers, r.Unanimous, strings.Join(r.Reviewers, ", "))
	}
	return nil
}
