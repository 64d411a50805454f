package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ldi/signoff/internal/db"
	"github.com/ldi/signoff/pkg/models"
)

// useTempDB points the global db path at a file under a temp dir and restores
// it when the test ends.
func useTempDB(t *testing.T) string {
	t.Helper()

	original := dbPath
	t.Cleanup(func() { dbPath = original })

	dbPath = filepath.Join(t.TempDir(), ".signoff", "signoff.db")
	return dbPath
}

func writeRulesFile(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "rules.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write rules file: %v", err)
	}
	return path
}

func TestInitSeedsRules(t *testing.T) {
	path := useTempDB(t)
	rulesPath := writeRulesFile(t, `
requirements:
  - category: feature
    area: authentication
    min_approvers: 2
    unanimous: true
    reviewers: [alice, bob]
  - category: "*"
    area: "*"
    min_approvers: 1
    reviewers: [alice]
`)

	if err := runInit([]string{"--rules", rulesPath}); err != nil {
		t.Fatalf("runInit failed: %v", err)
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Errorf("database file was not created")
	}

	database, err := db.Open(dbPath)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	defer database.Close()

	reqs, err := database.ListRequirements(context.Background())
	if err != nil {
		t.Fatalf("failed to list requirements: %v", err)
	}
	if len(reqs) != 2 {
		t.Fatalf("expected 2 seeded requirements, got %d", len(reqs))
	}
}

func TestInitRejectsInvalidRules(t *testing.T) {
	useTempDB(t)
	rulesPath := writeRulesFile(t, `
requirements:
  - category: feature
    area: authentication
    min_approvers: 0
    reviewers: [alice]
`)

	err := runInit([]string{"--rules", rulesPath})
	if err == nil {
		t.Fatal("expected error for rules with min_approvers 0")
	}
	if !strings.Contains(err.Error(), "min_approvers") {
		t.Errorf("expected min_approvers validation error, got: %v", err)
	}
}

// Drives trigger/review/status through the subcommand functions the way a
// shell user would, checking the outcome in the database.
func TestSubcommandReviewFlow(t *testing.T) {
	useTempDB(t)
	rulesPath := writeRulesFile(t, `
requirements:
  - category: bugfix
    area: general
    min_approvers: 1
    reviewers: [alice]
`)
	if err := runInit([]string{"--rules", rulesPath}); err != nil {
		t.Fatalf("runInit failed: %v", err)
	}

	err := runCreateTask([]string{"--name", "fix crash", "--description", "nil guard", "--category", "bugfix", "--area", "general"})
	if err != nil {
		t.Fatalf("runCreateTask failed: %v", err)
	}

	ctx := context.Background()
	database, err := db.Open(dbPath)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	defer database.Close()

	tasks, err := database.ListTasks(ctx, nil, nil)
	if err != nil {
		t.Fatalf("failed to list tasks: %v", err)
	}
	if len(tasks) != 1 {
		t.Fatalf("expected 1 task, got %d", len(tasks))
	}
	taskID := tasks[0].ID

	for _, status := range []string{"in_progress", "completed"} {
		if err := runTaskStatus([]string{taskID, status}); err != nil {
			t.Fatalf("runTaskStatus to %s failed: %v", status, err)
		}
	}
	if err := runTrigger([]string{taskID}); err != nil {
		t.Fatalf("runTrigger failed: %v", err)
	}
	if err := runReview([]string{"--task", taskID, "--reviewer", "alice", "--decision", "approve"}); err != nil {
		t.Fatalf("runReview failed: %v", err)
	}
	if err := runStatus([]string{taskID}); err != nil {
		t.Fatalf("runStatus failed: %v", err)
	}
	if err := runVerify([]string{taskID}); err != nil {
		t.Fatalf("runVerify failed: %v", err)
	}

	task, err := database.GetTask(ctx, taskID)
	if err != nil {
		t.Fatalf("failed to get task: %v", err)
	}
	if task.QAState != models.QAStateApproved {
		t.Errorf("expected task approved after review, got %s", task.QAState)
	}
}

func TestSubcommandUsageErrors(t *testing.T) {
	useTempDB(t)

	if err := runTaskStatus([]string{"only-one-arg"}); err == nil {
		t.Error("expected usage error for task-status with one argument")
	}
	if err := runTrigger(nil); err == nil {
		t.Error("expected usage error for trigger with no arguments")
	}
	if err := runCreateTask([]string{"--name", "x"}); err == nil {
		t.Error("expected error for create-task without category and area")
	}
}
