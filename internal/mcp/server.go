package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/ldi/signoff/internal/db"
	"github.com/ldi/signoff/internal/engine"
	"github.com/ldi/signoff/pkg/models"
)

// NewServer creates the MCP server exposing the sign-off engine. Reviewer
// agents connect as MCP clients and call submit_review; how they reach a
// verdict is their business.
func NewServer(database *db.DB, eng *engine.Engine, issues *engine.IssueTracker) *server.MCPServer {
	s := server.NewMCPServer("SignOff", "0.1.0")

	// Review workflow
	s.AddTool(mcp.NewTool("trigger_review",
		mcp.WithDescription("Open a review round for a work-complete task. Fails if a round is already open or no quorum rule matches the task's category/area."),
		mcp.WithString("task_id", mcp.Description("Task ID"), mcp.Required()),
	), triggerReviewHandler(eng))

	s.AddTool(mcp.NewTool("submit_review",
		mcp.WithDescription("Record a reviewer's verdict for the current round. A rejection must include at least one issue. Verdicts are single-shot and immutable."),
		mcp.WithString("task_id", mcp.Description("Task ID"), mcp.Required()),
		mcp.WithString("reviewer_id", mcp.Description("Reviewer ID"), mcp.Required()),
		mcp.WithString("decision", mcp.Description("approve or reject"), mcp.Required()),
		mcp.WithString("notes", mcp.Description("Free-form verdict notes")),
		mcp.WithArray("issues", mcp.Description("Defects backing a rejection: [{title, description, severity}]")),
	), submitReviewHandler(eng))

	s.AddTool(mcp.NewTool("get_status",
		mcp.WithDescription("Read a task's QA state, pending reviewers, and open issues. Never mutates."),
		mcp.WithString("task_id", mcp.Description("Task ID"), mcp.Required()),
	), getStatusHandler(eng))

	s.AddTool(mcp.NewTool("verify_audit_chain",
		mcp.WithDescription("Recompute a task's audit hash chain and report whether it is intact."),
		mcp.WithString("task_id", mcp.Description("Task ID"), mcp.Required()),
	), verifyAuditChainHandler(eng))

	// Issue tracker (its own workflow; the orchestrator only creates issues)
	s.AddTool(mcp.NewTool("advance_issue",
		mcp.WithDescription("Move an issue forward: open -> in_progress -> verified -> closed. Backward movement is refused."),
		mcp.WithString("issue_id", mcp.Description("Issue ID"), mcp.Required()),
		mcp.WithString("status", mcp.Description("Next status"), mcp.Required()),
	), advanceIssueHandler(issues))

	s.AddTool(mcp.NewTool("list_issues",
		mcp.WithDescription("List a task's issues across all rounds."),
		mcp.WithString("task_id", mcp.Description("Task ID"), mcp.Required()),
		mcp.WithString("status", mcp.Description("Filter by status")),
	), listIssuesHandler(database))

	// Ledger and audit reads
	s.AddTool(mcp.NewTool("list_signoffs",
		mcp.WithDescription("List a task's sign-off ledger, oldest round first."),
		mcp.WithString("task_id", mcp.Description("Task ID"), mcp.Required()),
		mcp.WithNumber("round", mcp.Description("Narrow to one round")),
	), listSignOffsHandler(database))

	s.AddTool(mcp.NewTool("list_audit",
		mcp.WithDescription("List a task's audit records in sequence order."),
		mcp.WithString("task_id", mcp.Description("Task ID"), mcp.Required()),
	), listAuditHandler(database))

	// Administration
	s.AddTool(mcp.NewTool("set_requirement",
		mcp.WithDescription("Create or replace the quorum rule for a (category, area) pair. '*' is a wildcard."),
		mcp.WithString("category", mcp.Description("Task category"), mcp.Required()),
		mcp.WithString("area", mcp.Description("Task area"), mcp.Required()),
		mcp.WithNumber("min_approvers", mcp.Description("Minimum approvals to finalize"), mcp.Required()),
		mcp.WithBoolean("unanimous", mcp.Description("Whether a single rejection sinks the round")),
		mcp.WithArray("reviewers", mcp.Description("Reviewer roster for the rule"), mcp.Required()),
	), setRequirementHandler(database))

	s.AddTool(mcp.NewTool("list_requirements",
		mcp.WithDescription("List all configured quorum rules."),
	), listRequirementsHandler(database))

	// Task management (work lifecycle; the QA facet is engine-owned)
	s.AddTool(mcp.NewTool("create_task",
		mcp.WithDescription("Create a task."),
		mcp.WithString("name", mcp.Description("Task name"), mcp.Required()),
		mcp.WithString("description", mcp.Description("Task description")),
		mcp.WithString("category", mcp.Description("Task category"), mcp.Required()),
		mcp.WithString("area", mcp.Description("Task area"), mcp.Required()),
	), createTaskHandler(database))

	s.AddTool(mcp.NewTool("update_task_status",
		mcp.WithDescription("Move a task through its work lifecycle (pending|in_progress|completed|blocked)."),
		mcp.WithString("task_id", mcp.Description("Task ID"), mcp.Required()),
		mcp.WithString("status", mcp.Description("New status"), mcp.Required()),
	), updateTaskStatusHandler(database))

	s.AddTool(mcp.NewTool("get_task",
		mcp.WithDescription("Get a task by ID."),
		mcp.WithString("task_id", mcp.Description("Task ID"), mcp.Required()),
	), getTaskHandler(database))

	return s
}

// Serve starts the MCP server on stdio.
func Serve(s *server.MCPServer) error {
	return server.ServeStdio(s)
}

// toolError reports expected contract errors as tool results, but lets
// integrity violations propagate as handler failures so they are never
// absorbed into normal traffic.
func toolError(err error) (*mcp.CallToolResult, error) {
	if errors.Is(err, models.ErrIntegrityViolation) {
		return nil, err
	}
	return mcp.NewToolResultError(err.Error()), nil
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func triggerReviewHandler(eng *engine.Engine) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		taskID := mcp.ParseString(request, "task_id", "")

		result, err := eng.TriggerReview(ctx, taskID)
		if err != nil {
			return toolError(err)
		}
		return jsonResult(result)
	}
}

func submitReviewHandler(eng *engine.Engine) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		taskID := mcp.ParseString(request, "task_id", "")
		reviewerID := mcp.ParseString(request, "reviewer_id", "")
		decision := mcp.ParseString(request, "decision", "")
		notes := mcp.ParseString(request, "notes", "")

		issues, err := parseIssueReports(request)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		result, err := eng.SubmitReview(ctx, taskID, reviewerID, models.Decision(decision), notes, issues)
		if err != nil {
			return toolError(err)
		}
		return jsonResult(result)
	}
}

func parseIssueReports(request mcp.CallToolRequest) ([]engine.IssueReport, error) {
	args, _ := request.Params.Arguments.(map[string]any)
	raw, ok := args["issues"].([]any)
	if !ok {
		return nil, nil
	}

	var issues []engine.IssueReport
	for i, entry := range raw {
		m, ok := entry.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("issues[%d] is not an object", i)
		}
		report := engine.IssueReport{}
		if title, ok := m["title"].(string); ok {
			report.Title = title
		}
		if report.Title == "" {
			return nil, fmt.Errorf("issues[%d] is missing a title", i)
		}
		if description, ok := m["description"].(string); ok {
			report.Description = description
		}
		if severity, ok := m["severity"].(string); ok {
			report.Severity = models.IssueSeverity(severity)
		}
		issues = append(issues, report)
	}
	return issues, nil
}

func getStatusHandler(eng *engine.Engine) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		taskID := mcp.ParseString(request, "task_id", "")

		status, err := eng.GetStatus(ctx, taskID)
		if err != nil {
			return toolError(err)
		}
		return jsonResult(status)
	}
}

func verifyAuditChainHandler(eng *engine.Engine) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		taskID := mcp.ParseString(request, "task_id", "")

		ok, err := eng.VerifyAuditChain(ctx, taskID)
		if err != nil && !errors.Is(err, models.ErrIntegrityViolation) {
			return mcp.NewToolResultError(err.Error()), nil
		}

		result := map[string]any{"task_id": taskID, "intact": ok}
		if err != nil {
			result["detail"] = err.Error()
		}
		return jsonResult(result)
	}
}

func advanceIssueHandler(issues *engine.IssueTracker) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		issueID := mcp.ParseString(request, "issue_id", "")
		status := mcp.ParseString(request, "status", "")

		issue, err := issues.Advance(ctx, issueID, models.IssueStatus(status))
		if err != nil {
			return toolError(err)
		}
		return jsonResult(issue)
	}
}

func listIssuesHandler(database *db.DB) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		taskID := mcp.ParseString(request, "task_id", "")

		var status *models.IssueStatus
		args, _ := request.Params.Arguments.(map[string]any)
		if s, ok := args["status"].(string); ok && s != "" {
			is := models.IssueStatus(s)
			status = &is
		}

		issues, err := database.ListIssues(ctx, taskID, status)
		if err != nil {
			return toolError(err)
		}
		return jsonResult(map[string]any{"issues": issues})
	}
}

func listSignOffsHandler(database *db.DB) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		taskID := mcp.ParseString(request, "task_id", "")

		var round *int
		args, _ := request.Params.Arguments.(map[string]any)
		if r, ok := args["round"].(float64); ok {
			n := int(r)
			round = &n
		}

		signoffs, err := database.ListSignOffs(ctx, taskID, round)
		if err != nil {
			return toolError(err)
		}
		return jsonResult(map[string]any{"signoffs": signoffs})
	}
}

func listAuditHandler(database *db.DB) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		taskID := mcp.ParseString(request, "task_id", "")

		records, err := database.ListAuditRecords(ctx, taskID)
		if err != nil {
			return toolError(err)
		}
		return jsonResult(map[string]any{"records": records})
	}
}

func setRequirementHandler(database *db.DB) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		req := &models.SignOffRequirement{
			Category:     mcp.ParseString(request, "category", ""),
			Area:         mcp.ParseString(request, "area", ""),
			MinApprovers: mcp.ParseInt(request, "min_approvers", 0),
			Unanimous:    mcp.ParseBoolean(request, "unanimous", false),
		}

		args, _ := request.Params.Arguments.(map[string]any)
		if raw, ok := args["reviewers"].([]any); ok {
			for _, entry := range raw {
				if id, ok := entry.(string); ok {
					req.Reviewers = append(req.Reviewers, id)
				}
			}
		}

		if err := database.UpsertRequirement(ctx, req); err != nil {
			return toolError(err)
		}
		return jsonResult(req)
	}
}

func listRequirementsHandler(database *db.DB) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		reqs, err := database.ListRequirements(ctx)
		if err != nil {
			return toolError(err)
		}
		return jsonResult(map[string]any{"requirements": reqs})
	}
}

func createTaskHandler(database *db.DB) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		t := &models.Task{
			Name:        mcp.ParseString(request, "name", ""),
			Description: mcp.ParseString(request, "description", ""),
			Category:    mcp.ParseString(request, "category", ""),
			Area:        mcp.ParseString(request, "area", ""),
		}

		if err := database.CreateTask(ctx, t); err != nil {
			return toolError(err)
		}
		return jsonResult(t)
	}
}

func updateTaskStatusHandler(database *db.DB) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		taskID := mcp.ParseString(request, "task_id", "")
		status := mcp.ParseString(request, "status", "")

		if err := database.UpdateTaskStatus(ctx, taskID, models.TaskStatus(status)); err != nil {
			return toolError(err)
		}
		return mcp.NewToolResultText("Task status updated successfully"), nil
	}
}

func getTaskHandler(database *db.DB) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		taskID := mcp.ParseString(request, "task_id", "")

		t, err := database.GetTask(ctx, taskID)
		if err != nil {
			return toolError(err)
		}
		if t == nil {
			return mcp.NewToolResultError(fmt.Sprintf("Task '%s' not found", taskID)), nil
		}
		return jsonResult(t)
	}
}
