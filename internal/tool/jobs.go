package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"recruitmate/internal/domain"
)

// RecruitingTools returns the job catalogue tools backed by positions. Every
// query is limited to open positions by the store.
func RecruitingTools(positions domain.PositionStore) []domain.Tool {
	return []domain.Tool{
		&ListOpenPositionsTool{positions: positions},
		&GetJobTool{positions: positions},
		&JobSearchTool{positions: positions},
	}
}

// summarizeJobs wraps a job list in the instruction the model expects.
func summarizeJobs(jobs []domain.Position) (string, error) {
	if jobs == nil {
		jobs = []domain.Position{}
	}
	data, err := json.Marshal(jobs)
	if err != nil {
		return "", fmt.Errorf("encode jobs: %w", err)
	}
	return fmt.Sprintf("Summarize this jobs: %s - extract the titles from the jobs and display them in a list", data), nil
}

// --- list_open_positions ---

type ListOpenPositionsTool struct {
	positions domain.PositionStore
}

func (t *ListOpenPositionsTool) Name() string { return "list_open_positions" }
func (t *ListOpenPositionsTool) Description() string {
	return "List all currently open job positions. Use it when the candidate asks which jobs are available."
}
func (t *ListOpenPositionsTool) Parameters() map[string]any {
	return ToolParameters(map[string]Param{}, nil)
}

func (t *ListOpenPositionsTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var none struct{}
	if err := DecodeArgs(args, &none); err != nil {
		return "", err
	}
	jobs, err := t.positions.ListOpen(ctx, domain.FieldsSummary)
	if err != nil {
		return "", fmt.Errorf("list open positions: %w", err)
	}
	return summarizeJobs(jobs)
}

// --- get_job ---

type GetJobTool struct {
	positions domain.PositionStore
}

func (t *GetJobTool) Name() string { return "get_job" }
func (t *GetJobTool) Description() string {
	return "Get the details of one open job: description, benefits, start and end time, interview interval."
}
func (t *GetJobTool) Parameters() map[string]any {
	return ToolParameters(map[string]Param{
		"id": {Type: "integer", Description: "The job id"},
	}, []string{"id"})
}

func (t *GetJobTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var in struct {
		ID *int64 `json:"id"`
	}
	if err := DecodeArgs(args, &in); err != nil {
		return "", err
	}
	if in.ID == nil {
		return "", fmt.Errorf("%w: id is required", ErrMalformedArguments)
	}

	job, err := t.positions.FindOpen(ctx, *in.ID)
	if err != nil {
		return "", fmt.Errorf("find job %d: %w", *in.ID, err)
	}
	if job == nil {
		return ErrorResult(fmt.Sprintf("job %d not found", *in.ID)), nil
	}

	data, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("encode job: %w", err)
	}
	return string(data), nil
}

// --- job_search ---

type JobSearchTool struct {
	positions domain.PositionStore
}

func (t *JobSearchTool) Name() string { return "job_search" }
func (t *JobSearchTool) Description() string {
	return "Search open jobs whose title matches a query, e.g. a role or technology the candidate mentioned."
}
func (t *JobSearchTool) Parameters() map[string]any {
	return ToolParameters(map[string]Param{
		"query": {Type: "string", Description: "Words to look for in the job title"},
	}, []string{"query"})
}

func (t *JobSearchTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var in struct {
		Query *string `json:"query"`
	}
	if err := DecodeArgs(args, &in); err != nil {
		return "", err
	}
	if in.Query == nil {
		return "", fmt.Errorf("%w: query is required", ErrMalformedArguments)
	}

	jobs, err := t.positions.SearchOpenByTitle(ctx, strings.TrimSpace(*in.Query))
	if err != nil {
		return "", fmt.Errorf("search jobs: %w", err)
	}
	return summarizeJobs(jobs)
}
