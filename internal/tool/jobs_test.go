package tool

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"recruitmate/internal/domain"
)

// fakePositions keeps positions in memory and honours the open-only rule.
type fakePositions struct {
	all     []domain.Position
	fields  string
	queries []string
	err     error
}

func (f *fakePositions) open() []domain.Position {
	var out []domain.Position
	for _, p := range f.all {
		if p.Status == domain.StatusOpen {
			out = append(out, p)
		}
	}
	return out
}

func (f *fakePositions) ListOpen(_ context.Context, fields string) ([]domain.Position, error) {
	f.fields = fields
	return f.open(), f.err
}

func (f *fakePositions) FindOpen(_ context.Context, id int64) (*domain.Position, error) {
	if f.err != nil {
		return nil, f.err
	}
	for _, p := range f.open() {
		if p.ID == id {
			return &p, nil
		}
	}
	return nil, nil
}

func (f *fakePositions) SearchOpenByTitle(_ context.Context, q string) ([]domain.Position, error) {
	f.queries = append(f.queries, q)
	var out []domain.Position
	for _, p := range f.open() {
		if strings.Contains(strings.ToLower(p.Title), strings.ToLower(q)) {
			out = append(out, p)
		}
	}
	return out, f.err
}

func (f *fakePositions) UpsertPosition(context.Context, domain.Position) (int64, error) {
	return 0, nil
}

func samplePositions() *fakePositions {
	return &fakePositions{all: []domain.Position{
		{ID: 1, Title: "Backend Engineer (Go)", Description: "APIs", Status: domain.StatusOpen},
		{ID: 2, Title: "Data Engineer", Status: domain.StatusOpen},
		{ID: 3, Title: "Go Team Lead", Status: domain.StatusClosed},
	}}
}

func newJobsRegistry(positions domain.PositionStore) *Registry {
	reg := NewRegistry(testLogger())
	reg.Register(RecruitingTools(positions)...)
	return reg
}

func TestRecruitingTools_Catalogue(t *testing.T) {
	reg := newJobsRegistry(samplePositions())
	names := reg.Names()
	want := []string{"get_job", "job_search", "list_open_positions"}
	if strings.Join(names, ",") != strings.Join(want, ",") {
		t.Fatalf("expected %v, got %v", want, names)
	}
}

func TestListOpenPositions_SummaryPrompt(t *testing.T) {
	positions := samplePositions()
	reg := newJobsRegistry(positions)

	result, err := reg.Dispatch(context.Background(), "list_open_positions", nil)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if !strings.HasPrefix(result, "Summarize this jobs: [") {
		t.Fatalf("unexpected prefix: %q", result)
	}
	if !strings.HasSuffix(result, "- extract the titles from the jobs and display them in a list") {
		t.Fatalf("unexpected suffix: %q", result)
	}
	if strings.Contains(result, "Go Team Lead") {
		t.Fatal("closed position leaked into the listing")
	}
	if positions.fields != domain.FieldsSummary {
		t.Fatalf("expected summary projection, got %q", positions.fields)
	}
}

func TestListOpenPositions_EmptyList(t *testing.T) {
	reg := newJobsRegistry(&fakePositions{})
	result, err := reg.Dispatch(context.Background(), "list_open_positions", nil)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if !strings.Contains(result, "Summarize this jobs: [] -") {
		t.Fatalf("expected empty json list, got %q", result)
	}
}

func TestGetJob_Found(t *testing.T) {
	reg := newJobsRegistry(samplePositions())

	result, err := reg.Dispatch(context.Background(), "get_job", json.RawMessage(`{"id": 1}`))
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	var job domain.Position
	if err := json.Unmarshal([]byte(result), &job); err != nil {
		t.Fatalf("result is not a job: %v (%q)", err, result)
	}
	if job.Title != "Backend Engineer (Go)" {
		t.Fatalf("unexpected job %+v", job)
	}
}

func TestGetJob_NotOpenIsRecoverable(t *testing.T) {
	reg := newJobsRegistry(samplePositions())

	result, err := reg.Dispatch(context.Background(), "get_job", json.RawMessage(`{"id": 3}`))
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if result != `{"error":"job 3 not found"}` {
		t.Fatalf("unexpected result %q", result)
	}
}

func TestGetJob_MalformedArguments(t *testing.T) {
	reg := newJobsRegistry(samplePositions())

	for _, args := range []string{`{"id": "one"}`, `{}`, `{"id":`} {
		_, err := reg.Dispatch(context.Background(), "get_job", json.RawMessage(args))
		if !errors.Is(err, ErrMalformedArguments) {
			t.Fatalf("args %s: expected ErrMalformedArguments, got %v", args, err)
		}
	}
}

func TestJobSearch_MatchesTitles(t *testing.T) {
	positions := samplePositions()
	reg := newJobsRegistry(positions)

	result, err := reg.Dispatch(context.Background(), "job_search", json.RawMessage(`{"query": "  engineer "}`))
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if !strings.Contains(result, "Backend Engineer (Go)") || !strings.Contains(result, "Data Engineer") {
		t.Fatalf("expected both engineers, got %q", result)
	}
	if positions.queries[0] != "engineer" {
		t.Fatalf("expected trimmed query, got %q", positions.queries[0])
	}
}

func TestJobSearch_MissingQuery(t *testing.T) {
	reg := newJobsRegistry(samplePositions())
	_, err := reg.Dispatch(context.Background(), "job_search", json.RawMessage(`{"q": "go"}`))
	if !errors.Is(err, ErrMalformedArguments) {
		t.Fatalf("expected ErrMalformedArguments, got %v", err)
	}
}

func TestJobTools_StoreErrorPropagates(t *testing.T) {
	positions := samplePositions()
	positions.err = errors.New("db down")
	reg := newJobsRegistry(positions)

	_, err := reg.Dispatch(context.Background(), "list_open_positions", nil)
	if err == nil || errors.Is(err, ErrMalformedArguments) {
		t.Fatalf("expected a plain store error, got %v", err)
	}
}
