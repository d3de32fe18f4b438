package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"recruitmate/internal/domain"
	"recruitmate/internal/secrets"
)

func newTestStore(t *testing.T, box *secrets.Box) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "nested", "store.db"), box, testLogger())
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testBox(t *testing.T) *secrets.Box {
	t.Helper()
	box, err := secrets.NewBox(strings.Repeat("k", 32))
	if err != nil {
		t.Fatal(err)
	}
	return box
}

func TestChannels_UpsertAndFind(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, testBox(t))

	err := s.UpsertChannel(ctx, domain.ChannelConfig{
		PhoneNumberID: "P1",
		AccessToken:   "access",
		VerifyToken:   "verify",
		SigningSecret: "signing",
		LLMAPIKey:     "sk-owner",
		OwnerID:       "owner-1",
	})
	if err != nil {
		t.Fatalf("UpsertChannel: %v", err)
	}

	ch, err := s.FindByRoutingKey(ctx, "P1")
	if err != nil {
		t.Fatal(err)
	}
	if ch == nil {
		t.Fatal("expected channel")
	}
	if ch.ID == "" || ch.AccessToken != "access" || ch.SigningSecret != "signing" || ch.LLMAPIKey != "sk-owner" {
		t.Errorf("unexpected channel %+v", *ch)
	}
	if ch.VerifyToken != "" {
		t.Error("verify token is stored as a digest and must not be returned")
	}
	if ch.CreatedAt.IsZero() {
		t.Error("created_at should be set")
	}

	missing, err := s.FindByRoutingKey(ctx, "P404")
	if err != nil || missing != nil {
		t.Errorf("expected nil, nil for unknown key, got %v, %v", missing, err)
	}
}

func TestChannels_CredentialsSealedAtRest(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, testBox(t))

	if err := s.UpsertChannel(ctx, domain.ChannelConfig{PhoneNumberID: "P1", AccessToken: "plain-access", VerifyToken: "v"}); err != nil {
		t.Fatal(err)
	}

	var access, digest string
	if err := s.db.QueryRow(`SELECT access_token, verify_token_digest FROM channels`).Scan(&access, &digest); err != nil {
		t.Fatal(err)
	}
	if access == "plain-access" || !strings.HasPrefix(access, "enc:v1:") {
		t.Errorf("access token not sealed: %q", access)
	}
	if digest != secrets.Digest("v") {
		t.Errorf("verify token digest = %q", digest)
	}
}

func TestChannels_ExistsVerifyToken(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, nil)

	if err := s.UpsertChannel(ctx, domain.ChannelConfig{PhoneNumberID: "P1", VerifyToken: "tok"}); err != nil {
		t.Fatal(err)
	}
	if err := s.UpsertChannel(ctx, domain.ChannelConfig{PhoneNumberID: "P2"}); err != nil {
		t.Fatal(err)
	}

	tests := map[string]bool{"tok": true, "other": false, "": false}
	for token, want := range tests {
		got, err := s.ExistsVerifyToken(ctx, token)
		if err != nil {
			t.Fatal(err)
		}
		if got != want {
			t.Errorf("ExistsVerifyToken(%q) = %v, want %v", token, got, want)
		}
	}
}

func TestChannels_UpsertKeepsIdentityAndToken(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, nil)

	if err := s.UpsertChannel(ctx, domain.ChannelConfig{ID: "ch-1", PhoneNumberID: "P1", AccessToken: "a1", VerifyToken: "tok"}); err != nil {
		t.Fatal(err)
	}
	if err := s.UpsertChannel(ctx, domain.ChannelConfig{ID: "ch-2", PhoneNumberID: "P1", AccessToken: "a2"}); err != nil {
		t.Fatal(err)
	}

	ch, err := s.FindByRoutingKey(ctx, "P1")
	if err != nil {
		t.Fatal(err)
	}
	if ch.ID != "ch-1" || ch.AccessToken != "a2" {
		t.Errorf("unexpected channel after update %+v", *ch)
	}
	if ok, _ := s.ExistsVerifyToken(ctx, "tok"); !ok {
		t.Error("update without a verify token should keep the stored one")
	}

	all, err := s.ListChannels(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 {
		t.Errorf("expected one channel per routing key, got %d", len(all))
	}
}

func TestChannels_Delete(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, nil)

	if err := s.UpsertChannel(ctx, domain.ChannelConfig{PhoneNumberID: "P1"}); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteChannel(ctx, "P1"); err != nil {
		t.Fatalf("DeleteChannel: %v", err)
	}
	if err := s.DeleteChannel(ctx, "P1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestChannels_RequiresRoutingKey(t *testing.T) {
	s := newTestStore(t, nil)
	if err := s.UpsertChannel(context.Background(), domain.ChannelConfig{}); err == nil {
		t.Error("expected error for missing phone_number_id")
	}
}

func seedPositions(t *testing.T, s *SQLiteStore) map[string]int64 {
	t.Helper()
	start := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	interval := 30
	ids := map[string]int64{}
	for _, p := range []domain.Position{
		{Title: "Backend Engineer", Description: "Go services", Status: domain.StatusOpen, StartTime: &start, IntervalTime: &interval},
		{Title: "Frontend engineer", Status: domain.StatusOpen},
		{Title: "Data Engineer", Status: domain.StatusClosed},
		{Title: "Recruiter", Status: domain.StatusOpen},
		{Title: "100%_Remote Designer", Status: domain.StatusOpen},
	} {
		id, err := s.UpsertPosition(context.Background(), p)
		if err != nil {
			t.Fatalf("UpsertPosition(%s): %v", p.Title, err)
		}
		ids[p.Title] = id
	}
	return ids
}

func TestPositions_ListOpen(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, nil)
	ids := seedPositions(t, s)

	full, err := s.ListOpen(ctx, domain.FieldsFull)
	if err != nil {
		t.Fatal(err)
	}
	if len(full) != 4 {
		t.Fatalf("expected 4 open positions, got %d", len(full))
	}
	first := full[0]
	if first.ID != ids["Backend Engineer"] || first.Description != "Go services" {
		t.Errorf("unexpected first position %+v", first)
	}
	if first.StartTime == nil || !first.StartTime.Equal(time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)) {
		t.Errorf("start time = %v", first.StartTime)
	}
	if first.IntervalTime == nil || *first.IntervalTime != 30 {
		t.Errorf("interval = %v", first.IntervalTime)
	}

	summary, err := s.ListOpen(ctx, domain.FieldsSummary)
	if err != nil {
		t.Fatal(err)
	}
	if len(summary) != 4 || summary[0].Description != "" || summary[0].Title != "Backend Engineer" {
		t.Errorf("unexpected summary %+v", summary)
	}
}

func TestPositions_FindOpen(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, nil)
	ids := seedPositions(t, s)

	p, err := s.FindOpen(ctx, ids["Recruiter"])
	if err != nil || p == nil || p.Title != "Recruiter" {
		t.Fatalf("FindOpen = %+v, %v", p, err)
	}

	closed, err := s.FindOpen(ctx, ids["Data Engineer"])
	if err != nil || closed != nil {
		t.Errorf("closed position should not be found, got %+v, %v", closed, err)
	}
	missing, err := s.FindOpen(ctx, 9999)
	if err != nil || missing != nil {
		t.Errorf("unknown id should not be found, got %+v, %v", missing, err)
	}
}

func TestPositions_SearchOpenByTitle(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, nil)
	seedPositions(t, s)

	got, err := s.SearchOpenByTitle(ctx, "engineer")
	if err != nil {
		t.Fatal(err)
	}
	var titles []string
	for _, p := range got {
		titles = append(titles, p.Title)
	}
	if strings.Join(titles, ",") != "Backend Engineer,Frontend engineer" {
		t.Errorf("search titles = %v", titles)
	}

	wild, err := s.SearchOpenByTitle(ctx, "%")
	if err != nil {
		t.Fatal(err)
	}
	if len(wild) != 1 || wild[0].Title != "100%_Remote Designer" {
		t.Errorf("wildcards should match literally, got %+v", wild)
	}

	none, err := s.SearchOpenByTitle(ctx, "astronaut")
	if err != nil || len(none) != 0 {
		t.Errorf("expected no results, got %+v, %v", none, err)
	}
}

func TestPositions_UpsertExistingID(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, nil)
	ids := seedPositions(t, s)

	id, err := s.UpsertPosition(ctx, domain.Position{ID: ids["Recruiter"], Title: "Senior Recruiter", Status: domain.StatusClosed})
	if err != nil {
		t.Fatal(err)
	}
	if id != ids["Recruiter"] {
		t.Errorf("id changed: %d", id)
	}
	if p, _ := s.FindOpen(ctx, id); p != nil {
		t.Error("closed position should no longer be open")
	}

	if _, err := s.UpsertPosition(ctx, domain.Position{Title: "x", Status: "bogus"}); err == nil {
		t.Error("expected error for unknown status")
	}
}

func TestLoadPositionsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "positions.yaml")
	content := `positions:
  - title: Backend Engineer
    description: Build Go services
    benefits: Remote
    start_time: 2025-03-01T09:00:00Z
    interval_time: 45
  - title: Office Manager
    status: draft
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := LoadPositionsFile(path)
	if err != nil {
		t.Fatalf("LoadPositionsFile: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 positions, got %d", len(got))
	}
	if got[0].Status != domain.StatusOpen || got[0].Benefits != "Remote" {
		t.Errorf("unexpected first position %+v", got[0])
	}
	if got[0].StartTime == nil || got[0].StartTime.Year() != 2025 {
		t.Errorf("start time = %v", got[0].StartTime)
	}
	if got[0].IntervalTime == nil || *got[0].IntervalTime != 45 {
		t.Errorf("interval = %v", got[0].IntervalTime)
	}
	if got[1].Status != domain.StatusDraft {
		t.Errorf("status = %s", got[1].Status)
	}
}

func TestLoadPositionsFile_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "positions.yaml")
	content := "positions:\n  - title: \"\"\n  - title: ok\n    status: nope\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := LoadPositionsFile(path)
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "positions[0]") || !strings.Contains(err.Error(), "positions[1]") {
		t.Errorf("error should list both entries: %v", err)
	}
}

func TestLikePattern(t *testing.T) {
	if got := LikePattern(`a%b_c\d`); got != `%a\%b\_c\\d%` {
		t.Errorf("LikePattern = %q", got)
	}
}
