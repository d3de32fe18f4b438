package channel

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"recruitmate/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type graphCall struct {
	Method string
	Path   string
	Query  string
	Auth   string
	Body   map[string]any
}

// fakeGraph records Cloud API calls and answers them with status.
type fakeGraph struct {
	mu     sync.Mutex
	calls  []graphCall
	status int
	reply  string
}

func (g *fakeGraph) handler(rw http.ResponseWriter, r *http.Request) {
	call := graphCall{
		Method: r.Method,
		Path:   r.URL.Path,
		Query:  r.URL.RawQuery,
		Auth:   r.Header.Get("Authorization"),
	}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&call.Body)
	}

	g.mu.Lock()
	g.calls = append(g.calls, call)
	n := len(g.calls)
	g.mu.Unlock()

	if g.status != 0 && g.status != http.StatusOK {
		rw.WriteHeader(g.status)
		io.WriteString(rw, g.reply)
		return
	}
	if g.reply != "" {
		io.WriteString(rw, g.reply)
		return
	}
	json.NewEncoder(rw).Encode(map[string]any{
		"messaging_product": "whatsapp",
		"messages":          []map[string]string{{"id": "wamid.out" + strings.Repeat("x", n)}},
	})
}

func newTestClient(t *testing.T, g *fakeGraph, ninth bool) *Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(g.handler))
	t.Cleanup(srv.Close)

	ch := domain.ChannelConfig{PhoneNumberID: "P1", AccessToken: "tok-1"}
	return NewClient(ch, ClientOptions{
		APIBase:          srv.URL,
		APIVersion:       "v21.0",
		HTTPClient:       srv.Client(),
		BrazilNinthDigit: ninth,
		Logger:           testLogger(),
	})
}

func TestClient_SendText(t *testing.T) {
	g := &fakeGraph{}
	c := newTestClient(t, g, false)

	res, err := c.SendText(context.Background(), "15550001111", "hello")
	if err != nil {
		t.Fatalf("SendText: %v", err)
	}
	if len(res.MessageIDs) != 1 || res.MessageIDs[0] != "wamid.outx" {
		t.Errorf("message ids = %v", res.MessageIDs)
	}

	if len(g.calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(g.calls))
	}
	call := g.calls[0]
	if call.Method != http.MethodPost || call.Path != "/v21.0/P1/messages" {
		t.Errorf("unexpected request %s %s", call.Method, call.Path)
	}
	if call.Auth != "Bearer tok-1" {
		t.Errorf("authorization = %q", call.Auth)
	}
	if call.Body["messaging_product"] != "whatsapp" || call.Body["recipient_type"] != "individual" {
		t.Errorf("unexpected envelope %v", call.Body)
	}
	if call.Body["to"] != "15550001111" || call.Body["type"] != "text" {
		t.Errorf("unexpected addressing %v", call.Body)
	}
	text, _ := call.Body["text"].(map[string]any)
	if text["body"] != "hello" {
		t.Errorf("text body = %v", text["body"])
	}
}

func TestClient_SendText_SplitsLongBody(t *testing.T) {
	g := &fakeGraph{}
	c := newTestClient(t, g, false)

	body := strings.Repeat("a", MaxTextLen) + strings.Repeat("b", 10)
	res, err := c.SendText(context.Background(), "15550001111", body)
	if err != nil {
		t.Fatalf("SendText: %v", err)
	}
	if len(g.calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(g.calls))
	}
	if len(res.MessageIDs) != 2 {
		t.Errorf("expected 2 message ids, got %v", res.MessageIDs)
	}
	second, _ := g.calls[1].Body["text"].(map[string]any)
	if second["body"] != strings.Repeat("b", 10) {
		t.Errorf("second part = %v", second["body"])
	}
}

func TestClient_SendText_BrazilNinthDigit(t *testing.T) {
	g := &fakeGraph{}
	c := newTestClient(t, g, true)

	if _, err := c.SendText(context.Background(), "551188887777", "oi"); err != nil {
		t.Fatalf("SendText: %v", err)
	}
	if got := g.calls[0].Body["to"]; got != "5511988887777" {
		t.Errorf("to = %v", got)
	}
}

func TestClient_SendText_APIError(t *testing.T) {
	g := &fakeGraph{
		status: http.StatusUnauthorized,
		reply:  `{"error":{"message":"Invalid OAuth access token.","type":"OAuthException","code":190}}`,
	}
	c := newTestClient(t, g, false)

	_, err := c.SendText(context.Background(), "15550001111", "hello")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %v", err)
	}
	if apiErr.Status != http.StatusUnauthorized || apiErr.Code != 190 {
		t.Errorf("unexpected error %+v", apiErr)
	}
	if !strings.Contains(apiErr.Error(), "Invalid OAuth access token.") {
		t.Errorf("error text = %q", apiErr.Error())
	}
}

func TestClient_SendText_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	c := NewClient(domain.ChannelConfig{PhoneNumberID: "P1"}, ClientOptions{APIBase: base, Logger: testLogger()})
	_, err := c.SendText(context.Background(), "1555", "hello")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %v", err)
	}
	if apiErr.Status != 0 {
		t.Errorf("expected no status, got %d", apiErr.Status)
	}
}

func TestClient_FetchProfile(t *testing.T) {
	g := &fakeGraph{reply: `{"data":[{"about":"Hiring!","email":"jobs@example.com","websites":["https://example.com"],"messaging_product":"whatsapp"}]}`}
	c := newTestClient(t, g, false)

	p, err := c.FetchProfile(context.Background())
	if err != nil {
		t.Fatalf("FetchProfile: %v", err)
	}
	if p.About != "Hiring!" || p.Email != "jobs@example.com" || len(p.Websites) != 1 {
		t.Errorf("unexpected profile %+v", p)
	}

	call := g.calls[0]
	if call.Method != http.MethodGet || call.Path != "/v21.0/P1/whatsapp_business_profile" {
		t.Errorf("unexpected request %s %s", call.Method, call.Path)
	}
	if !strings.Contains(call.Query, "fields=about,address,description,email,profile_picture_url,websites") {
		t.Errorf("query = %q", call.Query)
	}
}

func TestMessengers_BuildsClientPerChannel(t *testing.T) {
	factory := Messengers(ClientOptions{Logger: testLogger()})
	m := factory(domain.ChannelConfig{PhoneNumberID: "P9"})
	c, ok := m.(*Client)
	if !ok {
		t.Fatalf("expected *Client, got %T", m)
	}
	if c.ch.PhoneNumberID != "P9" {
		t.Errorf("channel = %s", c.ch.PhoneNumberID)
	}
	if c.base != defaultAPIBase+"/"+defaultAPIVersion {
		t.Errorf("base = %s", c.base)
	}
}

func TestSplitMessage_Short(t *testing.T) {
	chunks := SplitMessage("short message", 100)
	if len(chunks) != 1 || chunks[0] != "short message" {
		t.Errorf("unexpected chunks %q", chunks)
	}
}

func TestSplitMessage_Long(t *testing.T) {
	long := strings.Repeat("word ", 100)
	chunks := SplitMessage(long, 50)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if utf8.RuneCountInString(c) > 50 {
			t.Errorf("chunk %d too long: %d", i, len(c))
		}
	}
	if strings.Join(chunks, "") != long {
		t.Error("chunks do not reassemble the message")
	}
}

func TestSplitMessage_PrefersNewline(t *testing.T) {
	msg := strings.Repeat("a", 40) + "\n" + strings.Repeat("b", 40)
	chunks := SplitMessage(msg, 50)
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if chunks[0] != strings.Repeat("a", 40)+"\n" {
		t.Errorf("first chunk = %q", chunks[0])
	}
}

func TestSplitMessage_MultiByte(t *testing.T) {
	msg := strings.Repeat("é", 120)
	chunks := SplitMessage(msg, 50)
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	for _, c := range chunks {
		if !utf8.ValidString(c) {
			t.Errorf("chunk split inside a rune: %q", c)
		}
	}
}

func TestSplitMessage_Empty(t *testing.T) {
	chunks := SplitMessage("", 100)
	if len(chunks) != 1 || chunks[0] != "" {
		t.Errorf("unexpected chunks %q", chunks)
	}
}

func TestNormalizeRecipient(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"551188887777", "5511988887777"},  // missing ninth digit
		{"5511988887777", "5511988887777"}, // already 13 digits
		{"15550001111", "15550001111"},     // not Brazil
		{"441188887777", "441188887777"},   // 12 digits, other country
		{"55118888777a", "55118888777a"},   // not numeric
	}
	for _, tt := range tests {
		if got := NormalizeRecipient(tt.in); got != tt.want {
			t.Errorf("NormalizeRecipient(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
