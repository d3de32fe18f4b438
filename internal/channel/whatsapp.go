// Package channel implements the WhatsApp Business Cloud API side of the
// pipeline: webhook authentication, payload validation, the webhook HTTP
// handler and the outbound messaging client.
package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"unicode/utf8"

	"recruitmate/internal/domain"
)

const (
	defaultAPIBase    = "https://graph.facebook.com"
	defaultAPIVersion = "v21.0"

	// MaxTextLen is the Cloud API limit for a text message body.
	MaxTextLen = 4096

	profileFields = "about,address,description,email,profile_picture_url,websites"
)

// APIError is returned for every failed Cloud API call. Status is zero when
// the request never got a response.
type APIError struct {
	Status  int
	Code    int    // Graph API error code, when present
	Message string // Graph API error message or transport error
	Body    string // raw response body
}

func (e *APIError) Error() string {
	if e.Status == 0 {
		return "whatsapp API unreachable: " + e.Message
	}
	if e.Message != "" {
		return fmt.Sprintf("whatsapp API %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("whatsapp API %d: %s", e.Status, e.Body)
}

// ClientOptions are shared by the clients of every channel.
type ClientOptions struct {
	APIBase          string
	APIVersion       string
	HTTPClient       *http.Client
	BrazilNinthDigit bool
	Logger           *slog.Logger
}

// Client talks to the Cloud API on behalf of one channel.
type Client struct {
	ch     domain.ChannelConfig
	base   string
	client *http.Client
	ninth  bool
	logger *slog.Logger
}

func NewClient(ch domain.ChannelConfig, opts ClientOptions) *Client {
	if opts.APIBase == "" {
		opts.APIBase = defaultAPIBase
	}
	if opts.APIVersion == "" {
		opts.APIVersion = defaultAPIVersion
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	return &Client{
		ch:     ch,
		base:   strings.TrimRight(opts.APIBase, "/") + "/" + opts.APIVersion,
		client: opts.HTTPClient,
		ninth:  opts.BrazilNinthDigit,
		logger: opts.Logger,
	}
}

// Messengers returns a factory building a Client per channel.
func Messengers(opts ClientOptions) func(domain.ChannelConfig) domain.Messenger {
	return func(ch domain.ChannelConfig) domain.Messenger {
		return NewClient(ch, opts)
	}
}

type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

// SendText delivers body to the peer. Bodies over MaxTextLen go out as
// several messages; the first failure stops the rest.
func (c *Client) SendText(ctx context.Context, to, body string) (*domain.SendResult, error) {
	if c.ninth {
		to = NormalizeRecipient(to)
	}

	result := &domain.SendResult{}
	for _, part := range SplitMessage(body, MaxTextLen) {
		payload := map[string]any{
			"messaging_product": "whatsapp",
			"recipient_type":    "individual",
			"to":                to,
			"type":              "text",
			"text":              map[string]string{"body": part},
		}

		var resp sendResponse
		if err := c.do(ctx, http.MethodPost, c.base+"/"+c.ch.PhoneNumberID+"/messages", payload, &resp); err != nil {
			return result, err
		}
		for _, m := range resp.Messages {
			result.MessageIDs = append(result.MessageIDs, m.ID)
		}
	}
	return result, nil
}

// BusinessProfile is the public profile of the channel's phone number.
type BusinessProfile struct {
	About             string   `json:"about"`
	Address           string   `json:"address"`
	Description       string   `json:"description"`
	Email             string   `json:"email"`
	ProfilePictureURL string   `json:"profile_picture_url"`
	Websites          []string `json:"websites"`
}

func (c *Client) FetchProfile(ctx context.Context) (*BusinessProfile, error) {
	var resp struct {
		Data []BusinessProfile `json:"data"`
	}
	url := c.base + "/" + c.ch.PhoneNumberID + "/whatsapp_business_profile?fields=" + profileFields
	if err := c.do(ctx, http.MethodGet, url, nil, &resp); err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return &BusinessProfile{}, nil
	}
	return &resp.Data[0], nil
}

// do performs one API call. Every failure comes back as *APIError.
func (c *Client) do(ctx context.Context, method, url string, payload any, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return &APIError{Message: "marshal: " + err.Error()}
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return &APIError{Message: "build request: " + err.Error()}
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+c.ch.AccessToken)

	resp, err := c.client.Do(req)
	if err != nil {
		return &APIError{Message: err.Error()}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode, Body: string(respBody)}
		var graph struct {
			Error struct {
				Message string `json:"message"`
				Code    int    `json:"code"`
			} `json:"error"`
		}
		if json.Unmarshal(respBody, &graph) == nil {
			apiErr.Message = graph.Error.Message
			apiErr.Code = graph.Error.Code
		}
		c.logger.Warn("whatsapp API call failed",
			"status", resp.StatusCode,
			"code", apiErr.Code,
			"phone_number_id", c.ch.PhoneNumberID,
		)
		return apiErr
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return &APIError{Status: resp.StatusCode, Message: "decode: " + err.Error(), Body: string(respBody)}
		}
	}
	return nil
}

// SplitMessage cuts msg into chunks of at most maxLen characters, preferring
// a newline in the second half of each chunk.
func SplitMessage(msg string, maxLen int) []string {
	if utf8.RuneCountInString(msg) <= maxLen {
		return []string{msg}
	}

	runes := []rune(msg)
	var chunks []string
	for len(runes) > 0 {
		if len(runes) <= maxLen {
			chunks = append(chunks, string(runes))
			break
		}

		cut := maxLen
		for i := maxLen - 1; i > maxLen/2; i-- {
			if runes[i] == '\n' {
				cut = i + 1
				break
			}
		}

		chunks = append(chunks, string(runes[:cut]))
		runes = runes[cut:]
	}
	return chunks
}

// NormalizeRecipient adds the mobile ninth digit to Brazilian numbers that
// arrive without it: 55 + two-digit area code + eight digits becomes
// 55 + area code + 9 + eight digits. Other numbers are returned unchanged.
func NormalizeRecipient(to string) string {
	if len(to) != 12 || !strings.HasPrefix(to, "55") {
		return to
	}
	for _, r := range to {
		if r < '0' || r > '9' {
			return to
		}
	}
	return to[:4] + "9" + to[4:]
}
