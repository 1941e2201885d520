package pastexam

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/Rrens/zyra/internal/config"
)

const (
	DefaultLimit = 10
	MaxLimit     = 40
)

// Query filters past-exam questions
type Query struct {
	Subject string `validate:"required,max=64"`
	Year    string `validate:"omitempty,numeric,len=4"`
	Type    string `validate:"omitempty,max=32"`
	Limit   int    `validate:"gte=0,lte=40"`
}

// Option is one answer choice
type Option struct {
	Key  string `json:"key"`
	Text string `json:"text"`
}

// Question is a past-exam question in the shape served to clients
type Question struct {
	ID          string   `json:"id"`
	Subject     string   `json:"subject"`
	Question    string   `json:"question"`
	Options     []Option `json:"options"`
	Answer      string   `json:"answer"`
	Explanation string   `json:"explanation,omitempty"`
	Section     string   `json:"section,omitempty"`
	Image       string   `json:"image,omitempty"`
	ExamType    string   `json:"exam_type,omitempty"`
	Year        string   `json:"year,omitempty"`
}

// Client fetches questions from the upstream question bank
type Client struct {
	baseURL     string
	accessToken string
	client      *http.Client
}

// NewClient creates a past-exam client
func NewClient(cfg config.PastExamConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		accessToken: cfg.AccessToken,
		client:      &http.Client{Timeout: timeout},
	}
}

// IsConfigured reports whether an access token is set
func (c *Client) IsConfigured() bool {
	return c.accessToken != ""
}

// Fetch returns up to q.Limit questions for a subject
func (c *Client) Fetch(ctx context.Context, q Query) ([]Question, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	params := url.Values{}
	params.Set("subject", strings.ToLower(q.Subject))
	if q.Year != "" {
		params.Set("year", q.Year)
	}
	if q.Type != "" {
		params.Set("type", strings.ToLower(q.Type))
	}

	endpoint := fmt.Sprintf("%s/api/v2/m/%d?%s", c.baseURL, limit, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("AccessToken", c.accessToken)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch questions: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("question bank returned status %d: %s", resp.StatusCode, upstreamMessage(body))
	}

	var envelope struct {
		Subject string          `json:"subject"`
		Data    json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	items, err := decodeItems(envelope.Data)
	if err != nil {
		return nil, err
	}

	subject := envelope.Subject
	if subject == "" {
		subject = strings.ToLower(q.Subject)
	}

	questions := make([]Question, 0, len(items))
	for _, it := range items {
		questions = append(questions, it.toQuestion(subject))
	}
	return questions, nil
}

type rawItem struct {
	ID       flexString        `json:"id"`
	Question string            `json:"question"`
	Option   map[string]string `json:"option"`
	Answer   string            `json:"answer"`
	Solution string            `json:"solution"`
	Section  string            `json:"section"`
	Image    string            `json:"image"`
	ExamType string            `json:"examtype"`
	ExamYear flexString        `json:"examyear"`
}

func (it rawItem) toQuestion(subject string) Question {
	keys := make([]string, 0, len(it.Option))
	for k, v := range it.Option {
		if strings.TrimSpace(v) != "" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	options := make([]Option, 0, len(keys))
	for _, k := range keys {
		options = append(options, Option{Key: strings.ToLower(k), Text: strings.TrimSpace(it.Option[k])})
	}

	return Question{
		ID:          string(it.ID),
		Subject:     subject,
		Question:    strings.TrimSpace(it.Question),
		Options:     options,
		Answer:      strings.ToLower(strings.TrimSpace(it.Answer)),
		Explanation: strings.TrimSpace(it.Solution),
		Section:     strings.TrimSpace(it.Section),
		Image:       it.Image,
		ExamType:    it.ExamType,
		Year:        string(it.ExamYear),
	}
}

// decodeItems accepts both a list and the single-object form
func decodeItems(data json.RawMessage) ([]rawItem, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, nil
	}

	if data[0] == '{' {
		var one rawItem
		if err := json.Unmarshal(data, &one); err != nil {
			return nil, fmt.Errorf("failed to decode question: %w", err)
		}
		return []rawItem{one}, nil
	}

	var many []rawItem
	if err := json.Unmarshal(data, &many); err != nil {
		return nil, fmt.Errorf("failed to decode questions: %w", err)
	}
	return many, nil
}

// flexString decodes a JSON string or number into a string
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

func upstreamMessage(body []byte) string {
	var parsed struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil {
		if parsed.Message != "" {
			return parsed.Message
		}
		if parsed.Error != "" {
			return parsed.Error
		}
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	if msg == "" {
		msg = http.StatusText(http.StatusBadGateway)
	}
	return msg
}

// ParseLimit reads a limit query parameter, returning 0 when absent or invalid
func ParseLimit(raw string) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n < 0 {
		return 0
	}
	return n
}
