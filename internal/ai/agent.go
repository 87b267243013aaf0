package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	streamModeValues   = "values"
	multitaskInterrupt = "interrupt"
	ifNotExistsCreate  = "create"
)

// Agent invokes a LangGraph deployment. It keeps no per-conversation state;
// the graph owns memory keyed by thread id.
type Agent struct {
	baseURL     string
	assistantID string
	apiKey      string
	graphConfig map[string]any
	http        *http.Client
	logger      *zap.Logger
}

func NewAgent(baseURL, assistantID, apiKey string, graphConfig map[string]any, logger *zap.Logger) *Agent {
	if graphConfig == nil {
		graphConfig = map[string]any{}
	}
	return &Agent{
		baseURL:     strings.TrimRight(baseURL, "/"),
		assistantID: assistantID,
		apiKey:      apiKey,
		graphConfig: graphConfig,
		// Runs stream for as long as the graph works; callers bound it with ctx.
		http:   &http.Client{},
		logger: logger,
	}
}

// Image is an image content part in the OpenAI-style shape the graph expects.
type Image struct {
	ImageURL ImageURL `json:"image_url"`
}

type ImageURL struct {
	URL string `json:"url"`
}

// --- LangGraph API types ---

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

type inputMessage struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type runInput struct {
	Messages []inputMessage `json:"messages"`
}

type runRequest struct {
	AssistantID       string            `json:"assistant_id"`
	Input             runInput          `json:"input"`
	Config            map[string]any    `json:"config"`
	Metadata          map[string]string `json:"metadata"`
	MultitaskStrategy string            `json:"multitask_strategy"`
	IfNotExists       string            `json:"if_not_exists"`
	StreamMode        string            `json:"stream_mode"`
}

type stateMessage struct {
	Type    string          `json:"type"`
	Content json.RawMessage `json:"content"`
}

type stateValues struct {
	Messages []stateMessage `json:"messages"`
}

type streamError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// ThreadID derives a stable thread id from the sender address so every
// message from one sender lands on the same graph thread.
func ThreadID(id string) string {
	return uuid.NewSHA1(uuid.NameSpaceDNS, []byte(id)).String()
}

// Invoke runs the graph on one user message and returns the content of the
// final message: a string, a JSON object or a list of content blocks.
func (a *Agent) Invoke(ctx context.Context, id, userMessage string, images []Image) (any, error) {
	threadID := ThreadID(id)
	a.logger.Info("invoking agent",
		zap.String("thread_id", threadID),
		zap.Int("images", len(images)),
	)

	content := make([]contentPart, 0, 1+len(images))
	if userMessage != "" {
		content = append(content, contentPart{Type: "text", Text: userMessage})
	}
	for _, img := range images {
		if img.ImageURL.URL == "" {
			continue
		}
		content = append(content, contentPart{Type: "image_url", ImageURL: &ImageURL{URL: img.ImageURL.URL}})
	}

	body, err := json.Marshal(runRequest{
		AssistantID:       a.assistantID,
		Input:             runInput{Messages: []inputMessage{{Role: "user", Content: content}}},
		Config:            a.graphConfig,
		Metadata:          map[string]string{"event": "api_call"},
		MultitaskStrategy: multitaskInterrupt,
		IfNotExists:       ifNotExistsCreate,
		StreamMode:        streamModeValues,
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling run request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/threads/%s/runs/stream", a.baseURL, url.PathEscape(threadID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if a.apiKey != "" {
		req.Header.Set("x-api-key", a.apiKey)
	}

	resp, err := a.http.Do(req)
	if err != nil {
		return nil, classifyTransport(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return nil, &Error{Type: ErrUpstream, Status: resp.StatusCode, Message: strings.TrimSpace(string(respBody))}
	}

	var last *stateValues
	err = ReadSSE(resp.Body, func(ev SSEEvent) error {
		switch ev.Event {
		case "values":
			var v stateValues
			if err := json.Unmarshal([]byte(ev.Data), &v); err != nil {
				a.logger.Debug("skipping undecodable values event", zap.Error(err))
				return nil
			}
			if len(v.Messages) > 0 {
				last = &v
			}
		case "error":
			var se streamError
			if err := json.Unmarshal([]byte(ev.Data), &se); err != nil || (se.Error == "" && se.Message == "") {
				return &Error{Type: ErrStream, Message: ev.Data}
			}
			return &Error{Type: ErrStream, Message: joinNonEmpty(": ", se.Error, se.Message)}
		}
		return nil
	})
	if err != nil {
		var agentErr *Error
		if errors.As(err, &agentErr) {
			return nil, agentErr
		}
		return nil, classifyTransport(err)
	}

	if last == nil {
		return nil, &Error{Type: ErrEmptyReply, Message: "run produced no messages"}
	}

	final := last.Messages[len(last.Messages)-1]
	var reply any
	if len(final.Content) == 0 {
		return "", nil
	}
	if err := json.Unmarshal(final.Content, &reply); err != nil {
		return nil, &Error{Type: ErrStream, Message: "decoding final message content", Err: err}
	}
	return reply, nil
}

func joinNonEmpty(sep string, parts ...string) string {
	var out []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, sep)
}
