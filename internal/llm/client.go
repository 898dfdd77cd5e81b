package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"google.golang.org/genai"
)

// Role tags a message in a generation request.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one role-tagged entry of a prompt.
type Message struct {
	Role Role   `json:"role"`
	Text string `json:"content"`
}

// Request is the normalized request sent to a generation backend.
type Request struct {
	// Purpose labels the call for metrics and traces (grade, respond, report).
	Purpose     string        `json:"-"`
	Messages    []Message     `json:"messages"`
	Temperature *float32      `json:"temperature,omitempty"`
	JSON        bool          `json:"json,omitempty"`
	Schema      *genai.Schema `json:"response_schema,omitempty"`
}

// DeltaHandler receives streaming text fragments in production order.
// Returning an error terminates the stream.
type DeltaHandler func(delta string) error

// Client is the language-generation capability used by the interview stages.
type Client interface {
	Generate(ctx context.Context, req Request) (string, error)
	// GenerateStream returns the text accumulated so far even when it fails.
	GenerateStream(ctx context.Context, req Request, onDelta DeltaHandler) (string, error)
}

var ErrGeneration = errors.New("generation failed")

// Error wraps an upstream failure. It matches ErrGeneration with errors.Is.
type Error struct {
	Provider string
	Status   int
	Message  string
	Err      error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Status != 0 {
		return fmt.Sprintf("%s: status %d: %s", e.Provider, e.Status, msg)
	}
	return fmt.Sprintf("%s: %s", e.Provider, msg)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool { return target == ErrGeneration }

func (e *Error) HTTPStatus() int { return e.Status }

func wrapError(provider string, err error) error {
	if err == nil {
		return nil
	}
	var ge *Error
	if errors.As(err, &ge) {
		return err
	}
	return &Error{Provider: provider, Err: err}
}

// Config controls client construction.
type Config struct {
	Mode             string
	GeminiAPIKey     string
	GeminiBaseURL    string
	Model            string
	HTTPURL          string
	HTTPStreamStrict bool
	RequestTimeout   time.Duration
	// FirstDeltaTimeout lets auto mode abandon a silent primary stream.
	FirstDeltaTimeout time.Duration
	Retry             RetryPolicy
	Logger            *log.Logger
}

// NewClient builds the configured backend wrapped with retries and tracing.
func NewClient(ctx context.Context, cfg Config) (Client, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	var (
		base Client
		err  error
	)
	switch mode {
	case "auto":
		base, err = newAutoClient(ctx, cfg)
	case "gemini":
		if strings.TrimSpace(cfg.GeminiAPIKey) == "" {
			return nil, errors.New("gemini API key is required for gemini mode")
		}
		base, err = NewGeminiClient(ctx, cfg)
	case "http":
		if strings.TrimSpace(cfg.HTTPURL) == "" {
			return nil, errors.New("llm HTTP url is required for http mode")
		}
		base = NewHTTPClient(cfg.HTTPURL, cfg.RequestTimeout, cfg.HTTPStreamStrict)
	case "mock":
		base = NewMockClient()
	default:
		return nil, fmt.Errorf("unsupported llm mode %q", cfg.Mode)
	}
	if err != nil {
		return nil, err
	}

	model := cfg.Model
	if _, ok := base.(*MockClient); ok {
		model = "mock"
	}
	return NewTracedClient(NewRetryClient(base, cfg.Retry, cfg.Logger), model), nil
}

func newAutoClient(ctx context.Context, cfg Config) (Client, error) {
	var secondary Client = NewMockClient()
	if strings.TrimSpace(cfg.HTTPURL) != "" {
		secondary = NewHTTPClient(cfg.HTTPURL, cfg.RequestTimeout, cfg.HTTPStreamStrict)
	}

	if strings.TrimSpace(cfg.GeminiAPIKey) == "" {
		return secondary, nil
	}
	primary, err := NewGeminiClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if _, ok := secondary.(*MockClient); ok {
		// Never answer a real interview with canned mock text.
		return primary, nil
	}
	return NewFallbackClient(primary, secondary).WithFirstDeltaTimeout(cfg.FirstDeltaTimeout), nil
}
