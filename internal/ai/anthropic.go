package ai

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"golang.org/x/sync/semaphore"
)

// ModelDefault is used when no model is configured.
const ModelDefault = "claude-sonnet-4-5-20250929"

// AnthropicConfig holds synthesizer configuration
type AnthropicConfig struct {
	APIKey    string // if empty, reads ANTHROPIC_API_KEY
	Model     string
	MaxTokens int
	Retry     RetryConfig // uses defaults if MaxRetries is 0
	// MaxConcurrentCalls bounds in-flight API calls across workers (default: 2)
	MaxConcurrentCalls int
	Logger             *slog.Logger
	// Options are passed through to the client, e.g. a base URL in tests.
	Options []option.RequestOption
}

// AnthropicSynthesizer asks a model to write the missing file.
type AnthropicSynthesizer struct {
	client    *anthropic.Client
	model     string
	maxTokens int
	retry     RetryConfig
	sem       *semaphore.Weighted
	logger    *slog.Logger
}

var _ Synthesizer = (*AnthropicSynthesizer)(nil)

// NewAnthropicSynthesizer creates a model-backed synthesizer
func NewAnthropicSynthesizer(cfg AnthropicConfig) (*AnthropicSynthesizer, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY not set")
		}
	}
	model := cfg.Model
	if model == "" {
		model = ModelDefault
	}
	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}
	retry := cfg.Retry
	if retry.MaxRetries == 0 {
		retry = DefaultRetryConfig()
	}
	calls := cfg.MaxConcurrentCalls
	if calls <= 0 {
		calls = 2
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	opts := append([]option.RequestOption{option.WithAPIKey(apiKey)}, cfg.Options...)
	client := anthropic.NewClient(opts...)

	return &AnthropicSynthesizer{
		client:    &client,
		model:     model,
		maxTokens: maxTokens,
		retry:     retry,
		sem:       semaphore.NewWeighted(int64(calls)),
		logger:    logger,
	}, nil
}

// Name implements Synthesizer.
func (s *AnthropicSynthesizer) Name() string {
	return "anthropic:" + s.model
}

// Synthesize implements Synthesizer.
func (s *AnthropicSynthesizer) Synthesize(ctx context.Context, req Requirement) ([]byte, error) {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("failed to acquire synthesis slot: %w", err)
	}
	defer s.sem.Release(1)

	startTime := time.Now()
	prompt := buildSynthesisPrompt(req)

	var response *anthropic.Message
	err := retryWithBackoff(ctx, s.retry, s.logger, "synthesis", func(attemptCtx context.Context) error {
		resp, apiErr := s.client.Messages.New(attemptCtx, anthropic.MessageNewParams{
			Model:     anthropic.Model(s.model),
			MaxTokens: int64(s.maxTokens),
			Messages: []anthropic.MessageParam{
				anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
			},
		})
		if apiErr != nil {
			return apiErr
		}
		response = resp
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("anthropic API call failed: %w", err)
	}

	var text strings.Builder
	for _, block := range response.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	s.logger.Debug("synthesized file",
		"path", req.Path,
		"input_tokens", response.Usage.InputTokens,
		"output_tokens", response.Usage.OutputTokens,
		"duration", time.Since(startTime))

	code := extractCode(text.String())
	if strings.TrimSpace(code) == "" {
		return nil, fmt.Errorf("%w: %s", ErrEmptySynthesis, req.Path)
	}
	if !strings.HasSuffix(code, "\n") {
		code += "\n"
	}
	return []byte(code), nil
}

func buildSynthesisPrompt(req Requirement) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Write the complete contents of the source file %s (%s language, %s component).\n",
		req.Path, req.Language(), req.Category)
	if req.ReferencedFrom != "" {
		fmt.Fprintf(&b, "It is imported by %s", req.ReferencedFrom)
		if len(req.Symbols) > 0 {
			fmt.Fprintf(&b, ", which uses: %s", strings.Join(req.Symbols, ", "))
		}
		b.WriteString(".\n")
	}
	b.WriteString("Every name listed must be defined with a working implementation. ")
	b.WriteString("Do not leave placeholders, stubs or unimplemented bodies. ")
	b.WriteString("Respond with only the file contents in a single fenced code block.\n")
	return b.String()
}

var codeFenceRegex = regexp.MustCompile("(?s)```[\\w+-]*[ \\t]*\\n?(.*?)\\n?```")

// extractCode returns the first fenced block, or the whole response when
// there is no fence.
func extractCode(text string) string {
	if m := codeFenceRegex.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	return strings.TrimSpace(text)
}
