package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	openai "github.com/sashabaranov/go-openai"
)

// ErrSchemaAttempts is returned when the model keeps producing output that
// fails the declared schema after the bounded re-prompt loop.
var ErrSchemaAttempts = errors.New("chat: llm output failed schema validation after all attempts")

// defaultSchemaAttempts bounds the re-prompt loop for schema-constrained calls.
const defaultSchemaAttempts = 3

// chatClient is the capability we need from the OpenAI SDK. Tests inject
// scripted implementations.
type chatClient interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

var llmLatency = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "apptbooking",
		Subsystem: "chat",
		Name:      "llm_latency_seconds",
		Help:      "Latency of LLM completions",
		Buckets:   []float64{0.25, 0.5, 1, 2, 3, 4, 5, 6, 8, 10, 15, 20, 30},
	},
	[]string{"purpose", "status"},
)

var llmSchemaRetriesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "apptbooking",
		Subsystem: "chat",
		Name:      "llm_schema_retries_total",
		Help:      "Re-prompts issued because LLM output failed the schema",
	},
	[]string{"purpose"},
)

func init() {
	prometheus.MustRegister(llmLatency)
	prometheus.MustRegister(llmSchemaRetriesTotal)
}

// RegisterMetrics registers chat metrics with a custom registry.
func RegisterMetrics(reg prometheus.Registerer) {
	if reg == nil || reg == prometheus.DefaultRegisterer {
		return
	}
	reg.MustRegister(llmLatency, llmSchemaRetriesTotal)
}

// llmCaller wraps the chat client with the model name, call timeout, and
// the schema-validation retry policy shared by all structured calls.
type llmCaller struct {
	client   chatClient
	model    string
	timeout  time.Duration
	attempts int
}

func newLLMCaller(client chatClient, model string, timeout time.Duration, attempts int) *llmCaller {
	if client == nil {
		panic("chat: llm client required")
	}
	if model == "" {
		model = "gpt-4o"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if attempts <= 0 {
		attempts = defaultSchemaAttempts
	}
	return &llmCaller{client: client, model: model, timeout: timeout, attempts: attempts}
}

// complete runs a plain (unconstrained) completion.
func (c *llmCaller) complete(ctx context.Context, purpose, system string, history []openai.ChatCompletionMessage) (string, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(history)+1)
	if system != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}
	messages = append(messages, history...)

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	resp, err := c.client.CreateChatCompletion(callCtx, openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: 0.7,
	})
	status := "ok"
	if err != nil {
		status = "error"
	}
	llmLatency.WithLabelValues(purpose, status).Observe(time.Since(start).Seconds())
	if err != nil {
		return "", fmt.Errorf("chat: %s completion failed: %w", purpose, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat: %s completion returned no choices", purpose)
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// completeJSON runs a schema-constrained completion: the reply must decode
// into out and pass check. A malformed reply triggers a re-prompt carrying
// an explicit correction notice; the loop is bounded by c.attempts and
// exhaustion surfaces ErrSchemaAttempts.
func (c *llmCaller) completeJSON(ctx context.Context, purpose, system string, history []openai.ChatCompletionMessage, out any, check func() error) error {
	messages := make([]openai.ChatCompletionMessage, 0, len(history)+1+2*c.attempts)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: system,
	})
	messages = append(messages, history...)

	var lastErr error
	for attempt := 0; attempt < c.attempts; attempt++ {
		if attempt > 0 {
			llmSchemaRetriesTotal.WithLabelValues(purpose).Inc()
		}

		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		start := time.Now()
		resp, err := c.client.CreateChatCompletion(callCtx, openai.ChatCompletionRequest{
			Model:       c.model,
			Messages:    messages,
			Temperature: 0,
			ResponseFormat: &openai.ChatCompletionResponseFormat{
				Type: openai.ChatCompletionResponseFormatTypeJSONObject,
			},
		})
		cancel()
		status := "ok"
		if err != nil {
			status = "error"
		}
		llmLatency.WithLabelValues(purpose, status).Observe(time.Since(start).Seconds())
		if err != nil {
			// Transport errors are not schema failures; no point re-prompting.
			return fmt.Errorf("chat: %s completion failed: %w", purpose, err)
		}
		if len(resp.Choices) == 0 {
			return fmt.Errorf("chat: %s completion returned no choices", purpose)
		}

		raw := strings.TrimSpace(resp.Choices[0].Message.Content)
		if err := decodeInto(raw, out); err != nil {
			lastErr = err
		} else if err := check(); err != nil {
			lastErr = err
		} else {
			return nil
		}

		messages = append(messages,
			openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: raw},
			openai.ChatCompletionMessage{
				Role: openai.ChatMessageRoleUser,
				Content: fmt.Sprintf(
					"Your previous reply was rejected: %v. Respond again with ONLY a JSON object matching the requested schema. Dates must use YYYY-MM-DD and times 24-hour HH:mm.",
					lastErr,
				),
			},
		)
	}
	return fmt.Errorf("chat: %s after %d attempts (%v): %w", purpose, c.attempts, lastErr, ErrSchemaAttempts)
}

// decodeInto strips markdown fences, pulls out the outermost JSON object,
// and unmarshals it. Models occasionally wrap JSON in prose despite the
// response format hint.
func decodeInto(raw string, out any) error {
	// json.Unmarshal leaves fields absent from the payload untouched, so a
	// re-prompted decode must start from the zero value or state from the
	// rejected attempt leaks into the corrected one.
	v := reflect.ValueOf(out).Elem()
	v.Set(reflect.Zero(v.Type()))

	text := strings.TrimSpace(raw)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "{") {
		start := strings.Index(text, "{")
		end := strings.LastIndex(text, "}")
		if start >= 0 && end > start {
			text = text[start : end+1]
		}
	}
	if err := json.Unmarshal([]byte(text), out); err != nil {
		return fmt.Errorf("not valid JSON: %w", err)
	}
	return nil
}
