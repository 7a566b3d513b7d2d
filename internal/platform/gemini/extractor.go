package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"text/template"
	"time"

	"github.com/phrazzld/mailpipe/internal/domain"
	"github.com/phrazzld/mailpipe/internal/platform/logger"
	"github.com/spf13/afero"
	"google.golang.org/genai"
)

// Configuration errors.
var (
	ErrInvalidConfig = errors.New("invalid gemini configuration")
	ErrEmptyDocument = errors.New("structured document cannot be empty")
)

// Config contains the settings of an Extractor.
type Config struct {
	APIKey  string
	Model   string
	Timeout time.Duration
}

// contentGenerator is the subset of genai.Models used by the Extractor.
type contentGenerator interface {
	GenerateContent(
		ctx context.Context,
		model string,
		contents []*genai.Content,
		config *genai.GenerateContentConfig,
	) (*genai.GenerateContentResponse, error)
}

// Extractor implements task.Extractor using Gemini.
type Extractor struct {
	generator contentGenerator
	templates afero.Fs
	model     string
	timeout   time.Duration
	logger    *slog.Logger
}

// promptData is the data passed to extraction templates.
type promptData struct {
	Document string
	Source   string
	TaskID   string
}

// NewExtractor creates an Extractor that reads templates from templates.
func NewExtractor(ctx context.Context, cfg Config, templates afero.Fs, log *slog.Logger) (*Extractor, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: gemini API key cannot be empty", ErrInvalidConfig)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create Gemini client: %v", ErrInvalidConfig, err)
	}

	return newExtractor(client.Models, cfg, templates, log)
}

func newExtractor(gen contentGenerator, cfg Config, templates afero.Fs, log *slog.Logger) (*Extractor, error) {
	switch {
	case gen == nil:
		return nil, fmt.Errorf("%w: content generator cannot be nil", ErrInvalidConfig)
	case cfg.Model == "":
		return nil, fmt.Errorf("%w: model name cannot be empty", ErrInvalidConfig)
	case templates == nil:
		return nil, fmt.Errorf("%w: template filesystem cannot be nil", ErrInvalidConfig)
	case log == nil:
		return nil, fmt.Errorf("%w: logger cannot be nil", ErrInvalidConfig)
	}

	return &Extractor{
		generator: gen,
		templates: templates,
		model:     cfg.Model,
		timeout:   cfg.Timeout,
		logger:    log.With(slog.String("component", "gemini_extractor")),
	}, nil
}

// Extract implements task.Extractor. Every failure wraps domain.ErrExtraction.
func (e *Extractor) Extract(
	ctx context.Context,
	structured json.RawMessage,
	templatePath string,
	opts domain.ExtractOptions,
) (*domain.ExtractionResult, error) {
	log := logger.FromContextOrDefault(ctx, e.logger)

	prompt, err := e.renderPrompt(structured, templatePath, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrExtraction, err)
	}

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	temperature := float32(0)
	start := time.Now()
	resp, err := e.generator.GenerateContent(ctx, e.model,
		[]*genai.Content{{Role: "user", Parts: []*genai.Part{{Text: prompt}}}},
		&genai.GenerateContentConfig{
			ResponseMIMEType: "application/json",
			Temperature:      &temperature,
		})
	if err != nil {
		return nil, fmt.Errorf("%w: gemini call failed: %w", domain.ErrExtraction, err)
	}

	text, err := responseText(resp)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrExtraction, err)
	}

	result, err := parseResult(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrExtraction, err)
	}

	log.DebugContext(ctx, "gemini extraction finished",
		slog.String("model", e.model),
		slog.Int("prompt_length", len(prompt)),
		slog.Int("validations", len(result.Validations)),
		slog.Duration("duration", time.Since(start)))
	return result, nil
}

func (e *Extractor) renderPrompt(structured json.RawMessage, templatePath string, opts domain.ExtractOptions) (string, error) {
	if len(bytes.TrimSpace(structured)) == 0 {
		return "", ErrEmptyDocument
	}

	raw, err := afero.ReadFile(e.templates, templatePath)
	if err != nil {
		return "", fmt.Errorf("failed to read template %s: %w", templatePath, err)
	}

	tmpl, err := template.New(templatePath).Option("missingkey=error").Parse(string(raw))
	if err != nil {
		return "", fmt.Errorf("failed to parse template %s: %w", templatePath, err)
	}

	var buf bytes.Buffer
	err = tmpl.Execute(&buf, promptData{
		Document: string(structured),
		Source:   opts.Source,
		TaskID:   opts.TaskID.String(),
	})
	if err != nil {
		return "", fmt.Errorf("failed to execute template %s: %w", templatePath, err)
	}
	return buf.String(), nil
}

func responseText(resp *genai.GenerateContentResponse) (string, error) {
	switch {
	case resp == nil:
		return "", errors.New("nil response")
	case resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "":
		return "", fmt.Errorf("prompt blocked: %s", resp.PromptFeedback.BlockReason)
	case len(resp.Candidates) == 0:
		return "", errors.New("no content generated")
	}

	candidate := resp.Candidates[0]
	if candidate.FinishReason == genai.FinishReasonSafety {
		return "", errors.New("content blocked by safety filters")
	}
	if candidate.Content == nil {
		return "", errors.New("empty content in response")
	}

	var text strings.Builder
	for _, part := range candidate.Content.Parts {
		if part != nil {
			text.WriteString(part.Text)
		}
	}
	if strings.TrimSpace(text.String()) == "" {
		return "", errors.New("empty content in response")
	}
	return text.String(), nil
}

// parseResult decodes the model answer. Models sometimes wrap JSON in a
// markdown fence even when asked for application/json.
func parseResult(text string) (*domain.ExtractionResult, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")

	var result domain.ExtractionResult
	if err := json.Unmarshal([]byte(text), &result); err != nil {
		return nil, fmt.Errorf("failed to parse JSON response: %w", err)
	}
	if len(result.Data) == 0 || string(result.Data) == "null" {
		return nil, errors.New("response has no data object")
	}
	for i, v := range result.Validations {
		if v.Severity != domain.SeverityError && v.Severity != domain.SeverityWarning {
			result.Validations[i].Severity = domain.SeverityWarning
		}
	}
	return &result, nil
}
