package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/leapstack-labs/leapmetrics/pkg/core"
)

// Config configures the HTTP oracle.
type Config struct {
	// Endpoint is the base URL of an OpenAI-compatible API
	Endpoint    string
	Model       string
	APIKey      string
	Timeout     time.Duration
	Temperature float64
}

// Client implements Oracle over an OpenAI-compatible chat completions API
// with JSON-schema constrained responses.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *slog.Logger
}

// NewClient creates an HTTP oracle. If logger is nil, a discard logger is used.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{},
		logger: logger,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type       string     `json:"type"`
	JSONSchema jsonSchema `json:"json_schema"`
}

type jsonSchema struct {
	Name   string `json:"name"`
	Schema any    `json:"schema"`
}

type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []chatMessage  `json:"messages"`
	Temperature    float64        `json:"temperature"`
	ResponseFormat responseFormat `json:"response_format"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// invoke runs one call site and decodes the validated output into T.
func invoke[T any](ctx context.Context, c *Client, callSite, prompt string) (*T, error) {
	s, err := schemaFor[T](callSite)
	if err != nil {
		return nil, &core.OracleError{CallSite: callSite, Err: err}
	}
	raw, err := c.complete(ctx, callSite, prompt, s.schema)
	if err != nil {
		return nil, &core.OracleError{CallSite: callSite, Err: err}
	}
	out, err := decode[T](callSite, raw)
	if err != nil {
		c.logger.Warn("oracle output rejected", slog.String("call_site", callSite), slog.String("error", err.Error()))
		return nil, &core.OracleError{CallSite: callSite, Err: err}
	}
	return out, nil
}

// complete posts one chat completion and returns the JSON text of the reply.
func (c *Client) complete(ctx context.Context, callSite, prompt string, schema any) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	body, err := json.Marshal(chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: instructions[callSite]},
			{Role: "user", Content: prompt},
		},
		Temperature: c.cfg.Temperature,
		ResponseFormat: responseFormat{
			Type:       "json_schema",
			JSONSchema: jsonSchema{Name: callSite, Schema: schema},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(c.cfg.Endpoint, "/")+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("timed out after %s: %w", c.cfg.Timeout, err)
		}
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	c.logger.Debug("oracle call",
		slog.String("call_site", callSite),
		slog.Int("status", resp.StatusCode),
		slog.Duration("elapsed", time.Since(start)))

	var cr chatResponse
	if err := json.Unmarshal(respBody, &cr); err != nil {
		return nil, fmt.Errorf("failed to parse response (status %d): %w", resp.StatusCode, err)
	}
	if cr.Error != nil {
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, cr.Error.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API returned status %d", resp.StatusCode)
	}
	if len(cr.Choices) == 0 {
		return nil, fmt.Errorf("empty response from API")
	}
	return []byte(extractJSON(cr.Choices[0].Message.Content)), nil
}

// extractJSON returns the outermost JSON object of a model reply, tolerating
// code fences and surrounding prose.
func extractJSON(text string) string {
	text = strings.TrimSpace(text)
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return text
	}
	return text[start : end+1]
}

// SelectMetric implements Oracle.
func (c *Client) SelectMetric(ctx context.Context, req SelectMetricRequest) (*MetricChoice, error) {
	return invoke[MetricChoice](ctx, c, CallSelectMetric, req.prompt())
}

// GenerateSQL implements Oracle.
func (c *Client) GenerateSQL(ctx context.Context, req GenerateSQLRequest) (*SQLGeneration, error) {
	return invoke[SQLGeneration](ctx, c, CallGenerateSQL, req.prompt())
}

// RepairSQL implements Oracle.
func (c *Client) RepairSQL(ctx context.Context, req RepairSQLRequest) (*SQLRepair, error) {
	return invoke[SQLRepair](ctx, c, CallRepairSQL, req.prompt())
}

// Respond implements Oracle.
func (c *Client) Respond(ctx context.Context, req RespondRequest) (*Answer, error) {
	return invoke[Answer](ctx, c, CallRespond, req.prompt())
}

// ProposeMetrics implements Oracle.
func (c *Client) ProposeMetrics(ctx context.Context, req ProposeRequest) (*MetricSet, error) {
	return invoke[MetricSet](ctx, c, CallProposeMetrics, req.prompt())
}

// RefineMetrics implements Oracle.
func (c *Client) RefineMetrics(ctx context.Context, req RefineRequest) (*RefinedMetrics, error) {
	return invoke[RefinedMetrics](ctx, c, CallRefineMetrics, req.prompt())
}

// FabricateRows implements Oracle.
func (c *Client) FabricateRows(ctx context.Context, req FabricateRowsRequest) (*FabricatedRows, error) {
	return invoke[FabricatedRows](ctx, c, CallFabricateRows, req.prompt())
}

// UpdateLayer implements Oracle.
func (c *Client) UpdateLayer(ctx context.Context, req UpdateLayerRequest) (*LayerUpdate, error) {
	return invoke[LayerUpdate](ctx, c, CallUpdateLayer, req.prompt())
}

var _ Oracle = (*Client)(nil)
