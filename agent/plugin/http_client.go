package plugin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BaSui01/missionflow/internal/ctxkeys"
	"github.com/BaSui01/missionflow/internal/tlsutil"
	"github.com/BaSui01/missionflow/types"
	"github.com/BaSui01/missionflow/workflow"
)

// ClientConfig configures the HTTP plugin client.
type ClientConfig struct {
	BaseURL   string        `yaml:"base_url" json:"base_url"`
	Timeout   time.Duration `yaml:"timeout" json:"timeout"`
	RateLimit float64       `yaml:"rate_limit" json:"rate_limit"` // requests per second, 0 = unlimited
	Burst     int           `yaml:"burst" json:"burst"`
}

// HTTPClient calls the plugin-execution service over HTTP.
type HTTPClient struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	tokens  TokenSource
	logger  *zap.Logger
}

// NewHTTPClient creates a client. tokens may be nil for unauthenticated
// deployments.
func NewHTTPClient(cfg ClientConfig, tokens TokenSource, logger *zap.Logger) *HTTPClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    tlsutil.SecureHTTPClient(cfg.Timeout),
		limiter: limiter,
		tokens:  tokens,
		logger:  logger.With(zap.String("component", "plugin_client")),
	}
}

type executeResponse struct {
	Outputs []workflow.Output `json:"outputs"`
}

type faultBody struct {
	Error struct {
		Kind    string `json:"kind"`
		Message string `json:"message"`
	} `json:"error"`
}

// Execute implements Executor.
func (c *HTTPClient) Execute(ctx context.Context, req *Request) ([]workflow.Output, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, types.NewBadInputError("inputs are not serializable").WithCause(err)
	}

	resp, err := c.do(ctx, http.MethodPost, "/v1/execute", body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.fault(resp, req.Operation)
	}

	var out executeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, types.NewPluginFaultError("malformed plugin response").WithCause(err).WithPlugin(req.Operation)
	}
	return out.Outputs, nil
}

// ValidateAuth implements AuthValidator. An unauthorized answer drops the
// cached token and tries once more with a fresh one.
func (c *HTTPClient) ValidateAuth(ctx context.Context) error {
	for attempt := 0; attempt < 2; attempt++ {
		resp, err := c.do(ctx, http.MethodGet, "/v1/auth/validate", nil)
		if err != nil {
			return err
		}
		status := resp.StatusCode
		resp.Body.Close()

		switch {
		case status == http.StatusOK:
			return nil
		case status == http.StatusUnauthorized && c.tokens != nil && attempt == 0:
			c.logger.Info("plugin token rejected, refreshing")
			c.tokens.Invalidate()
		default:
			return types.NewError(types.ErrUnauthorized, "plugin service rejected credentials").WithHTTPStatus(status)
		}
	}
	return types.NewError(types.ErrUnauthorized, "plugin service rejected refreshed credentials")
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, types.NewTimeoutError("rate limiter wait aborted").WithCause(err)
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, types.NewError(types.ErrInternalError, "failed to build plugin request").WithCause(err)
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if traceID, ok := ctxkeys.TraceID(ctx); ok {
		httpReq.Header.Set("X-Trace-ID", traceID)
	}
	if missionID, ok := ctxkeys.MissionID(ctx); ok {
		httpReq.Header.Set("X-Mission-ID", missionID)
	}
	if c.tokens != nil {
		tok, err := c.tokens.Token(ctx)
		if err != nil {
			return nil, types.NewError(types.ErrUnauthorized, "no plugin credentials").WithCause(err).WithRetryable(true)
		}
		httpReq.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return nil, types.NewTimeoutError("plugin call timed out").WithCause(err)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, types.NewServiceUnreachableError("plugin service unreachable").WithCause(err)
	}
	return resp, nil
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}

// fault maps a non-200 response onto a tagged error. The service's own
// fault kind wins over the status code. Unknown statuses stay untagged so
// the classifier can fall back to the message.
func (c *HTTPClient) fault(resp *http.Response, operation string) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var fb faultBody
	_ = json.Unmarshal(raw, &fb)

	msg := fb.Error.Message
	if msg == "" {
		msg = strings.TrimSpace(string(raw))
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}

	if resp.StatusCode == http.StatusUnauthorized && c.tokens != nil {
		c.tokens.Invalidate()
	}

	if e := faultFromKind(fb.Error.Kind, msg); e != nil {
		return e.WithHTTPStatus(resp.StatusCode).WithPlugin(operation)
	}
	if e := faultFromStatus(resp.StatusCode, msg); e != nil {
		return e.WithHTTPStatus(resp.StatusCode).WithPlugin(operation)
	}
	return fmt.Errorf("plugin %s returned status %d: %s", operation, resp.StatusCode, msg)
}

func faultFromKind(kind, msg string) *types.Error {
	switch kind {
	case "bad_input":
		return types.NewBadInputError(msg)
	case "execution_fault":
		return types.NewExecutionFaultError(msg)
	case "plugin_fault":
		return types.NewPluginFaultError(msg)
	case "validation":
		return types.NewValidationError(msg)
	case "dependency":
		return types.NewDependencyError(msg)
	case "user_input_needed":
		return types.NewError(types.ErrUserInputNeeded, msg)
	default:
		return nil
	}
}

func faultFromStatus(status int, msg string) *types.Error {
	switch status {
	case http.StatusBadRequest:
		return types.NewBadInputError(msg)
	case http.StatusUnprocessableEntity:
		return types.NewValidationError(msg)
	case http.StatusUnauthorized:
		return types.NewError(types.ErrUnauthorized, msg).WithRetryable(true)
	case http.StatusTooManyRequests:
		return types.NewError(types.ErrRateLimited, msg).WithRetryable(true)
	case http.StatusInternalServerError:
		return types.NewPluginFaultError(msg)
	case http.StatusBadGateway, http.StatusServiceUnavailable:
		return types.NewError(types.ErrServiceUnavailable, msg).WithRetryable(true)
	case http.StatusGatewayTimeout:
		return types.NewTimeoutError(msg)
	default:
		return nil
	}
}

var (
	_ Executor      = (*HTTPClient)(nil)
	_ AuthValidator = (*HTTPClient)(nil)
)
