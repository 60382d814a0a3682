// Package chatbridge sends chat-completion requests to a configured
// Model and parses its response. It hand-rolls net/http + encoding/json
// rather than an SDK because it must speak both OpenAI's and Ollama's
// wire dialects from the same call site and tolerate whichever of three
// known response shapes a given deployment returns — no single SDK in
// the example corpus covers Ollama's /api/chat shape, so the SDK
// reference is documentation for the OpenAI-compatible shape only.
package chatbridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/storyforge/engine/pkg/models"
	"github.com/storyforge/engine/pkg/opctx"
)

// Observer is notified as a Bridge moves between busy and free for a
// given model, letting the fallback controller and queue track
// in-flight load without the bridge depending on either.
type Observer interface {
	OnBusy(modelName string)
	OnFree(modelName string)
}

// noopObserver is used when no Observer is supplied.
type noopObserver struct{}

func (noopObserver) OnBusy(string) {}
func (noopObserver) OnFree(string) {}

// LogSink records the request/response pair of every call that
// receives a response body, so that a ModelResponseLog row exists
// before any verdict can be stamped onto it. A call that fails at the
// transport or HTTP level is not recorded here; it only gets the
// slog line Call emits.
type LogSink interface {
	LogCall(ctx context.Context, operationKey, modelName, requestJSON, responseJSON string, attempt int) (logID string, err error)
}

// Bridge sends chat-completion requests to configured Models.
type Bridge struct {
	httpClient *http.Client
	observer   Observer
	log        LogSink
}

// New builds a Bridge. observer and log may be nil.
func New(httpClient *http.Client, observer Observer, log LogSink) *Bridge {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Minute}
	}
	if observer == nil {
		observer = noopObserver{}
	}
	return &Bridge{httpClient: httpClient, observer: observer, log: log}
}

// CallOptions carries the per-call knobs layered on top of a Model's
// static configuration.
type CallOptions struct {
	OperationKey string
	Attempt      int
	Tools        []ToolSpec
	Temperature  *float64
	MaxTokens    *int
}

// ToolSpec describes one tool available to the model for this call,
// in the shared OpenAI/Ollama "function" tool shape.
type ToolSpec struct {
	Name             string
	Description      string
	ParametersSchema json.RawMessage
}

// Call sends messages to model and returns the parsed result. It wraps
// the wire shapes both backends accept: OpenAI-compatible POST
// /v1/chat/completions and Ollama's POST /api/chat.
func (b *Bridge) Call(oc opctx.Context, model models.Model, messages []models.ConversationMessage, opts CallOptions) (models.GenerateResult, error) {
	b.observer.OnBusy(model.Name)
	defer b.observer.OnFree(model.Name)

	reqBody, err := buildRequest(model, messages, opts)
	if err != nil {
		return models.GenerateResult{}, fmt.Errorf("build chat request: %w", err)
	}

	var respBytes []byte
	operation := func() error {
		var callErr error
		respBytes, callErr = b.send(oc, model, reqBody)
		return callErr
	}
	boff := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), oc.Std())
	reqJSON, _ := json.Marshal(reqBody)
	if err := backoff.Retry(operation, boff); err != nil {
		slog.Warn("chat call failed", "model", model.Name, "operation", opts.OperationKey,
			"attempt", opts.Attempt, "error", err, "request_body", string(reqJSON))
		return models.GenerateResult{}, err
	}
	slog.Info("chat call", "model", model.Name, "operation", opts.OperationKey, "attempt", opts.Attempt)

	var logID string
	if b.log != nil {
		logID, err = b.log.LogCall(oc.Std(), opts.OperationKey, model.Name, string(reqJSON), string(respBytes), opts.Attempt)
		if err != nil {
			return models.GenerateResult{}, fmt.Errorf("log chat call: %w", err)
		}
	}

	result, err := parseResponse(model.Backend, respBytes)
	if err != nil {
		return models.GenerateResult{}, err
	}
	result.ModelUsed = model.Name
	result.LogID = logID
	return result, nil
}

func (b *Bridge) send(oc opctx.Context, model models.Model, reqBody map[string]any) ([]byte, error) {
	encoded, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("encode chat request: %w", err)
	}

	ctx := oc.Std()
	if model.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, model.RequestTimeout)
		defer cancel()
	}

	url := endpointFor(model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("build http request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if key := apiKeyFor(model); key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("%w: %v", ErrTransport, err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode >= 500 {
		// Transient — let the backoff policy retry.
		return nil, fmt.Errorf("%w: status %d: %s", ErrProviderHTTP, resp.StatusCode, truncate(body, 500))
	}
	if resp.StatusCode >= 400 {
		return nil, backoff.Permanent(&ProviderHTTPError{StatusCode: resp.StatusCode, Body: truncate(body, 500)})
	}
	return body, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
