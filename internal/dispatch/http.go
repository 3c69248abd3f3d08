package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/mcpfed/mcpfed/internal/mcpcore"
	"github.com/mcpfed/mcpfed/internal/mcperr"
	"github.com/mcpfed/mcpfed/internal/registry"
)

// httpExecutor builds an HTTP request from a templated routing config. 5xx
// responses are mapped to a retryable error; the Router's retry wrapper
// handles the actual backoff.
type httpExecutor struct {
	client *http.Client
}

func (e *httpExecutor) execute(ctx context.Context, tool registry.ToolDefinition, args map[string]any, _ *mcpcore.CancellationToken) (string, error) {
	routing := tool.Routing.HTTP
	if routing == nil {
		return "", mcperr.New(mcperr.KindInternal, fmt.Sprintf("tool %q: http routing missing", tool.Name))
	}

	client := e.client
	if client == nil {
		client = http.DefaultClient
	}

	url := substitute(routing.URL, args)
	body := substitute(routing.Body, args)

	req, err := http.NewRequestWithContext(ctx, strings.ToUpper(routing.Method), url, strings.NewReader(body))
	if err != nil {
		return "", mcperr.Wrap(mcperr.KindInvalidParams, "building http request", err)
	}
	for k, v := range routing.Headers {
		req.Header.Set(k, substitute(v, args))
	}
	for k, v := range routing.Query {
		q := req.URL.Query()
		q.Set(k, substitute(v, args))
		req.URL.RawQuery = q.Encode()
	}

	resp, err := client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", mcperr.Wrap(mcperr.KindTimeout, "http request timed out", err)
		}
		if errors.Is(err, context.Canceled) {
			return "", mcperr.Wrap(mcperr.KindCancelled, "http request cancelled", err)
		}
		return "", mcperr.Wrap(mcperr.KindUpstreamUnavailable, "http request failed", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", mcperr.Wrap(mcperr.KindUpstreamUnavailable, "reading http response", err)
	}

	if resp.StatusCode >= 500 {
		return "", mcperr.New(mcperr.KindUpstreamUnavailable, fmt.Sprintf("upstream returned %d: %s", resp.StatusCode, string(respBody)))
	}
	if resp.StatusCode >= 400 {
		return "", mcperr.New(mcperr.KindInvalidParams, fmt.Sprintf("upstream returned %d: %s", resp.StatusCode, string(respBody)))
	}

	return string(respBody), nil
}
