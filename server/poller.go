package quakepulse

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	webTimeout = 10 * time.Second
)

type HTTPClient interface {
	Do(*http.Request) (*http.Response, error)
}

// Shared HTTP Client, traced with otelhttp
var sharedHTTPClient = &http.Client{
	Timeout: webTimeout,
	Transport: otelhttp.NewTransport(&http.Transport{
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 2,
		IdleConnTimeout:     30 * time.Second,
	}),
}

// SingleFetchWithClient handles the messy business of the HTTP connection
// and is testable with dependency injection, called by SingleFetch
func SingleFetchWithClient(ctx context.Context, url string, c HTTPClient) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		slog.Error("Request Error", slog.Any("Error", err))
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/geo+json, application/json")

	resp, err := c.Do(req)
	if err != nil {
		slog.Error("Fetch Error", slog.Any("Error", err))
		return 0, nil, err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Error("Close Error", slog.Any("Error", err))
			return
		}
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		slog.Error("Could not read body", slog.Any("Error", err))
		return 0, nil, err
	}

	return resp.StatusCode, body, err
}

// SingleFetch returns the Response Code, raw byte stream body, and error
// This uses a Shared HTTP Client:
// - to reuse existing endpoint connections
// - to avoid stale connections that eat up OS FDs
func SingleFetch(ctx context.Context, url string) (int, []byte, error) {
	return SingleFetchWithClient(ctx, url, sharedHTTPClient)
}
