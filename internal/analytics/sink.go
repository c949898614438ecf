package analytics

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Sink delivers one analytics event to a third-party destination.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, event Event) error
}

const sinkRequestTimeout = 10 * time.Second

func newSinkHTTPClient() *http.Client {
	return &http.Client{Timeout: sinkRequestTimeout}
}

// doJSON posts a JSON body and treats any non-2xx response as an error.
func doJSON(ctx context.Context, client *http.Client, method, url string, body []byte, decorate func(*http.Request)) error {
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if decorate != nil {
		decorate(req)
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s returned %s: %s", url, resp.Status, snippet)
	}
	return nil
}
