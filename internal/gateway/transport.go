package gateway

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// Transport delivers an encoded credential payload to one gateway.
type Transport interface {
	Push(ctx context.Context, gw Gateway, userID string, payload []byte, contentType string) error
}

// HTTPTransport pushes payloads with PUT {endpoint}/credentials/{user_id}.
type HTTPTransport struct {
	client *http.Client
}

// NewHTTPTransport returns a transport using client, or http.DefaultClient
// when client is nil.
func NewHTTPTransport(client *http.Client) *HTTPTransport {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPTransport{client: client}
}

// Push sends a single payload. Non-2xx responses become a *StatusError.
func (t *HTTPTransport) Push(ctx context.Context, gw Gateway, userID string, payload []byte, contentType string) error {
	if gw.Endpoint == "" {
		return fmt.Errorf("gateway %s: %w", gw.ID, ErrNoEndpoint)
	}

	target := gw.Endpoint + "/credentials/" + url.PathEscape(userID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, target, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build push request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("push to gateway %s: %w", gw.ID, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{GatewayID: gw.ID, StatusCode: resp.StatusCode}
	}
	return nil
}
