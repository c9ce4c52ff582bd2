package xray

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

type ingestBody struct {
	Events []event `json:"events"`
}

// deliver ships one batch as a single POST /v1/ingest request. Any failure
// is returned to the batcher, which logs and discards the batch.
func (c *Client) deliver(ctx context.Context, events []event) error {
	encoded, err := json.Marshal(ingestBody{Events: events})
	if err != nil {
		return fmt.Errorf("xray: marshal batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/ingest", bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("xray: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if c.tokenMgr != nil {
		token, err := c.tokenMgr.getToken(ctx)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("xray: POST /v1/ingest: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		return fmt.Errorf("xray: ingest failed with status %d", resp.StatusCode)
	}
	return nil
}
