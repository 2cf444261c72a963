package gatewayclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// ephemeralFlag is Discord's MESSAGE_FLAGS bit for an ephemeral response.
const ephemeralFlag = 1 << 6

// FollowupClient implements internal/dispatch.FollowupSender by posting a
// followup message to an interaction's webhook, grounded on the REST
// request shape in the teacher's manager.go Gateway() method (http.Client
// with a fixed timeout and User-Agent, same 429 retry-after parsing). Unlike
// Gateway(), a rate-limited followup is not retried: the retry-after value
// is logged and the call returns an error.
type FollowupClient struct {
	applicationID string
	baseURL       string
	httpClient    *http.Client
	log           zerolog.Logger
}

// NewFollowupClient constructs a FollowupClient for the given application.
func NewFollowupClient(applicationID string, log zerolog.Logger) *FollowupClient {
	return &FollowupClient{
		applicationID: applicationID,
		baseURL:       EndpointAPI,
		httpClient:    &http.Client{Timeout: 20 * time.Second},
		log:           log,
	}
}

type followupBody struct {
	Content string `json:"content"`
	Flags   int    `json:"flags,omitempty"`
}

// SendFollowup posts content to the interaction identified by token.
func (c *FollowupClient) SendFollowup(ctx context.Context, token, content string, ephemeral bool) error {
	body := followupBody{Content: content}
	if ephemeral {
		body.Flags = ephemeralFlag
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("gatewayclient: marshaling followup body: %w", err)
	}

	url := c.baseURL + "webhooks/" + c.applicationID + "/" + token
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("gatewayclient: building followup request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("gatewayclient: sending followup: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		var rl tooManyRequests
		if decodeErr := json.NewDecoder(resp.Body).Decode(&rl); decodeErr == nil {
			c.log.Warn().Dur("retry_after", rl.wait()).Msg("followup send rate limited")
		}
		return fmt.Errorf("gatewayclient: followup rate limited")
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("gatewayclient: followup send failed with status %d", resp.StatusCode)
	}
	return nil
}
