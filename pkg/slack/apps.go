package slack

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	DefaultBaseURL = "https://slack.com/api/"

	connOpenMethod = "apps.connections.open"
	timeout        = 3 * time.Second
	maxSize        = 1024 // 1 KiB.
)

type slackAPIResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
	URL   string `json:"url,omitempty"`
}

// AppsAPI generates Socket Mode WebSocket URLs with an app-level token ("xapp-...").
// It implements the socketmode.URLOpener interface.
type AppsAPI struct {
	// BaseURL defaults to [DefaultBaseURL].
	BaseURL  string
	AppToken string
	// HTTPClient defaults to [http.DefaultClient].
	HTTPClient *http.Client
}

// OpenConnection generates a temporary Socket Mode WebSocket URL ("wss://...")
// that an unpublished Slack app can connect to, to receive events and interactive
// payloads. Based on https://docs.slack.dev/reference/methods/apps.connections.open.
//
// A successful response without a URL is not an error here: it results in an
// empty string, which the Socket Mode client rejects as a missing URL.
func (a *AppsAPI) OpenConnection(ctx context.Context) (string, error) {
	l := zerolog.Ctx(ctx)

	// Construct and send the request.
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.methodURL(connOpenMethod), http.NoBody)
	if err != nil {
		return "", fmt.Errorf("failed to construct HTTP request: %w", err)
	}

	req.Header.Add("Authorization", "Bearer "+a.AppToken)

	resp, err := a.httpClient().Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send HTTP request: %w", err)
	}
	defer resp.Body.Close()

	// Read and parse the response.
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxSize))
	if err != nil {
		return "", fmt.Errorf("failed to read HTTP response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		msg := resp.Status
		if len(body) > 0 {
			msg = fmt.Sprintf("%s: %s", msg, string(body))
		}
		return "", errors.New(msg)
	}

	decoded := &slackAPIResponse{}
	if err := json.Unmarshal(body, decoded); err != nil {
		return "", fmt.Errorf("failed to parse JSON in HTTP response body: %w", err)
	}
	if !decoded.OK {
		return "", fmt.Errorf("Slack API error: %s", decoded.Error)
	}

	l.Debug().Str("method", connOpenMethod).Bool("has_url", decoded.URL != "").
		Msg("generated Socket Mode WebSocket URL")
	return decoded.URL, nil
}

func (a *AppsAPI) methodURL(method string) string {
	base := a.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	return base + method
}

func (a *AppsAPI) httpClient() *http.Client {
	if a.HTTPClient == nil {
		return http.DefaultClient
	}
	return a.HTTPClient
}
