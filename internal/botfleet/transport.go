// Package botfleet holds N live Telegram bot identities and routes
// outbound delivery to whichever one a customer actually knows,
// transparently swapping a revoked token for a backup without
// interrupting in-flight requests.
package botfleet

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dropbot/backend/pkg/errors"
	"github.com/dropbot/backend/pkg/logger"
)

const (
	telegramAPIBase = "https://api.telegram.org/bot"
	requestTimeout  = 30 * time.Second
)

// Transport is a single Telegram bot identity's HTTP client.
type Transport struct {
	token      string
	httpClient *http.Client
	baseURL    string
	logger     *logger.Logger
}

// newTransport constructs a Transport over token.
func newTransport(token string, log *logger.Logger) *Transport {
	return &Transport{
		token:      token,
		httpClient: &http.Client{Timeout: requestTimeout},
		baseURL:    telegramAPIBase + token,
		logger:     log,
	}
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	ErrorCode   int             `json:"error_code"`
	Description string          `json:"description"`
	Parameters  *struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
}

func (t *Transport) doRequest(ctx context.Context, method string, body any) (*apiResponse, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/"+method, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("telegram %s: %w", method, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("telegram %s: read response: %w", method, err)
	}

	var apiResp apiResponse
	if err := json.Unmarshal(raw, &apiResp); err != nil {
		return nil, fmt.Errorf("telegram %s: decode response: %w", method, err)
	}
	return &apiResp, nil
}

// classify maps a failed apiResponse to the health-loop outcome §4.7
// distinguishes: identity-fatal (token revoked/forbidden) vs transient.
func classify(resp *apiResponse, transportErr error) error {
	if transportErr != nil {
		return errors.ErrTransientBusy.WithCause(transportErr)
	}
	if resp.OK {
		return nil
	}
	switch resp.ErrorCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return errors.ErrBotTokenRevoked.WithDetails(resp.Description)
	default:
		return errors.ErrTransientBusy.WithDetails(resp.Description)
	}
}

// GetMe is the identity probe used by the health loop and by failover's
// post-switch verification step.
func (t *Transport) GetMe(ctx context.Context) error {
	resp, err := t.doRequest(ctx, "getMe", nil)
	if resp == nil {
		return classify(nil, err)
	}
	return classify(resp, nil)
}

// SetWebhook installs webhookURL as this bot's update sink.
func (t *Transport) SetWebhook(ctx context.Context, webhookURL string) error {
	resp, err := t.doRequest(ctx, "setWebhook", map[string]string{"url": webhookURL})
	if resp == nil {
		return classify(nil, err)
	}
	return classify(resp, nil)
}

type sendMessageRequest struct {
	ChatID                int64  `json:"chat_id"`
	Text                  string `json:"text"`
	ParseMode             string `json:"parse_mode,omitempty"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview,omitempty"`
}

// SendText sends a plain HTML-parsed text message to chatID.
func (t *Transport) SendText(ctx context.Context, chatID int64, text string) error {
	resp, err := t.doRequest(ctx, "sendMessage", sendMessageRequest{
		ChatID: chatID, Text: text, ParseMode: "HTML", DisableWebPagePreview: true,
	})
	if resp == nil {
		return classify(nil, err)
	}
	return classify(resp, nil)
}

type inputMediaPhoto struct {
	Type    string `json:"type"`
	Media   string `json:"media"`
	Caption string `json:"caption,omitempty"`
}

type sendMediaGroupRequest struct {
	ChatID int64             `json:"chat_id"`
	Media  []inputMediaPhoto `json:"media"`
}

// SendMediaGroup sends an album of previously-uploaded file_ids to chatID,
// with caption attached to the first item per Telegram's convention.
func (t *Transport) SendMediaGroup(ctx context.Context, chatID int64, fileIDs []string, caption string) error {
	if len(fileIDs) == 0 {
		return nil
	}
	media := make([]inputMediaPhoto, len(fileIDs))
	for i, id := range fileIDs {
		media[i] = inputMediaPhoto{Type: "photo", Media: id}
		if i == 0 {
			media[i].Caption = caption
		}
	}
	resp, err := t.doRequest(ctx, "sendMediaGroup", sendMediaGroupRequest{ChatID: chatID, Media: media})
	if resp == nil {
		return classify(nil, err)
	}
	return classify(resp, nil)
}

// maskToken returns a log-safe fragment of a bot token (its numeric bot ID
// prefix only).
func maskToken(token string) string {
	if idx := strings.Index(token, ":"); idx > 0 {
		return token[:idx] + ":***"
	}
	return "***"
}
