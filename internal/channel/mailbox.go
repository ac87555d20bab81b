package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/groveline/prospector/internal/model"
	"github.com/groveline/prospector/internal/resilience"
)

// MailboxConfig points at the OAuth mailbox provider's send API.
type MailboxConfig struct {
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	APIKey  string `yaml:"api_key" mapstructure:"api_key"`
}

// MailboxSender dispatches email through an OAuth-authenticated mailbox
// provider API. The provider holds the per-account tokens; we address
// accounts by their mailbox address.
type MailboxSender struct {
	cfg   MailboxConfig
	http  *http.Client
	retry resilience.RetryConfig
}

// NewMailboxSender creates a MailboxSender.
func NewMailboxSender(cfg MailboxConfig) *MailboxSender {
	rc := resilience.DefaultRetryConfig()
	rc.OnRetry = resilience.RetryLogger("mailbox", "send")
	return &MailboxSender{
		cfg:   cfg,
		http:  &http.Client{Timeout: 30 * time.Second},
		retry: rc,
	}
}

func (s *MailboxSender) Channel() model.Channel { return model.ChannelEmailOAuth }

type mailboxSendRequest struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

type mailboxSendResponse struct {
	MessageID string `json:"message_id"`
}

func (s *MailboxSender) Send(ctx context.Context, req Request) (string, error) {
	payload, err := json.Marshal(mailboxSendRequest{
		From:    req.Account.Address,
		To:      req.To,
		Subject: req.Message.Subject,
		Body:    req.Message.Body,
	})
	if err != nil {
		return "", eris.Wrap(err, "channel: marshal mailbox request")
	}

	return resilience.DoVal(ctx, s.retry, func(ctx context.Context) (string, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
			s.cfg.BaseURL+"/v1/messages", bytes.NewReader(payload))
		if err != nil {
			return "", eris.Wrap(err, "channel: create mailbox request")
		}
		httpReq.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := s.http.Do(httpReq)
		if err != nil {
			return "", err
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return "", eris.Wrap(err, "channel: read mailbox response")
		}

		switch {
		case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
		case resp.StatusCode == http.StatusUnprocessableEntity:
			// Provider rejected the recipient address outright.
			return "", resilience.NewPermanentError(
				eris.Errorf("channel: mailbox rejected recipient: %s", string(body)), "bounce_hard")
		case resilience.IsTransientHTTPStatus(resp.StatusCode):
			return "", resilience.NewTransientError(
				eris.Errorf("channel: mailbox status %d: %s", resp.StatusCode, string(body)), resp.StatusCode)
		default:
			return "", eris.Errorf("channel: mailbox status %d: %s", resp.StatusCode, string(body))
		}

		var out mailboxSendResponse
		if err := json.Unmarshal(body, &out); err != nil {
			return "", eris.Wrap(err, "channel: unmarshal mailbox response")
		}
		return out.MessageID, nil
	})
}
