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

// GatewayConfig points at the messaging gateway that fronts the
// non-email channels (sms, social dm, voice drop, postal).
type GatewayConfig struct {
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	APIKey  string `yaml:"api_key" mapstructure:"api_key"`
}

// gatewayPaths maps each channel to its dispatch endpoint.
var gatewayPaths = map[model.Channel]string{
	model.ChannelSMS:       "/v1/sms",
	model.ChannelSocialDM:  "/v1/social/dm",
	model.ChannelVoiceDrop: "/v1/voice/drop",
	model.ChannelPostal:    "/v1/postal/letters",
}

// GatewaySender dispatches one non-email channel through the messaging
// gateway. One instance per channel; they share config and transport.
type GatewaySender struct {
	cfg     GatewayConfig
	channel model.Channel
	path    string
	http    *http.Client
	retry   resilience.RetryConfig
}

// NewGatewaySender creates a sender for one gateway-fronted channel.
func NewGatewaySender(cfg GatewayConfig, ch model.Channel) (*GatewaySender, error) {
	path, ok := gatewayPaths[ch]
	if !ok {
		return nil, eris.Errorf("channel: %s is not a gateway channel", ch)
	}
	rc := resilience.DefaultRetryConfig()
	rc.OnRetry = resilience.RetryLogger("gateway", string(ch))
	return &GatewaySender{
		cfg:     cfg,
		channel: ch,
		path:    path,
		http:    &http.Client{Timeout: 30 * time.Second},
		retry:   rc,
	}, nil
}

func (s *GatewaySender) Channel() model.Channel { return s.channel }

type gatewaySendRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
	Body string `json:"body"`
	Ref  string `json:"ref,omitempty"` // lead id, echoed back in webhooks
}

type gatewaySendResponse struct {
	ID string `json:"id"`
}

func (s *GatewaySender) Send(ctx context.Context, req Request) (string, error) {
	payload, err := json.Marshal(gatewaySendRequest{
		From: req.Account.Address,
		To:   req.To,
		Body: req.Message.Body,
		Ref:  req.Lead.ID,
	})
	if err != nil {
		return "", eris.Wrap(err, "channel: marshal gateway request")
	}

	return resilience.DoVal(ctx, s.retry, func(ctx context.Context) (string, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
			s.cfg.BaseURL+s.path, bytes.NewReader(payload))
		if err != nil {
			return "", eris.Wrap(err, "channel: create gateway request")
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
			return "", eris.Wrap(err, "channel: read gateway response")
		}

		switch {
		case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusAccepted:
		case resp.StatusCode == http.StatusUnprocessableEntity:
			return "", resilience.NewPermanentError(
				eris.Errorf("channel: gateway rejected %s recipient: %s", s.channel, string(body)), "invalid_recipient")
		case resilience.IsTransientHTTPStatus(resp.StatusCode):
			return "", resilience.NewTransientError(
				eris.Errorf("channel: gateway status %d: %s", resp.StatusCode, string(body)), resp.StatusCode)
		default:
			return "", eris.Errorf("channel: gateway status %d: %s", resp.StatusCode, string(body))
		}

		var out gatewaySendResponse
		if err := json.Unmarshal(body, &out); err != nil {
			return "", eris.Wrap(err, "channel: unmarshal gateway response")
		}
		return out.ID, nil
	})
}

// RegisterGatewayChannels installs a GatewaySender for every
// gateway-fronted channel.
func RegisterGatewayChannels(r *Registry, cfg GatewayConfig) error {
	for ch := range gatewayPaths {
		s, err := NewGatewaySender(cfg, ch)
		if err != nil {
			return err
		}
		r.Register(s)
	}
	return nil
}
