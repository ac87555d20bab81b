package channel

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"gopkg.in/gomail.v2"

	"github.com/groveline/prospector/internal/model"
	"github.com/groveline/prospector/internal/resilience"
)

// SMTPConfig holds relay credentials for the smtp email backend.
type SMTPConfig struct {
	Host     string `yaml:"host" mapstructure:"host"`
	Port     int    `yaml:"port" mapstructure:"port"`
	User     string `yaml:"user" mapstructure:"user"`
	Password string `yaml:"password" mapstructure:"password"`
}

// dialer lets tests swap out the SMTP transport.
type dialer interface {
	DialAndSend(m ...*gomail.Message) error
}

// SMTPSender sends email through an SMTP relay, one message per dialer
// session. The account's address becomes the From header so warmup
// reputation accrues to the right identity.
type SMTPSender struct {
	cfg  SMTPConfig
	dial func() dialer
}

// NewSMTPSender creates an SMTPSender from relay credentials.
func NewSMTPSender(cfg SMTPConfig) *SMTPSender {
	return &SMTPSender{
		cfg: cfg,
		dial: func() dialer {
			return gomail.NewDialer(cfg.Host, cfg.Port, cfg.User, cfg.Password)
		},
	}
}

func (s *SMTPSender) Channel() model.Channel { return model.ChannelEmailSMTP }

func (s *SMTPSender) Send(ctx context.Context, req Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	messageID := fmt.Sprintf("<%s@%s>", uuid.New().String(), s.cfg.Host)

	m := gomail.NewMessage()
	from := req.Account.Address
	if req.Account.DisplayName != "" {
		from = m.FormatAddress(req.Account.Address, req.Account.DisplayName)
	}
	m.SetHeader("From", from)
	m.SetHeader("To", req.To)
	m.SetHeader("Subject", req.Message.Subject)
	m.SetHeader("Message-ID", messageID)
	m.SetBody("text/plain", req.Message.Body)

	if err := s.dial().DialAndSend(m); err != nil {
		return "", classifySMTPError(err)
	}
	return messageID, nil
}

// classifySMTPError separates hard rejections from transient relay
// trouble. 5xx replies mean the recipient is gone and retrying would
// only burn reputation.
func classifySMTPError(err error) error {
	msg := err.Error()
	for _, code := range []string{"550", "551", "553", "554"} {
		if strings.Contains(msg, code) {
			return resilience.NewPermanentError(
				eris.Wrap(err, "channel: smtp hard rejection"), "bounce_hard")
		}
	}
	if strings.Contains(msg, "421") || strings.Contains(msg, "450") || strings.Contains(msg, "451") {
		return resilience.NewTransientError(eris.Wrap(err, "channel: smtp deferred"), 0)
	}
	return eris.Wrap(err, "channel: smtp send")
}
