package channel

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/gomail.v2"

	"github.com/groveline/prospector/internal/compose"
	"github.com/groveline/prospector/internal/model"
	"github.com/groveline/prospector/internal/resilience"
)

func testRequest() Request {
	return Request{
		Account: &model.SendingAccount{
			Address:     "sam@groveline-foods.com",
			DisplayName: "Sam Reyes",
			Channel:     model.ChannelEmailSMTP,
		},
		Lead: &model.Lead{ID: "lead-1", Domain: "rosebakery.com"},
		To:   "rose@rosebakery.com",
		Message: &compose.Message{
			Subject: "Quick question about Rose Bakery",
			Body:    "Hi Rose,\n",
		},
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, RegisterGatewayChannels(r, GatewayConfig{BaseURL: "http://gateway"}))

	s, err := r.For(model.ChannelSMS)
	require.NoError(t, err)
	assert.Equal(t, model.ChannelSMS, s.Channel())

	_, err = r.For(model.ChannelEmailSMTP)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no sender registered")

	assert.Len(t, r.Channels(), 4)
}

type fakeDialer struct {
	sent []*gomail.Message
	err  error
}

func (f *fakeDialer) DialAndSend(m ...*gomail.Message) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, m...)
	return nil
}

func TestSMTPSender_Send(t *testing.T) {
	fake := &fakeDialer{}
	s := NewSMTPSender(SMTPConfig{Host: "relay.groveline-foods.com", Port: 587})
	s.dial = func() dialer { return fake }

	id, err := s.Send(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Contains(t, id, "@relay.groveline-foods.com>")

	require.Len(t, fake.sent, 1)
	m := fake.sent[0]
	assert.Contains(t, m.GetHeader("From")[0], "sam@groveline-foods.com")
	assert.Equal(t, "rose@rosebakery.com", m.GetHeader("To")[0])
	assert.Equal(t, "Quick question about Rose Bakery", m.GetHeader("Subject")[0])
}

func TestSMTPSender_HardRejectionIsPermanent(t *testing.T) {
	fake := &fakeDialer{err: eris.New("550 5.1.1 user unknown")}
	s := NewSMTPSender(SMTPConfig{Host: "relay.groveline-foods.com"})
	s.dial = func() dialer { return fake }

	_, err := s.Send(context.Background(), testRequest())
	require.Error(t, err)
	assert.True(t, resilience.IsPermanent(err))
	assert.False(t, resilience.IsTransient(err))
}

func TestSMTPSender_DeferralIsTransient(t *testing.T) {
	fake := &fakeDialer{err: eris.New("451 4.7.1 greylisted, try again later")}
	s := NewSMTPSender(SMTPConfig{Host: "relay.groveline-foods.com"})
	s.dial = func() dialer { return fake }

	_, err := s.Send(context.Background(), testRequest())
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
}

func TestMailboxSender_Send(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))

		var req mailboxSendRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "sam@groveline-foods.com", req.From)
		assert.Equal(t, "rose@rosebakery.com", req.To)

		json.NewEncoder(w).Encode(mailboxSendResponse{MessageID: "mb-123"})
	}))
	defer srv.Close()

	s := NewMailboxSender(MailboxConfig{BaseURL: srv.URL, APIKey: "key"})
	id, err := s.Send(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, "mb-123", id)
}

func TestMailboxSender_RejectedRecipient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"error":"invalid recipient"}`))
	}))
	defer srv.Close()

	s := NewMailboxSender(MailboxConfig{BaseURL: srv.URL, APIKey: "key"})
	_, err := s.Send(context.Background(), testRequest())
	require.Error(t, err)
	assert.True(t, resilience.IsPermanent(err))
}

func TestGatewaySender_Send(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/sms", r.URL.Path)

		var req gatewaySendRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "lead-1", req.Ref)

		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(gatewaySendResponse{ID: "sms-9"})
	}))
	defer srv.Close()

	s, err := NewGatewaySender(GatewayConfig{BaseURL: srv.URL, APIKey: "key"}, model.ChannelSMS)
	require.NoError(t, err)

	req := testRequest()
	req.To = "+15035551234"
	id, err := s.Send(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "sms-9", id)
}

func TestGatewaySender_RetriesTransient(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(gatewaySendResponse{ID: "dm-1"})
	}))
	defer srv.Close()

	s, err := NewGatewaySender(GatewayConfig{BaseURL: srv.URL}, model.ChannelSocialDM)
	require.NoError(t, err)
	s.retry.InitialBackoff = time.Millisecond

	id, err := s.Send(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, "dm-1", id)
	assert.Equal(t, 2, calls)
}

func TestGatewaySender_UnknownChannel(t *testing.T) {
	_, err := NewGatewaySender(GatewayConfig{}, model.ChannelEmailSMTP)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a gateway channel")
}
