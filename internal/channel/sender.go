// Package channel holds the send backends, one per channel capability,
// behind a single Sender interface keyed by account channel.
package channel

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/groveline/prospector/internal/compose"
	"github.com/groveline/prospector/internal/model"
)

// Request is one dispatch: a rendered message bound to a contact address
// and a sending identity.
type Request struct {
	Account *model.SendingAccount
	Lead    *model.Lead
	To      string
	Message *compose.Message
}

// Sender dispatches a message through one channel's transport and
// returns the provider message id.
type Sender interface {
	Send(ctx context.Context, req Request) (messageID string, err error)
	Channel() model.Channel
}

// Registry maps account channels to their send backends.
type Registry struct {
	senders map[model.Channel]Sender
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{senders: make(map[model.Channel]Sender)}
}

// Register installs a sender for its channel, replacing any previous one.
func (r *Registry) Register(s Sender) {
	r.senders[s.Channel()] = s
}

// For returns the sender for an account's channel.
func (r *Registry) For(ch model.Channel) (Sender, error) {
	s, ok := r.senders[ch]
	if !ok {
		return nil, eris.Errorf("channel: no sender registered for %s", ch)
	}
	return s, nil
}

// Channels lists the registered channels.
func (r *Registry) Channels() []model.Channel {
	out := make([]model.Channel, 0, len(r.senders))
	for ch := range r.senders {
		out = append(out, ch)
	}
	return out
}
