package extract

import (
	"context"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/groveline/prospector/internal/model"
	"github.com/groveline/prospector/pkg/searchapi"
)

type stubClient struct {
	pages map[string]string
	calls []string
}

func (s *stubClient) Search(ctx context.Context, query string, opts ...searchapi.SearchOption) ([]searchapi.Result, error) {
	return nil, nil
}

func (s *stubClient) Fetch(ctx context.Context, pageURL string) (*searchapi.Page, error) {
	s.calls = append(s.calls, pageURL)
	content, ok := s.pages[pageURL]
	if !ok {
		return nil, eris.Errorf("searchapi: fetch unexpected status 404: not found")
	}
	return &searchapi.Page{URL: pageURL, Content: content}, nil
}

func TestFindEmails(t *testing.T) {
	tests := []struct {
		name    string
		content string
		domain  string
		want    []string
	}{
		{
			name:    "plain address",
			content: "Reach us at info@rosebakery.com today",
			domain:  "rosebakery.com",
			want:    []string{"info@rosebakery.com"},
		},
		{
			name:    "dedupes and lowercases",
			content: "Rose@RoseBakery.com and rose@rosebakery.com",
			domain:  "rosebakery.com",
			want:    []string{"rose@rosebakery.com"},
		},
		{
			name:    "filters asset filenames",
			content: "![logo](logo@2x.png) hero@3x.jpg contact info@rosebakery.com",
			domain:  "rosebakery.com",
			want:    []string{"info@rosebakery.com"},
		},
		{
			name:    "filters junk domains",
			content: "errors go to abc123@sentry.io, write info@rosebakery.com",
			domain:  "rosebakery.com",
			want:    []string{"info@rosebakery.com"},
		},
		{
			name:    "filters hex tracking ids",
			content: "deadbeefdeadbeefdeadbeef@mailer.example.net",
			domain:  "rosebakery.com",
			want:    nil,
		},
		{
			name:    "on-domain sorts first",
			content: "agency@webdesignco.com then rose@rosebakery.com",
			domain:  "rosebakery.com",
			want:    []string{"rose@rosebakery.com", "agency@webdesignco.com"},
		},
		{
			name:    "no emails",
			content: "Call us instead.",
			domain:  "rosebakery.com",
			want:    nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, findEmails(tt.content, tt.domain))
		})
	}
}

func TestFindPhone(t *testing.T) {
	tests := []struct {
		content string
		want    string
	}{
		{"Call (503) 555-1234 anytime", "+15035551234"},
		{"Tel: 503-555-1234", "+15035551234"},
		{"+1 503.555.1234", "+15035551234"},
		{"Order total $12.34 is not a phone", ""},
		{"no phone here", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, findPhone(tt.content), tt.content)
	}
}

func TestFindContactName(t *testing.T) {
	tests := []struct {
		content string
		want    string
	}{
		{"Owner: Jane Smith has run the shop since 1998", "Jane Smith"},
		{"Founded by Marco Della Rosa", "Marco Della Rosa"},
		{"Manager Bob Lee welcomes you", "Bob Lee"},
		{"We are a family business", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, findContactName(tt.content), tt.content)
	}
}

func TestDetectSignals(t *testing.T) {
	t.Run("video embed", func(t *testing.T) {
		s := detectSignals("Watch our story: https://www.youtube.com/watch?v=abc123")
		assert.True(t, s.HasVideo)
		assert.False(t, s.HasVideoChannel)
	})

	t.Run("video channel", func(t *testing.T) {
		s := detectSignals("Follow https://youtube.com/@rosebakery")
		assert.True(t, s.HasVideoChannel)
	})

	t.Run("legacy markup", func(t *testing.T) {
		s := detectSignals("This site requires Adobe Flash Player")
		assert.True(t, s.LegacyMarkup)
	})

	t.Run("image profile link", func(t *testing.T) {
		s := detectSignals("Follow us: https://instagram.com/rosebakery")
		assert.True(t, s.HasImageProfile)
	})

	t.Run("bare platform mention is not a profile", func(t *testing.T) {
		s := detectSignals("We are not on instagram.com yet.")
		assert.False(t, s.HasImageProfile)
	})

	t.Run("clean page", func(t *testing.T) {
		s := detectSignals("We bake bread. Come visit us.")
		assert.False(t, s.HasVideo)
		assert.False(t, s.LegacyMarkup)
		assert.False(t, s.HasImageProfile)
	})
}

func TestExtract_WalksPathsAndAggregates(t *testing.T) {
	client := &stubClient{pages: map[string]string{
		"https://rosebakery.com": "Welcome to Rose Bakery. ![hero](hero.jpg)",
		"https://rosebakery.com/contact": "Owner: Rose Chen\n" +
			"Email rose@rosebakery.com or info@rosebakery.com\n" +
			"Call (503) 555-1234",
	}}
	e := New(client)

	lead := &model.Lead{URL: "https://rosebakery.com", Domain: "rosebakery.com"}
	got, err := e.Extract(context.Background(), lead)
	require.NoError(t, err)

	assert.Equal(t, 2, got.PagesFetched)
	assert.True(t, got.Signals.HasWebsite)
	assert.True(t, got.Signals.ContactName)
	assert.Equal(t, "Rose Chen", got.ContactName)
	assert.Equal(t, "+15035551234", got.Phone)

	// Personal email first, then generic, then phone channels.
	require.Len(t, got.Contacts, 4)
	assert.Equal(t, "rose@rosebakery.com", got.Contacts[0].Address)
	assert.True(t, got.Contacts[0].Personal)
	assert.Equal(t, "info@rosebakery.com", got.Contacts[1].Address)
	assert.False(t, got.Contacts[1].Personal)
	assert.Equal(t, model.ChannelSMS, got.Contacts[2].Channel)
	assert.Equal(t, model.ChannelVoiceDrop, got.Contacts[3].Channel)
	for i, cm := range got.Contacts {
		assert.Equal(t, i, cm.Priority)
	}

	// Walk stopped once email, phone and name were all found.
	assert.Len(t, client.calls, 2)
}

func TestExtract_SkipsFailedPages(t *testing.T) {
	client := &stubClient{pages: map[string]string{
		"https://rosebakery.com/about": "Email info@rosebakery.com",
	}}
	e := New(client)

	lead := &model.Lead{URL: "https://rosebakery.com", Domain: "rosebakery.com"}
	got, err := e.Extract(context.Background(), lead)
	require.NoError(t, err)

	assert.Equal(t, 1, got.PagesFetched)
	require.NotEmpty(t, got.Contacts)
	assert.Equal(t, "info@rosebakery.com", got.Contacts[0].Address)
}

func TestExtract_NoPagesReachable(t *testing.T) {
	client := &stubClient{pages: map[string]string{}}
	e := New(client)

	lead := &model.Lead{URL: "https://gone.example", Domain: "gone.example"}
	got, err := e.Extract(context.Background(), lead)
	require.NoError(t, err)

	assert.Zero(t, got.PagesFetched)
	assert.False(t, got.Signals.HasWebsite)
	assert.Empty(t, got.Contacts)
}
