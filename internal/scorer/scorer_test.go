package scorer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/groveline/prospector/internal/extract"
	"github.com/groveline/prospector/internal/model"
	"github.com/groveline/prospector/internal/policy"
)

func testLead(personal bool) *model.Lead {
	return &model.Lead{
		ID:     "lead-1",
		Domain: "rosebakery.com",
		Contacts: []model.ContactMethod{
			{Channel: model.ChannelEmailSMTP, Address: "rose@rosebakery.com", Personal: personal, Priority: 0},
		},
	}
}

func TestScore_NoContactScoresZero(t *testing.T) {
	s := New(policy.DefaultScoringWeights())

	detail := s.Score(&model.Lead{ID: "lead-1", Domain: "gone.example"}, &extract.Extraction{})
	assert.Zero(t, detail.Total)
	assert.Empty(t, detail.Signals)
}

func TestScore_MaximalDigitalGap(t *testing.T) {
	s := New(policy.DefaultScoringWeights())

	ex := &extract.Extraction{
		ContactName: "Rose Chen",
		Signals: extract.Signals{
			HasWebsite:      true,
			LegacyMarkup:    true,
			HasImageProfile: true,
			ContactName:     true,
		},
	}
	detail := s.Score(testLead(true), ex)

	// 10 + 30 + 25 + 15 + 10 + 5 + 5 = 100, exactly at the cap.
	assert.Equal(t, 100, detail.Total)
	assert.False(t, detail.Capped)
	assert.Len(t, detail.Signals, 7)
}

func TestScore_DigitallyPresentLeadScoresLow(t *testing.T) {
	s := New(policy.DefaultScoringWeights())

	ex := &extract.Extraction{
		Signals: extract.Signals{
			HasWebsite:      true,
			HasVideo:        true,
			HasVideoChannel: true,
		},
	}
	detail := s.Score(testLead(false), ex)

	// has_website 10 + generic_address 20; every gap signal absent.
	assert.Equal(t, 30, detail.Total)
}

func TestScore_GenericVersusPersonalAddress(t *testing.T) {
	s := New(policy.DefaultScoringWeights())
	ex := &extract.Extraction{Signals: extract.Signals{HasWebsite: true}}

	personal := s.Score(testLead(true), ex)
	generic := s.Score(testLead(false), ex)
	assert.Greater(t, personal.Total, generic.Total)
}

func TestScore_CapRecordsClamp(t *testing.T) {
	weights := policy.DefaultScoringWeights()
	weights.NoVideo = 80
	s := New(weights)

	ex := &extract.Extraction{
		ContactName: "Rose Chen",
		Signals: extract.Signals{
			HasWebsite:      true,
			LegacyMarkup:    true,
			HasImageProfile: true,
			ContactName:     true,
		},
	}
	detail := s.Score(testLead(true), ex)

	assert.Equal(t, 100, detail.Total)
	assert.True(t, detail.Capped)

	var raw int
	for _, sig := range detail.Signals {
		raw += sig.Points
	}
	assert.Greater(t, raw, 100, "signals keep their uncapped points")
}

func TestCategorize(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"Rose Bakery", "storefront"},
		{"Elm Street Dental", "practice"},
		{"Hartley Insurance Group", "office"},
	}
	for _, tt := range tests {
		lead := &model.Lead{Name: tt.name, URL: "https://example.com"}
		assert.Equal(t, tt.want, Categorize(lead, nil), tt.name)
	}
}

func TestScore_SignalReasonsPresent(t *testing.T) {
	s := New(policy.DefaultScoringWeights())
	ex := &extract.Extraction{Signals: extract.Signals{HasWebsite: true}}

	detail := s.Score(testLead(true), ex)
	require.NotEmpty(t, detail.Signals)
	for _, sig := range detail.Signals {
		assert.NotEmpty(t, sig.Name)
		assert.Positive(t, sig.Points)
	}
}
