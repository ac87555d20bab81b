// Package compose renders per-channel outreach messages from templates.
package compose

import (
	"strings"
	"text/template"

	"github.com/rotisserie/eris"

	"github.com/groveline/prospector/internal/model"
)

// Message is a rendered outreach message. Subject is empty for channels
// that have no subject line.
type Message struct {
	Subject string
	Body    string
}

// Data is the template context for one message.
type Data struct {
	BusinessName string
	ContactName  string
	FirstName    string
	Domain       string
	Category     string
	Position     int
	SenderName   string
	SenderTitle  string
	OrgName      string
	Region       string
	GapHighlight string
}

// Composer renders messages for every channel from a template set.
type Composer struct {
	sets map[model.Channel]*channelSet
}

type channelSet struct {
	subject *template.Template
	bodies  []*template.Template // indexed by sequence position, clamped
}

var funcMap = template.FuncMap{
	"firstName": func(full string) string {
		first, _, _ := strings.Cut(strings.TrimSpace(full), " ")
		return first
	},
	"lower": strings.ToLower,
}

// New creates a Composer from the built-in template set.
func New() (*Composer, error) {
	c := &Composer{sets: make(map[model.Channel]*channelSet)}
	for ch, raw := range builtinTemplates {
		set := &channelSet{}
		if raw.subject != "" {
			t, err := template.New(string(ch) + "/subject").Funcs(funcMap).Parse(raw.subject)
			if err != nil {
				return nil, eris.Wrapf(err, "compose: parse %s subject template", ch)
			}
			set.subject = t
		}
		for i, body := range raw.bodies {
			t, err := template.New(string(ch)).Funcs(funcMap).Parse(body)
			if err != nil {
				return nil, eris.Wrapf(err, "compose: parse %s body template %d", ch, i)
			}
			set.bodies = append(set.bodies, t)
		}
		c.sets[ch] = set
	}
	return c, nil
}

// Compose renders the message for one step. Email channels share one
// template set. Position selects the follow-up variant; positions past
// the last variant reuse the final one.
func (c *Composer) Compose(lead *model.Lead, org *model.Organization, ch model.Channel, position int) (*Message, error) {
	key := ch
	if ch.IsEmail() {
		key = model.ChannelEmailSMTP
	}
	set, ok := c.sets[key]
	if !ok {
		return nil, eris.Errorf("compose: no templates for channel %s", ch)
	}

	data := buildData(lead, org, position)

	msg := &Message{}
	if set.subject != nil {
		var sb strings.Builder
		if err := set.subject.Execute(&sb, data); err != nil {
			return nil, eris.Wrapf(err, "compose: render %s subject", ch)
		}
		msg.Subject = strings.TrimSpace(sb.String())
	}

	idx := position - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(set.bodies) {
		idx = len(set.bodies) - 1
	}
	var bb strings.Builder
	if err := set.bodies[idx].Execute(&bb, data); err != nil {
		return nil, eris.Wrapf(err, "compose: render %s body", ch)
	}
	msg.Body = strings.TrimSpace(bb.String()) + "\n"

	return msg, nil
}

func buildData(lead *model.Lead, org *model.Organization, position int) Data {
	d := Data{
		BusinessName: lead.Name,
		ContactName:  lead.ContactName,
		Domain:       lead.Domain,
		Category:     lead.Category,
		Position:     position,
		SenderName:   org.SenderName,
		SenderTitle:  org.SenderTitle,
		OrgName:      org.Name,
		Region:       org.Region,
		GapHighlight: gapHighlight(lead),
	}
	if d.BusinessName == "" {
		d.BusinessName = lead.Domain
	}
	if d.Category == "" {
		d.Category = "local"
	}
	if d.ContactName != "" {
		d.FirstName, _, _ = strings.Cut(d.ContactName, " ")
	}
	return d
}

// gapHighlight picks the strongest scoring signal to personalize the
// opener with.
func gapHighlight(lead *model.Lead) string {
	if lead.ScoreDetail == nil {
		return ""
	}
	phrases := map[string]string{
		"no_video":         "I noticed there's no video anywhere on your site",
		"legacy_markup":    "I noticed your site could use a refresh",
		"no_video_channel": "I couldn't find you on any video platform",
		"image_profile":    "your site leans on photos where video would land harder",
	}
	best := ""
	bestPoints := 0
	for _, sig := range lead.ScoreDetail.Signals {
		if phrase, ok := phrases[sig.Name]; ok && sig.Points > bestPoints {
			best = phrase
			bestPoints = sig.Points
		}
	}
	return best
}
