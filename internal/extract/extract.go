// Package extract walks a lead's website and pulls out contact methods
// and the digital-presence signals the scorer consumes.
package extract

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/groveline/prospector/internal/model"
	"github.com/groveline/prospector/internal/policy"
	"github.com/groveline/prospector/pkg/searchapi"
)

// DefaultPagePaths are the site paths checked for contact information,
// in order. The walk stops early once an email and a phone are found.
var DefaultPagePaths = []string{
	"/", "/contact", "/contact-us", "/about", "/about-us", "/legal", "/impressum",
}

// Extraction is the result of walking one lead's site.
type Extraction struct {
	Contacts     []model.ContactMethod
	ContactName  string
	Phone        string
	Signals      Signals
	PagesFetched int
}

// Extractor fetches a lead's pages and extracts contact methods.
type Extractor struct {
	client      searchapi.Client
	pagePaths   []string
	pageTimeout time.Duration
	generic     []string
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithPagePaths overrides the default path walk order.
func WithPagePaths(paths []string) Option {
	return func(e *Extractor) {
		if len(paths) > 0 {
			e.pagePaths = paths
		}
	}
}

// WithPageTimeout sets the per-page fetch timeout.
func WithPageTimeout(d time.Duration) Option {
	return func(e *Extractor) {
		if d > 0 {
			e.pageTimeout = d
		}
	}
}

// WithGenericLocalParts overrides the role-address list used to flag
// generic mailboxes.
func WithGenericLocalParts(parts []string) Option {
	return func(e *Extractor) {
		if len(parts) > 0 {
			e.generic = parts
		}
	}
}

// New creates an Extractor backed by the given page fetch client.
func New(client searchapi.Client, opts ...Option) *Extractor {
	e := &Extractor{
		client:      client,
		pagePaths:   DefaultPagePaths,
		pageTimeout: 20 * time.Second,
		generic:     policy.GenericLocalParts,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract walks the lead's site paths and aggregates contact methods and
// presence signals. Individual page failures are logged and skipped; the
// walk only fails when no page could be fetched at all.
func (e *Extractor) Extract(ctx context.Context, lead *model.Lead) (*Extraction, error) {
	base := strings.TrimSuffix(lead.URL, "/")
	if base == "" {
		base = "https://" + lead.Domain
	}

	result := &Extraction{}
	seen := make(map[string]bool)

	for _, path := range e.pagePaths {
		pageURL := base
		if path != "/" {
			pageURL = base + path
		}

		pageCtx, cancel := context.WithTimeout(ctx, e.pageTimeout)
		page, err := e.client.Fetch(pageCtx, pageURL)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			zap.L().Debug("extract: page fetch failed",
				zap.String("url", pageURL),
				zap.Error(err),
			)
			continue
		}
		result.PagesFetched++
		result.Signals.merge(detectSignals(page.Content))

		for _, addr := range findEmails(page.Content, lead.Domain) {
			if seen[addr] {
				continue
			}
			seen[addr] = true
			local, _, _ := strings.Cut(addr, "@")
			result.Contacts = append(result.Contacts, model.ContactMethod{
				Channel:  model.ChannelEmailSMTP,
				Address:  addr,
				Personal: !isGeneric(local, e.generic),
			})
		}

		if result.Phone == "" {
			result.Phone = findPhone(page.Content)
		}
		if result.ContactName == "" {
			result.ContactName = findContactName(page.Content)
		}

		// Enough to work with; stop walking.
		if hasEmail(result.Contacts) && result.Phone != "" && result.ContactName != "" {
			break
		}
	}

	if result.PagesFetched == 0 {
		return result, nil
	}
	result.Signals.HasWebsite = true
	if result.ContactName != "" {
		result.Signals.ContactName = true
	}

	finishContacts(result)
	return result, nil
}

// finishContacts orders contacts (personal emails first, then generic,
// then phone) and assigns priorities.
func finishContacts(result *Extraction) {
	ordered := make([]model.ContactMethod, 0, len(result.Contacts)+1)
	for _, cm := range result.Contacts {
		if cm.Personal {
			ordered = append(ordered, cm)
		}
	}
	for _, cm := range result.Contacts {
		if !cm.Personal {
			ordered = append(ordered, cm)
		}
	}
	if result.Phone != "" {
		ordered = append(ordered, model.ContactMethod{
			Channel: model.ChannelSMS,
			Address: result.Phone,
		}, model.ContactMethod{
			Channel: model.ChannelVoiceDrop,
			Address: result.Phone,
		})
	}
	for i := range ordered {
		ordered[i].Priority = i
	}
	result.Contacts = ordered
}

func hasEmail(contacts []model.ContactMethod) bool {
	for _, cm := range contacts {
		if cm.Channel.IsEmail() {
			return true
		}
	}
	return false
}

func isGeneric(local string, generic []string) bool {
	local = strings.ToLower(local)
	for _, g := range generic {
		if local == g {
			return true
		}
	}
	return false
}
