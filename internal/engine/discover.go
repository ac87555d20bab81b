package engine

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/groveline/prospector/internal/model"
	"github.com/groveline/prospector/pkg/searchapi"
)

// defaultDirectoryDomains are aggregators that surface in local-business
// searches but are never the business's own site.
var defaultDirectoryDomains = map[string]bool{
	"yelp.com":        true,
	"facebook.com":    true,
	"instagram.com":   true,
	"linkedin.com":    true,
	"tripadvisor.com": true,
	"yellowpages.com": true,
	"bbb.org":         true,
	"mapquest.com":    true,
	"foursquare.com":  true,
	"groupon.com":     true,
	"doordash.com":    true,
	"grubhub.com":     true,
	"ubereats.com":    true,
	"google.com":      true,
	"wikipedia.org":   true,
}

// discover searches the org's keywords and upserts new leads in found
// state. Queries are paced and bounded; a failed query is recorded and
// skipped so one bad keyword cannot sink the cycle.
func (e *Engine) discover(ctx context.Context, org *model.Organization, summary *model.RunSummary) {
	queries := org.Keywords
	if len(queries) > e.cfg.MaxQueriesPerRun {
		queries = queries[:e.cfg.MaxQueriesPerRun]
	}

	seen := make(map[string]bool)
	var batch []model.Lead

	for _, query := range queries {
		if err := e.searchLimiter.Wait(ctx); err != nil {
			return
		}

		var opts []searchapi.SearchOption
		if org.Region != "" {
			opts = append(opts, searchapi.WithLocation(org.Region))
		}
		results, err := e.search.Search(ctx, query, opts...)
		if err != nil {
			summary.AddError(fmt.Sprintf("discover %q: %v", query, err))
			continue
		}

		for _, r := range results {
			domain := domainOf(r.URL)
			if domain == "" || seen[domain] || e.directories[domain] {
				continue
			}
			seen[domain] = true

			known, err := e.store.LeadDomainKnown(ctx, org.ID, domain)
			if err != nil {
				summary.AddError(fmt.Sprintf("discover %s: %v", domain, err))
				continue
			}
			if known {
				continue
			}

			batch = append(batch, model.Lead{
				ID:        uuid.New().String(),
				OrgID:     org.ID,
				URL:       siteRoot(r.URL),
				Domain:    domain,
				Name:      businessName(r.Title),
				Status:    model.LeadStatusFound,
				Source:    "discovery",
				CreatedAt: time.Now().UTC(),
			})
		}
	}

	if len(batch) == 0 {
		return
	}
	inserted, err := e.store.UpsertLeads(ctx, batch)
	if err != nil {
		summary.AddError(fmt.Sprintf("discover: upsert: %v", err))
		return
	}
	summary.Found = int(inserted)
	zap.L().Info("engine: discovery complete",
		zap.String("org_id", org.ID),
		zap.Int("queries", len(queries)),
		zap.Int("candidates", len(batch)),
		zap.Int64("new_leads", inserted),
	)
}

// domainOf extracts the registrable-ish host of a result URL, lowercased
// and without any www prefix. Returns "" for unparseable URLs.
func domainOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return ""
	}
	host := strings.ToLower(u.Hostname())
	host = strings.TrimPrefix(host, "www.")
	if !strings.Contains(host, ".") {
		return ""
	}
	return host
}

// siteRoot normalizes a result URL to the site root so page walks start
// from a stable base.
func siteRoot(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	scheme := u.Scheme
	if scheme == "" {
		scheme = "https"
	}
	return scheme + "://" + u.Host
}

// businessName strips common search-result suffixes from a page title.
func businessName(title string) string {
	for _, sep := range []string{" | ", " - ", " – ", " :: "} {
		if idx := strings.Index(title, sep); idx > 0 {
			return strings.TrimSpace(title[:idx])
		}
	}
	return strings.TrimSpace(title)
}
