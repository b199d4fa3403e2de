package normalize

import (
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// aggregatorDomains is the fixed denylist of non-authoritative hosts: social
// networks, site builders and link-in-bio services that cannot serve as a
// company's canonical website. Membership is checked on the registrable
// domain, so any subdomain or path variant matches.
var aggregatorDomains = map[string]bool{
	"facebook.com":      true,
	"instagram.com":     true,
	"linkedin.com":      true,
	"twitter.com":       true,
	"x.com":             true,
	"youtube.com":       true,
	"medium.com":        true,
	"wix.com":           true,
	"squarespace.com":   true,
	"wordpress.com":     true,
	"weebly.com":        true,
	"webflow.io":        true,
	"linktr.ee":         true,
	"crunchbase.com":    true,
	"angel.co":          true,
	"wellfound.com":     true,
	"eventbrite.com":    true,
	"blogspot.com":      true,
	"carrd.co":          true,
	"bio.link":          true,
	"substack.com":      true,
}

// aggregatorSuffixes catches site-builder platforms that register on the
// public suffix list, where the registrable domain is the tenant's own label
// ("acme.github.io") and exact membership would miss.
var aggregatorSuffixes = []string{
	".github.io",
	".pages.dev",
	".netlify.app",
	".vercel.app",
	".wixsite.com",
	".godaddysites.com",
	".mystrikingly.com",
	".notion.site",
	".business.site",
}

// Domain extracts the registrable domain (effective TLD+1) from a URL, so
// scheme, "www.", subdomain, path, and query variation never defeat matching:
// "https://www.mail.example.co.uk/about" yields "example.co.uk". It returns
// the empty string for missing or unparsable input; absence means "no
// matching signal", never an error.
func Domain(rawURL string) string {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return ""
	}

	if !strings.Contains(rawURL, "://") {
		rawURL = "https://" + rawURL
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}

	host := strings.ToLower(u.Hostname())
	host = strings.TrimSuffix(host, ".")
	if host == "" || !strings.Contains(host, ".") {
		return ""
	}

	domain, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return ""
	}
	return domain
}

// IsAggregator reports whether the registrable domain is on the aggregator
// denylist. Records whose website resolves to an aggregator are routed down
// Path B even though a website field is populated.
func IsAggregator(domain string) bool {
	domain = strings.ToLower(strings.TrimSpace(domain))
	if domain == "" {
		return false
	}
	if aggregatorDomains[domain] {
		return true
	}
	for _, suffix := range aggregatorSuffixes {
		if strings.HasSuffix(domain, suffix) {
			return true
		}
	}
	return false
}

// BrandToken derives the search brand token from a domain key: the label
// left of the public suffix ("gene" from "gene.com"). Empty input yields an
// empty token.
func BrandToken(domainKey string) string {
	if domainKey == "" {
		return ""
	}
	if idx := strings.Index(domainKey, "."); idx > 0 {
		return domainKey[:idx]
	}
	return domainKey
}
