package ratelimit

import (
	"regexp"
	"strings"
)

// RouteClass groups routes that share a bot multiplier
type RouteClass struct {
	Name     string
	Prefixes []string
	// BotMultiplier scales the limits for bots on these routes
	BotMultiplier float64
	// Sensitive routes add to the risk score
	Sensitive bool
}

// DefaultRouteClasses are matched by longest prefix
var DefaultRouteClasses = []RouteClass{
	{Name: "admin", Prefixes: []string{"/admin", "/api/admin", "/api/v1/admin"}, BotMultiplier: 0.1, Sensitive: true},
	{Name: "auth", Prefixes: []string{"/auth", "/api/auth", "/api/v1/auth"}, BotMultiplier: 0.25, Sensitive: true},
	{Name: "webhooks", Prefixes: []string{"/webhooks", "/api/webhooks", "/api/v1/webhooks"}, BotMultiplier: 0.5},
	{Name: "api", Prefixes: []string{"/api"}, BotMultiplier: 0.5},
}

// defaultRouteClass applies when no prefix matches
var defaultRouteClass = RouteClass{Name: "default", BotMultiplier: 0.5}

// ClassifyRoute returns the class whose prefix is the longest match for route
func ClassifyRoute(classes []RouteClass, route string) RouteClass {
	best, bestLen := defaultRouteClass, -1
	for _, class := range classes {
		for _, prefix := range class.Prefixes {
			if matchesPrefix(route, prefix) && len(prefix) > bestLen {
				best, bestLen = class, len(prefix)
			}
		}
	}
	return best
}

// matchesPrefix matches whole path segments, so /api does not match /apiary
func matchesPrefix(route, prefix string) bool {
	if !strings.HasPrefix(route, prefix) {
		return false
	}
	return len(route) == len(prefix) || route[len(prefix)] == '/'
}

var botUserAgent = regexp.MustCompile(`(?i)bot|crawl|spider|scrap|slurp|curl|wget|python-requests|python-urllib|go-http-client|httpclient|okhttp|axios|node-fetch|headless|phantomjs|selenium|puppeteer|playwright`)

// IsBotUserAgent reports automated clients. An empty user agent counts as a
// bot.
func IsBotUserAgent(userAgent string) bool {
	if strings.TrimSpace(userAgent) == "" {
		return true
	}
	return botUserAgent.MatchString(userAgent)
}
