package services

import (
	"net/url"
	"strings"

	"paper-alerts/providers/acm"
	"paper-alerts/providers/arxiv"
)

// navigationPaths markieren Scholar-Links, die nie auf ein Paper zeigen.
var navigationPaths = []string{
	"/scholar_alerts", "/scholar_settings", "/citations", "/scholar_share", "/scholar_inbox",
}

// CanonicalLink entfernt Scholar-Weiterleitungen und vereinheitlicht arXiv- und ACM-Links.
func CanonicalLink(raw string) string {
	link := strings.TrimSpace(raw)
	if link == "" {
		return ""
	}

	for i := 0; i < 3; i++ {
		target, ok := unwrapRedirect(link)
		if !ok {
			break
		}
		link = target
	}

	if id := arxiv.ExtractID(link); id != "" {
		return arxiv.CanonicalLink(id)
	}
	if acm.IsACMLink(link) {
		return acm.CanonicalLink(link)
	}
	return link
}

// unwrapRedirect liefert das Ziel einer Scholar-Weiterleitung (?url=...).
func unwrapRedirect(link string) (string, bool) {
	u, err := url.Parse(link)
	if err != nil || !isScholarHost(u.Host) {
		return "", false
	}
	target := u.Query().Get("url")
	if target == "" {
		return "", false
	}
	if _, err := url.Parse(target); err != nil {
		return "", false
	}
	return target, true
}

func isScholarHost(host string) bool {
	return strings.HasPrefix(host, "scholar.google.") || strings.HasPrefix(host, "www.google.") || host == "scholar.googleusercontent.com"
}

// IsNavigationLink meldet, ob ein Link zur Alert-Verwaltung oder zu Zitationslisten gehört.
func IsNavigationLink(raw string) bool {
	if strings.HasPrefix(strings.ToLower(strings.TrimSpace(raw)), "mailto:") {
		return true
	}
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return true
	}
	if !isScholarHost(u.Host) {
		return false
	}
	if u.Query().Get("url") != "" {
		return false
	}
	for _, p := range navigationPaths {
		if strings.HasPrefix(u.Path, p) {
			return true
		}
	}
	q := u.Query()
	return q.Get("cites") != "" || q.Get("cluster") != "" || q.Get("update_op") != "" ||
		strings.HasPrefix(q.Get("q"), "related:")
}
