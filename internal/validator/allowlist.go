package validator

import "strings"

// domainAllowlist stores exact hosts and suffix wildcards derived from configuration.
type domainAllowlist struct {
	exact    map[string]struct{}
	suffixes []string
}

func newDomainAllowlist(patterns []string) *domainAllowlist {
	matcher := &domainAllowlist{
		exact: make(map[string]struct{}),
	}
	for _, raw := range patterns {
		value := canonicalHost(raw)
		if value == "" {
			continue
		}
		switch {
		case strings.HasPrefix(value, "*."):
			matcher.addSuffix(strings.TrimPrefix(value, "*."))
		case strings.HasPrefix(value, "."):
			matcher.addSuffix(strings.TrimPrefix(value, "."))
		default:
			matcher.exact[value] = struct{}{}
		}
	}
	return matcher
}

func (a *domainAllowlist) addSuffix(suffix string) {
	if suffix == "" {
		return
	}
	for _, existing := range a.suffixes {
		if existing == suffix {
			return
		}
	}
	a.suffixes = append(a.suffixes, suffix)
}

// Allows reports whether host matches an exact entry or a wildcard suffix.
// An empty allowlist allows nothing.
func (a *domainAllowlist) Allows(host string) bool {
	if a == nil {
		return false
	}
	host = canonicalHost(host)
	if host == "" {
		return false
	}
	if _, exact := a.exact[host]; exact {
		return true
	}
	for _, suffix := range a.suffixes {
		if strings.HasSuffix(host, "."+suffix) {
			return true
		}
	}
	return false
}

func (a *domainAllowlist) size() int {
	if a == nil {
		return 0
	}
	return len(a.exact) + len(a.suffixes)
}

// canonicalHost lowercases, trims a trailing dot, and drops a leading "www.".
func canonicalHost(raw string) string {
	host := strings.TrimSuffix(strings.TrimSpace(strings.ToLower(raw)), ".")
	return strings.TrimPrefix(host, "www.")
}
