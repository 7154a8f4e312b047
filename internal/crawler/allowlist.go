package crawler

import "strings"

// DomainAllowList matches hosts against allowed domains. An entry admits the
// exact host and every subdomain of it; a leading "*." or "." is accepted and
// means the same thing. An empty list admits everything.
type DomainAllowList struct {
	domains []string
}

// NewDomainAllowList builds an allow-list from raw entries.
func NewDomainAllowList(entries []string) *DomainAllowList {
	list := &DomainAllowList{}
	seen := map[string]struct{}{}
	for _, entry := range entries {
		d := strings.ToLower(strings.TrimSpace(entry))
		d = strings.TrimPrefix(d, "*.")
		d = strings.TrimPrefix(d, ".")
		d = strings.TrimSuffix(d, ".")
		if d == "" {
			continue
		}
		if _, dup := seen[d]; dup {
			continue
		}
		seen[d] = struct{}{}
		list.domains = append(list.domains, d)
	}
	return list
}

// Empty reports whether the list has no entries.
func (l *DomainAllowList) Empty() bool {
	return l == nil || len(l.domains) == 0
}

// Domains returns the normalized entries.
func (l *DomainAllowList) Domains() []string {
	if l == nil {
		return nil
	}
	return append([]string(nil), l.domains...)
}

// Allows reports whether host is admitted.
func (l *DomainAllowList) Allows(host string) bool {
	if l.Empty() {
		return true
	}
	host = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(host)), ".")
	if host == "" {
		return false
	}
	for _, d := range l.domains {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

// AllowsURL reports whether the host of rawURL is admitted.
func (l *DomainAllowList) AllowsURL(rawURL string) bool {
	return l.Allows(DomainOf(rawURL))
}
