// Package routing implements the routing-table store (C1) and route
// matcher (C2): a validated, versioned snapshot of routes, replaced
// wholesale under a single writer and read wait-free via atomic.Pointer.
package routing

import "net/url"

// Route is one entry of the routing table (§3).
type Route struct {
	Hostname       string          `json:"hostname"`
	Path           string          `json:"path"`
	TimeoutMS      int             `json:"timeout_ms,omitempty"`
	Middlewares    *Middlewares    `json:"middlewares,omitempty"`
	LoadBalancing  *LoadBalancing  `json:"load_balancing,omitempty"`
	Authentication *Authentication `json:"authentication,omitempty"`
	Cache          *Cache          `json:"cache,omitempty"`
	Targets        []Target        `json:"targets"`
}

// Middlewares lists pre/post-processing middleware keys, applied in order.
type Middlewares struct {
	Pre  []string `json:"pre,omitempty"`
	Post []string `json:"post,omitempty"`
}

// LoadBalancing selects among a Route's multiple Targets.
type LoadBalancing struct {
	Type string `json:"type"`
}

// Authentication gates a request before dispatch (C5).
type Authentication struct {
	Type     string `json:"type"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	Realm    string `json:"realm,omitempty"`
}

const (
	AuthAnonymous = "anonymous"
	AuthBasic     = "basic"
)

// Cache is reserved; only "no-cache" is honored by the dispatcher.
type Cache struct {
	Type  string `json:"type"`
	TTLMS int    `json:"ttl_ms,omitempty"`
}

const (
	CacheNoCache = "no-cache"
	CacheBasic   = "basic"
)

// Target kinds.
const (
	TargetForward  = "forward"
	TargetStatic   = "static"
	TargetRedirect = "redirect"
)

// Target is a tagged union over Type: forward, static, or (reserved) redirect.
type Target struct {
	Type string `json:"type"`

	// forward
	URL string `json:"url,omitempty"`

	// static
	Directory string `json:"directory,omitempty"`
	Index     string `json:"index,omitempty"`
}

// Table is an ordered sequence of Route; order determines match precedence (§3).
type Table []Route

// DeepCopy returns a structurally independent copy, used when handing a
// Table to a goroutine (DNS prefetch) that must not observe later swaps.
func (t Table) DeepCopy() Table {
	out := make(Table, len(t))
	for i, r := range t {
		cp := r
		cp.Targets = append([]Target(nil), r.Targets...)
		if r.Middlewares != nil {
			m := *r.Middlewares
			m.Pre = append([]string(nil), r.Middlewares.Pre...)
			m.Post = append([]string(nil), r.Middlewares.Post...)
			cp.Middlewares = &m
		}
		if r.LoadBalancing != nil {
			lb := *r.LoadBalancing
			cp.LoadBalancing = &lb
		}
		if r.Authentication != nil {
			auth := *r.Authentication
			cp.Authentication = &auth
		}
		if r.Cache != nil {
			c := *r.Cache
			cp.Cache = &c
		}
		out[i] = cp
	}
	return out
}

// ForwardHosts returns the deduplicated set of upstream hosts among the
// table's forward targets, used by the DNS prefetch side-effect.
func (t Table) ForwardHosts() []string {
	seen := make(map[string]struct{})
	var hosts []string
	for _, r := range t {
		for _, tg := range r.Targets {
			if tg.Type != TargetForward || tg.URL == "" {
				continue
			}
			host := hostOf(tg.URL)
			if host == "" {
				continue
			}
			if _, ok := seen[host]; ok {
				continue
			}
			seen[host] = struct{}{}
			hosts = append(hosts, host)
		}
	}
	return hosts
}

// hostOf extracts the hostname (no port) from an absolute URL, or "" if it
// does not parse.
func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}
