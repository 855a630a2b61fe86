package routing

import "strings"

// Match implements C2: the first Route whose Hostname case-insensitively
// equals host and whose Path is a prefix of path wins. An empty Path
// matches every path under the host. No wildcards, no regex (§4.2).
//
// The prefix match is segment-boundary aware: Path "/api" matches "/api",
// "/api/" and "/api/v1" but not "/apix".
func Match(table Table, host, path string) (Route, bool) {
	for _, r := range table {
		if !strings.EqualFold(r.Hostname, host) {
			continue
		}
		if r.Path == "" || path == r.Path || strings.HasPrefix(path, r.Path+"/") {
			return r, true
		}
	}
	return Route{}, false
}
