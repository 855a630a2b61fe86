package routing_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/maegashira/maegashira/internal/routing"
)

func route(host, path string) routing.Route {
	return routing.Route{Hostname: host, Path: path, Targets: []routing.Target{{Type: routing.TargetStatic, Directory: "."}}}
}

func TestMatch_PrefixAndPosition(t *testing.T) {
	table := routing.Table{route("example.com", "/api"), route("example.com", "")}

	r, ok := routing.Match(table, "example.com", "/api")
	assert.True(t, ok)
	assert.Equal(t, "/api", r.Path)

	r, ok = routing.Match(table, "example.com", "/api/")
	assert.True(t, ok)
	assert.Equal(t, "/api", r.Path)

	r, ok = routing.Match(table, "example.com", "/api/v1")
	assert.True(t, ok)
	assert.Equal(t, "/api", r.Path)

	r, ok = routing.Match(table, "example.com", "/apix")
	assert.True(t, ok)
	assert.Equal(t, "", r.Path, "falls through to the catch-all second route")

	_, ok = routing.Match(table, "other.com", "/api")
	assert.False(t, ok)
}

func TestMatch_CaseInsensitiveHost(t *testing.T) {
	table := routing.Table{route("Example.COM", "")}
	_, ok := routing.Match(table, "example.com", "/")
	assert.True(t, ok)
}

func TestMatch_FirstMatchWins(t *testing.T) {
	a := route("h", "")
	a.TimeoutMS = 1
	b := route("h", "")
	b.TimeoutMS = 2
	table := routing.Table{a, b}

	r, ok := routing.Match(table, "h", "/anything")
	assert.True(t, ok)
	assert.Equal(t, 1, r.TimeoutMS)
}
