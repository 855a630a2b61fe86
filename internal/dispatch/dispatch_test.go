package dispatch_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maegashira/maegashira/internal/dispatch"
	"github.com/maegashira/maegashira/internal/merr"
	"github.com/maegashira/maegashira/internal/routing"
)

func TestSelectTarget_SingleTargetAlwaysChosen(t *testing.T) {
	route := routing.Route{Targets: []routing.Target{{Type: routing.TargetStatic, Directory: "."}}}
	got := dispatch.SelectTarget(route, nil)
	assert.Equal(t, route.Targets[0], got)
}

func TestSelectTarget_MultipleTargetsPicksOneOfSet(t *testing.T) {
	route := routing.Route{Targets: []routing.Target{
		{Type: routing.TargetStatic, Directory: "a"},
		{Type: routing.TargetStatic, Directory: "b"},
	}}
	got := dispatch.SelectTarget(route, nil)
	assert.Contains(t, []string{"a", "b"}, got.Directory)
}

func TestForward_RewritesUpstreamURL(t *testing.T) {
	var gotPath, gotQuery, gotHost, gotUA string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		gotHost = r.Host
		gotUA = r.Header.Get("User-Agent")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer upstream.Close()

	route := routing.Route{Hostname: "h", Path: "/api", Targets: []routing.Target{{Type: routing.TargetForward, URL: upstream.URL}}}
	r := httptest.NewRequest(http.MethodGet, "http://h/api/rest?q=1", nil)

	res, err := dispatch.Forward(context.Background(), route.Targets[0], route, r, nil, 2000, 0)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "/rest", gotPath)
	assert.Equal(t, "q=1", gotQuery)
	assert.NotEmpty(t, gotHost)
	assert.Equal(t, dispatch.UserAgent, gotUA)

	var body map[string]any
	require.NoError(t, json.Unmarshal(res.Body, &body))
	assert.Equal(t, true, body["ok"])
}

func TestForward_SetsCORSAndEncodingHeaders(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	route := routing.Route{Hostname: "h", Path: "", Targets: []routing.Target{{Type: routing.TargetForward, URL: upstream.URL}}}
	r := httptest.NewRequest(http.MethodGet, "http://h/", nil)

	res, err := dispatch.Forward(context.Background(), route.Targets[0], route, r, nil, 2000, 0)
	require.NoError(t, err)
	assert.Equal(t, "*", res.Header["Access-Control-Allow-Origin"][0])
	assert.Equal(t, "*", res.Header["Access-Control-Allow-Methods"][0])
	assert.Equal(t, "identity", res.Header["Content-Encoding"][0])
}

func TestForward_TimeoutProducesUpstreamTimeout(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	route := routing.Route{Hostname: "h", Path: "", TimeoutMS: 50, Targets: []routing.Target{{Type: routing.TargetForward, URL: upstream.URL}}}
	r := httptest.NewRequest(http.MethodGet, "http://h/", nil)

	_, err := dispatch.Forward(context.Background(), route.Targets[0], route, r, nil, 50, 0)
	require.Error(t, err)
	assert.Equal(t, merr.KindUpstreamTimeout, merr.KindOf(err))
}

func TestForward_UsesDefaultTimeoutWhenRouteOmitsOne(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	route := routing.Route{Hostname: "h", Path: "", Targets: []routing.Target{{Type: routing.TargetForward, URL: upstream.URL}}}
	r := httptest.NewRequest(http.MethodGet, "http://h/", nil)

	_, err := dispatch.Forward(context.Background(), route.Targets[0], route, r, nil, 0, 50)
	require.Error(t, err)
	assert.Equal(t, merr.KindUpstreamTimeout, merr.KindOf(err))
}

func TestForward_UnreachableProducesFetchFailed(t *testing.T) {
	route := routing.Route{Hostname: "h", Path: "", Targets: []routing.Target{{Type: routing.TargetForward, URL: "http://127.0.0.1:1"}}}
	r := httptest.NewRequest(http.MethodGet, "http://h/", nil)

	_, err := dispatch.Forward(context.Background(), route.Targets[0], route, r, nil, 500, 0)
	require.Error(t, err)
	assert.Equal(t, merr.KindUpstreamFetchFailed, merr.KindOf(err))
}

func TestStatic_ServesFileContents(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "readme.txt"), []byte("hello"), 0o644))

	route := routing.Route{Hostname: "h", Path: "", Targets: []routing.Target{{Type: routing.TargetStatic, Directory: dir}}}
	r := httptest.NewRequest(http.MethodGet, "http://h/readme.txt", nil)

	res, err := dispatch.Static(route.Targets[0], route, r)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "hello", string(res.Body))
}

func TestStatic_MissingFileIs404(t *testing.T) {
	dir := t.TempDir()
	route := routing.Route{Hostname: "h", Path: "", Targets: []routing.Target{{Type: routing.TargetStatic, Directory: dir}}}
	r := httptest.NewRequest(http.MethodGet, "http://h/missing.txt", nil)

	_, err := dispatch.Static(route.Targets[0], route, r)
	require.Error(t, err)
	assert.Equal(t, merr.KindStaticNotFound, merr.KindOf(err))
}

func TestStatic_IndexDefaultsToIndexHTML(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<html/>"), 0o644))

	route := routing.Route{Hostname: "h", Path: "", Targets: []routing.Target{{Type: routing.TargetStatic, Directory: dir}}}
	r := httptest.NewRequest(http.MethodGet, "http://h/", nil)

	res, err := dispatch.Static(route.Targets[0], route, r)
	require.NoError(t, err)
	assert.Equal(t, "<html/>", string(res.Body))
}

func TestStatic_RejectsPathTraversal(t *testing.T) {
	dir := t.TempDir()
	route := routing.Route{Hostname: "h", Path: "", Targets: []routing.Target{{Type: routing.TargetStatic, Directory: dir}}}
	r := httptest.NewRequest(http.MethodGet, "http://h/../../../../etc/passwd", nil)

	_, err := dispatch.Static(route.Targets[0], route, r)
	require.Error(t, err)
	assert.Equal(t, merr.KindStaticNotFound, merr.KindOf(err))
}

func TestDispatch_RedirectTargetIsServerInternal(t *testing.T) {
	route := routing.Route{Hostname: "h", Path: "", Targets: []routing.Target{{Type: routing.TargetRedirect, URL: "https://example.com"}}}
	r := httptest.NewRequest(http.MethodGet, "http://h/", nil)

	_, err := dispatch.Dispatch(context.Background(), route, r, nil, nil, 0)
	require.Error(t, err)
	assert.Equal(t, merr.KindServerInternal, merr.KindOf(err))
}
