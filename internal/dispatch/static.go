package dispatch

import (
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/maegashira/maegashira/internal/merr"
	"github.com/maegashira/maegashira/internal/routing"
)

// extraContentTypes covers extensions mime.TypeByExtension misses on
// minimal container images that lack a system mime.types file (§4.3's
// "built-in table").
var extraContentTypes = map[string]string{
	".html": "text/html; charset=utf-8",
	".htm":  "text/html; charset=utf-8",
	".css":  "text/css; charset=utf-8",
	".js":   "text/javascript; charset=utf-8",
	".mjs":  "text/javascript; charset=utf-8",
	".json": "application/json",
	".svg":  "image/svg+xml",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".ico":  "image/x-icon",
	".webp": "image/webp",
	".txt":  "text/plain; charset=utf-8",
	".xml":  "application/xml",
	".wasm": "application/wasm",
	".woff": "font/woff",
	".woff2": "font/woff2",
	".map":  "application/json",
	".pdf":  "application/pdf",
}

// contentTypeFor infers the Content-Type header value from a file's
// extension, falling back to application/octet-stream.
func contentTypeFor(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if ct, ok := extraContentTypes[ext]; ok {
		return ct
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// Static executes the static Target variant (§4.3): resolves
// target.Directory + request path (+ index, if the path ends in "/") and
// reads the whole file into the Result body, rejecting any resolved path
// that escapes Directory after normalization.
func Static(target routing.Target, route routing.Route, r *http.Request) (*Result, error) {
	index := target.Index
	if index == "" {
		index = "index.html"
	}

	rel := strings.TrimPrefix(r.URL.Path, route.Path)
	if rel == "" || strings.HasSuffix(rel, "/") {
		rel += index
	}
	rel = strings.TrimPrefix(rel, "/")

	root, err := filepath.Abs(target.Directory)
	if err != nil {
		return nil, merr.Wrap(merr.KindServerInternal, "failed to resolve static directory", err)
	}
	resolved := filepath.Join(root, filepath.Clean("/"+rel))
	if resolved != root && !strings.HasPrefix(resolved, root+string(filepath.Separator)) {
		return nil, merr.New(merr.KindStaticNotFound, "Not found").WithMeta("path", rel)
	}

	f, err := os.Open(resolved)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, merr.New(merr.KindStaticNotFound, "Not found").WithMeta("path", rel)
		}
		return nil, merr.Wrap(merr.KindServerInternal, "failed to open static file", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, merr.Wrap(merr.KindServerInternal, "failed to stat static file", err)
	}
	if info.IsDir() {
		return nil, merr.New(merr.KindStaticNotFound, "Not found").WithMeta("path", rel)
	}

	body, err := io.ReadAll(f)
	if err != nil {
		return nil, merr.Wrap(merr.KindServerInternal, "failed to read static file", err)
	}

	return &Result{
		StatusCode: http.StatusOK,
		StatusText: http.StatusText(http.StatusOK),
		Header:     map[string][]string{"Content-Type": {contentTypeFor(resolved)}},
		Body:       body,
		TargetType: routing.TargetStatic,
	}, nil
}
