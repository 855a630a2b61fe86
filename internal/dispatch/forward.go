package dispatch

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/maegashira/maegashira/internal/merr"
	"github.com/maegashira/maegashira/internal/routing"
)

// forwardClient is shared across forward dispatches; its CheckRedirect caps
// the chain at RedirectDepth (§4.3). The default transport's connection
// pooling is the pooling policy the spec's Non-goals accept as-is.
var forwardClient = &http.Client{
	CheckRedirect: func(req *http.Request, via []*http.Request) error {
		if len(via) >= RedirectDepth {
			return errors.New("stopped after maximum redirect depth")
		}
		return nil
	},
}

// Forward executes the forward Target variant (§4.3): it strips the
// matched Route's path prefix from the request path, concatenates it onto
// target.URL along with the request's query string, copies method/headers/
// body onto the outbound request, overwrites Host and User-Agent, and on
// response sets the CORS and Content-Encoding headers the spec requires.
// timeoutMS is the Route's own timeout_ms (0 if unset); defaultTimeoutMS is
// the operator-configured fallback, itself falling back to DefaultTimeoutMS
// when also unset.
func Forward(ctx context.Context, target routing.Target, route routing.Route, r *http.Request, body []byte, timeoutMS, defaultTimeoutMS int) (*Result, error) {
	if timeoutMS <= 0 {
		timeoutMS = defaultTimeoutMS
	}
	if timeoutMS <= 0 {
		timeoutMS = DefaultTimeoutMS
	}

	upstreamURL, err := buildUpstreamURL(target.URL, route.Path, r.URL)
	if err != nil {
		return nil, merr.Wrap(merr.KindUpstreamFetchFailed, "failed to build upstream URL", err)
	}

	ctx, cancel := context.WithTimeout(ctx, time.Duration(timeoutMS)*time.Millisecond)
	defer cancel()

	outReq, err := http.NewRequestWithContext(ctx, r.Method, upstreamURL, newBodyReader(body))
	if err != nil {
		return nil, merr.Wrap(merr.KindUpstreamFetchFailed, "failed to build upstream request", err)
	}
	outReq.Header = r.Header.Clone()
	outReq.Host = outReq.URL.Host
	outReq.Header.Set("User-Agent", UserAgent)

	resp, err := forwardClient.Do(outReq)
	if err != nil {
		if ctx.Err() != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, merr.Wrap(merr.KindUpstreamTimeout, "upstream request timed out", err)
		}
		return nil, merr.Wrap(merr.KindUpstreamFetchFailed, "failed to fetch the target URL", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, merr.Wrap(merr.KindUpstreamFetchFailed, "failed to read upstream response body", err)
	}

	resp.Header.Set("Access-Control-Allow-Origin", "*")
	resp.Header.Set("Access-Control-Allow-Methods", "*")
	resp.Header.Set("Content-Encoding", "identity")

	return &Result{
		StatusCode: resp.StatusCode,
		StatusText: http.StatusText(resp.StatusCode),
		Header:     resp.Header,
		Body:       respBody,
		TargetType: routing.TargetForward,
	}, nil
}

// buildUpstreamURL implements the forward-rewriting law of §8: for
// target URL u and route path p, request path p+rest maps to u+rest,
// query string preserved.
func buildUpstreamURL(targetURL, routePath string, reqURL *url.URL) (string, error) {
	base, err := url.Parse(targetURL)
	if err != nil {
		return "", err
	}
	rest := strings.TrimPrefix(reqURL.Path, routePath)
	if rest != "" && !strings.HasPrefix(rest, "/") {
		rest = "/" + rest
	}
	base.Path = strings.TrimSuffix(base.Path, "/") + rest
	base.RawQuery = reqURL.RawQuery
	return base.String(), nil
}

func newBodyReader(body []byte) io.Reader {
	if len(body) == 0 {
		return nil
	}
	return strings.NewReader(string(body))
}
