// Package txn defines the Transaction record (§3): the flat, per-request
// telemetry record created on entry to the request state machine and
// finalized on exit, then delivered to the post-transaction sink. It has no
// behavior beyond small duration helpers — it exists as a standalone
// package so both internal/engine (which builds it) and internal/pipeline
// (whose middleware handlers read and annotate it) can depend on it without
// an import cycle.
package txn

import "time"

// Cancellation reasons, per §3.
const (
	ReasonFetchFailed         = "fetch_failed"
	ReasonTimeout             = "timeout"
	ReasonRouteMatch          = "route_match"
	ReasonMiddlewareCancelled = "middleware_cancelled"
	CacheNoCache              = "no-cache"
	CacheMatch                = "match"
	CacheMiss                 = "miss"
)

// Transaction is Maegashira's single flat per-request record; optional
// fields remain their zero value when the corresponding phase never ran.
type Transaction struct {
	ID    string    `json:"id"`
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`

	ClientIP     string `json:"client_ip"`
	Method       string `json:"method"`
	URL          string `json:"url"`
	UserAgent    string `json:"user_agent"`
	RequestBytes int64  `json:"request_bytes"`

	ResolvingStart time.Time `json:"resolving_start"`
	ResolvingEnd   time.Time `json:"resolving_end"`

	PreprocessingStart time.Time `json:"preprocessing_start"`
	PreprocessingEnd   time.Time `json:"preprocessing_end"`

	PostprocessingStart time.Time `json:"postprocessing_start"`
	PostprocessingEnd   time.Time `json:"postprocessing_end"`

	TargetType         string    `json:"target_type,omitempty"`
	TargetRequestStart time.Time `json:"target_request_start"`
	TargetRequestEnd   time.Time `json:"target_request_end"`

	Cancelled          bool   `json:"cancelled"`
	CancellationReason string `json:"cancellation_reason,omitempty"`

	Cache string `json:"cache,omitempty"`

	Status        int    `json:"status"`
	StatusText    string `json:"status_text"`
	ResponseBytes int64  `json:"response_bytes"`
}

// New starts a Transaction, stamping Start and the request-derived fields.
func New(id, clientIP, method, url, userAgent string, requestBytes int64) *Transaction {
	return &Transaction{
		ID:           id,
		Start:        time.Now().UTC(),
		ClientIP:     clientIP,
		Method:       method,
		URL:          url,
		UserAgent:    userAgent,
		RequestBytes: requestBytes,
	}
}

// Cancel marks the transaction cancelled with reason, used by every
// terminal non-2xx path of the state machine (§4.6).
func (t *Transaction) Cancel(reason string) {
	t.Cancelled = true
	t.CancellationReason = reason
}

// Finish stamps End and status/byte fields. Call once, at FINALIZE.
func (t *Transaction) Finish(status int, statusText string, responseBytes int64) {
	t.End = time.Now().UTC()
	t.Status = status
	t.StatusText = statusText
	t.ResponseBytes = responseBytes
}

func msSince(start, end time.Time) float64 {
	if start.IsZero() || end.IsZero() {
		return 0
	}
	d := end.Sub(start).Seconds() * 1000
	if d < 0 {
		return 0
	}
	return d
}

// Duration returns the total request duration in milliseconds, clamped to
// 0 against clock skew (invariant 4, §3).
func (t *Transaction) Duration() float64 { return msSince(t.Start, t.End) }

// ResolvingDuration returns the RESOLVING phase's duration in milliseconds.
func (t *Transaction) ResolvingDuration() float64 { return msSince(t.ResolvingStart, t.ResolvingEnd) }

// PreprocessingDuration returns the PRE_PROCESSING phase's duration in milliseconds.
func (t *Transaction) PreprocessingDuration() float64 {
	return msSince(t.PreprocessingStart, t.PreprocessingEnd)
}

// PostprocessingDuration returns the POST_PROCESSING phase's duration in milliseconds.
func (t *Transaction) PostprocessingDuration() float64 {
	return msSince(t.PostprocessingStart, t.PostprocessingEnd)
}

// TargetRequestDuration returns the dispatcher call's duration in milliseconds.
func (t *Transaction) TargetRequestDuration() float64 {
	return msSince(t.TargetRequestStart, t.TargetRequestEnd)
}

// TotalOverhead returns duration minus target-request duration, clamped to
// 0 (invariant 4, §3).
func (t *Transaction) TotalOverhead() float64 {
	overhead := t.Duration() - t.TargetRequestDuration()
	if overhead < 0 {
		return 0
	}
	return overhead
}

// OverheadPct returns TotalOverhead as a percentage of Duration, or 0 when
// Duration is 0.
func (t *Transaction) OverheadPct() float64 {
	d := t.Duration()
	if d == 0 {
		return 0
	}
	return (t.TotalOverhead() / d) * 100
}

// MarshalFlat returns the JSON-ready record, with every duration field
// computed at call time (so partial/in-flight transactions marshal
// sensibly for debug logging).
func (t *Transaction) MarshalFlat() map[string]any {
	return map[string]any{
		"id":                      t.ID,
		"start":                   t.Start,
		"end":                     t.End,
		"duration":                t.Duration(),
		"client_ip":               t.ClientIP,
		"method":                  t.Method,
		"url":                     t.URL,
		"user_agent":              t.UserAgent,
		"request_bytes":           t.RequestBytes,
		"resolving_start":         t.ResolvingStart,
		"resolving_end":           t.ResolvingEnd,
		"resolving_duration":      t.ResolvingDuration(),
		"preprocessing_start":     t.PreprocessingStart,
		"preprocessing_end":       t.PreprocessingEnd,
		"preprocessing_duration":  t.PreprocessingDuration(),
		"postprocessing_start":    t.PostprocessingStart,
		"postprocessing_end":      t.PostprocessingEnd,
		"postprocessing_duration": t.PostprocessingDuration(),
		"target_type":             t.TargetType,
		"target_request_start":    t.TargetRequestStart,
		"target_request_end":      t.TargetRequestEnd,
		"target_request_duration": t.TargetRequestDuration(),
		"cancelled":               t.Cancelled,
		"cancellation_reason":     t.CancellationReason,
		"cache":                   t.Cache,
		"status":                  t.Status,
		"status_text":             t.StatusText,
		"response_bytes":          t.ResponseBytes,
		"total_overhead":          t.TotalOverhead(),
		"overhead_pct":            t.OverheadPct(),
	}
}
