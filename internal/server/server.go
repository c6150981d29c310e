// Package server exposes query documents over HTTP. A request is translated
// into a query document, executed by the interpreter and answered with a
// GraphQL-style JSON response.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hanpama/querygraph/internal/document"
	eventbus "github.com/hanpama/querygraph/internal/eventbus"
	events "github.com/hanpama/querygraph/internal/events"
	"github.com/hanpama/querygraph/internal/interpreter"
	"github.com/hanpama/querygraph/internal/protocol"
	"github.com/hanpama/querygraph/internal/qerr"
	reqid "github.com/hanpama/querygraph/internal/reqid"
	"github.com/hanpama/querygraph/internal/value"
)

// HealthPath answers liveness probes.
const HealthPath = "/healthz"

// Executor runs query documents. *interpreter.Interpreter implements it.
type Executor interface {
	ExecuteDocument(ctx context.Context, doc document.QueryDocument) ([]interpreter.Result, error)
}

// Handler is an http.Handler that serves the query endpoint.
type Handler struct {
	exec Executor
	opt  Options
}

type Options struct {
	// Timeout sets a default timeout if the incoming request context has none.
	// 0 means no default timeout.
	Timeout time.Duration

	// Pretty enables indented JSON responses (useful for dev).
	Pretty bool

	// MaxBodyBytes limits the size of the request body. 0 means unlimited.
	MaxBodyBytes int64

	// CORS configuration. If AllowedOrigins is empty, CORS is disabled.
	CORS CORSOptions
}

type Option func(*Options)

func WithTimeout(d time.Duration) Option { return func(o *Options) { o.Timeout = d } }
func WithPretty() Option                 { return func(o *Options) { o.Pretty = true } }
func WithMaxBodyBytes(n int64) Option    { return func(o *Options) { o.MaxBodyBytes = n } }
func WithCORS(origins ...string) Option {
	return func(o *Options) { o.CORS.AllowedOrigins = origins }
}

// CORSOptions holds simple CORS settings.
type CORSOptions struct {
	AllowedOrigins []string
}

// New creates a handler executing documents with exec.
func New(exec Executor, opts ...Option) *Handler {
	op := Options{Timeout: 10 * time.Second}
	for _, f := range opts {
		f(&op)
	}
	return &Handler{exec: exec, opt: op}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := ctx.Deadline(); !ok && h.opt.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.opt.Timeout)
		defer cancel()
	}

	var rid string
	if given := r.Header.Get(reqid.Header); given != "" {
		ctx, rid = reqid.WithID(ctx, given)
	} else {
		ctx, rid = reqid.NewContext(ctx)
	}
	w.Header().Set(reqid.Header, rid)

	status := http.StatusOK
	start := time.Now()
	eventbus.Publish(ctx, events.HTTPStart{Request: r})
	defer func() {
		eventbus.Publish(ctx, events.HTTPFinish{Request: r, Status: status, Duration: time.Since(start)})
	}()

	if r.Method == http.MethodGet && r.URL.Path == HealthPath {
		writeJSON(w, status, map[string]string{"status": "ok"}, h.opt.Pretty)
		return
	}

	if r.Method == http.MethodOptions {
		if len(h.opt.CORS.AllowedOrigins) > 0 {
			setCORSHeaders(w, r, h.opt.CORS)
		}
		status = http.StatusNoContent
		w.WriteHeader(status)
		return
	}

	if r.Method != http.MethodPost && r.Method != http.MethodGet {
		status = http.StatusMethodNotAllowed
		writeJSON(w, status, errorResponse(qerr.Input("method not allowed")), h.opt.Pretty)
		return
	}

	req, err := parseRequest(r, h.opt.MaxBodyBytes)
	if err != nil {
		status = http.StatusBadRequest
		if errors.Is(err, errBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		writeJSON(w, status, errorResponse(err), h.opt.Pretty)
		return
	}

	if len(h.opt.CORS.AllowedOrigins) > 0 {
		setCORSHeaders(w, r, h.opt.CORS)
	}

	writeJSON(w, status, h.execute(ctx, req), h.opt.Pretty)
}

func (h *Handler) execute(ctx context.Context, req request) any {
	var (
		doc document.QueryDocument
		err error
	)
	switch {
	case req.batch != nil:
		var tx *document.Transaction
		if req.transaction != nil {
			tx = document.NewTransaction(req.transaction.IsolationLevel)
		}
		doc, err = protocol.TranslateBatch(req.batch, tx)
	default:
		doc, err = protocol.TranslateDocument(req.single)
	}
	if err != nil {
		return errorResponse(err)
	}

	results, err := h.exec.ExecuteDocument(ctx, doc)
	if err != nil {
		return errorResponse(err)
	}
	if req.batch == nil {
		if len(results) != 1 {
			return errorResponse(qerr.Invariant("expected one result, got %d", len(results)))
		}
		return toSpecResult(results[0])
	}
	out := make([]specResult, len(results))
	for i, r := range results {
		out[i] = toSpecResult(r)
	}
	return batchResult{BatchResult: out}
}

// ------------------ Request parsing ------------------

var errBodyTooLarge error = qerr.Input("body too large")

type transactionOptions struct {
	IsolationLevel string `json:"isolationLevel"`
}

// batchRequest is the object form of a batch. A present transaction makes
// the batch transactional.
type batchRequest struct {
	Batch       []protocol.Request  `json:"batch"`
	Transaction *transactionOptions `json:"transaction,omitempty"`
}

type request struct {
	single      protocol.Request
	batch       []protocol.Request
	transaction *transactionOptions
}

func parseRequest(r *http.Request, maxBody int64) (request, error) {
	if r.Method == http.MethodGet {
		q := r.URL.Query().Get("query")
		if q == "" {
			return request{}, qerr.Input("missing 'query'")
		}
		vars := map[string]any{}
		if v := r.URL.Query().Get("variables"); v != "" {
			if err := decode([]byte(v), &vars); err != nil {
				return request{}, qerr.Input("invalid 'variables' JSON")
			}
		}
		op := r.URL.Query().Get("operationName")
		return request{single: protocol.Request{Query: q, Variables: vars, OperationName: op}}, nil
	}

	ct := r.Header.Get("Content-Type")
	if ct != "" && ct != "application/json" && !strings.HasPrefix(ct, "application/json;") {
		return request{}, qerr.Input("unsupported Content-Type")
	}
	reader := io.Reader(r.Body)
	if maxBody > 0 {
		reader = io.LimitReader(r.Body, maxBody+1)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return request{}, qerr.Input("failed to read body")
	}
	defer r.Body.Close()
	if maxBody > 0 && int64(len(body)) > maxBody {
		return request{}, errBodyTooLarge
	}
	body = bytes.TrimSpace(body)

	// Array form: a non-transactional batch.
	if len(body) > 0 && body[0] == '[' {
		var arr []protocol.Request
		if err := decode(body, &arr); err != nil {
			return request{}, qerr.Input("invalid JSON")
		}
		if len(arr) == 0 {
			return request{}, qerr.Input("empty batch")
		}
		return request{batch: arr}, nil
	}

	var probe map[string]json.RawMessage
	if err := decode(body, &probe); err != nil {
		return request{}, qerr.Input("invalid JSON")
	}
	if _, ok := probe["batch"]; ok {
		var br batchRequest
		if err := decode(body, &br); err != nil {
			return request{}, qerr.Input("invalid JSON")
		}
		if len(br.Batch) == 0 {
			return request{}, qerr.Input("empty batch")
		}
		return request{batch: br.Batch, transaction: br.Transaction}, nil
	}

	var req protocol.Request
	if err := decode(body, &req); err != nil {
		return request{}, qerr.Input("invalid JSON")
	}
	if req.Query == "" {
		return request{}, qerr.Input("missing 'query'")
	}
	return request{single: req}, nil
}

// decode keeps numbers exact so large integer ids survive.
func decode(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}

// ------------------ Response formatting ------------------

type specError struct {
	Message    string         `json:"message"`
	Path       []any          `json:"path,omitempty"`
	Extensions map[string]any `json:"extensions,omitempty"`
}

type specResult struct {
	Data   any         `json:"data"`
	Errors []specError `json:"errors,omitempty"`
}

type batchResult struct {
	BatchResult []specResult `json:"batchResult"`
}

func toSpecError(err error, path ...any) specError {
	se := specError{Message: err.Error(), Extensions: map[string]any{"code": qerr.KindOf(err).Code()}}
	if len(path) > 0 {
		se.Path = path
	}
	var qe *qerr.Error
	if errors.As(err, &qe) {
		for k, v := range map[string]string{"model": qe.Model, "relation": qe.Relation, "field": qe.Field} {
			if v != "" {
				se.Extensions[k] = v
			}
		}
	}
	return se
}

func errorResponse(err error) specResult {
	return specResult{Errors: []specError{toSpecError(err)}}
}

func toSpecResult(r interpreter.Result) specResult {
	if r.Err != nil {
		return specResult{Errors: []specError{toSpecError(r.Err, r.Name)}}
	}
	return specResult{Data: map[string]any{r.Name: value.ToGo(r.Data)}}
}

func writeJSON(w http.ResponseWriter, status int, v any, pretty bool) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	if pretty {
		enc.SetIndent("", "  ")
	}
	_ = enc.Encode(v)
}

func setCORSHeaders(w http.ResponseWriter, r *http.Request, opts CORSOptions) {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return
	}
	allowed := false
	for _, o := range opts.AllowedOrigins {
		if o == "*" || o == origin {
			allowed = true
			break
		}
	}
	if !allowed {
		return
	}
	if contains(opts.AllowedOrigins, "*") {
		w.Header().Set("Access-Control-Allow-Origin", "*")
	} else {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Add("Vary", "Origin")
	}
	if r.Method == http.MethodOptions {
		if hdr := r.Header.Get("Access-Control-Request-Headers"); hdr != "" {
			w.Header().Set("Access-Control-Allow-Headers", hdr)
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
