package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/hanpama/querygraph/internal/catalog"
	"github.com/hanpama/querygraph/internal/catalog/catalogtest"
	"github.com/hanpama/querygraph/internal/document"
	"github.com/hanpama/querygraph/internal/interpreter"
	"github.com/hanpama/querygraph/internal/memstore"
	reqid "github.com/hanpama/querygraph/internal/reqid"
	"github.com/hanpama/querygraph/internal/value"
)

func newTestHandler(t *testing.T, opts ...Option) (*Handler, *memstore.Store) {
	t.Helper()
	c := catalogtest.Blog(t, catalog.RelationModeForeignKeys)
	store := memstore.New(c)
	err := store.Load(map[string][]map[string]any{
		"User": {
			{"id": 1, "email": "ada@example.com", "firstName": "Ada", "lastName": "Lovelace", "role": "ADMIN"},
			{"id": 2, "email": "bob@example.com", "firstName": "Bob", "lastName": "Byte", "role": "USER"},
		},
	})
	if err != nil {
		t.Fatalf("load fixture: %v", err)
	}
	return New(interpreter.New(c, store), opts...), store
}

func post(t *testing.T, h http.Handler, body string) (*httptest.ResponseRecorder, any) {
	t.Helper()
	req := httptest.NewRequest("POST", "/", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	var out any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return w, out
}

func decodeJSON(t *testing.T, s string) any {
	t.Helper()
	var out any
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		t.Fatalf("decode %q: %v", s, err)
	}
	return out
}

func TestSingleQuery(t *testing.T) {
	h, _ := newTestHandler(t)
	w, got := post(t, h, `{"query":"query($id: Int!) { findUniqueUser(where: {id: $id}) { email } }","variables":{"id":2}}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	want := decodeJSON(t, `{"data":{"findUniqueUser":{"email":"bob@example.com"}}}`)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("response mismatch (-want +got):\n%s", diff)
	}
}

func TestGetQuery(t *testing.T) {
	h, _ := newTestHandler(t)
	req := httptest.NewRequest("GET", "/?query="+url.QueryEscape(`{ findManyUser(where: {role: ADMIN}) { id } }`), nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	want := decodeJSON(t, `{"data":{"findManyUser":[{"id":1}]}}`)
	if diff := cmp.Diff(want, decodeJSON(t, w.Body.String())); diff != "" {
		t.Fatalf("response mismatch (-want +got):\n%s", diff)
	}
}

func TestMutationError(t *testing.T) {
	h, _ := newTestHandler(t)
	_, got := post(t, h, `{"query":"mutation { updateOneUser(where: {id: 9}, data: {lastName: \"X\"}) { id } }"}`)
	res := got.(map[string]any)
	if res["data"] != nil {
		t.Fatalf("expected null data, got %v", res["data"])
	}
	errs := res["errors"].([]any)
	first := errs[0].(map[string]any)
	ext := first["extensions"].(map[string]any)
	if ext["code"] != "RecordNotFound" || ext["model"] != "User" {
		t.Fatalf("unexpected extensions %v", ext)
	}
	if diff := cmp.Diff([]any{"updateOneUser"}, first["path"]); diff != "" {
		t.Fatalf("path mismatch: %s", diff)
	}
}

func TestInputError(t *testing.T) {
	h, _ := newTestHandler(t)
	_, got := post(t, h, `{"query":"{ findUniqueUser(where: {firstName: \"Ada\"}) { id } }"}`)
	errs := got.(map[string]any)["errors"].([]any)
	code := errs[0].(map[string]any)["extensions"].(map[string]any)["code"]
	if code != "InputError" {
		t.Fatalf("code %v", code)
	}
}

func TestBatch(t *testing.T) {
	h, _ := newTestHandler(t)
	_, got := post(t, h, `{"batch":[
		{"query":"{ findUniqueUser(where: {id: 1}) { email } }"},
		{"query":"{ findUniqueUser(where: {id: 3}) { email } }"},
		{"query":"{ findUniqueUser(where: {email: \"bob@example.com\"}) { email } }"}
	]}`)
	want := decodeJSON(t, `{"batchResult":[
		{"data":{"findUniqueUser":{"email":"ada@example.com"}}},
		{"data":{"findUniqueUser":null}},
		{"data":{"findUniqueUser":{"email":"bob@example.com"}}}
	]}`)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("response mismatch (-want +got):\n%s", diff)
	}
}

func TestArrayBatchIsNotTransactional(t *testing.T) {
	h, store := newTestHandler(t)
	_, got := post(t, h, `[
		{"query":"mutation { updateOneUser(where: {id: 1}, data: {lastName: \"King\"}) { lastName } }"},
		{"query":"mutation { updateOneUser(where: {id: 9}, data: {lastName: \"X\"}) { id } }"}
	]`)
	items := got.(map[string]any)["batchResult"].([]any)
	if len(items) != 2 {
		t.Fatalf("expected 2 results, got %v", items)
	}
	if _, failed := items[1].(map[string]any)["errors"]; !failed {
		t.Fatalf("second item should fail: %v", items[1])
	}
	if got := store.IsolationLevels(); len(got) != 2 {
		t.Fatalf("each write runs in its own transaction, got %v", got)
	}
}

func TestTransactionalBatch(t *testing.T) {
	h, store := newTestHandler(t)
	_, got := post(t, h, `{"batch":[
		{"query":"mutation { updateOneUser(where: {id: 1}, data: {lastName: \"King\"}) { id } }"},
		{"query":"mutation { updateOneUser(where: {id: 9}, data: {lastName: \"X\"}) { id } }"}
	],"transaction":{"isolationLevel":"Serializable"}}`)
	if _, failed := got.(map[string]any)["errors"]; !failed {
		t.Fatalf("expected the batch to fail: %v", got)
	}
	if levels := store.IsolationLevels(); len(levels) != 1 || levels[0] != "Serializable" {
		t.Fatalf("isolation levels %v", levels)
	}
	if ln := store.Records("User")[0]["lastName"]; ln != value.String("Lovelace") {
		t.Fatalf("batch was not rolled back, lastName %v", ln)
	}
}

func TestHealth(t *testing.T) {
	h, _ := newTestHandler(t)
	req := httptest.NewRequest("GET", HealthPath, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusOK || w.Body.String() != "{\"status\":\"ok\"}\n" {
		t.Fatalf("health: %d %q", w.Code, w.Body.String())
	}
}

func TestCORSAndPreflight(t *testing.T) {
	h, _ := newTestHandler(t, WithCORS("*"))

	// simple request
	req := httptest.NewRequest("POST", "/", bytes.NewBufferString(`{"query":"{ findManyUser { id } }"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Origin", "http://example.com")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("missing CORS header")
	}

	// preflight
	pre := httptest.NewRequest("OPTIONS", "/", nil)
	pre.Header.Set("Origin", "http://example.com")
	pre.Header.Set("Access-Control-Request-Headers", "X-Test")
	pw := httptest.NewRecorder()
	h.ServeHTTP(pw, pre)
	if pw.Code != http.StatusNoContent {
		t.Fatalf("preflight status %d", pw.Code)
	}
	if pw.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("preflight missing CORS header")
	}
	if pw.Header().Get("Access-Control-Allow-Headers") != "X-Test" {
		t.Fatalf("preflight missing allow headers")
	}
}

func TestMaxBodyBytes(t *testing.T) {
	h, _ := newTestHandler(t, WithMaxBodyBytes(10))

	body := bytes.NewBufferString(`{"query":"1234567890"}`)
	req := httptest.NewRequest("POST", "/", body)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413 got %d", w.Code)
	}
}

func TestBadRequests(t *testing.T) {
	h, _ := newTestHandler(t)
	for _, body := range []string{`{`, `{"batch":[]}`, `[]`, `{"variables":{}}`} {
		req := httptest.NewRequest("POST", "/", bytes.NewBufferString(body))
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400 got %d", body, w.Code)
		}
	}

	req := httptest.NewRequest("PUT", "/", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405 got %d", w.Code)
	}
}

type recordingExecutor struct {
	ctx context.Context
}

func (r *recordingExecutor) ExecuteDocument(ctx context.Context, doc document.QueryDocument) ([]interpreter.Result, error) {
	r.ctx = ctx
	return []interpreter.Result{{Name: "findManyUser"}}, nil
}

func TestRequestID(t *testing.T) {
	exec := &recordingExecutor{}
	h := New(exec)

	req := httptest.NewRequest("POST", "/", bytes.NewBufferString(`{"query":"{ findManyUser { id } }"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	id, ok := reqid.FromContext(exec.ctx)
	if !ok || id == "" {
		t.Fatalf("missing request id in context")
	}
	if got := w.Header().Get(reqid.Header); got != id {
		t.Fatalf("response header %q, context id %q", got, id)
	}

	const given = "6f1c2b1e-8d3a-4a8e-9d5e-2f0a4c7b9e11"
	req = httptest.NewRequest("POST", "/", bytes.NewBufferString(`{"query":"{ findManyUser { id } }"}`))
	req.Header.Set(reqid.Header, given)
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if id, _ := reqid.FromContext(exec.ctx); id != given {
		t.Fatalf("incoming request id not kept: %q", id)
	}
}
