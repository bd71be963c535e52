// Package testutil provides testing utilities for the aPaaS client.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"time"
)

// Default credentials and token served by MockPlatform.
const (
	DefaultClientID     = "test-client"
	DefaultClientSecret = "test-secret"
	DefaultNamespace    = "app_test"
)

// Route names used for counters and failure injection.
const (
	RouteToken         = "token"
	RouteQuery         = "records_query"
	RouteGet           = "record_get"
	RouteCreate        = "record_create"
	RouteCreateBatch   = "records_batch_create"
	RouteUpdate        = "record_update"
	RouteUpdateBatch   = "records_batch_update"
	RouteDelete        = "record_delete"
	RouteDeleteBatch   = "records_batch_delete"
	RouteObjectMeta    = "object_meta"
	RouteFieldMeta     = "field_meta"
	RouteDepartments   = "departments"
	RouteInvoke        = "function_invoke"
	codeInvalidToken   = "k_ident_013001"
	codeRecordNotFound = "k_ec_000004"
)

// Failure is an application error returned instead of the normal response.
type Failure struct {
	Code string
	Msg  string

	// StatusCode defaults to 200: the platform reports domain errors in the envelope.
	StatusCode int
}

// MockPlatform is a stateful in-memory platform server for testing.
type MockPlatform struct {
	server   *httptest.Server
	mu       sync.Mutex
	handlers map[string]http.HandlerFunc

	// Credentials accepted by the token endpoint.
	ClientID     string
	ClientSecret string

	// TokenTTL is the validity of issued tokens.
	TokenTTL time.Duration

	tokenSeq  int
	token     string
	records   map[string][]map[string]any
	nextID    int
	calls     map[string]int
	batches   map[string][]int
	failures  map[string]map[int]Failure
	authFail  *Failure
	lastAuth  string
	lastQuery map[string]any

	// Tracking
	RequestCount      int
	LastRequestHeader http.Header
}

// NewMockPlatform creates and starts a mock platform server.
func NewMockPlatform() *MockPlatform {
	mock := &MockPlatform{
		handlers:     make(map[string]http.HandlerFunc),
		ClientID:     DefaultClientID,
		ClientSecret: DefaultClientSecret,
		TokenTTL:     2 * time.Hour,
		records:      make(map[string][]map[string]any),
		calls:        make(map[string]int),
		batches:      make(map[string][]int),
		failures:     make(map[string]map[int]Failure),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/v1/appToken", mock.handleToken)

	const objects = "/v1/data/namespaces/{ns}/objects/{object}"
	mux.HandleFunc("POST "+objects+"/records_query", mock.authed(RouteQuery, mock.handleQuery))
	mux.HandleFunc("POST "+objects+"/records/{id}", mock.authed(RouteGet, mock.handleGet))
	mux.HandleFunc("POST "+objects+"/records", mock.authed(RouteCreate, mock.handleCreate))
	mux.HandleFunc("POST "+objects+"/records_batch", mock.authed(RouteCreateBatch, mock.handleCreateBatch))
	mux.HandleFunc("PATCH "+objects+"/records/{id}", mock.authed(RouteUpdate, mock.handleUpdate))
	mux.HandleFunc("PATCH "+objects+"/records_batch", mock.authed(RouteUpdateBatch, mock.handleUpdateBatch))
	mux.HandleFunc("DELETE "+objects+"/records/{id}", mock.authed(RouteDelete, mock.handleDelete))
	mux.HandleFunc("DELETE "+objects+"/records_batch", mock.authed(RouteDeleteBatch, mock.handleDeleteBatch))

	const meta = "/v1/data/namespaces/{ns}/meta/objects/{object}"
	mux.HandleFunc("GET "+meta, mock.authed(RouteObjectMeta, mock.handleObjectMeta))
	mux.HandleFunc("GET "+meta+"/fields/{field}", mock.authed(RouteFieldMeta, mock.handleFieldMeta))

	mux.HandleFunc("POST /api/integration/v2/feishu/getDepartments", mock.authed(RouteDepartments, mock.handleDepartments))
	mux.HandleFunc("POST /api/cloudfunction/v1/namespaces/{ns}/invoke/{name}", mock.authed(RouteInvoke, mock.handleInvoke))

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.RequestCount++
		mock.LastRequestHeader = r.Header.Clone()
		handler, exists := mock.handlers[r.URL.Path]
		mock.mu.Unlock()

		if exists {
			handler(w, r)
			return
		}
		mux.ServeHTTP(w, r)
	}))

	return mock
}

// URL returns the mock server URL.
func (m *MockPlatform) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockPlatform) Close() {
	m.server.Close()
}

// Reset clears all tracking counters and injected failures. Stored records are kept.
func (m *MockPlatform) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RequestCount = 0
	m.LastRequestHeader = nil
	m.calls = make(map[string]int)
	m.batches = make(map[string][]int)
	m.failures = make(map[string]map[int]Failure)
	m.authFail = nil
}

// SetHandler overrides every method on path with handler.
func (m *MockPlatform) SetHandler(path string, handler http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// Seed appends n records to object. Record i carries name "record-i" and index i.
func (m *MockPlatform) Seed(object string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := 0; i < n; i++ {
		m.insertLocked(object, map[string]any{
			"name":  fmt.Sprintf("record-%d", i),
			"index": i,
		})
	}
}

// Records returns a copy of the records stored in object.
func (m *MockPlatform) Records(object string) []map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]map[string]any, len(m.records[object]))
	copy(out, m.records[object])
	return out
}

// FailAuth makes the token endpoint answer with f until Reset.
func (m *MockPlatform) FailAuth(f Failure) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.authFail = &f
}

// FailOn makes the nth (1-based) call of route answer with f.
func (m *MockPlatform) FailOn(route string, n int, f Failure) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failures[route] == nil {
		m.failures[route] = make(map[int]Failure)
	}
	m.failures[route][n] = f
}

// Calls returns how many requests reached route, including failed ones.
func (m *MockPlatform) Calls(route string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[route]
}

// BatchSizes returns the element count of each call to a batch route, in order.
func (m *MockPlatform) BatchSizes(route string) []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int(nil), m.batches[route]...)
}

// Token returns the most recently issued token.
func (m *MockPlatform) Token() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token
}

// ExpireToken makes the current token unacceptable to authenticated routes.
func (m *MockPlatform) ExpireToken() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = ""
}

// LastAuthorization returns the Authorization header of the last authenticated call.
func (m *MockPlatform) LastAuthorization() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastAuth
}

// LastQuery returns the body of the last records_query call.
func (m *MockPlatform) LastQuery() map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastQuery
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockPlatform) GetRequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.RequestCount
}

func (m *MockPlatform) handleToken(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ClientID     string `json:"clientId"`
		ClientSecret string `json:"clientSecret"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeFailure(w, Failure{Code: "k_gw_400", Msg: "malformed body", StatusCode: http.StatusBadRequest})
		return
	}

	m.mu.Lock()
	m.calls[RouteToken]++
	if m.authFail != nil {
		f := *m.authFail
		m.mu.Unlock()
		writeFailure(w, f)
		return
	}
	if body.ClientID != m.ClientID || body.ClientSecret != m.ClientSecret {
		m.mu.Unlock()
		writeFailure(w, Failure{Code: "k_ident_013000", Msg: "invalid client credentials"})
		return
	}
	m.tokenSeq++
	m.token = fmt.Sprintf("T:%d", m.tokenSeq)
	token := m.token
	expire := time.Now().Add(m.TokenTTL).UnixMilli()
	m.mu.Unlock()

	writeData(w, map[string]any{
		"accessToken": token,
		"expireTime":  expire,
	})
}

// authed counts the call, checks the token and applies injected failures.
func (m *MockPlatform) authed(route string, next func(w http.ResponseWriter, r *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		m.calls[route]++
		n := m.calls[route]
		auth := r.Header.Get("Authorization")
		m.lastAuth = auth
		valid := auth != "" && auth == m.token
		f, failing := m.failures[route][n]
		m.mu.Unlock()

		if !valid {
			writeFailure(w, Failure{Code: codeInvalidToken, Msg: "invalid access token"})
			return
		}
		if failing {
			writeFailure(w, f)
			return
		}
		next(w, r)
	}
}

func (m *MockPlatform) handleQuery(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	if !decodeBody(w, r, &body) {
		return
	}

	pageSize := 100
	if v, ok := body["page_size"].(float64); ok && v > 0 {
		pageSize = int(v)
	}
	offset := 0
	if v, ok := body["page_token"].(string); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeFailure(w, Failure{Code: "k_ec_000001", Msg: "invalid page token"})
			return
		}
		offset = n
	} else if v, ok := body["offset"].(float64); ok {
		offset = int(v)
	}

	m.mu.Lock()
	m.lastQuery = body
	all := m.records[r.PathValue("object")]
	if offset > len(all) {
		offset = len(all)
	}
	end := offset + pageSize
	if end > len(all) {
		end = len(all)
	}
	items := make([]map[string]any, end-offset)
	copy(items, all[offset:end])
	total := len(all)
	m.mu.Unlock()

	next := ""
	if end < total {
		next = strconv.Itoa(end)
	}
	writeData(w, map[string]any{
		"items":           items,
		"total":           total,
		"next_page_token": next,
	})
}

func (m *MockPlatform) handleGet(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	rec, _ := m.findLocked(r.PathValue("object"), r.PathValue("id"))
	m.mu.Unlock()

	if rec == nil {
		writeFailure(w, Failure{Code: codeRecordNotFound, Msg: "record not found"})
		return
	}
	writeData(w, map[string]any{"item": rec})
}

func (m *MockPlatform) handleCreate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Record map[string]any `json:"record"`
	}
	if !decodeBody(w, r, &body) {
		return
	}

	m.mu.Lock()
	rec := m.insertLocked(r.PathValue("object"), body.Record)
	m.mu.Unlock()

	writeData(w, rec)
}

func (m *MockPlatform) handleCreateBatch(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Records []map[string]any `json:"records"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if len(body.Records) > 100 {
		writeFailure(w, Failure{Code: "k_ec_000015", Msg: "batch exceeds 100 records"})
		return
	}

	m.mu.Lock()
	m.batches[RouteCreateBatch] = append(m.batches[RouteCreateBatch], len(body.Records))
	items := make([]map[string]any, 0, len(body.Records))
	for _, rec := range body.Records {
		items = append(items, m.insertLocked(r.PathValue("object"), rec))
	}
	m.mu.Unlock()

	writeData(w, map[string]any{"items": items})
}

func (m *MockPlatform) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Record map[string]any `json:"record"`
	}
	if !decodeBody(w, r, &body) {
		return
	}

	m.mu.Lock()
	rec, _ := m.findLocked(r.PathValue("object"), r.PathValue("id"))
	if rec != nil {
		for k, v := range body.Record {
			if k != "_id" {
				rec[k] = v
			}
		}
	}
	m.mu.Unlock()

	if rec == nil {
		writeFailure(w, Failure{Code: codeRecordNotFound, Msg: "record not found"})
		return
	}
	writeData(w, nil)
}

func (m *MockPlatform) handleUpdateBatch(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Records []map[string]any `json:"records"`
	}
	if !decodeBody(w, r, &body) {
		return
	}

	m.mu.Lock()
	m.batches[RouteUpdateBatch] = append(m.batches[RouteUpdateBatch], len(body.Records))
	results := make([]map[string]any, 0, len(body.Records))
	for _, upd := range body.Records {
		id, _ := upd["_id"].(string)
		rec, _ := m.findLocked(r.PathValue("object"), id)
		if rec != nil {
			for k, v := range upd {
				rec[k] = v
			}
		}
		results = append(results, map[string]any{"_id": id, "success": rec != nil})
	}
	m.mu.Unlock()

	writeData(w, map[string]any{"items": results})
}

func (m *MockPlatform) handleDelete(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	ok := m.removeLocked(r.PathValue("object"), r.PathValue("id"))
	m.mu.Unlock()

	if !ok {
		writeFailure(w, Failure{Code: codeRecordNotFound, Msg: "record not found"})
		return
	}
	writeData(w, nil)
}

func (m *MockPlatform) handleDeleteBatch(w http.ResponseWriter, r *http.Request) {
	var body struct {
		IDs []string `json:"ids"`
	}
	if !decodeBody(w, r, &body) {
		return
	}

	m.mu.Lock()
	m.batches[RouteDeleteBatch] = append(m.batches[RouteDeleteBatch], len(body.IDs))
	results := make([]map[string]any, 0, len(body.IDs))
	for _, id := range body.IDs {
		results = append(results, map[string]any{"_id": id, "success": m.removeLocked(r.PathValue("object"), id)})
	}
	m.mu.Unlock()

	writeData(w, map[string]any{"items": results})
}

func (m *MockPlatform) handleObjectMeta(w http.ResponseWriter, r *http.Request) {
	object := r.PathValue("object")
	writeData(w, map[string]any{
		"apiName": object,
		"label":   map[string]string{"en_US": object},
		"fields": []map[string]any{
			{"apiName": "_id", "type": "bigint"},
			{"apiName": "name", "type": "text"},
			{"apiName": "index", "type": "number"},
		},
	})
}

func (m *MockPlatform) handleFieldMeta(w http.ResponseWriter, r *http.Request) {
	writeData(w, map[string]any{
		"apiName": r.PathValue("field"),
		"object":  r.PathValue("object"),
		"type":    "text",
	})
}

func (m *MockPlatform) handleDepartments(w http.ResponseWriter, r *http.Request) {
	var body struct {
		IDType string   `json:"department_id_type"`
		IDs    []string `json:"department_ids"`
	}
	if !decodeBody(w, r, &body) {
		return
	}

	m.mu.Lock()
	m.batches[RouteDepartments] = append(m.batches[RouteDepartments], len(body.IDs))
	m.mu.Unlock()

	out := make([]map[string]any, 0, len(body.IDs))
	for _, id := range body.IDs {
		out = append(out, map[string]any{
			"department_id": id,
			"id":            "dep_" + id,
			"id_type":       body.IDType,
		})
	}
	writeData(w, out)
}

func (m *MockPlatform) handleInvoke(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Params json.RawMessage `json:"params"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	writeData(w, map[string]any{
		"function": r.PathValue("name"),
		"params":   body.Params,
	})
}

func (m *MockPlatform) insertLocked(object string, rec map[string]any) map[string]any {
	m.nextID++
	stored := make(map[string]any, len(rec)+1)
	for k, v := range rec {
		stored[k] = v
	}
	stored["_id"] = strconv.Itoa(m.nextID)
	m.records[object] = append(m.records[object], stored)
	return stored
}

func (m *MockPlatform) findLocked(object, id string) (map[string]any, int) {
	for i, rec := range m.records[object] {
		if rec["_id"] == id {
			return rec, i
		}
	}
	return nil, -1
}

func (m *MockPlatform) removeLocked(object, id string) bool {
	_, i := m.findLocked(object, id)
	if i < 0 {
		return false
	}
	recs := m.records[object]
	m.records[object] = append(recs[:i], recs[i+1:]...)
	return true
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeFailure(w, Failure{Code: "k_gw_400", Msg: "malformed body: " + err.Error(), StatusCode: http.StatusBadRequest})
		return false
	}
	return true
}

func writeData(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"code": "0",
		"msg":  "success",
		"data": data,
	})
}

func writeFailure(w http.ResponseWriter, f Failure) {
	status := f.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"code": f.Code,
		"msg":  f.Msg,
	})
}
