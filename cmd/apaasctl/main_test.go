package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Sternrassler/apaas-client/internal/testutil"
	"github.com/Sternrassler/apaas-client/pkg/client"
	"github.com/Sternrassler/apaas-client/pkg/metrics"
	"github.com/Sternrassler/apaas-client/pkg/ratelimit"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"
)

// runCLI executes the root command with args and returns what it wrote to stdout.
func runCLI(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())

	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)

	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func mockArgs(mock *testutil.MockPlatform, args ...string) []string {
	return append([]string{
		"--base-url", mock.URL(),
		"--client-id", testutil.DefaultClientID,
		"--client-secret", testutil.DefaultClientSecret,
		"--namespace", testutil.DefaultNamespace,
		"--log-level", "disabled",
	}, args...)
}

func TestHealthEndpoint(t *testing.T) {
	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()

	healthHandler(w, req)

	resp := w.Result()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	if string(body) != "OK" {
		t.Errorf("Expected body 'OK', got %s", string(body))
	}
}

func TestReadyEndpoint(t *testing.T) {
	mock := testutil.NewMockPlatform()
	defer mock.Close()

	newClient := func() *client.Client {
		cfg := client.DefaultConfig(testutil.DefaultClientID, testutil.DefaultClientSecret, testutil.DefaultNamespace)
		cfg.BaseURL = mock.URL()
		c, err := client.New(cfg)
		if err != nil {
			t.Fatalf("Failed to create client: %v", err)
		}
		t.Cleanup(func() { c.Close() })
		return c
	}

	t.Run("ready", func(t *testing.T) {
		handler := readyHandler(newClient())

		for i := 0; i < 2; i++ {
			req := httptest.NewRequest("GET", "/ready", nil)
			w := httptest.NewRecorder()

			handler(w, req)

			resp := w.Result()
			body, _ := io.ReadAll(resp.Body)

			if resp.StatusCode != http.StatusOK {
				t.Errorf("Expected status 200, got %d", resp.StatusCode)
			}
			if string(body) != "OK" {
				t.Errorf("Expected body 'OK', got %s", string(body))
			}
		}

		// The second probe reuses the token.
		if got := mock.Calls(testutil.RouteToken); got != 1 {
			t.Errorf("Expected 1 token exchange, got %d", got)
		}
	})

	t.Run("not_ready_auth_rejected", func(t *testing.T) {
		mock.FailAuth(testutil.Failure{Code: "k_ident_013000", Msg: "app disabled"})
		defer mock.Reset()

		handler := readyHandler(newClient())

		req := httptest.NewRequest("GET", "/ready", nil)
		w := httptest.NewRecorder()

		handler(w, req)

		resp := w.Result()
		body, _ := io.ReadAll(resp.Body)

		if resp.StatusCode != http.StatusServiceUnavailable {
			t.Errorf("Expected status 503, got %d", resp.StatusCode)
		}
		if !strings.Contains(string(body), "app disabled") {
			t.Errorf("Expected body to name the failure, got %s", string(body))
		}
	})
}

func TestMetricsEndpoint(t *testing.T) {
	mock := testutil.NewMockPlatform()
	defer mock.Close()

	cfg := client.DefaultConfig(testutil.DefaultClientID, testutil.DefaultClientSecret, testutil.DefaultNamespace)
	cfg.BaseURL = mock.URL()
	c, err := client.New(cfg)
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	defer c.Close()

	server := httptest.NewServer(newServeMux(c))
	defer server.Close()

	resp, err := http.Get(server.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics failed: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	bodyStr := string(body)
	if !strings.Contains(bodyStr, "# HELP") || !strings.Contains(bodyStr, "# TYPE") {
		t.Error("Expected Prometheus format metrics output")
	}
	for _, name := range []string{"apaas_ratelimit_reservoir", "apaas_token_remaining_seconds"} {
		if !strings.Contains(bodyStr, name) {
			t.Errorf("Expected metrics output to contain %s", name)
		}
	}

	// The mux serves the shared handler.
	if metrics.Handler() == nil {
		t.Error("metrics.Handler returned nil")
	}
}

func TestServe_ShutsDownOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- serve(ctx, "127.0.0.1:0", http.NewServeMux())
	}()

	cancel()
	if err := <-done; err != nil {
		t.Errorf("serve returned %v, want nil", err)
	}
}

func TestQueryAllJSON(t *testing.T) {
	mock := testutil.NewMockPlatform()
	defer mock.Close()
	mock.Seed("task", 250)

	out, err := runCLI(t, "", mockArgs(mock, "query", "task", "--all", "-o", "json")...)
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}

	var records []map[string]any
	if err := json.Unmarshal([]byte(out), &records); err != nil {
		t.Fatalf("output is not a JSON array: %v\n%s", err, out)
	}
	if len(records) != 250 {
		t.Errorf("Expected 250 records, got %d", len(records))
	}
	if got := mock.Calls(testutil.RouteQuery); got != 3 {
		t.Errorf("Expected 3 query calls, got %d", got)
	}
}

func TestQuerySinglePageTable(t *testing.T) {
	mock := testutil.NewMockPlatform()
	defer mock.Close()
	mock.Seed("task", 5)

	out, err := runCLI(t, "", mockArgs(mock, "query", "task", "--page-size", "2", "--select", "name")...)
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}

	if !strings.Contains(out, "record-1") {
		t.Errorf("Expected record-1 in table output:\n%s", out)
	}
	if !strings.Contains(out, "Showing 2 of 5 records") {
		t.Errorf("Expected summary line in output:\n%s", out)
	}
	if got := mock.LastQuery()["select"]; fmt.Sprint(got) != "[name]" {
		t.Errorf("Expected select [name], got %v", got)
	}
}

func TestCreateFromFile(t *testing.T) {
	mock := testutil.NewMockPlatform()
	defer mock.Close()

	path := filepath.Join(t.TempDir(), "records.json")
	if err := os.WriteFile(path, []byte(`[{"name":"a"},{"name":"b"},{"name":"c"}]`), 0o600); err != nil {
		t.Fatal(err)
	}

	out, err := runCLI(t, "", mockArgs(mock, "create", "task", "--file", path, "-o", "yaml")...)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	if got := len(mock.Records("task")); got != 3 {
		t.Errorf("Expected 3 stored records, got %d", got)
	}
	if !strings.Contains(out, "name: b") {
		t.Errorf("Expected YAML output to contain the created records:\n%s", out)
	}
}

func TestUpdateFromStdin(t *testing.T) {
	mock := testutil.NewMockPlatform()
	defer mock.Close()
	mock.Seed("task", 2)

	var updates []map[string]any
	for _, rec := range mock.Records("task") {
		updates = append(updates, map[string]any{"_id": rec["_id"], "done": true})
	}
	input, _ := json.Marshal(updates)

	out, err := runCLI(t, string(input), mockArgs(mock, "update", "task", "--file", "-")...)
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}

	if !strings.Contains(out, "Updated 2 record(s) in 1 request(s)") {
		t.Errorf("Unexpected output: %s", out)
	}
	for _, rec := range mock.Records("task") {
		if rec["done"] != true {
			t.Errorf("record %v not updated", rec["_id"])
		}
	}
}

func TestUpdateRequiresID(t *testing.T) {
	mock := testutil.NewMockPlatform()
	defer mock.Close()

	_, err := runCLI(t, `[{"name":"x"}]`, mockArgs(mock, "update", "task", "--file", "-")...)
	if !errors.Is(err, client.ErrMissingID) {
		t.Errorf("Expected ErrMissingID, got %v", err)
	}
	if got := mock.GetRequestCount(); got != 0 {
		t.Errorf("Expected no requests, got %d", got)
	}
}

func TestDeleteMany(t *testing.T) {
	mock := testutil.NewMockPlatform()
	defer mock.Close()
	mock.Seed("task", 3)

	args := []string{"delete", "task"}
	for _, rec := range mock.Records("task")[:2] {
		args = append(args, rec["_id"].(string))
	}

	out, err := runCLI(t, "", mockArgs(mock, args...)...)
	if err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if !strings.Contains(out, "Deleted 2 record(s)") {
		t.Errorf("Unexpected output: %s", out)
	}
	if got := len(mock.Records("task")); got != 1 {
		t.Errorf("Expected 1 remaining record, got %d", got)
	}
}

func TestMetaTable(t *testing.T) {
	mock := testutil.NewMockPlatform()
	defer mock.Close()

	out, err := runCLI(t, "", mockArgs(mock, "meta", "task", "name")...)
	if err != nil {
		t.Fatalf("meta failed: %v", err)
	}
	if !strings.Contains(out, "text") || !strings.Contains(out, "task") {
		t.Errorf("Expected field metadata in output:\n%s", out)
	}
}

func TestConfigFile(t *testing.T) {
	mock := testutil.NewMockPlatform()
	defer mock.Close()

	path := filepath.Join(t.TempDir(), "config.yml")
	config := fmt.Sprintf("base-url: %s\nclient-id: %s\nclient-secret: %s\nnamespace: %s\nlog-level: disabled\n",
		mock.URL(), testutil.DefaultClientID, testutil.DefaultClientSecret, testutil.DefaultNamespace)
	if err := os.WriteFile(path, []byte(config), 0o600); err != nil {
		t.Fatal(err)
	}

	out, err := runCLI(t, "", "--config", path, "token", "-o", "json")
	if err != nil {
		t.Fatalf("token failed: %v", err)
	}

	var info map[string]string
	if err := json.Unmarshal([]byte(out), &info); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if info["access_token"] != "***" {
		t.Errorf("Expected masked token, got %q", info["access_token"])
	}
	if got := mock.Calls(testutil.RouteToken); got != 1 {
		t.Errorf("Expected 1 token exchange, got %d", got)
	}
}

func TestEnvironmentConfig(t *testing.T) {
	mock := testutil.NewMockPlatform()
	defer mock.Close()

	t.Setenv("APAAS_BASE_URL", mock.URL())
	t.Setenv("APAAS_CLIENT_ID", testutil.DefaultClientID)
	t.Setenv("APAAS_CLIENT_SECRET", testutil.DefaultClientSecret)
	t.Setenv("APAAS_NAMESPACE", testutil.DefaultNamespace)
	t.Setenv("APAAS_LOG_LEVEL", "disabled")

	out, err := runCLI(t, "", "invoke", "echo", "--params", `{"x":1}`, "-o", "json")
	if err != nil {
		t.Fatalf("invoke failed: %v", err)
	}
	if !strings.Contains(out, `"function": "echo"`) {
		t.Errorf("Unexpected output:\n%s", out)
	}
}

func TestMissingCredentials(t *testing.T) {
	_, err := runCLI(t, "", "--log-level", "disabled", "query", "task")
	if !errors.Is(err, client.ErrInvalidConfig) {
		t.Errorf("Expected ErrInvalidConfig, got %v", err)
	}
}

func TestInvalidOutputFormat(t *testing.T) {
	_, err := runCLI(t, "", "--log-level", "disabled", "-o", "xml", "token")
	if err == nil || !strings.Contains(err.Error(), "unsupported output format") {
		t.Errorf("Expected unsupported output format error, got %v", err)
	}
}

func TestReleaseClosesClientAndRedis(t *testing.T) {
	mock := testutil.NewMockPlatform()
	defer mock.Close()

	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})
	cfg := client.DefaultConfig(testutil.DefaultClientID, testutil.DefaultClientSecret, testutil.DefaultNamespace)
	cfg.BaseURL = mock.URL()
	cfg.Redis = rdb
	c, err := client.New(cfg)
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}

	releaseFunc(c, rdb)()

	if err := rdb.Ping(context.Background()).Err(); !errors.Is(err, redis.ErrClosed) {
		t.Errorf("Expected redis.ErrClosed after release, got %v", err)
	}
	if _, err := c.Functions().Invoke(context.Background(), "echo", nil); !errors.Is(err, ratelimit.ErrLimiterClosed) {
		t.Errorf("Expected ErrLimiterClosed after release, got %v", err)
	}
}

func TestNewClientWithRedisReleases(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	a := &app{v: viper.New()}
	a.v.Set("client-id", testutil.DefaultClientID)
	a.v.Set("client-secret", testutil.DefaultClientSecret)
	a.v.Set("namespace", testutil.DefaultNamespace)
	a.v.Set("base-url", "http://127.0.0.1:1")
	a.v.Set("redis", "127.0.0.1:1")

	_, release, err := a.newClient()
	if err != nil {
		t.Fatalf("newClient failed: %v", err)
	}
	release()
}

func TestRenderRecords(t *testing.T) {
	records := []map[string]any{
		{"_id": "1", "name": "alpha", "count": float64(3)},
		{"_id": "2", "name": "beta", "tags": []any{"x"}},
	}

	tests := []struct {
		name   string
		format string
		total  int
		want   []string
	}{
		{name: "table", format: OutputFormatTable, total: 10, want: []string{"alpha", "beta", "Showing 2 of 10 records"}},
		{name: "table without total", format: OutputFormatTable, total: -1, want: []string{"alpha"}},
		{name: "json", format: OutputFormatJSON, total: 10, want: []string{`"name": "alpha"`}},
		{name: "yaml", format: OutputFormatYAML, total: 10, want: []string{"name: beta"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := renderRecords(&buf, tt.format, records, tt.total); err != nil {
				t.Fatalf("renderRecords failed: %v", err)
			}
			for _, w := range tt.want {
				if !strings.Contains(buf.String(), w) {
					t.Errorf("Expected %q in output:\n%s", w, buf.String())
				}
			}
			if tt.total < 0 && strings.Contains(buf.String(), "Showing") {
				t.Errorf("Unexpected summary line:\n%s", buf.String())
			}
		})
	}

	var buf bytes.Buffer
	if err := renderRecords(&buf, OutputFormatTable, nil, 0); err != nil {
		t.Fatal(err)
	}
	if buf.String() != "No records found\n" {
		t.Errorf("Unexpected empty output: %q", buf.String())
	}
}

func TestSplitList(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"a", []string{"a"}},
		{"a, b,,c ", []string{"a", "b", "c"}},
	}
	for _, tt := range tests {
		got := splitList(tt.in)
		if fmt.Sprint(got) != fmt.Sprint(tt.want) || len(got) != len(tt.want) {
			t.Errorf("splitList(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestMaskToken(t *testing.T) {
	if got := maskToken("T:1"); got != "***" {
		t.Errorf("maskToken short = %q", got)
	}
	if got := maskToken("abcdefghijkl"); got != "abcd***ijkl" {
		t.Errorf("maskToken long = %q", got)
	}
}
