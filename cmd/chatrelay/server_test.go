package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/chatrelay/api/handlers"
	"github.com/BaSui01/chatrelay/config"
	"github.com/BaSui01/chatrelay/internal/server"
	"github.com/BaSui01/chatrelay/llm/tokenizer"
)

// =============================================================================
// 🧪 测试辅助
// =============================================================================

// fakeOllama 根路径响应健康检查，其余路径回放 NDJSON
func fakeOllama(t *testing.T) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var chats atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet && r.URL.Path == "/" {
			_, _ = io.WriteString(w, "Ollama is running")
			return
		}
		_, _ = io.Copy(io.Discard, r.Body)
		chats.Add(1)
		w.Header().Set("Content-Type", "application/x-ndjson")
		for _, line := range []string{
			`{"message":{"role":"assistant","content":"Hello"},"done":false}`,
			`{"message":{"role":"assistant","content":" there"},"done":false}`,
			`{"done":true}`,
		} {
			_, _ = io.WriteString(w, line+"\n")
			w.(http.Flusher).Flush()
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &chats
}

func testConfig(t *testing.T, backendURL string) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Server.WSPort = 0
	cfg.Server.HTTPPort = 0
	cfg.Server.MetricsPort = 0
	cfg.Server.ShutdownTimeout = 5 * time.Second
	cfg.Backend.URL = backendURL + "/api/chat"
	cfg.Models.DefaultEncoding = tokenizer.EncodingEstimator
	cfg.Usage.Driver = "sqlite"
	cfg.Usage.DSN = filepath.Join(t.TempDir(), "usage.db")
	return cfg
}

// startServer 初始化并启动监听器，返回 ws 与 http 的 base URL
func startServer(t *testing.T, cfg *config.Config, namespace string) (*Server, map[string]string) {
	t.Helper()
	s := NewServer(cfg, zaptest.NewLogger(t))
	s.metricsNamespace = namespace
	require.NoError(t, s.init())
	require.NoError(t, s.start())

	addrs := make(map[string]string, len(s.managers))
	for _, m := range s.managers {
		addrs[m.Name()] = baseURL(t, m)
	}
	return s, addrs
}

func baseURL(t *testing.T, m *server.Manager) string {
	t.Helper()
	_, port, err := net.SplitHostPort(m.Addr())
	require.NoError(t, err)
	return "http://" + net.JoinHostPort("127.0.0.1", port)
}

func wsURL(base, path string) string {
	return "ws" + strings.TrimPrefix(base, "http") + path
}

func readWSUntilEnd(t *testing.T, ctx context.Context, conn *websocket.Conn) []string {
	t.Helper()
	var units []string
	for {
		_, data, err := conn.Read(ctx)
		require.NoError(t, err)
		units = append(units, string(data))
		if string(data) == "__END__" {
			return units
		}
	}
}

// =============================================================================
// 🎬 端到端
// =============================================================================

func TestServer_BothTransports(t *testing.T) {
	backend, chats := fakeOllama(t)
	cfg := testConfig(t, backend.URL)
	s, addrs := startServer(t, cfg, "srvtest_both")

	require.Contains(t, addrs, "ws")
	require.Contains(t, addrs, "http")

	// plain-stream
	resp, err := http.Post(addrs["http"]+"/chat", "application/json",
		strings.NewReader(`{"prompt":"Hi","model":"mistral"}`))
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Thinking has been disabled\nAnswer: Hello there\n", string(body))
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	// interactive, /ws 与根路径都可以升级
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, path := range []string{"/ws", "/"} {
		conn, _, err := websocket.Dial(ctx, wsURL(addrs["ws"], path), nil)
		require.NoError(t, err, path)
		require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(`{"prompt":"Hi","model":"mistral","thinking":true}`)))
		units := readWSUntilEnd(t, ctx, conn)
		assert.Contains(t, units, "___TOKEN___Hello", path)
		_ = conn.Close(websocket.StatusNormalClosure, "")
	}
	assert.EqualValues(t, 3, chats.Load())

	s.shutdown()

	// 三轮对话都进入台账
	var out bytes.Buffer
	require.NoError(t, printUsageSummary(&out, cfg.Usage, time.Hour))
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "MODEL")
	assert.Equal(t, []string{"mistral", "3"}, strings.Fields(lines[1])[:2])
}

func TestServer_OperationalEndpoints(t *testing.T) {
	backend, _ := fakeOllama(t)
	s, addrs := startServer(t, testConfig(t, backend.URL), "srvtest_ops")
	defer s.shutdown()

	for _, listener := range []string{"ws", "http"} {
		for _, path := range []string{"/health", "/healthz", "/ready", "/version"} {
			resp, err := http.Get(addrs[listener] + path)
			require.NoError(t, err)
			resp.Body.Close()
			assert.Equal(t, http.StatusOK, resp.StatusCode, "%s %s", listener, path)
		}
	}
	require.NoError(t, checkHealth(addrs["http"]))

	resp, err := http.Get(addrs["http"] + "/ready")
	require.NoError(t, err)
	defer resp.Body.Close()
	var payload handlers.HealthStatus
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	assert.Equal(t, "healthy", payload.Status)
	assert.Equal(t, "pass", payload.Checks["backend"].Status)
	assert.Equal(t, "pass", payload.Checks["database"].Status)

	// chat 只挂在 http 监听器上
	resp2, err := http.Post(addrs["ws"]+"/chat", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	resp2.Body.Close()
	assert.NotEqual(t, http.StatusOK, resp2.StatusCode)
}

func TestServer_ReadyFailsWhenBackendDown(t *testing.T) {
	backend, _ := fakeOllama(t)
	cfg := testConfig(t, backend.URL)
	backend.Close()

	s, addrs := startServer(t, cfg, "srvtest_down")
	defer s.shutdown()

	resp, err := http.Get(addrs["http"] + "/ready")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestServer_RedisSessions(t *testing.T) {
	mr := miniredis.RunT(t)
	backend, _ := fakeOllama(t)
	cfg := testConfig(t, backend.URL)
	cfg.Server.Mode = config.ModeWS
	cfg.Session.Backend = config.SessionBackendRedis
	cfg.Redis.Addr = mr.Addr()

	s, addrs := startServer(t, cfg, "srvtest_redis")
	defer s.shutdown()
	require.NotContains(t, addrs, "http")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, wsURL(addrs["ws"], "/ws"), nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(`{"prompt":"Hi","model":"mistral","thinking":true}`)))
	readWSUntilEnd(t, ctx, conn)

	// 会话历史落在 redis
	assert.NotEmpty(t, mr.Keys())

	_ = conn.Close(websocket.StatusNormalClosure, "")
	assert.Eventually(t, func() bool { return len(mr.Keys()) == 0 }, 5*time.Second, 10*time.Millisecond)

	resp, err := http.Get(addrs["ws"] + "/ready")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_RunStopsOnContextCancel(t *testing.T) {
	backend, _ := fakeOllama(t)
	s := NewServer(testConfig(t, backend.URL), zaptest.NewLogger(t))
	s.metricsNamespace = "srvtest_run"

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestPrintUsageSummary_Disabled(t *testing.T) {
	err := printUsageSummary(io.Discard, config.UsageConfig{}, time.Hour)
	assert.Error(t, err)
}
