package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sunbk201/netrule/internal/config"
	"github.com/sunbk201/netrule/internal/descriptor"
	applog "github.com/sunbk201/netrule/internal/log"
	"github.com/sunbk201/netrule/internal/rule"
	"github.com/sunbk201/netrule/internal/rule/common"
	"github.com/sunbk201/netrule/internal/settings"
	"github.com/sunbk201/netrule/internal/statistics"
)

type testEnv struct {
	srv          *httptest.Server
	lb           *applog.Broadcaster
	stats        *statistics.Recorder
	settingsFile string
}

func newTestEnv(t *testing.T, secret string) *testEnv {
	t.Helper()
	cfg := &config.Config{
		LogLevel:        "info",
		APIServerSecret: secret,
		SettingsFile:    filepath.Join(t.TempDir(), "settings.json"),
		ReservedPorts:   []int{22, 443},
	}
	holder := settings.NewHolder(settings.NewFileStore(cfg.SettingsFile), nil)
	_, err := holder.Reload(context.Background())
	require.NoError(t, err)

	local, err := descriptor.NewLocalSet([]string{"203.0.113.1"})
	require.NoError(t, err)

	stats := statistics.New("")
	ctx, cancel := context.WithCancel(context.Background())
	done := stats.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-done
	})
	lb := applog.NewBroadcaster()
	api := New("test", cfg, holder, rule.NewEngine(rule.WithRecorder(stats)), stats, local, lb)

	srv := httptest.NewServer(api.Router())
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, lb: lb, stats: stats, settingsFile: cfg.SettingsFile}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, header ...string) (int, []byte) {
	t.Helper()
	var rd io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rd = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, rd)
	require.NoError(t, err)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	resp, err := e.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, data
}

func decodeRules(t *testing.T, data []byte) rulesBody {
	t.Helper()
	var body rulesBody
	require.NoError(t, json.Unmarshal(data, &body))
	return body
}

func ids(body rulesBody) []int64 {
	var out []int64
	for _, r := range body.Rules {
		out = append(out, r.RuleID)
	}
	return out
}

var webRules = []settings.RuleRecord{
	{
		RuleID:         -1,
		Enabled:        true,
		Description:    "web",
		NewDestination: "10.0.0.5",
		NewPort:        8080,
		Conditions: settings.ConditionList{
			{ConditionType: "PROTOCOL", Value: "TCP"},
			{ConditionType: "DST_PORT", Value: "80"},
		},
	},
	{RuleID: -1, Enabled: true, Description: "rest", NewDestination: "10.0.0.1"},
}

func TestVersionAndConfig(t *testing.T) {
	e := newTestEnv(t, "")

	status, data := e.do(t, http.MethodGet, "/version", nil)
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"version":"test"}`, string(data))

	status, data = e.do(t, http.MethodGet, "/config", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(data), `"reserved_ports":[22,443]`)
}

func TestRuleLifecycle(t *testing.T) {
	e := newTestEnv(t, "")

	status, data := e.do(t, http.MethodPut, "/rules/port-forward", webRules)
	require.Equal(t, http.StatusOK, status, string(data))
	body := decodeRules(t, data)
	assert.Equal(t, []int64{1, 2}, ids(body))
	assert.Empty(t, body.Warnings)

	status, data = e.do(t, http.MethodPost, "/rules/port-forward?index=0", settings.RuleRecord{
		Enabled:        true,
		Description:    "ssh",
		NewDestination: "10.0.0.9",
		Conditions: settings.ConditionList{
			{ConditionType: "DST_LOCAL", Value: "true"},
			{ConditionType: "DST_PORT", Value: "22"},
		},
	})
	require.Equal(t, http.StatusCreated, status, string(data))
	body = decodeRules(t, data)
	assert.Equal(t, []int64{3, 1, 2}, ids(body))
	require.Len(t, body.Warnings, 1, "ssh forward shadows a reserved port")
	assert.Equal(t, int64(3), body.Warnings[0].RuleID)

	status, data = e.do(t, http.MethodPost, "/evaluate/port-forward", descriptor.Raw{DstAddr: "203.0.113.1:80", Protocol: "tcp"})
	require.Equal(t, http.StatusOK, status, string(data))
	var res evaluateBody
	require.NoError(t, json.Unmarshal(data, &res))
	require.True(t, res.Matched)
	assert.Equal(t, 1, res.Index)
	assert.Equal(t, "web", res.Rule.Description)
	assert.True(t, res.Descriptor.DstLocal)

	status, data = e.do(t, http.MethodPost, "/rules/port-forward/3/move?to=2", nil)
	require.Equal(t, http.StatusOK, status, string(data))
	assert.Equal(t, []int64{1, 2, 3}, ids(decodeRules(t, data)))

	status, data = e.do(t, http.MethodPost, "/rules/port-forward/1/disable", nil)
	require.Equal(t, http.StatusOK, status)
	assert.False(t, decodeRules(t, data).Rules[0].Enabled)

	status, data = e.do(t, http.MethodPost, "/evaluate/port-forward", descriptor.Raw{DstAddr: "198.51.100.1", DstPort: 80, Protocol: "6"})
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(data, &res))
	assert.Equal(t, "rest", res.Rule.Description)

	status, _ = e.do(t, http.MethodPost, "/rules/port-forward/1/enable", nil)
	require.Equal(t, http.StatusOK, status)

	status, data = e.do(t, http.MethodDelete, "/rules/port-forward/2", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, []int64{1, 3}, ids(decodeRules(t, data)))

	status, data = e.do(t, http.MethodGet, "/rules/port-forward", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, []int64{1, 3}, ids(decodeRules(t, data)))

	status, data = e.do(t, http.MethodGet, "/settings", nil)
	require.Equal(t, http.StatusOK, status)
	var s settings.Settings
	require.NoError(t, json.Unmarshal(data, &s))
	assert.Len(t, s.PortForwardRules, 2)

	reloaded := settings.NewHolder(settings.NewFileStore(e.settingsFile), nil)
	_, err := reloaded.Reload(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, reloaded.Current().RuleSet(common.DomainPortForward).Len(), "edits are persisted")
}

func TestRulesDescriptionFilter(t *testing.T) {
	e := newTestEnv(t, "")
	status, _ := e.do(t, http.MethodPut, "/rules/port-forward", webRules)
	require.Equal(t, http.StatusOK, status)

	status, data := e.do(t, http.MethodGet, "/rules/port-forward?description=%5EWE", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, []int64{1}, ids(decodeRules(t, data)))

	status, _ = e.do(t, http.MethodGet, "/rules/port-forward?description=%28", nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestReplaceRule(t *testing.T) {
	e := newTestEnv(t, "")
	status, _ := e.do(t, http.MethodPut, "/rules/port-forward", webRules)
	require.Equal(t, http.StatusOK, status)

	status, data := e.do(t, http.MethodPut, "/rules/port-forward/1", settings.RuleRecord{
		RuleID:         99,
		Enabled:        true,
		Description:    "web-tls",
		NewDestination: "10.0.0.6",
		Conditions:     settings.ConditionList{{ConditionType: "DST_PORT", Value: "443"}},
	})
	require.Equal(t, http.StatusOK, status, string(data))
	body := decodeRules(t, data)
	assert.Equal(t, []int64{1, 2}, ids(body), "id and position are kept")
	assert.Equal(t, "web-tls", body.Rules[0].Description)
	assert.Equal(t, "10.0.0.6", body.Rules[0].NewDestination)
}

func TestPutResetsStats(t *testing.T) {
	e := newTestEnv(t, "")
	status, _ := e.do(t, http.MethodPut, "/rules/port-forward", webRules)
	require.Equal(t, http.StatusOK, status)

	status, _ = e.do(t, http.MethodPost, "/evaluate/port-forward", descriptor.Raw{DstAddr: "198.51.100.1:80", Protocol: "tcp"})
	require.Equal(t, http.StatusOK, status)
	require.Eventually(t, func() bool { return len(e.stats.Snapshot()) == 1 }, 2*time.Second, 10*time.Millisecond)

	status, _ = e.do(t, http.MethodPut, "/rules/port-forward", webRules[1:])
	require.Equal(t, http.StatusOK, status)
	assert.Empty(t, e.stats.Snapshot())
}

func TestErrors(t *testing.T) {
	e := newTestEnv(t, "")
	status, _ := e.do(t, http.MethodPut, "/rules/nat", []settings.RuleRecord{{RuleID: -1, Enabled: true, Auto: true}})
	require.Equal(t, http.StatusOK, status)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
	}{
		{"unknown domain", http.MethodGet, "/rules/filter", nil, http.StatusNotFound},
		{"bad json", http.MethodPut, "/rules/nat", "{", http.StatusBadRequest},
		{"invalid record", http.MethodPost, "/rules/nat", settings.RuleRecord{Enabled: true}, http.StatusBadRequest},
		{"bad condition", http.MethodPost, "/rules/bypass", settings.RuleRecord{Conditions: settings.ConditionList{{ConditionType: "DST_PORT", Value: "http"}}}, http.StatusBadRequest},
		{"missing rule", http.MethodDelete, "/rules/nat/42", nil, http.StatusNotFound},
		{"unpersisted id", http.MethodDelete, "/rules/nat/-1", nil, http.StatusBadRequest},
		{"bad id", http.MethodDelete, "/rules/nat/abc", nil, http.StatusBadRequest},
		{"move out of range", http.MethodPost, "/rules/nat/1/move?to=5", nil, http.StatusNotFound},
		{"move without target", http.MethodPost, "/rules/nat/1/move", nil, http.StatusBadRequest},
		{"insert out of range", http.MethodPost, "/rules/nat?index=9", settings.RuleRecord{Auto: true}, http.StatusNotFound},
		{"bad descriptor", http.MethodPost, "/evaluate/nat", descriptor.Raw{SrcAddr: "nowhere"}, http.StatusBadRequest},
		{"duplicate ids", http.MethodPut, "/rules/bypass", []settings.RuleRecord{{RuleID: 5}, {RuleID: 5}}, http.StatusConflict},
		{"replace missing rule", http.MethodPut, "/rules/nat/42", settings.RuleRecord{Auto: true}, http.StatusNotFound},
		{"replace with invalid record", http.MethodPut, "/rules/nat/1", settings.RuleRecord{}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, data := e.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, status, string(data))
			var body errorBody
			require.NoError(t, json.Unmarshal(data, &body))
			assert.NotEmpty(t, body.Error)
		})
	}
}

func TestAuth(t *testing.T) {
	e := newTestEnv(t, "s3cret")

	status, _ := e.do(t, http.MethodGet, "/version", nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = e.do(t, http.MethodGet, "/version", nil, "Authorization", "Bearer wrong")
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = e.do(t, http.MethodGet, "/version", nil, "Authorization", "Bearer s3cret")
	assert.Equal(t, http.StatusOK, status)

	status, _ = e.do(t, http.MethodGet, "/stats?secret=s3cret", nil)
	assert.Equal(t, http.StatusOK, status)
}

func TestLogsWebSocket(t *testing.T) {
	e := newTestEnv(t, "")

	url := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/logs"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	// The server subscribes after the handshake; keep writing until a line lands.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		tick := time.NewTicker(20 * time.Millisecond)
		defer tick.Stop()
		for {
			select {
			case <-tick.C:
				_, _ = e.lb.Write([]byte("level=INFO msg=\"Settings published\"\n"))
			case <-stop:
				return
			}
		}
	}()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	typ, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, typ)
	assert.Contains(t, string(msg), "Settings published")
}
