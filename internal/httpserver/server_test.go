package httpserver

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"encoding/pem"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/EchoPBX/echofsm/internal/config"
	"github.com/EchoPBX/echofsm/internal/dispenser"
	"github.com/EchoPBX/echofsm/internal/events"
	"github.com/EchoPBX/echofsm/internal/metrics"
	"github.com/EchoPBX/echofsm/internal/sinks"
	"github.com/EchoPBX/echofsm/pkg/sdk"
	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fixture struct {
	srv  *httptest.Server
	bus  *events.Bus
	disp *dispenser.Dispenser
}

func newFixture(t *testing.T, cfg *config.Config) *fixture {
	t.Helper()
	if cfg == nil {
		cfg = &config.Config{}
	}
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	bus := events.NewBus(events.WithMetrics(m))
	disp, err := dispenser.New(1, dispenser.WithBus(bus), dispenser.WithMetrics(m))
	require.NoError(t, err)

	s, err := New(cfg, zap.NewNop(), bus, disp, WithGatherer(reg))
	require.NoError(t, err)
	srv := httptest.NewServer(s.Router())
	t.Cleanup(srv.Close)
	return &fixture{srv: srv, bus: bus, disp: disp}
}

func (f *fixture) do(t *testing.T, method, path, body, token string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, f.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, out
}

func TestHealthzAndMetrics(t *testing.T) {
	f := newFixture(t, nil)
	resp, body := f.do(t, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", string(body))

	f.do(t, http.MethodPost, "/v1/dispenser/InsertCoin", "", "")
	resp, body = f.do(t, http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `echofsm_fsm_symbols_total{machine="dispenser",outcome="applied"} 1`)
}

func TestSubscribersLifecycle(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.bus.Register(events.NewSubscriber("tom", sinks.Discard)))

	resp, body := f.do(t, http.MethodPost, "/v1/events", `{"source":"chloe","payload":{"url":"a.png"}}`, "")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var report sdk.Report
	require.NoError(t, json.Unmarshal(body, &report))
	assert.Equal(t, 1, report.Buffered)

	resp, body = f.do(t, http.MethodGet, "/v1/subscribers", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list []subscriberView
	require.NoError(t, json.Unmarshal(body, &list))
	assert.Equal(t, []subscriberView{{ID: "tom", Connected: false, Pending: 1}}, list)

	resp, body = f.do(t, http.MethodPost, "/v1/subscribers/tom/connect", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"flushed":1`)
	tom, _ := f.bus.Get("tom")
	assert.True(t, tom.Connected())
	assert.Zero(t, tom.Pending())

	resp, _ = f.do(t, http.MethodPost, "/v1/subscribers/ghost/connect", "", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = f.do(t, http.MethodDelete, "/v1/subscribers/tom", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = f.do(t, http.MethodDelete, "/v1/subscribers/tom", "", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPublishValidation(t *testing.T) {
	f := newFixture(t, nil)
	resp, _ := f.do(t, http.MethodPost, "/v1/events", `{"payload":{}}`, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = f.do(t, http.MethodPost, "/v1/events", `not json`, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDispenserRoutes(t *testing.T) {
	f := newFixture(t, nil)

	resp, body := f.do(t, http.MethodPost, "/v1/dispenser/InsertCoin", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"outcome":"applied"`)

	resp, body = f.do(t, http.MethodPost, "/v1/dispenser/InsertCoin", "", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Contains(t, string(body), "You have already got a coin inside")

	f.do(t, http.MethodPost, "/v1/dispenser/TurnKnob", "", "")
	resp, body = f.do(t, http.MethodGet, "/v1/dispenser", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var st struct {
		State string `json:"state"`
		Stock int    `json:"stock"`
	}
	require.NoError(t, json.Unmarshal(body, &st))
	assert.Equal(t, "HasCandy", st.State)
	assert.Equal(t, 0, st.Stock)
}

func TestEventStream(t *testing.T) {
	f := newFixture(t, nil)
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/v1/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return f.bus.Len() == 1 }, 2*time.Second, 10*time.Millisecond)
	f.bus.Publish(sdk.NewEvent("chloe", map[string]any{"url": "a.png"}))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got sdk.Event
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, "chloe", got.Source)
	assert.Equal(t, "a.png", got.String("url"))
	assert.Equal(t, uint64(1), got.Seq)

	conn.Close()
	require.Eventually(t, func() bool { return f.bus.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestAuth(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "ops"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "ops.pem")
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o600))

	cfg := &config.Config{}
	cfg.Auth.JWTPublicKeys = []string{path}
	f := newFixture(t, cfg)

	resp, _ := f.do(t, http.MethodPost, "/v1/dispenser/InsertCoin", "", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "NoCoin", string(f.disp.State()))

	tok := gojwt.NewWithClaims(gojwt.SigningMethodRS256, gojwt.MapClaims{"sub": "alice"})
	tok.Header["kid"] = "ops"
	signed, err := tok.SignedString(key)
	require.NoError(t, err)

	resp, _ = f.do(t, http.MethodPost, "/v1/dispenser/InsertCoin", "", signed)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = f.do(t, http.MethodGet, "/v1/dispenser", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
