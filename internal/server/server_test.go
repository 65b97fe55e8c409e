package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"dealdesk/internal/config"
	"dealdesk/internal/db"
	"dealdesk/internal/domain"
	"dealdesk/internal/engine"
	"dealdesk/internal/migrate"
	"dealdesk/internal/oracle"
)

const testSecret = "test-secret"

// fakeOracle maps command text to canned interpretations.
type fakeOracle struct {
	interpretations map[string]domain.Interpretation
}

func (f *fakeOracle) Interpret(_ context.Context, command string, _ domain.Role) (domain.Interpretation, error) {
	if in, ok := f.interpretations[command]; ok {
		return in, nil
	}
	return domain.Interpretation{Kind: domain.IntentUnrecognized}, nil
}

func (f *fakeOracle) Score(context.Context, oracle.ScoreInput) (domain.QualificationReport, error) {
	return domain.QualificationReport{
		Score:   64,
		Summary: "promising",
		BANT:    domain.BANTBreakdown{Budget: 70, Authority: 60, Need: 65, Timeline: 60},
	}, nil
}

type testServer struct {
	URL    string
	Oracle *fakeOracle
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	conn, err := db.Open(db.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	orc := &fakeOracle{interpretations: map[string]domain.Interpretation{}}
	e := engine.New(conn, config.Default(), orc, orc, zap.NewNop())
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v1",
		Auth:     AuthConfig{JWTSecret: testSecret, AllowRoleHeader: true, Logger: zap.NewNop()},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	ts := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Oracle: orc,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	t.Cleanup(ts.Close)
	return ts
}

func signToken(t *testing.T, role string) string {
	t.Helper()
	claims := jwtClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "tester",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Role: role,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func TestHealthSkipsAuth(t *testing.T) {
	srv := newTestServer(t)
	res, _ := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status %d", res.StatusCode)
	}
}

func TestMissingAuthRejected(t *testing.T) {
	srv := newTestServer(t)
	res, _ := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/leads", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status %d", res.StatusCode)
	}
	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/leads", nil, map[string]string{
		"Authorization": "Bearer not-a-token",
	})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status %d for bad token", res.StatusCode)
	}
}

func TestCommandRoundTrip(t *testing.T) {
	srv := newTestServer(t)
	srv.Oracle.interpretations["create acme"] = domain.Interpretation{
		Kind:   domain.IntentCreateLead,
		Create: &domain.CreateLeadPayload{Name: "ACME", Company: "ACME", Value: 50000},
	}
	auth := map[string]string{"Authorization": "Bearer " + signToken(t, "sales")}

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/commands", map[string]string{"text": "create acme"}, auth)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", res.StatusCode, data)
	}
	var env CommandResponse
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if env.Kind != domain.EnvelopeText || env.Text == "" {
		t.Fatalf("envelope = %+v", env)
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/leads", nil, auth)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list status %d", res.StatusCode)
	}
	var leads []domain.Lead
	if err := json.Unmarshal(data, &leads); err != nil {
		t.Fatalf("unmarshal leads: %v", err)
	}
	if len(leads) != 1 || leads[0].Name != "ACME" || leads[0].Stage != domain.StageIntake {
		t.Fatalf("leads = %+v", leads)
	}
}

// A denied command is still a successful HTTP exchange; the refusal lives
// in the envelope and the audit trail.
func TestDeniedCommandReturnsOK(t *testing.T) {
	srv := newTestServer(t)
	srv.Oracle.interpretations["create acme"] = domain.Interpretation{
		Kind:   domain.IntentCreateLead,
		Create: &domain.CreateLeadPayload{Name: "ACME", Company: "ACME"},
	}
	auth := map[string]string{"Authorization": "Bearer " + signToken(t, "viewer")}

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/commands", map[string]string{"text": "create acme"}, auth)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", res.StatusCode, data)
	}
	var env CommandResponse
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(strings.ToLower(env.Text), "denied") {
		t.Fatalf("text = %q", env.Text)
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/audit?status=denied", nil, auth)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("audit status %d", res.StatusCode)
	}
	var entries []domain.AuditEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Status != domain.StatusDenied {
		t.Fatalf("entries = %+v", entries)
	}
}

func TestAdvanceEndpoint(t *testing.T) {
	srv := newTestServer(t)
	manager := map[string]string{"X-Role": "manager"}

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/leads", map[string]any{
		"name": "ACME", "value": 9000,
	}, manager)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create status %d: %s", res.StatusCode, data)
	}
	var lead domain.Lead
	if err := json.Unmarshal(data, &lead); err != nil {
		t.Fatal(err)
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/leads/"+lead.ID+"/advance", nil, manager)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("advance status %d: %s", res.StatusCode, data)
	}
	if err := json.Unmarshal(data, &lead); err != nil {
		t.Fatal(err)
	}
	if lead.Stage != domain.StageQualified {
		t.Fatalf("stage = %s", lead.Stage)
	}
	if lead.QualificationScore == nil || *lead.QualificationScore != 64 {
		t.Fatalf("score = %v", lead.QualificationScore)
	}

	// Viewers may read but never advance.
	res, _ = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/leads/"+lead.ID+"/advance", nil, map[string]string{"X-Role": "viewer"})
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("viewer advance status %d", res.StatusCode)
	}
}

func TestLeadNotFound(t *testing.T) {
	srv := newTestServer(t)
	res, _ := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/leads/nope", nil, map[string]string{"X-Role": "viewer"})
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("status %d", res.StatusCode)
	}
}

func TestAuditExportCSV(t *testing.T) {
	srv := newTestServer(t)
	auth := map[string]string{"X-Role": "sales"}
	srv.Oracle.interpretations["create acme"] = domain.Interpretation{
		Kind:   domain.IntentCreateLead,
		Create: &domain.CreateLeadPayload{Name: "ACME", Company: "ACME"},
	}
	doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/commands", map[string]string{"text": "create acme"}, auth)

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/audit/export", nil, auth)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status %d", res.StatusCode)
	}
	if ct := res.Header.Get("Content-Type"); ct != "text/csv" {
		t.Fatalf("content type %q", ct)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 || !strings.HasPrefix(lines[0], "id,timestamp,actor,action") {
		t.Fatalf("csv = %q", string(data))
	}
}

func TestPipelineEndpoint(t *testing.T) {
	srv := newTestServer(t)
	auth := map[string]string{"X-Role": "viewer"}
	manager := map[string]string{"X-Role": "manager"}
	doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/leads", map[string]any{"name": "A"}, manager)
	doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/leads", map[string]any{"name": "B"}, manager)

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/pipeline", nil, auth)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status %d", res.StatusCode)
	}
	var resp PipelineResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Total != 2 || len(resp.Stages) != 5 {
		t.Fatalf("resp = %+v", resp)
	}
	if resp.Stages[0].Stage != domain.StageIntake || resp.Stages[0].Count != 2 {
		t.Fatalf("stages = %+v", resp.Stages)
	}
}
