package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"caseflow/internal/config"
	"caseflow/internal/db"
	"caseflow/internal/domain"
	"caseflow/internal/engine"
	"caseflow/internal/migrate"
)

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }

const testJWTSecret = "test-secret"

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	cfg := config.Default()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, cfg)
	if err := e.SeedRoles(context.Background()); err != nil {
		t.Fatalf("seed roles: %v", err)
	}
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v0",
		Auth:     AuthConfig{JWTSecret: testJWTSecret, AllowLegacyActorHeader: true},
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
		Engine: e,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	t.Cleanup(ts.close)
	return ts
}

func actorHeaders(actorID string) map[string]string {
	return map[string]string{"X-Actor-Id": actorID}
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

func createForm(t *testing.T, srv *testServer) FormVersionResponse {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/forms", map[string]any{
		"form_key": "claim",
		"version":  1,
		"title":    "Insurance Claim",
		"pins": []map[string]any{
			{"block_key": "intake", "block_version": 1, "title": "Intake"},
			{"block_key": "review", "block_version": 1, "title": "Review"},
		},
	}, actorHeaders("tester"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create form status %d: %s", res.StatusCode, string(data))
	}
	var fv FormVersionResponse
	if err := json.Unmarshal(data, &fv); err != nil {
		t.Fatalf("unmarshal form version: %v", err)
	}
	return fv
}

func TestCaseLifecycleOverHTTP(t *testing.T) {
	srv := newTestServer(t)
	client := srv.Client()
	fv := createForm(t, srv)

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/forms/"+fv.ID+"/routes", map[string]any{
		"from_block_key": "intake",
		"to_block_key":   "review",
		"condition": map[string]any{
			"Operator":   "and",
			"Conditions": []map[string]any{{"Field": "amount", "Op": ">", "Value": 100}},
		},
	}, actorHeaders("tester"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("add route status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/cases", map[string]any{
		"form_version_id":  fv.ID,
		"start_block_keys": []string{"intake"},
	}, actorHeaders("tester"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("start case status %d: %s", res.StatusCode, string(data))
	}
	var c domain.Case
	if err := json.Unmarshal(data, &c); err != nil {
		t.Fatalf("unmarshal case: %v", err)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/cases/"+c.ID+"/blocks", nil, actorHeaders("tester"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list blocks status %d: %s", res.StatusCode, string(data))
	}
	var blocks []domain.CaseBlock
	if err := json.Unmarshal(data, &blocks); err != nil {
		t.Fatalf("unmarshal blocks: %v", err)
	}
	if len(blocks) != 1 || blocks[0].BlockKey != "intake" {
		t.Fatalf("unexpected blocks: %+v", blocks)
	}
	blockID := blocks[0].ID

	res, data = doJSON(t, client, http.MethodPut, srv.URL+"/v0/blocks/"+blockID+"/data", map[string]any{
		"data": map[string]any{"amount": 250},
	}, actorHeaders("tester"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("set data status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/blocks/"+blockID+"/complete", nil, actorHeaders("tester"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("complete status %d: %s", res.StatusCode, string(data))
	}
	var completed engine.CompleteBlockResult
	if err := json.Unmarshal(data, &completed); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if completed.Block.Status != domain.StatusLocked {
		t.Fatalf("block should be locked: %+v", completed.Block)
	}
	if len(completed.Opened) != 1 || completed.Opened[0].BlockKey != "review" {
		t.Fatalf("review should open: %+v", completed.Opened)
	}

	// Completing again conflicts.
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/blocks/"+blockID+"/complete", nil, actorHeaders("tester"))
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("second complete status %d: %s", res.StatusCode, string(data))
	}
}

func TestReopenForbiddenWithoutCapability(t *testing.T) {
	srv := newTestServer(t)
	client := srv.Client()
	fv := createForm(t, srv)

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/cases", map[string]any{
		"form_version_id":  fv.ID,
		"start_block_keys": []string{"intake"},
	}, actorHeaders("tester"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("start case: %d %s", res.StatusCode, string(data))
	}
	var c domain.Case
	json.Unmarshal(data, &c)
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/cases/"+c.ID+"/blocks", nil, actorHeaders("tester"))
	var blocks []domain.CaseBlock
	json.Unmarshal(data, &blocks)
	blockID := blocks[0].ID

	if res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/blocks/"+blockID+"/complete", nil, actorHeaders("tester")); res.StatusCode != http.StatusOK {
		t.Fatalf("complete: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/blocks/"+blockID+"/reopen", map[string]any{
		"reason": "nope",
	}, actorHeaders("tester"))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("reopen status %d: %s", res.StatusCode, string(data))
	}
}

func TestAuthRequired(t *testing.T) {
	srv := newTestServer(t)
	res, _ := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/cases", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", res.StatusCode)
	}
	// Health stays open.
	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d", res.StatusCode)
	}
}

func TestJWTAuth(t *testing.T) {
	srv := newTestServer(t)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "jwt-actor",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{
		"Authorization": "Bearer " + signed,
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("me status %d: %s", res.StatusCode, string(data))
	}
	var me map[string]any
	if err := json.Unmarshal(data, &me); err != nil {
		t.Fatalf("unmarshal me: %v", err)
	}
	if me["actor_id"] != "jwt-actor" || me["source"] != "jwt" {
		t.Fatalf("unexpected principal: %v", me)
	}
}

func TestAPIKeyAuth(t *testing.T) {
	srv := newTestServer(t)
	_, secret, err := srv.Engine.CreateAPIKey(context.Background(), "key-actor", "ci")
	if err != nil {
		t.Fatalf("create key: %v", err)
	}
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{
		"X-Api-Key": secret,
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("me status %d: %s", res.StatusCode, string(data))
	}
	var me map[string]any
	json.Unmarshal(data, &me)
	if me["actor_id"] != "key-actor" || me["source"] != "api_key" {
		t.Fatalf("unexpected principal: %v", me)
	}
}
