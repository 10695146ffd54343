package handler_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/anungis437/nzila-automation-sub010/internal/audit"
	"github.com/anungis437/nzila-automation-sub010/internal/evidence"
	"github.com/anungis437/nzila-automation-sub010/internal/fsm"
	"github.com/anungis437/nzila-automation-sub010/internal/identity"
	"github.com/anungis437/nzila-automation-sub010/internal/lifecycle"
	"github.com/anungis437/nzila-automation-sub010/internal/server/handler"
)

const payoutMachine = `
name: payout
states: [PENDING, APPROVED, REJECTED, PAID]
initial: PENDING
terminal: [REJECTED, PAID]
transitions:
  - from: PENDING
    to: APPROVED
    label: approve
    roles: [finance]
    guards:
      - kind: actor_differs
        field: requestedBy
        message: the requester cannot approve their own payout
    events:
      - type: payout.approved
        data:
          id: "{{resourceId}}"
  - from: PENDING
    to: REJECTED
    label: reject
    roles: [finance]
    evidenceRequired: true
  - from: APPROVED
    to: PAID
    label: settle
    roles: [system]
    evidenceRequired: true
`

var testSecret = []byte("handler-test-secret-0123456789abcdef")

type testEnv struct {
	router *gin.Engine
	svc    *lifecycle.Service
	ledger *audit.MemoryLedger
	packs  *evidence.MemoryStore
	tokens *identity.TokenIssuer
}

func setupRouter(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	m, err := fsm.Load(strings.NewReader(payoutMachine), nil)
	if err != nil {
		t.Fatalf("load machine: %v", err)
	}
	tokens, err := identity.NewTokenIssuer(testSecret, "nzila-test", 0)
	if err != nil {
		t.Fatalf("token issuer: %v", err)
	}

	env := &testEnv{
		ledger: audit.NewMemoryLedger(),
		packs:  evidence.NewMemoryStore(),
		tokens: tokens,
	}
	catalog := fsm.NewCatalog(m)
	keyring := evidence.NewKeyring("k1", []byte("handler-seal-key"))
	env.svc = lifecycle.NewService(catalog, lifecycle.NewMemoryStore(), env.ledger, zap.NewNop())
	env.svc.SetEvidence(nil, env.packs, keyring)

	r := gin.New()
	v1 := r.Group("/api/v1")
	handler.NewResourceHandler(env.svc, tokens, zap.NewNop()).Register(v1)
	handler.NewMachineHandler(catalog, zap.NewNop()).Register(v1)
	handler.NewAuditHandler(env.ledger, tokens, zap.NewNop()).Register(v1)
	handler.NewEvidenceHandler(env.packs, keyring, tokens, zap.NewNop()).Register(v1)
	env.router = r
	return env
}

func (e *testEnv) token(t *testing.T, actor, role, entity string) string {
	t.Helper()
	tok, err := e.tokens.Issue(actor, role, entity)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return tok
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

// createPayout creates payout id for org-1, requested by creator-7.
func (e *testEnv) createPayout(t *testing.T, id string) {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/v1/resources", e.token(t, "creator-7", "creator", "org-1"), map[string]any{
		"entityType": "payout",
		"id":         id,
		"attributes": map[string]any{"requestedBy": "creator-7", "amount": 250},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("decode response: %v: %s", err, w.Body.String())
	}
}
