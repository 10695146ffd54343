package handler_test

import (
	"net/http"
	"testing"

	"github.com/anungis437/nzila-automation-sub010/internal/evidence"
	"github.com/anungis437/nzila-automation-sub010/internal/lifecycle"
)

// rejectWithEvidence rejects po-1 and returns the sealed pack.
func rejectWithEvidence(t *testing.T, env *testEnv) lifecycle.ApplyResult {
	t.Helper()
	env.createPayout(t, "po-1")
	w := env.do(t, http.MethodPost, "/api/v1/resources/payout/po-1/transitions", env.token(t, "fin-1", "finance", "org-1"), map[string]any{
		"target":    "REJECTED",
		"artifacts": []map[string]any{{"name": "note.txt", "content": "duplicate of po-0"}},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var out lifecycle.ApplyResult
	decode(t, w, &out)
	if out.Pack == nil || out.Seal == nil {
		t.Fatalf("expected a sealed pack: %s", w.Body.String())
	}
	return out
}

func TestEvidenceVerify_valid(t *testing.T) {
	env := setupRouter(t)
	out := rejectWithEvidence(t, env)

	w := env.do(t, http.MethodPost, "/api/v1/evidence/verify", env.token(t, "auditor", "auditor", ""), map[string]any{
		"pack":             out.Pack,
		"seal":             out.Seal,
		"requireSignature": true,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var res evidence.VerifyResult
	decode(t, w, &res)
	if !res.Valid || res.Verdict != evidence.VerdictValid || !res.Authenticated {
		t.Errorf("expected a valid authenticated seal, got %+v", res)
	}
}

func TestEvidenceVerify_tampered(t *testing.T) {
	env := setupRouter(t)
	out := rejectWithEvidence(t, env)

	tampered := *out.Pack
	tampered.Artifacts = append([]evidence.Artifact(nil), out.Pack.Artifacts...)
	tampered.Artifacts[0].SHA256 = "0000000000000000000000000000000000000000000000000000000000000000"

	w := env.do(t, http.MethodPost, "/api/v1/evidence/verify", env.token(t, "auditor", "auditor", ""), map[string]any{
		"pack": tampered,
		"seal": out.Seal,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var res evidence.VerifyResult
	decode(t, w, &res)
	if res.Valid || res.Verdict != evidence.VerdictInvalid {
		t.Errorf("expected an invalid verdict, got %+v", res)
	}
	if res.Mismatch == nil || res.Mismatch.Field != evidence.CheckMerkleRoot {
		t.Errorf("expected a merkle root mismatch first, got %+v", res.Mismatch)
	}
}

func TestEvidenceVerify_400_missingSeal(t *testing.T) {
	env := setupRouter(t)
	w := env.do(t, http.MethodPost, "/api/v1/evidence/verify", env.token(t, "auditor", "auditor", ""), map[string]any{
		"pack": evidence.Pack{},
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestEvidenceGet(t *testing.T) {
	env := setupRouter(t)
	out := rejectWithEvidence(t, env)
	tok := env.token(t, "auditor", "auditor", "")

	w := env.do(t, http.MethodGet, "/api/v1/evidence/"+out.Pack.PackID, tok, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Pack         evidence.Pack         `json:"pack"`
		Verification evidence.VerifyResult `json:"verification"`
	}
	decode(t, w, &resp)
	if resp.Pack.PackID != out.Pack.PackID || !resp.Verification.Valid {
		t.Errorf("unexpected response: %s", w.Body.String())
	}

	w = env.do(t, http.MethodGet, "/api/v1/evidence/pack-missing", tok, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestEvidenceVerify_unknownKeyID(t *testing.T) {
	env := setupRouter(t)
	out := rejectWithEvidence(t, env)

	forged := *out.Pack
	forged.Artifacts = append([]evidence.Artifact(nil), out.Pack.Artifacts...)
	forged.Artifacts[0].SHA256 = "1111111111111111111111111111111111111111111111111111111111111111"
	seal, err := evidence.GenerateSeal(forged, evidence.SealOptions{Key: []byte("not-the-server-key"), KeyID: "nope"})
	if err != nil {
		t.Fatalf("GenerateSeal: %v", err)
	}

	w := env.do(t, http.MethodPost, "/api/v1/evidence/verify", env.token(t, "auditor", "auditor", ""), map[string]any{
		"pack": forged,
		"seal": seal,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var res evidence.VerifyResult
	decode(t, w, &res)
	if res.Valid || res.Verdict != evidence.VerdictInvalid {
		t.Fatalf("expected an invalid verdict, got %+v", res)
	}
	if res.Mismatch == nil || res.Mismatch.Field != evidence.CheckKeyID || res.Mismatch.Actual != "nope" {
		t.Errorf("expected a key id mismatch, got %+v", res.Mismatch)
	}
}
