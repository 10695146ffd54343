package identity_test

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/anungis437/nzila-automation-sub010/internal/identity"
)

const testIssuer = "https://lifecycle.nzila.test"

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func newTestTokenIssuer(t *testing.T) *identity.TokenIssuer {
	t.Helper()
	ti, err := identity.NewTokenIssuer(testSecret, testIssuer, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	return ti
}

func TestNewTokenIssuer_rejectsWeakSecret(t *testing.T) {
	if _, err := identity.NewTokenIssuer([]byte("short"), testIssuer, 0); err != identity.ErrWeakSecret {
		t.Errorf("expected ErrWeakSecret, got %v", err)
	}
}

func TestTokenIssuer_Issue(t *testing.T) {
	ti := newTestTokenIssuer(t)

	token, err := ti.Issue("fin-1", "finance", "org-1")
	if err != nil {
		t.Fatalf("Issue() error: %v", err)
	}
	if parts := strings.Split(token, "."); len(parts) != 3 {
		t.Errorf("expected 3-part JWT, got %d parts", len(parts))
	}

	if _, err := ti.Issue("", "finance", ""); err == nil {
		t.Error("expected error for empty actor id")
	}
}

func TestTokenIssuer_Verify_valid(t *testing.T) {
	ti := newTestTokenIssuer(t)

	token, err := ti.Issue("fin-1", "finance", "org-1")
	if err != nil {
		t.Fatal(err)
	}
	claims, err := ti.Verify(token)
	if err != nil {
		t.Fatalf("Verify() error: %v", err)
	}

	tc := claims.Context()
	if tc.ActorID != "fin-1" || tc.Role != "finance" || tc.ResourceEntityID != "org-1" {
		t.Errorf("unexpected context: %+v", tc)
	}
	if claims.ID == "" {
		t.Error("expected a token id")
	}
}

func TestTokenIssuer_Verify_expired(t *testing.T) {
	ti, err := identity.NewTokenIssuer(testSecret, testIssuer, time.Nanosecond)
	if err != nil {
		t.Fatal(err)
	}
	token, err := ti.Issue("fin-1", "finance", "")
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(10 * time.Millisecond)

	if _, err := ti.Verify(token); err == nil {
		t.Error("expected error for expired token, got nil")
	}
}

func TestTokenIssuer_Verify_wrongSecret(t *testing.T) {
	token, err := newTestTokenIssuer(t).Issue("fin-1", "finance", "")
	if err != nil {
		t.Fatal(err)
	}
	other, err := identity.NewTokenIssuer([]byte("ffffffffffffffffffffffffffffffff"), testIssuer, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := other.Verify(token); err == nil {
		t.Error("expected error for token signed with another secret")
	}
}

func TestTokenIssuer_Verify_wrongIssuer(t *testing.T) {
	token, err := newTestTokenIssuer(t).Issue("fin-1", "finance", "")
	if err != nil {
		t.Fatal(err)
	}
	other, err := identity.NewTokenIssuer(testSecret, "https://elsewhere.test", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := other.Verify(token); err == nil {
		t.Error("expected error for token from another issuer")
	}
}

func TestTokenIssuer_Verify_rejectsNoneAlgorithm(t *testing.T) {
	claims := identity.ActorClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    testIssuer,
			Subject:   "mallory",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Role: "admin",
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := newTestTokenIssuer(t).Verify(token); err == nil {
		t.Error("expected error for unsigned token")
	}
}

func TestTokenIssuer_Verify_tampered(t *testing.T) {
	ti := newTestTokenIssuer(t)
	token, err := ti.Issue("fin-1", "finance", "")
	if err != nil {
		t.Fatal(err)
	}
	parts := strings.Split(token, ".")
	tampered := parts[0] + "." + parts[1] + "x." + parts[2]

	if _, err := ti.Verify(tampered); err == nil {
		t.Error("expected error for tampered token, got nil")
	}
}
