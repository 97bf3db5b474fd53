package session

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signed(t *testing.T, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "admin",
		"exp": exp.Unix(),
	})
	s, err := tok.SignedString([]byte("secret"))
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestStaticAndEmpty(t *testing.T) {
	if _, ok := Static("  ").Token(); ok {
		t.Error("blank static token should not be usable")
	}
	if tok, ok := Static("abc").Token(); !ok || tok != "abc" {
		t.Errorf("got %q %v", tok, ok)
	}
}

func TestFileRereads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")
	p := File(path)
	if _, ok := p.Token(); ok {
		t.Fatal("missing file should yield no token")
	}
	if err := os.WriteFile(path, []byte("one\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if tok, _ := p.Token(); tok != "one" {
		t.Errorf("expected one, got %q", tok)
	}
	if err := os.WriteFile(path, []byte("two"), 0o600); err != nil {
		t.Fatal(err)
	}
	if tok, _ := p.Token(); tok != "two" {
		t.Errorf("expected rotated token, got %q", tok)
	}
}

func TestNewChainOrder(t *testing.T) {
	t.Setenv("ADMINSYNC_TEST_TOKEN", "from-env")
	p := New(Options{TokenEnv: "ADMINSYNC_TEST_TOKEN", TokenFile: "/nonexistent"})
	if tok, ok := p.Token(); !ok || tok != "from-env" {
		t.Errorf("got %q %v", tok, ok)
	}

	p = New(Options{Token: "literal", TokenEnv: "ADMINSYNC_TEST_TOKEN"})
	if tok, _ := p.Token(); tok != "literal" {
		t.Errorf("literal token should win, got %q", tok)
	}

	if _, ok := New(Options{}).Token(); ok {
		t.Error("empty options should yield no token")
	}
}

func TestExpiring(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	valid := Expiring{Provider: Static(signed(t, now.Add(time.Hour))), Now: clock}
	if _, ok := valid.Token(); !ok {
		t.Error("unexpired JWT should be usable")
	}

	expired := Expiring{Provider: Static(signed(t, now.Add(-time.Minute))), Now: clock}
	if _, ok := expired.Token(); ok {
		t.Error("expired JWT should be rejected")
	}

	opaque := Expiring{Provider: Static("not-a-jwt"), Now: clock}
	if tok, ok := opaque.Token(); !ok || tok != "not-a-jwt" {
		t.Error("opaque tokens should pass through")
	}
}
