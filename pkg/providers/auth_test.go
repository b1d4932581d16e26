package providers

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"testing"
)

func TestStaticTokenSource(t *testing.T) {
	src := NewStaticTokenSource("  sk-abc  ", "providers.test.api_key")
	tok, err := src.Token(context.Background())
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	if tok != "sk-abc" {
		t.Fatalf("expected trimmed token, got %q", tok)
	}
	if src.Source() != "providers.test.api_key" {
		t.Fatalf("unexpected source %q", src.Source())
	}

	empty := NewStaticTokenSource("", "somewhere")
	if _, err := empty.Token(context.Background()); err == nil {
		t.Fatalf("expected error for empty token")
	}
}

func TestFileTokenSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")
	if err := os.WriteFile(path, []byte("  tok-123\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	src := NewFileTokenSource(path)
	tok, err := src.Token(context.Background())
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	if tok != "tok-123" {
		t.Fatalf("expected trimmed token, got %q", tok)
	}

	missing := NewFileTokenSource(filepath.Join(t.TempDir(), "nope"))
	if _, err := missing.Token(context.Background()); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestBearerAuthAppliesHeader(t *testing.T) {
	auth := NewBearerTokenAuth(NewStaticTokenSource("tok", "test"))
	req, _ := http.NewRequest(http.MethodPost, "http://example.test", nil)
	if err := auth.Apply(context.Background(), req); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if got := req.Header.Get("Authorization"); got != "Bearer tok" {
		t.Fatalf("unexpected header %q", got)
	}
	if auth.Mode() != "bearer_token" {
		t.Fatalf("unexpected mode %q", auth.Mode())
	}
	if NewAPIKeyAuth(nil).Mode() != "api_key" {
		t.Fatalf("unexpected api key mode")
	}
}
