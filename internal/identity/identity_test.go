package identity

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"
)

func TestIssueVerify(t *testing.T) {
	t.Parallel()
	iss := NewIssuer("s3cret", time.Hour)
	tok, err := iss.Issue("agent-1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	sub, err := iss.Verify(tok)
	if err != nil || sub != "agent-1" {
		t.Fatalf("Verify = %q, %v", sub, err)
	}

	other := NewIssuer("different", time.Hour)
	if _, err := other.Verify(tok); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("wrong secret: %v", err)
	}
}

func TestVerify_expired(t *testing.T) {
	t.Parallel()
	iss := NewIssuer("s3cret", time.Minute)
	now := time.Now()
	iss.Now = func() time.Time { return now }
	tok, err := iss.Issue("agent-1")
	if err != nil {
		t.Fatal(err)
	}
	now = now.Add(2 * time.Minute)
	if _, err := iss.Verify(tok); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expired token: %v", err)
	}
}

func TestNilIssuer(t *testing.T) {
	t.Parallel()
	var iss *Issuer = NewIssuer("", 0)
	if iss != nil {
		t.Fatal("empty secret should disable tokens")
	}
	if _, err := iss.Issue("a"); !errors.Is(err, ErrNoSecret) {
		t.Fatalf("Issue without secret: %v", err)
	}
}

func TestFromRequest(t *testing.T) {
	t.Parallel()
	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set(HeaderAgentID, "alice")
	if got, err := FromRequest(r, nil); err != nil || got != "alice" {
		t.Fatalf("header identity = %q, %v", got, err)
	}

	iss := NewIssuer("s3cret", 0)
	if got, _ := FromRequest(r, iss); got != "" {
		t.Fatalf("header must be ignored with tokens enabled, got %q", got)
	}
	tok, _ := iss.Issue("bob")
	r.Header.Set("Authorization", "Bearer "+tok)
	if got, err := FromRequest(r, iss); err != nil || got != "bob" {
		t.Fatalf("bearer identity = %q, %v", got, err)
	}
	r.Header.Set("Authorization", "Basic abc")
	if _, err := FromRequest(r, iss); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("basic auth: %v", err)
	}
}

func TestContext(t *testing.T) {
	t.Parallel()
	ctx := WithAgent(context.Background(), "carol")
	if AgentFrom(ctx) != "carol" || AgentFrom(context.Background()) != "" {
		t.Fatal("context round trip failed")
	}
}
