package infra

import (
	"context"
	"testing"
)

func TestSharedDSN(t *testing.T) {
	t.Setenv(SharedDSNEnv, "")
	if got := sharedDSN(""); got != "" {
		t.Fatalf("expected no shared database, got %q", got)
	}

	t.Setenv(SharedDSNEnv, "postgres://env")
	if got := sharedDSN(""); got != "postgres://env" {
		t.Fatalf("expected env dsn, got %q", got)
	}
	if got := sharedDSN("postgres://flag"); got != "postgres://flag" {
		t.Fatalf("expected flag to win over env, got %q", got)
	}
}

func TestStopContainerWithoutContainer(t *testing.T) {
	h := &Harness{}
	if err := h.stopContainer(context.Background()); err != nil {
		t.Fatalf("expected nil for a reused database, got %v", err)
	}
}
