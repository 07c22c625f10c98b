package contextkeys

import (
	"context"
	"testing"
)

func TestStringKeys(t *testing.T) {
	ctx := context.Background()

	if got := GetRequestID(ctx); got != "" {
		t.Errorf("GetRequestID() on empty context = %q, want empty", got)
	}

	ctx = WithRequestID(ctx, "req-1")
	ctx = WithEventID(ctx, "evt_1")
	ctx = WithTenant(ctx, "acme")

	if got := GetRequestID(ctx); got != "req-1" {
		t.Errorf("GetRequestID() = %q, want req-1", got)
	}
	if got := GetEventID(ctx); got != "evt_1" {
		t.Errorf("GetEventID() = %q, want evt_1", got)
	}
	if got := GetTenant(ctx); got != "acme" {
		t.Errorf("GetTenant() = %q, want acme", got)
	}
}

func TestWrongTypeIsIgnored(t *testing.T) {
	ctx := context.WithValue(context.Background(), EventIDKey, 42)
	if got := GetEventID(ctx); got != "" {
		t.Errorf("GetEventID() with non-string value = %q, want empty", got)
	}
}
