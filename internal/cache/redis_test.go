package cache

import (
	"testing"

	"refcommission/internal/logging"
)

func TestRedisKeysAreNamespaced(t *testing.T) {
	tests := []struct {
		prefix string
		parts  []string
		want   string
	}{
		{"", []string{"package", "slug", "gold"}, "refcommission:package:slug:gold"},
		{"staging", []string{"lock", "user-1"}, "staging:lock:user-1"},
		{"shared:", []string{"lock", "user-1"}, "shared:lock:user-1"},
	}
	for _, tt := range tests {
		r := New(Config{Addr: "127.0.0.1:0", KeyPrefix: tt.prefix}, logging.Discard())
		if got := r.Key(tt.parts...); got != tt.want {
			t.Errorf("Key(%v) with prefix %q = %q, want %q", tt.parts, tt.prefix, got, tt.want)
		}
		_ = r.Close()
	}
}

func TestLockerUsesNamespacedKeys(t *testing.T) {
	r := New(Config{Addr: "127.0.0.1:0", KeyPrefix: "tenant-a"}, logging.Discard())
	defer r.Close()

	l := NewLocker(r, 0, logging.Discard())
	if got := l.key("lock", "user-9"); got != "tenant-a:lock:user-9" {
		t.Fatalf("lock key = %q", got)
	}
	if l.ttl <= 0 {
		t.Fatalf("expected default ttl, got %s", l.ttl)
	}
}
