package util

import (
	"strconv"
	"strings"
	"testing"
	"time"
)

func TestNewIDShape(t *testing.T) {
	now := time.UnixMilli(1760832000000)
	id, err := NewID(now)
	if err != nil {
		t.Fatalf("NewID failed: %v", err)
	}
	if len(id) != MaxIDLen {
		t.Errorf("len(id) = %d, want %d", len(id), MaxIDLen)
	}
	prefix := strconv.FormatInt(now.UnixMilli(), 36) + "-"
	if !strings.HasPrefix(id, prefix) {
		t.Errorf("id %q does not start with timestamp prefix %q", id, prefix)
	}
	if !ValidID(id) {
		t.Errorf("ValidID(%q) = false", id)
	}
}

func TestNewIDShortTimestampKeepsFullRandom(t *testing.T) {
	id, err := NewID(time.UnixMilli(0))
	if err != nil {
		t.Fatalf("NewID failed: %v", err)
	}
	if id[:2] != "0-" {
		t.Errorf("id %q should start with 0-", id)
	}
	if len(id) != 2+randomLen {
		t.Errorf("len(id) = %d, want %d", len(id), 2+randomLen)
	}
}

func TestNewIDUniqueWithFixedClock(t *testing.T) {
	now := time.UnixMilli(1760832000000)
	seen := make(map[string]struct{}, 10000)
	for i := 0; i < 10000; i++ {
		id, err := NewID(now)
		if err != nil {
			t.Fatalf("NewID failed: %v", err)
		}
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate id %q after %d ids", id, i)
		}
		seen[id] = struct{}{}
	}
}

func TestValidID(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"mgvx1c00-Ab3dE9fGh1JkLmNo", false},
		{"mgvx1c00-Ab3dE9fGh1JkLmN", true},
		{"", false},
		{"abc/def", false},
		{"abc def", false},
		{"../etc", false},
	}
	for _, tt := range tests {
		if got := ValidID(tt.in); got != tt.want {
			t.Errorf("ValidID(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
