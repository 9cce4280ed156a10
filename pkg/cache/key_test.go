package cache

import (
	"strings"
	"testing"
)

func TestKey(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "no query",
			in:   "https://portal.example.com/api/members",
			want: "https://portal.example.com/api/members",
		},
		{
			name: "query sorted",
			in:   "https://portal.example.com/api/members?role=officer&page=2",
			want: "https://portal.example.com/api/members?page=2&role=officer",
		},
		{
			name: "trailing slash trimmed",
			in:   "https://portal.example.com/api/events/",
			want: "https://portal.example.com/api/events",
		},
		{
			name: "fragment dropped",
			in:   "https://portal.example.com/api/events#top",
			want: "https://portal.example.com/api/events",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Key(tt.in); got != tt.want {
				t.Errorf("Key() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestKey_Determinism ensures equivalent URLs always produce the same key
func TestKey_Determinism(t *testing.T) {
	a := Key("https://portal.example.com/api/wars?status=active&season=3")
	b := Key("https://portal.example.com/api/wars?season=3&status=active")
	if a != b {
		t.Errorf("keys differ: %q vs %q", a, b)
	}
}

func TestHashedKey(t *testing.T) {
	k := hashedKey("https://portal.example.com/api/members")
	if !strings.HasPrefix(k, "portal:etag:") {
		t.Errorf("hashedKey() = %v, want portal:etag: prefix", k)
	}
	if k != hashedKey("https://portal.example.com/api/members") {
		t.Error("hashedKey is not deterministic")
	}
	if k == hashedKey("https://portal.example.com/api/events") {
		t.Error("distinct keys should hash differently")
	}
}
