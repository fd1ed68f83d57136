package protocol

import "testing"

func TestParseRedirect(t *testing.T) {
	tests := []struct {
		in   string
		kind RedirectKind
		host string
		port int
	}{
		{"here", RedirectHere, "", 0},
		{"unknown", RedirectUnknown, "", 0},
		{"here:9001", RedirectLocal, "", 9001},
		{"mirror.example.com:5000", RedirectRemote, "mirror.example.com", 5000},
		{"10.0.0.7:6000", RedirectRemote, "10.0.0.7", 6000},
		{"[::1]:7000", RedirectRemote, "::1", 7000},
	}

	for _, tt := range tests {
		r, err := ParseRedirect(tt.in)
		if err != nil {
			t.Fatalf("ParseRedirect(%q) failed: %v", tt.in, err)
		}
		if r.Kind != tt.kind || r.Host != tt.host || r.Port != tt.port {
			t.Errorf("ParseRedirect(%q) = %+v", tt.in, r)
		}
		if r.String() != tt.in {
			t.Errorf("String() = %q, want %q", r.String(), tt.in)
		}
	}
}

func TestParseRedirectInvalid(t *testing.T) {
	for _, in := range []string{"", "there", "here:", "here:abc", "here:70000", "host:0", ":5000", "a:b:c"} {
		_, err := ParseRedirect(in)
		if err == nil {
			t.Errorf("ParseRedirect(%q) expected error", in)
			continue
		}
		if KindOf(err) != KindHandshake {
			t.Errorf("ParseRedirect(%q) kind = %v, want handshake", in, KindOf(err))
		}
	}
}

func TestRedirectTarget(t *testing.T) {
	target, err := HereAt(9001).Target("127.0.0.1:5000")
	if err != nil {
		t.Fatalf("Target failed: %v", err)
	}
	if target != "127.0.0.1:9001" {
		t.Errorf("Expected 127.0.0.1:9001, got %s", target)
	}

	remote := Redirect{Kind: RedirectRemote, Host: "mirror", Port: 5000}
	target, err = remote.Target("127.0.0.1:5000")
	if err != nil {
		t.Fatalf("Target failed: %v", err)
	}
	if target != "mirror:5000" {
		t.Errorf("Expected mirror:5000, got %s", target)
	}

	if target, _ := Here().Target("127.0.0.1:5000"); target != "" {
		t.Errorf("Expected empty target for here, got %s", target)
	}
}

func TestParseMirror(t *testing.T) {
	if _, err := ParseMirror("backup:5000"); err != nil {
		t.Errorf("ParseMirror failed: %v", err)
	}

	for _, in := range []string{"here", "here:5000", "unknown", "nohost"} {
		if _, err := ParseMirror(in); err == nil {
			t.Errorf("ParseMirror(%q) expected error", in)
		}
	}
}

func TestRedirectKindString(t *testing.T) {
	tests := []struct {
		expected string
		kind     RedirectKind
	}{
		{"HERE", RedirectHere},
		{"LOCAL", RedirectLocal},
		{"REMOTE", RedirectRemote},
		{"UNKNOWN", RedirectUnknown},
		{"INVALID", RedirectKind(42)},
	}

	for _, tt := range tests {
		if got := tt.kind.String(); got != tt.expected {
			t.Errorf("%v.String() = %s, want %s", tt.kind, got, tt.expected)
		}
	}
}
