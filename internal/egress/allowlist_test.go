package egress

import "testing"

func TestAllowed(t *testing.T) {
	a := NewAllowlist([]string{"hooks.example.com", "*.Corp.internal", " "})

	tests := []struct {
		host    string
		allowed bool
	}{
		{"hooks.example.com", true},
		{"hooks.example.com:8443", true},
		{"a.hooks.example.com", true},
		{"HOOKS.EXAMPLE.COM.", true},
		{"ci.corp.internal", true},
		{"corp.internal", true},
		{"example.com", false},
		{"evilhooks.example.com", false},
		{"hooks.example.com.evil.io", false},
		{"169.254.169.254", false},
	}

	for _, tt := range tests {
		if got := a.Allowed(tt.host); got != tt.allowed {
			t.Errorf("Allowed(%q) = %v, want %v", tt.host, got, tt.allowed)
		}
	}
}

func TestAllowed_EmptyAdmitsAll(t *testing.T) {
	var nilList *Allowlist
	for _, a := range []*Allowlist{NewAllowlist(nil), nilList} {
		if !a.Allowed("anything.example") {
			t.Error("empty allowlist should admit every host")
		}
	}
}

func TestCheckURL(t *testing.T) {
	a := NewAllowlist([]string{"example.com"})

	tests := []struct {
		raw     string
		wantErr bool
	}{
		{"https://example.com/cb", false},
		{"http://api.example.com:8080/cb", false},
		{"https://other.com/cb", true},
		{"ftp://example.com/cb", true},
		{"/relative", true},
		{"://bad", true},
	}

	for _, tt := range tests {
		err := a.CheckURL(tt.raw)
		if (err != nil) != tt.wantErr {
			t.Errorf("CheckURL(%q) err = %v, wantErr %v", tt.raw, err, tt.wantErr)
		}
	}
}

func TestEmpty(t *testing.T) {
	var nilList *Allowlist
	if !nilList.Empty() {
		t.Error("nil allowlist should be empty")
	}
	if !NewAllowlist([]string{" ", ""}).Empty() {
		t.Error("blank entries should leave the allowlist empty")
	}
	if NewAllowlist([]string{"hooks.example.com"}).Empty() {
		t.Error("configured allowlist reported empty")
	}
}
