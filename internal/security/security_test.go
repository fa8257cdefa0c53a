package security

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// TestNewProviderClient_Timeout はタイムアウト設定が反映されることをテストする。
func TestNewProviderClient_Timeout(t *testing.T) {
	guard := NewEndpointGuard()
	client := guard.NewProviderClient(5 * time.Second)

	if client.Timeout != 5*time.Second {
		t.Errorf("expected timeout %v, got %v", 5*time.Second, client.Timeout)
	}
	if client.Transport == nil || client.Transport == http.DefaultTransport {
		t.Fatal("expected custom Transport")
	}
}

// TestNewProviderClient_BlocksLoopback はループバックへのリクエストがブロックされることをテストする。
func TestNewProviderClient_BlocksLoopback(t *testing.T) {
	ts := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	client := NewEndpointGuard().NewProviderClient(5 * time.Second)
	if _, err := client.Get(ts.URL); err == nil {
		t.Fatal("expected error for loopback address request, got nil")
	}
}

// TestValidateEndpoint はエンドポイントURLの静的検証をテストする。
func TestValidateEndpoint(t *testing.T) {
	guard := NewEndpointGuard()

	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"Entra authority", "https://login.microsoftonline.com", false},
		{"Graph profile", "https://graph.microsoft.com/v1.0/me", false},
		{"explicit 443", "https://login.microsoftonline.com:443/common", false},
		{"empty", "", true},
		{"plain http", "http://login.microsoftonline.com", true},
		{"non-443 port", "https://login.microsoftonline.com:8443", true},
		{"private IP", "https://10.0.0.1/token", true},
		{"loopback", "https://127.0.0.1/token", true},
		{"localhost", "https://localhost/token", true},
		{"metadata IP", "https://169.254.169.254/metadata/instance", true},
		{"IPv6 loopback", "https://[::1]/token", true},
		{"file scheme", "file:///etc/passwd", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := guard.ValidateEndpoint(tt.url)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateEndpoint(%q) error = %v, wantErr %v", tt.url, err, tt.wantErr)
			}
		})
	}
}

// TestSanitizeText はプロフィール文字列の無害化をテストする。
func TestSanitizeText(t *testing.T) {
	sanitizer := NewProfileSanitizer()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain name", "Development User", "Development User"},
		{"empty", "", ""},
		{"apostrophe kept", "Conan O'Brien", "Conan O'Brien"},
		{"ampersand kept", "R&D Team", "R&D Team"},
		{"tags stripped", "<b>Alice</b>", "Alice"},
		{"script removed", `<script>alert("x")</script>Bob`, "Bob"},
		{"control chars removed", "Carol\x07", "Carol"},
		{"surrounding space trimmed", "  Dave  ", "Dave"},
		{"japanese", "山田 太郎", "山田 太郎"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sanitizer.SanitizeText(tt.input); got != tt.want {
				t.Errorf("SanitizeText(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

// TestSanitizeText_Truncates は長すぎる入力が切り詰められることをテストする。
func TestSanitizeText_Truncates(t *testing.T) {
	sanitizer := NewProfileSanitizer()

	got := sanitizer.SanitizeText(strings.Repeat("あ", maxProfileFieldRunes+10))
	if n := len([]rune(got)); n != maxProfileFieldRunes {
		t.Errorf("length = %d, want %d", n, maxProfileFieldRunes)
	}
}

// TestSanitizeText_Idempotent は同一入力に対して同一出力を返すことをテストする。
func TestSanitizeText_Idempotent(t *testing.T) {
	sanitizer := NewProfileSanitizer()
	input := `<img src=x onerror=alert(1)>Eve`

	first := sanitizer.SanitizeText(input)
	second := sanitizer.SanitizeText(first)
	if first != second {
		t.Errorf("not idempotent: %q then %q", first, second)
	}
}
