package auth

import (
	"context"
	"errors"
	"testing"
)

func TestOfflineProvider_GetLoginURL(t *testing.T) {
	provider := NewOfflineProvider("http://localhost:3000/auth/callback")

	got := provider.GetLoginURL("abc")
	want := "http://localhost:3000/auth/callback?code=dev_mock_code&state=abc"
	if got != want {
		t.Errorf("GetLoginURL() = %q, want %q", got, want)
	}
}

func TestOfflineProvider_GetLoginURL_ExistingQuery(t *testing.T) {
	provider := NewOfflineProvider("http://localhost:3000/cb?x=1")

	got := provider.GetLoginURL("abc")
	want := "http://localhost:3000/cb?x=1&code=dev_mock_code&state=abc"
	if got != want {
		t.Errorf("GetLoginURL() = %q, want %q", got, want)
	}
}

func TestOfflineProvider_ExchangeCode(t *testing.T) {
	provider := NewOfflineProvider("http://localhost:3000/auth/callback")

	identity, err := provider.ExchangeCode(context.Background(), DevMockCode)
	if err != nil {
		t.Fatalf("ExchangeCode() error = %v", err)
	}
	if *identity != DevIdentity {
		t.Errorf("identity = %+v, want %+v", *identity, DevIdentity)
	}
	if identity.SubjectID != "dev-user-123" || identity.Email != "dev.user@example.com" {
		t.Errorf("unexpected synthetic identity: %+v", identity)
	}

	// 返り値を変更しても固定値は変わらない
	identity.Email = "changed@example.com"
	if DevIdentity.Email != "dev.user@example.com" {
		t.Error("DevIdentity was mutated through returned pointer")
	}
}

func TestOfflineProvider_ExchangeCode_RejectsOtherCodes(t *testing.T) {
	provider := NewOfflineProvider("http://localhost:3000/auth/callback")

	for _, code := range []string{"", "real-code", "DEV_MOCK_CODE"} {
		if _, err := provider.ExchangeCode(context.Background(), code); !errors.Is(err, ErrInvalidGrant) {
			t.Errorf("ExchangeCode(%q) error = %v, want ErrInvalidGrant", code, err)
		}
	}
}
