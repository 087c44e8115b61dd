package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/fpang/ig-caption-studio/internal/config"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv(config.EnvSessionBackend, "memory")
	t.Setenv(config.EnvMetrics, "off")
	t.Setenv(config.EnvAppID, "app-123")

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		codeFlag = ""
	})
	err := rootCmd.Execute()
	return out.String(), err
}

func TestStatusLoggedOut(t *testing.T) {
	out, err := runCLI(t, "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(out, "Session: Unauthenticated") {
		t.Errorf("unexpected output: %q", out)
	}
}

func TestLoginPrintsAuthorizeURL(t *testing.T) {
	out, err := runCLI(t, "login")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if !strings.Contains(out, "https://www.instagram.com/oauth/authorize") || !strings.Contains(out, "client_id=app-123") {
		t.Errorf("expected an authorize URL for the configured app, got %q", out)
	}
}

func TestLogoutWhenLoggedOut(t *testing.T) {
	out, err := runCLI(t, "logout")
	if err != nil {
		t.Fatalf("logout: %v", err)
	}
	if !strings.Contains(out, "Not logged in.") {
		t.Errorf("unexpected output: %q", out)
	}
}

func TestOneLine(t *testing.T) {
	tests := []struct {
		in    string
		limit int
		want  string
	}{
		{"short", 10, "short"},
		{"line one\nline two", 40, "line one line two"},
		{"abcdefghij", 5, "abcd…"},
		{"", 5, ""},
	}
	for _, tc := range tests {
		if got := oneLine(tc.in, tc.limit); got != tc.want {
			t.Errorf("oneLine(%q, %d) = %q, want %q", tc.in, tc.limit, got, tc.want)
		}
	}
}
