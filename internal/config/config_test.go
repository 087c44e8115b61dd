package config

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/fpang/ig-caption-studio/internal/instagram"
	"github.com/fpang/ig-caption-studio/internal/session"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{EnvSessionBackend, EnvScopes, EnvFetchTimeout, EnvMediaLimit, EnvAnalyzeRPS, EnvExchangeURL} {
		t.Setenv(key, "")
	}
	t.Setenv(EnvSessionFile, "/tmp/igcs-session.json")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.SessionBackend != session.BackendFile || cfg.SessionFile != "/tmp/igcs-session.json" {
		t.Errorf("unexpected session config: %+v", cfg)
	}
	if !reflect.DeepEqual(cfg.Scopes, instagram.DefaultScopes) {
		t.Errorf("unexpected scopes: %v", cfg.Scopes)
	}
	if cfg.FetchTimeout != 30*time.Second || cfg.MediaLimit != DefaultMediaLimit {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if cfg.RedirectURI != DefaultRedirectURI {
		t.Errorf("unexpected redirect: %q", cfg.RedirectURI)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv(EnvSessionBackend, "MEMORY")
	t.Setenv(EnvScopes, "instagram_business_basic, instagram_business_manage_insights")
	t.Setenv(EnvFetchTimeout, "5s")
	t.Setenv(EnvLongLived, "true")
	t.Setenv(EnvAnalyzeRPS, "0.5")
	t.Setenv(EnvImageTimeout, "not-a-duration")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.SessionBackend != session.BackendMemory {
		t.Errorf("expected memory backend, got %q", cfg.SessionBackend)
	}
	if want := []string{"instagram_business_basic", "instagram_business_manage_insights"}; !reflect.DeepEqual(cfg.Scopes, want) {
		t.Errorf("unexpected scopes: %v", cfg.Scopes)
	}
	if cfg.FetchTimeout != 5*time.Second || !cfg.LongLived || cfg.AnalyzeRPS != 0.5 {
		t.Errorf("overrides not applied: %+v", cfg)
	}
	if cfg.ImageTimeout != 20*time.Second {
		t.Errorf("invalid duration should fall back to default, got %s", cfg.ImageTimeout)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		ok   bool
	}{
		{"file", Config{SessionBackend: "file", MediaLimit: 25}, true},
		{"unknown backend", Config{SessionBackend: "redis", MediaLimit: 25}, false},
		{"dynamo without table", Config{SessionBackend: "dynamo", MediaLimit: 25}, false},
		{"dynamo with table", Config{SessionBackend: "dynamo", SessionTable: "sessions", MediaLimit: 25}, true},
		{"zero media limit", Config{SessionBackend: "memory"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.cfg.Validate(); (err == nil) != tt.ok {
				t.Errorf("Validate() = %v, want ok=%v", err, tt.ok)
			}
		})
	}
}

func TestOpenStoreLocalBackends(t *testing.T) {
	ctx := context.Background()
	store, err := Config{SessionBackend: "memory"}.OpenStore(ctx, nil)
	if err != nil {
		t.Fatalf("memory: %v", err)
	}
	if _, ok := store.(*session.MemoryStore); !ok {
		t.Errorf("expected MemoryStore, got %T", store)
	}

	store, err = Config{SessionBackend: "file", SessionFile: t.TempDir() + "/s.json"}.OpenStore(ctx, nil)
	if err != nil {
		t.Fatalf("file: %v", err)
	}
	if _, ok := store.(*session.FileStore); !ok {
		t.Errorf("expected FileStore, got %T", store)
	}

	if _, err := (Config{SessionBackend: "ssm"}).OpenStore(ctx, nil); !errors.Is(err, ErrNoAWS) {
		t.Errorf("expected ErrNoAWS, got %v", err)
	}
}

type fakeSSM struct {
	calls int
	value string
	err   error
}

func (f *fakeSSM) GetParameter(_ context.Context, in *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if !aws.ToBool(in.WithDecryption) {
		return nil, errors.New("expected decryption")
	}
	return &ssm.GetParameterOutput{Parameter: &ssmtypes.Parameter{Value: aws.String(f.value)}}, nil
}

func TestSSMSecretCachesValue(t *testing.T) {
	f := &fakeSSM{value: "shh"}
	secret := SSMSecret(func(context.Context) (ParameterGetter, error) { return f, nil }, "/app/secret")

	for i := 0; i < 2; i++ {
		got, err := secret(context.Background())
		if err != nil || got != "shh" {
			t.Fatalf("secret() = %q, %v", got, err)
		}
	}
	if f.calls != 1 {
		t.Errorf("expected one SSM call, got %d", f.calls)
	}
}

func TestSSMSecretErrors(t *testing.T) {
	f := &fakeSSM{err: errors.New("ParameterNotFound")}
	secret := SSMSecret(func(context.Context) (ParameterGetter, error) { return f, nil }, "/app/secret")
	if _, err := secret(context.Background()); err == nil {
		t.Error("expected error")
	}

	empty := SSMSecret(func(context.Context) (ParameterGetter, error) { return &fakeSSM{}, nil }, "/app/secret")
	if _, err := empty(context.Background()); err == nil {
		t.Error("expected error for empty parameter")
	}
}

func TestAppSecretProvider(t *testing.T) {
	if (Config{ExchangeURL: "https://exchange.example"}).AppSecretProvider(&AWS{}) != nil {
		t.Error("trusted exchange should not hold a secret")
	}
	p := Config{AppSecret: "env-secret"}.AppSecretProvider(&AWS{})
	if got, err := p(context.Background()); err != nil || got != "env-secret" {
		t.Errorf("expected env secret, got %q %v", got, err)
	}
	if (Config{}).GeminiKeyProvider(&AWS{}) != nil {
		t.Error("no parameter should mean no remote key provider")
	}
}

func TestAuthConfig(t *testing.T) {
	cfg := Config{AppID: "app-1", RedirectURI: "http://localhost:8080/", LongLived: true, ExchangeURL: "https://x"}
	a := cfg.Auth(nil)
	if a.ClientID != "app-1" || !a.LongLived || a.ExchangeURL != "https://x" {
		t.Errorf("unexpected auth config: %+v", a)
	}
}
