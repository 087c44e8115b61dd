package auth

import (
	"context"

	"github.com/fpang/ig-caption-studio/internal/instagram"
	"github.com/rs/zerolog/log"
)

// Credential is an opaque bearer token. It formats as a placeholder so it
// cannot leak through %v or %s; convert with string() where the raw value
// is required.
type Credential string

func (c Credential) String() string {
	if c == "" {
		return ""
	}
	return "[redacted]"
}

// Exchanger turns a one-time authorization code into a credential.
// Implementations must classify failures as outcome.KindAuthExchangeFailed.
type Exchanger interface {
	Exchange(ctx context.Context, code string) (Credential, error)
}

// InstagramExchanger exchanges codes against Instagram (or a trusted backend
// when Config.ExchangeURL is set).
type InstagramExchanger struct {
	oauth     *instagram.OAuth
	longLived bool
}

var _ Exchanger = (*InstagramExchanger)(nil)

// NewInstagramExchanger creates an exchanger from cfg. The long-lived upgrade
// is skipped when a trusted backend performs the exchange, since it already
// holds the secret and does the upgrade itself.
func NewInstagramExchanger(cfg Config) *InstagramExchanger {
	return &InstagramExchanger{
		oauth:     cfg.OAuth(),
		longLived: cfg.LongLived && cfg.ExchangeURL == "",
	}
}

// Exchange performs the code exchange and, when configured, the long-lived
// token upgrade.
func (e *InstagramExchanger) Exchange(ctx context.Context, code string) (Credential, error) {
	short, err := e.oauth.ExchangeCode(ctx, code)
	if err != nil {
		return "", err
	}
	if !e.longLived {
		return Credential(short.AccessToken), nil
	}

	long, err := e.oauth.ExchangeLongLivedToken(ctx, short.AccessToken)
	if err != nil {
		return "", err
	}
	log.Debug().Str("userId", short.UserID).Int64("expiresIn", long.ExpiresIn).Msg("Token upgraded to long-lived")
	return Credential(long.AccessToken), nil
}
