package config

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/fpang/ig-caption-studio/internal/auth"
	"github.com/fpang/ig-caption-studio/internal/instagram"
	"github.com/fpang/ig-caption-studio/internal/session"
	"github.com/rs/zerolog/log"
)

// AWS loads the default AWS configuration on first use, so local setups
// that never touch SSM or DynamoDB need no credentials.
type AWS struct {
	once sync.Once
	err  error

	ssm    *ssm.Client
	dynamo *dynamodb.Client
}

func (a *AWS) load(ctx context.Context) error {
	a.once.Do(func() {
		cfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			a.err = fmt.Errorf("failed to load AWS config: %w", err)
			return
		}
		log.Debug().Str("region", cfg.Region).Msg("AWS config loaded")
		a.ssm = ssm.NewFromConfig(cfg)
		a.dynamo = dynamodb.NewFromConfig(cfg)
	})
	return a.err
}

// SSM returns the shared SSM client.
func (a *AWS) SSM(ctx context.Context) (*ssm.Client, error) {
	if err := a.load(ctx); err != nil {
		return nil, err
	}
	return a.ssm, nil
}

// DynamoDB returns the shared DynamoDB client.
func (a *AWS) DynamoDB(ctx context.Context) (*dynamodb.Client, error) {
	if err := a.load(ctx); err != nil {
		return nil, err
	}
	return a.dynamo, nil
}

// ParameterGetter is the SSM read used by SSMSecret.
type ParameterGetter interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// SSMSecret returns a provider reading the SecureString parameter name.
// A successful read is cached for the life of the provider.
func SSMSecret(client func(ctx context.Context) (ParameterGetter, error), name string) auth.SecretProvider {
	var (
		mu     sync.Mutex
		cached string
	)
	return func(ctx context.Context) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		if cached != "" {
			return cached, nil
		}

		c, err := client(ctx)
		if err != nil {
			return "", err
		}
		start := time.Now()
		out, err := c.GetParameter(ctx, &ssm.GetParameterInput{
			Name:           aws.String(name),
			WithDecryption: aws.Bool(true),
		})
		if err != nil {
			return "", fmt.Errorf("failed to read SSM parameter %s: %w", name, err)
		}
		if out.Parameter == nil || aws.ToString(out.Parameter.Value) == "" {
			return "", fmt.Errorf("SSM parameter %s is empty", name)
		}
		cached = aws.ToString(out.Parameter.Value)
		log.Debug().Str("param", name).Dur("elapsed", time.Since(start)).Msg("Secret loaded from SSM")
		return cached, nil
	}
}

func (a *AWS) parameterGetter(ctx context.Context) (ParameterGetter, error) {
	client, err := a.SSM(ctx)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// AppSecretProvider returns the Instagram app secret provider: the environment
// value when set, otherwise the SSM parameter. It returns nil when a
// trusted exchange backend holds the secret instead.
func (c Config) AppSecretProvider(a *AWS) auth.SecretProvider {
	switch {
	case c.ExchangeURL != "":
		return nil
	case c.AppSecret != "":
		return instagram.StaticSecret(c.AppSecret)
	default:
		return SSMSecret(a.parameterGetter, c.AppSecretParam)
	}
}

// GeminiKeyProvider returns the remote Gemini key provider, or nil when no
// parameter is configured.
func (c Config) GeminiKeyProvider(a *AWS) auth.SecretProvider {
	if c.GeminiKeyParam == "" {
		return nil
	}
	return SSMSecret(a.parameterGetter, c.GeminiKeyParam)
}

// ErrNoAWS is returned when a backend needing AWS is opened without clients.
var ErrNoAWS = errors.New("AWS clients are required for this session backend")

// OpenStore builds the session store selected by SessionBackend.
func (c Config) OpenStore(ctx context.Context, a *AWS) (session.Store, error) {
	switch c.SessionBackend {
	case session.BackendMemory:
		return session.NewMemoryStore(), nil
	case session.BackendSSM:
		if a == nil {
			return nil, ErrNoAWS
		}
		client, err := a.SSM(ctx)
		if err != nil {
			return nil, err
		}
		return session.NewSSMStore(client, c.TokenParam), nil
	case session.BackendDynamo:
		if a == nil {
			return nil, ErrNoAWS
		}
		client, err := a.DynamoDB(ctx)
		if err != nil {
			return nil, err
		}
		return session.NewDynamoStore(client, c.SessionTable, c.SessionName), nil
	case session.BackendFile, "":
		return session.NewFileStore(c.SessionFile), nil
	}
	return nil, session.ValidateBackend(c.SessionBackend)
}
