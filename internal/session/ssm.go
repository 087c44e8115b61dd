package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/rs/zerolog/log"
)

// DefaultTokenParam is the SSM parameter holding the credential. It is the
// same parameter the OAuth Lambda writes after a server-side exchange.
const DefaultTokenParam = "/ig-caption-studio/prod/instagram-access-token"

// SSMAPI is the subset of the SSM client used by SSMStore.
type SSMAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
	PutParameter(ctx context.Context, in *ssm.PutParameterInput, optFns ...func(*ssm.Options)) (*ssm.PutParameterOutput, error)
	DeleteParameter(ctx context.Context, in *ssm.DeleteParameterInput, optFns ...func(*ssm.Options)) (*ssm.DeleteParameterOutput, error)
}

// SSMStore keeps the credential in an SSM SecureString parameter.
type SSMStore struct {
	client SSMAPI
	param  string
}

var _ Store = (*SSMStore)(nil)

// NewSSMStore returns an SSMStore writing to param.
func NewSSMStore(client SSMAPI, param string) *SSMStore {
	if param == "" {
		param = DefaultTokenParam
	}
	return &SSMStore{client: client, param: param}
}

// Get reads and decrypts the parameter. A missing parameter or any SSM error
// is reported as absent.
func (s *SSMStore) Get(ctx context.Context) (string, bool) {
	start := time.Now()
	out, err := s.client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           &s.param,
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		var notFound *ssmtypes.ParameterNotFound
		if errors.As(err, &notFound) {
			log.Debug().Str("param", s.param).Msg("No session stored in SSM")
		} else {
			log.Warn().Err(err).Str("param", s.param).Msg("SSM unavailable, treating session as absent")
		}
		return "", false
	}
	if out.Parameter == nil || out.Parameter.Value == nil || *out.Parameter.Value == "" {
		return "", false
	}
	log.Debug().Str("param", s.param).Dur("elapsed", time.Since(start)).Msg("Session loaded from SSM")
	return *out.Parameter.Value, true
}

// Set writes the credential as a SecureString, overwriting any previous value.
func (s *SSMStore) Set(ctx context.Context, credential string) error {
	_, err := s.client.PutParameter(ctx, &ssm.PutParameterInput{
		Name:      &s.param,
		Value:     &credential,
		Type:      ssmtypes.ParameterTypeSecureString,
		Overwrite: aws.Bool(true),
	})
	if err != nil {
		return fmt.Errorf("PutParameter %s: %w", s.param, err)
	}
	log.Info().Str("param", s.param).Msg("Session stored in SSM")
	return nil
}

// Clear deletes the parameter.
func (s *SSMStore) Clear(ctx context.Context) error {
	_, err := s.client.DeleteParameter(ctx, &ssm.DeleteParameterInput{Name: &s.param})
	if err != nil {
		var notFound *ssmtypes.ParameterNotFound
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("DeleteParameter %s: %w", s.param, err)
	}
	log.Info().Str("param", s.param).Msg("Session removed from SSM")
	return nil
}
