package paramstore

import (
	"context"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/pkg/errors"
)

// API is the slice of the SSM client this package calls.
type API interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// Getter reads one decrypted parameter value.
type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

type Store struct {
	api API
}

func New(api API) (*Store, error) {
	if api == nil {
		return nil, errors.New("paramstore: nil ssm api")
	}
	return &Store{api: api}, nil
}

// NewFromEnvironment builds a Store from the default AWS credential chain.
func NewFromEnvironment(ctx context.Context) (*Store, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "paramstore: load aws config")
	}
	return New(ssm.NewFromConfig(cfg))
}

func (s *Store) GetParameter(ctx context.Context, name string) (string, error) {
	if s == nil || s.api == nil {
		return "", errors.New("paramstore: store not initialized")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("paramstore: empty parameter name")
	}

	decrypt := true
	out, err := s.api.GetParameter(ctx, &ssm.GetParameterInput{Name: &name, WithDecryption: &decrypt})
	if err != nil {
		return "", errors.Wrapf(err, "paramstore: get %q", name)
	}
	if out == nil || out.Parameter == nil || out.Parameter.Value == nil {
		return "", errors.Errorf("paramstore: %q has no value", name)
	}
	return *out.Parameter.Value, nil
}
