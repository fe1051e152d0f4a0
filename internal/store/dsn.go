package store

import (
	"context"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/keithlinneman/sitedrop/internal/xerrors"
)

// ParameterGetter is the slice of the SSM client ResolveDSN needs.
type ParameterGetter interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// ResolveDSN returns dsn when set, otherwise reads the SecureString
// parameter named param. Both empty yields "" and the caller falls back to
// the in-memory store.
func ResolveDSN(ctx context.Context, client ParameterGetter, dsn, param string) (string, error) {
	if dsn = strings.TrimSpace(dsn); dsn != "" {
		return dsn, nil
	}
	if param == "" {
		return "", nil
	}
	if client == nil {
		return "", xerrors.New("SSM client required to resolve DSN parameter")
	}

	out, err := client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(param),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", xerrors.Wrapf(err, "get SSM parameter %s", param)
	}
	if out.Parameter == nil || out.Parameter.Value == nil {
		return "", xerrors.Newf("SSM parameter %s has no value", param)
	}

	v := strings.TrimSpace(*out.Parameter.Value)
	if v == "" {
		return "", xerrors.Newf("SSM parameter %s is empty", param)
	}
	return v, nil
}
