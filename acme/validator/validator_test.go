package validator

import (
	"context"
	"testing"

	"github.com/sapid/acmetk/acme"
	"github.com/stretchr/testify/require"
)

func TestRegisterRejectsDuplicateChallengeType(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(DummyValidator{}))

	err := reg.Register(DummyValidator{})
	require.Error(t, err)
}

func TestValidateUnregisteredTypeIsServerError(t *testing.T) {
	reg := NewRegistry()
	err := reg.Validate(context.Background(), acme.ChallengeHTTP01, "example.test", nil)
	require.Error(t, err)

	acmeErr := acme.AsError(err)
	require.Equal(t, acme.ErrServerInternal, acmeErr.Code)
}

func TestDummyValidatorAlwaysSucceeds(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(DummyValidator{}))

	require.NoError(t, reg.Validate(context.Background(), acme.ChallengeHTTP01, "example.test", nil))
	require.NoError(t, reg.Validate(context.Background(), acme.ChallengeDNS01, "example.test", nil))
}
