package accounts

import (
	"context"

	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-featuregate/gate"
	"github.com/goliatone/go-featuregate/gate/guard"
)

func normalizeFeatureGateError(err error) error {
	if err == nil {
		return nil
	}

	var richErr *errors.Error
	if errors.As(err, &richErr) {
		return err
	}

	return errors.Wrap(err, errors.CategoryAuthz, "Feature gate check failed").
		WithCode(errors.CodeForbidden)
}

func requireFeatureGate(ctx context.Context, featureGate gate.FeatureGate, key string, disabledErr error) error {
	if featureGate == nil {
		return nil
	}

	return guard.Require(ctx, featureGate, key,
		guard.WithDisabledError(disabledErr),
		guard.WithErrorMapper(normalizeFeatureGateError),
	)
}

func requireSignupGate(ctx context.Context, featureGate gate.FeatureGate) error {
	return requireFeatureGate(ctx, featureGate, gate.FeatureUsersSignup, ErrSignupDisabled)
}

// requirePasswordResetGate checks the reset feature. Finalizing a reset that
// was already started stays possible while the finalize override is on.
func requirePasswordResetGate(ctx context.Context, featureGate gate.FeatureGate, allowFinalize bool) error {
	if featureGate == nil {
		return nil
	}

	opts := []guard.Option{
		guard.WithDisabledError(ErrPasswordResetDisabled),
		guard.WithErrorMapper(normalizeFeatureGateError),
	}
	if allowFinalize {
		opts = append(opts, guard.WithOverrides(gate.FeatureUsersPasswordResetFinalize))
	}
	return guard.Require(ctx, featureGate, gate.FeatureUsersPasswordReset, opts...)
}

// StaticFeatureGate is a FeatureGate backed by a fixed map. Unknown keys
// are enabled.
type StaticFeatureGate map[string]bool

// Enabled implements gate.FeatureGate
func (g StaticFeatureGate) Enabled(_ context.Context, key string, _ ...gate.ResolveOption) (bool, error) {
	enabled, ok := g[key]
	if !ok {
		return true, nil
	}
	return enabled, nil
}

var _ gate.FeatureGate = StaticFeatureGate{}
