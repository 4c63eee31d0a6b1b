package delivery

import (
	"context"
	"errors"

	"github.com/wolfman30/patient-comms-platform/pkg/logging"
)

// FailoverProvider attempts a primary send, then falls back to a secondary
// provider on error. Permanent failures do not fail over: a rejected
// recipient is rejected everywhere.
type FailoverProvider struct {
	primary   Provider
	secondary Provider
	logger    *logging.Logger
}

// NewFailoverProvider builds a failover provider. The secondary may be nil,
// in which case this is a passthrough.
func NewFailoverProvider(primary, secondary Provider, logger *logging.Logger) *FailoverProvider {
	if logger == nil {
		logger = logging.Default()
	}
	return &FailoverProvider{primary: primary, secondary: secondary, logger: logger}
}

func (f *FailoverProvider) Name() string {
	if f.secondary == nil {
		return f.primary.Name()
	}
	return f.primary.Name() + "+" + f.secondary.Name()
}

// Send tries the primary provider first, then the secondary on a retryable
// failure.
func (f *FailoverProvider) Send(ctx context.Context, req Request) (Result, error) {
	if f == nil || f.primary == nil {
		return Result{}, errors.New("delivery: failover primary provider not configured")
	}
	res, err := f.primary.Send(ctx, req)
	if err == nil {
		return res, nil
	}
	if f.secondary == nil || IsPermanent(err) {
		return Result{}, err
	}

	f.logger.Warn("primary send failed; attempting fallback",
		"provider", f.primary.Name(),
		"fallback", f.secondary.Name(),
		"error", err,
		"to", req.Recipient,
	)
	res, fallbackErr := f.secondary.Send(ctx, req)
	if fallbackErr != nil {
		f.logger.Error("fallback send failed",
			"provider", f.secondary.Name(),
			"error", fallbackErr,
			"to", req.Recipient,
		)
		return Result{}, fallbackErr
	}
	return res, nil
}

var _ Provider = (*FailoverProvider)(nil)
