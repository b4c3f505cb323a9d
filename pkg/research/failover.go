package research

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mikeboe/kresearch/pkg/clients"
	"github.com/mikeboe/kresearch/pkg/credentials"
	"github.com/mikeboe/kresearch/pkg/metrics"
)

// ErrCredentialsExhausted means every credential of the pool failed for one call.
// The run pauses instead of failing.
var ErrCredentialsExhausted = errors.New("all API credentials failed")

// failover binds a Provider to a credential pool. A failed call is retried
// with the next credential, at most once per credential.
type failover struct {
	provider clients.Provider
	pool     *credentials.Pool
	logger   *slog.Logger
}

func newFailover(p clients.Provider, pool *credentials.Pool, logger *slog.Logger) *failover {
	return &failover{provider: p, pool: pool, logger: logger}
}

// NewGenerator binds p to pool with credential failover, for callers that use
// Agents outside an Engine.
func NewGenerator(p clients.Provider, pool *credentials.Pool, logger *slog.Logger) clients.Generator {
	if logger == nil {
		logger = slog.Default()
	}
	return newFailover(p, pool, logger)
}

func (f *failover) Generate(ctx context.Context, req clients.Request) (string, error) {
	attempts := f.pool.Size()
	if attempts == 0 {
		return "", credentials.ErrNoCredentials
	}

	name := f.provider.Name()
	var lastErr error
	for i := 0; i < attempts; i++ {
		key, idx, err := f.pool.Next()
		if err != nil {
			return "", err
		}
		f.logger.Info(fmt.Sprintf("Using API key #%d", idx+1), "agent", string(AgentSystem))

		text, err := f.provider.Generate(ctx, key, req)
		if err == nil {
			metrics.LLMCalls.WithLabelValues(name, "ok").Inc()
			return text, nil
		}
		metrics.LLMCalls.WithLabelValues(name, "error").Inc()

		// Cancellation is not a credential problem.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}

		lastErr = err
		if i < attempts-1 {
			metrics.CredentialFailovers.WithLabelValues(name).Inc()
			f.logger.Warn("Generation failed, rotating credential", "provider", name, "key", idx+1, "error", err)
		}
	}

	return "", fmt.Errorf("%w (%d tried): %w", ErrCredentialsExhausted, attempts, lastErr)
}
