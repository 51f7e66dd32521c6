// Package agentloop defines the port to the external tool-calling loop.
package agentloop

import (
	"context"

	"github.com/Strob0t/SearchForge/internal/domain/session"
)

// Runner opens execution handles. One handle is bound to a session for its
// whole lifetime and carries conversation state across follow-ups.
type Runner interface {
	Open(ctx context.Context) (session.Handle, error)
}
