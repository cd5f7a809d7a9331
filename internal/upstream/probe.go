package upstream

import (
	"context"
	"fmt"
	"net/http"

	"github.com/mixaill76/gemini_gateway/internal/keypool"
)

// Prober validates credentials by listing models with them.
type Prober struct {
	Client Client
}

// Probe reports keypool.ErrInvalidCredential when the upstream rejects the
// credential with 400, 401 or 403.
func (p Prober) Probe(ctx context.Context, cred keypool.Credential) error {
	_, err := p.Client.ListModels(ctx, cred)
	if err == nil {
		return nil
	}
	if ue, ok := AsError(err); ok {
		if ue.Class == ClassCredential || ue.StatusCode == http.StatusBadRequest {
			return fmt.Errorf("%w: %s", keypool.ErrInvalidCredential, ue.Message)
		}
	}
	return err
}
