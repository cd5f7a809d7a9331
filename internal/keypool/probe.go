package keypool

import (
	"context"
	"errors"

	"github.com/mixaill76/gemini_gateway/internal/worker"
)

// ErrInvalidCredential is returned by a Prober when upstream rejects the
// credential itself.
var ErrInvalidCredential = errors.New("credential rejected by upstream")

// Prober checks one credential against upstream.
type Prober interface {
	Probe(ctx context.Context, cred Credential) error
}

// ProbeResult summarizes a startup probe.
type ProbeResult struct {
	Checked  int
	Disabled []string
	Errors   int
}

// Probe checks every credential in parallel and disables those the prober
// reports as invalid. Transient probe errors leave the credential enabled.
func (p *Pool) Probe(ctx context.Context, prober Prober, workers int) ProbeResult {
	entries := p.snapshotEntries()
	jobs := make([]worker.Job, len(entries))
	for i, e := range entries {
		cred := e.cred
		jobs[i] = func(ctx context.Context) error {
			return prober.Probe(ctx, cred)
		}
	}

	res := ProbeResult{Checked: len(entries)}
	for i, err := range worker.Run(ctx, workers, jobs, p.logger) {
		if err == nil {
			continue
		}
		name := entries[i].cred.Name
		if errors.Is(err, ErrInvalidCredential) {
			_ = p.Disable(name)
			res.Disabled = append(res.Disabled, name)
			p.logger.Warn("credential failed startup probe, disabled", "credential", name, "error", err)
			continue
		}
		res.Errors++
		p.logger.Info("credential probe inconclusive", "credential", name, "error", err)
	}
	return res
}
