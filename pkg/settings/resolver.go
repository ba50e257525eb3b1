package settings

import (
	"context"

	"github.com/edulab/lrsync/pkg/storage"
)

// Global holds the site-wide default LRS connection settings, used by
// activities that don't override them.
type Global struct {
	Endpoint string
	Login    string
	Password string
	AuthMode string
}

// Effective is the fully-merged settings record for one activity: global
// defaults applied, session credentials spliced in. It is an explicit
// value threaded through callers, never ambient state.
type Effective struct {
	storage.ActivityConfig
}

// CredentialSource supplies the login/password pair for an activity,
// issuing session credentials when the activity is configured for them.
type CredentialSource interface {
	Ensure(ctx context.Context, cfg storage.ActivityConfig) (string, string, error)
}

// Resolver merges global defaults with per-activity overrides. Results are
// memoized by activity id for the lifetime of one resolver, which is
// scoped to a single process run.
type Resolver struct {
	Global Global
	Creds  CredentialSource

	memo map[int64]Effective
}

func NewResolver(global Global, creds CredentialSource) *Resolver {
	return &Resolver{
		Global: global,
		Creds:  creds,
		memo:   make(map[int64]Effective),
	}
}

// Resolve returns the effective settings for an activity, consulting the
// memo first. The memo is keyed by activity id, so entries for different
// activities can never leak into each other.
func (r *Resolver) Resolve(ctx context.Context, cfg storage.ActivityConfig) (Effective, error) {
	if eff, ok := r.memo[cfg.ID]; ok {
		return eff, nil
	}

	merged := cfg
	if !cfg.OverrideDefaults {
		merged.Endpoint = r.Global.Endpoint
		merged.Login = r.Global.Login
		merged.Password = r.Global.Password
		merged.AuthMode = r.Global.AuthMode
	}

	if merged.AuthMode == storage.AuthSession {
		login, password, err := r.Creds.Ensure(ctx, merged)
		if err != nil {
			return Effective{}, err
		}
		merged.Login = login
		merged.Password = password
	}

	eff := Effective{merged}
	r.memo[cfg.ID] = eff
	return eff, nil
}

// Reset drops all memoized entries. A fresh resolver per run makes this
// rarely necessary, but long-lived callers use it after settings change.
func (r *Resolver) Reset() {
	r.memo = make(map[int64]Effective)
}
