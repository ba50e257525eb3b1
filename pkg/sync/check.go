package sync

import (
	"context"
	"time"

	"github.com/edulab/lrsync/pkg/identity"
	"github.com/edulab/lrsync/pkg/lrs"
	"github.com/edulab/lrsync/pkg/storage"
)

// CheckCompletion answers "does this learner have a currently-valid
// completion statement" for one activity. If the batch engine populated
// the cache for this activity during the current run, its result is reused
// instead of hitting the LRS; otherwise a direct single-agent query is
// made with the same filter the batch applies.
func (e *Engine) CheckCompletion(ctx context.Context, cfg storage.ActivityConfig, learner storage.Learner) (bool, error) {
	if cfg.CompletionVerb == "" {
		return false, nil
	}

	if found, matched := e.Cache.Lookup(cfg.ID, learner.ID); found {
		e.log().Debugf("Completion check for learner %d served from batch cache", learner.ID)
		return matched, nil
	}

	eff, err := e.Resolver.Resolve(ctx, cfg)
	if err != nil {
		return false, err
	}

	now := e.now()
	hasExpiry := cfg.ExpiryDays > 0
	var boundary, since time.Time
	if hasExpiry {
		boundary = now.Add(-time.Duration(cfg.ExpiryDays) * 24 * time.Hour)
		since = boundary
	}

	agent := identity.BuildActor(learner, e.actorConfig(cfg))
	statements, err := e.clientFor(eff).QueryStatements(ctx, lrs.QueryParams{
		ActivityIRI: cfg.ActivityIRI,
		VerbIRI:     cfg.CompletionVerb,
		Agent:       &agent,
		Since:       since,
	})
	if err != nil {
		return false, err
	}

	for _, stmt := range statements {
		if matchesActivity(stmt, cfg, boundary, hasExpiry) {
			return true, nil
		}
	}
	return false, nil
}
