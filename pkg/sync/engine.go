package sync

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/edulab/lrsync/pkg/identity"
	"github.com/edulab/lrsync/pkg/lrs"
	"github.com/edulab/lrsync/pkg/settings"
	"github.com/edulab/lrsync/pkg/storage"
	"github.com/edulab/lrsync/pkg/xapi"
)

// Logger abstracts logging so callers can use logrus, stdlib log, or any
// other logger that satisfies this interface.
type Logger interface {
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Debugf(format string, args ...interface{})
}

// nopLogger silently discards all messages.
type nopLogger struct{}

func (nopLogger) Infof(string, ...interface{})  {}
func (nopLogger) Warnf(string, ...interface{})  {}
func (nopLogger) Errorf(string, ...interface{}) {}
func (nopLogger) Debugf(string, ...interface{}) {}

// Store is the slice of host storage the engine needs: enrollment,
// completion state, grades and the sync watermark.
type Store interface {
	ListActivityConfigs(ctx context.Context) ([]storage.ActivityConfig, error)
	ListEnrolledLearners(ctx context.Context, courseID int64) ([]storage.Learner, error)
	GetCompletionState(ctx context.Context, activityID, learnerID int64) (string, error)
	SetCompletionState(ctx context.Context, activityID, learnerID int64, state string) error
	PushGrades(ctx context.Context, activityID int64, grades map[int64]float64) error
	GetWatermark(ctx context.Context) (time.Time, bool, error)
	SetWatermark(ctx context.Context, t time.Time) error
}

// Engine is the batch completion-and-grade reconciliation engine: one
// statements query per tracked activity per run, matched against enrolled
// learners, applied with a minimal-write policy.
type Engine struct {
	Store    Store
	Resolver *settings.Resolver
	Cache    *Cache
	HTTP     *http.Client // optional; nil = retrying default
	SiteRoot string
	Log      Logger // optional; nil = no logging
	Now      func() time.Time
}

// ActivityError records one activity that failed this run. Any entry
// withholds the watermark advance.
type ActivityError struct {
	ActivityID int64
	Name       string
	Err        error
}

// RunResult summarizes one reconciliation sweep.
type RunResult struct {
	Activities         int
	Skipped            int
	CompletionsSet     int
	CompletionsRevoked int
	GradesPushed       int
	Errors             []ActivityError
	WatermarkAdvanced  bool
}

func (e *Engine) log() Logger {
	if e.Log == nil {
		return nopLogger{}
	}
	return e.Log
}

func (e *Engine) now() time.Time {
	if e.Now == nil {
		return time.Now().UTC()
	}
	return e.Now()
}

func (e *Engine) clientFor(eff settings.Effective) *lrs.Client {
	client := lrs.New(eff.Endpoint, eff.Login, eff.Password)
	if e.HTTP != nil {
		client.HTTP = e.HTTP
	}
	return client
}

func (e *Engine) actorConfig(cfg storage.ActivityConfig) identity.ActorConfig {
	return identity.ActorConfig{
		CustomHomepage:      cfg.ActorHomepage,
		EmailIdentification: cfg.EmailIdentification,
		SiteRoot:            e.SiteRoot,
	}
}

// Run sweeps every tracked activity sequentially. A failure on one
// activity never aborts the others; it is recorded and withholds the
// watermark advance so the next run re-covers the same window. The
// watermark is read once at run start and written at most once at run end.
func (e *Engine) Run(ctx context.Context) (*RunResult, error) {
	log := e.log()
	runStart := e.now()
	result := &RunResult{}

	watermark, hasWatermark, err := e.Store.GetWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading watermark: %w", err)
	}

	configs, err := e.Store.ListActivityConfigs(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing activities: %w", err)
	}

	for _, cfg := range configs {
		if cfg.CompletionVerb == "" {
			// Completion tracking disabled; a defined skip, not an error.
			log.Debugf("Skipping activity %d (%s): no completion verb configured", cfg.ID, cfg.Name)
			result.Skipped++
			continue
		}

		stats, err := e.processActivity(ctx, cfg, watermark, hasWatermark, runStart)
		if err != nil {
			log.Errorf("Activity %d (%s) failed: %v", cfg.ID, cfg.Name, err)
			result.Errors = append(result.Errors, ActivityError{ActivityID: cfg.ID, Name: cfg.Name, Err: err})
			continue
		}
		result.Activities++
		result.CompletionsSet += stats.completed
		result.CompletionsRevoked += stats.revoked
		result.GradesPushed += stats.graded
	}

	if len(result.Errors) == 0 {
		if err := e.Store.SetWatermark(ctx, runStart); err != nil {
			return result, fmt.Errorf("advancing watermark: %w", err)
		}
		result.WatermarkAdvanced = true
	} else {
		log.Warnf("%d activities errored, leaving watermark unchanged", len(result.Errors))
	}

	log.Infof("Sync run finished: %d activities, %d skipped, %d completed, %d revoked, %d grades, %d errors",
		result.Activities, result.Skipped, result.CompletionsSet, result.CompletionsRevoked,
		result.GradesPushed, len(result.Errors))
	return result, nil
}

type activityStats struct {
	completed int
	revoked   int
	graded    int
}

func (e *Engine) processActivity(
	ctx context.Context,
	cfg storage.ActivityConfig,
	watermark time.Time,
	hasWatermark bool,
	runStart time.Time,
) (activityStats, error) {
	log := e.log()
	var stats activityStats

	eff, err := e.Resolver.Resolve(ctx, cfg)
	if err != nil {
		return stats, err
	}

	hasExpiry := cfg.ExpiryDays > 0
	var boundary time.Time
	if hasExpiry {
		boundary = runStart.Add(-time.Duration(cfg.ExpiryDays) * 24 * time.Hour)
	}
	since := computeSince(watermark, hasWatermark, boundary, hasExpiry)

	statements, err := e.clientFor(eff).QueryStatements(ctx, lrs.QueryParams{
		ActivityIRI: cfg.ActivityIRI,
		VerbIRI:     cfg.CompletionVerb,
		Since:       since,
	})
	if err != nil {
		// Failure must never be read as "no matching statements".
		return stats, fmt.Errorf("statements query: %w", err)
	}

	learners, err := e.Store.ListEnrolledLearners(ctx, cfg.CourseID)
	if err != nil {
		return stats, err
	}

	actorMap, collisions := identity.BuildActorMap(learners, e.actorConfig(cfg))
	for _, col := range collisions {
		log.Warnf("Activity %d: learners %v share actor key %q, skipping their statements", cfg.ID, col.LearnerIDs, col.Key)
	}

	batch := make(map[int64]bool, len(learners))
	topScores := make(map[int64]float64)
	for _, stmt := range statements {
		if !matchesActivity(stmt, cfg, boundary, hasExpiry) {
			continue
		}
		learnerID, ok := actorMap.Match(stmt.Actor)
		if !ok {
			continue
		}
		batch[learnerID] = true

		if scaled, ok := stmt.ScaledScore(); ok {
			// xAPI allows scaled scores down to -1; grading floors
			// them at 0.
			if scaled < 0 {
				scaled = 0
			} else if scaled > 1 {
				scaled = 1
			}
			if best, seen := topScores[learnerID]; !seen || scaled > best {
				topScores[learnerID] = scaled
			}
		}
	}

	e.Cache.Put(cfg.ID, batch)
	defer e.Cache.Clear(cfg.ID)

	for _, learner := range learners {
		old, err := e.Store.GetCompletionState(ctx, cfg.ID, learner.ID)
		if err != nil {
			return stats, err
		}
		matched := batch[learner.ID]

		switch {
		case old != storage.StateComplete && matched:
			if err := e.Store.SetCompletionState(ctx, cfg.ID, learner.ID, storage.StateComplete); err != nil {
				return stats, err
			}
			stats.completed++
		case hasExpiry && old == storage.StateComplete && !matched:
			if err := e.Store.SetCompletionState(ctx, cfg.ID, learner.ID, storage.StateIncomplete); err != nil {
				return stats, err
			}
			stats.revoked++
		default:
			// State unchanged, skip the write entirely.
		}
	}

	if cfg.GradeWeight > 0 && len(topScores) > 0 {
		grades := make(map[int64]float64, len(topScores))
		for learnerID, scaled := range topScores {
			grades[learnerID] = scaled * cfg.GradeWeight
		}
		if err := e.Store.PushGrades(ctx, cfg.ID, grades); err != nil {
			return stats, err
		}
		stats.graded = len(grades)
	}

	log.Debugf("Activity %d: %d statements, %d matched learners, %d completed, %d revoked",
		cfg.ID, len(statements), len(batch), stats.completed, stats.revoked)
	return stats, nil
}

// computeSince picks the query window's lower bound: the watermark, or the
// expiry boundary when that reaches further back. An expiring completion
// may need revoking even when no new statement arrived since the last run,
// so the window must still cover the statements justifying the current
// state. No watermark means a full query.
func computeSince(watermark time.Time, hasWatermark bool, boundary time.Time, hasExpiry bool) time.Time {
	if !hasWatermark {
		return time.Time{}
	}
	if hasExpiry && boundary.Before(watermark) {
		return boundary
	}
	return watermark
}

// matchesActivity applies the per-statement filter: the object must be the
// configured activity, the verb must match, and with expiry configured the
// statement must be recent enough to still count as valid evidence.
func matchesActivity(stmt xapi.Statement, cfg storage.ActivityConfig, boundary time.Time, hasExpiry bool) bool {
	if stmt.Object.Kind != xapi.ObjectActivity || stmt.Object.ID != cfg.ActivityIRI {
		return false
	}
	if stmt.Verb.ID != cfg.CompletionVerb {
		return false
	}
	if hasExpiry && stmt.Timestamp.Before(boundary) {
		return false
	}
	return true
}
