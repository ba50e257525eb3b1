package identity

import (
	"github.com/edulab/lrsync/pkg/storage"
	"github.com/edulab/lrsync/pkg/xapi"
)

// ActorConfig is the slice of an activity's settings that drives actor
// resolution.
type ActorConfig struct {
	// CustomHomepage, when set, turns learner id-numbers into account
	// identities against that homepage.
	CustomHomepage string
	// EmailIdentification enables mbox identities for learners with an
	// email address.
	EmailIdentification bool
	// SiteRoot is the fallback account homePage.
	SiteRoot string
}

// BuildActor maps a learner to a canonical xAPI agent. Precedence is
// fixed: id-number against a custom homepage, then mbox from email, then a
// site-root account from the username.
func BuildActor(l storage.Learner, cfg ActorConfig) xapi.Agent {
	if l.IDNumber != "" && cfg.CustomHomepage != "" {
		return xapi.Agent{
			Name:    l.Username,
			Account: &xapi.Account{HomePage: cfg.CustomHomepage, Name: l.IDNumber},
		}
	}
	if l.Email != "" && cfg.EmailIdentification {
		return xapi.Agent{Name: l.Username, Mbox: "mailto:" + l.Email}
	}
	return xapi.Agent{
		Name:    l.Username,
		Account: &xapi.Account{HomePage: cfg.SiteRoot, Name: l.Username},
	}
}

// ActorMap resolves canonical identity keys back to learner ids. Built
// once per activity per run so statements don't need per-statement learner
// lookups.
type ActorMap map[string]int64

// Collision records two or more learners resolving to the same canonical
// key. The key is dropped from the map rather than arbitrarily attributed.
type Collision struct {
	Key        string
	LearnerIDs []int64
}

// BuildActorMap builds the key→learner mapping for a course's enrolled
// learners and reports any key collisions found along the way.
func BuildActorMap(learners []storage.Learner, cfg ActorConfig) (ActorMap, []Collision) {
	m := make(ActorMap, len(learners))
	owners := make(map[string][]int64, len(learners))

	for _, l := range learners {
		key := BuildActor(l, cfg).Key()
		if key == "" {
			continue
		}
		owners[key] = append(owners[key], l.ID)
		m[key] = l.ID
	}

	var collisions []Collision
	for key, ids := range owners {
		if len(ids) > 1 {
			collisions = append(collisions, Collision{Key: key, LearnerIDs: ids})
			delete(m, key)
		}
	}
	return m, collisions
}

// Match resolves a statement's actor to a learner id. Groups, unknown
// identities and keys dropped by collision detection all resolve to false
// and are silently skipped by callers.
func (m ActorMap) Match(actor xapi.Actor) (int64, bool) {
	if actor.Kind != xapi.ActorAgent {
		return 0, false
	}
	key := actor.Agent.Key()
	if key == "" {
		return 0, false
	}
	id, ok := m[key]
	return id, ok
}
