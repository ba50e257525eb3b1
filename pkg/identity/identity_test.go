package identity

import (
	"testing"

	"github.com/edulab/lrsync/pkg/storage"
	"github.com/edulab/lrsync/pkg/xapi"
)

func TestBuildActorPrecedence(t *testing.T) {
	learner := storage.Learner{ID: 1, Username: "bob", Email: "bob@x.com", IDNumber: "emp-42"}

	// ID-number plus custom homepage wins over everything.
	agent := BuildActor(learner, ActorConfig{
		CustomHomepage:      "http://hr.example.com",
		EmailIdentification: true,
		SiteRoot:            "http://site",
	})
	if agent.Account == nil || agent.Account.HomePage != "http://hr.example.com" || agent.Account.Name != "emp-42" {
		t.Fatalf("expected custom account identity, got %+v", agent)
	}

	// Without a custom homepage, email identification produces an mbox.
	agent = BuildActor(learner, ActorConfig{EmailIdentification: true, SiteRoot: "http://site"})
	if agent.Mbox != "mailto:bob@x.com" {
		t.Fatalf("expected mbox identity, got %+v", agent)
	}

	// Email identification disabled falls back to the site account.
	agent = BuildActor(learner, ActorConfig{SiteRoot: "http://site"})
	if agent.Account == nil || agent.Account.HomePage != "http://site" || agent.Account.Name != "bob" {
		t.Fatalf("expected site-root account identity, got %+v", agent)
	}

	// Missing email also falls back, even with email identification on.
	agent = BuildActor(storage.Learner{Username: "ann"}, ActorConfig{EmailIdentification: true, SiteRoot: "http://site"})
	if agent.Account == nil || agent.Account.Name != "ann" {
		t.Fatalf("expected fallback account identity, got %+v", agent)
	}
}

func TestBuildActorMap(t *testing.T) {
	learners := []storage.Learner{
		{ID: 1, Username: "bob", Email: "bob@x.com"},
		{ID: 2, Username: "ann", Email: "ann@x.com"},
	}
	cfg := ActorConfig{EmailIdentification: true, SiteRoot: "http://site"}

	m, collisions := BuildActorMap(learners, cfg)
	if len(collisions) != 0 {
		t.Fatalf("unexpected collisions: %+v", collisions)
	}

	id, ok := m.Match(xapi.Actor{Kind: xapi.ActorAgent, Agent: xapi.Agent{Mbox: "mailto:ann@x.com"}})
	if !ok || id != 2 {
		t.Fatalf("expected ann to match learner 2, got %d %v", id, ok)
	}

	if _, ok := m.Match(xapi.Actor{Kind: xapi.ActorAgent, Agent: xapi.Agent{Mbox: "mailto:nobody@x.com"}}); ok {
		t.Fatal("unknown actor should not match")
	}
	if _, ok := m.Match(xapi.Actor{Kind: xapi.ActorGroup}); ok {
		t.Fatal("group actors should never match")
	}
}

func TestBuildActorMapCollision(t *testing.T) {
	learners := []storage.Learner{
		{ID: 1, Username: "bob", Email: "shared@x.com"},
		{ID: 2, Username: "ann", Email: "shared@x.com"},
		{ID: 3, Username: "eve", Email: "eve@x.com"},
	}
	cfg := ActorConfig{EmailIdentification: true, SiteRoot: "http://site"}

	m, collisions := BuildActorMap(learners, cfg)
	if len(collisions) != 1 {
		t.Fatalf("expected 1 collision, got %d", len(collisions))
	}
	if collisions[0].Key != "mailto:shared@x.com" || len(collisions[0].LearnerIDs) != 2 {
		t.Fatalf("unexpected collision: %+v", collisions[0])
	}

	// The colliding key is dropped rather than attributed arbitrarily.
	if _, ok := m.Match(xapi.Actor{Kind: xapi.ActorAgent, Agent: xapi.Agent{Mbox: "mailto:shared@x.com"}}); ok {
		t.Fatal("colliding key should not resolve to any learner")
	}
	if _, ok := m.Match(xapi.Actor{Kind: xapi.ActorAgent, Agent: xapi.Agent{Mbox: "mailto:eve@x.com"}}); !ok {
		t.Fatal("non-colliding learner should still resolve")
	}
}
