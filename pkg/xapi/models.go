package xapi

import (
	"encoding/json"
	"time"
)

// ActorKind discriminates the two actor variants xAPI allows.
type ActorKind int

const (
	ActorAgent ActorKind = iota
	ActorGroup
)

// ObjectKind discriminates statement object variants.
type ObjectKind int

const (
	ObjectActivity ObjectKind = iota
	ObjectStatementRef
	ObjectSubStatement
)

type Account struct {
	HomePage string `json:"homePage"`
	Name     string `json:"name"`
}

// Agent is a person known to the LRS, identified by mbox or account.
type Agent struct {
	Name    string
	Mbox    string
	Account *Account
}

// Key returns the canonical identity key used for actor matching:
// the mbox value verbatim, or "homePage|name" for account identities.
// Agents with neither form return "".
func (a Agent) Key() string {
	if a.Mbox != "" {
		return a.Mbox
	}
	if a.Account != nil {
		return a.Account.HomePage + "|" + a.Account.Name
	}
	return ""
}

func (a Agent) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		ObjectType string   `json:"objectType"`
		Name       string   `json:"name,omitempty"`
		Mbox       string   `json:"mbox,omitempty"`
		Account    *Account `json:"account,omitempty"`
	}{
		ObjectType: "Agent",
		Name:       a.Name,
		Mbox:       a.Mbox,
		Account:    a.Account,
	})
}

// Actor is the tagged union of Agent and Group. Group members are kept so
// callers can decide what to do with them, but matching ignores groups.
type Actor struct {
	Kind    ActorKind
	Agent   Agent
	Members []Agent
}

type Verb struct {
	ID      string            `json:"id"`
	Display map[string]string `json:"display,omitempty"`
}

// Object is the tagged union of Activity, StatementRef and SubStatement.
// ID holds the activity IRI or the referenced statement id; sub-statements
// keep only their raw JSON since nothing downstream inspects them.
type Object struct {
	Kind ObjectKind
	ID   string
	Raw  string
}

func (o Object) MarshalJSON() ([]byte, error) {
	switch o.Kind {
	case ObjectStatementRef:
		return json.Marshal(struct {
			ObjectType string `json:"objectType"`
			ID         string `json:"id"`
		}{"StatementRef", o.ID})
	case ObjectSubStatement:
		return []byte(o.Raw), nil
	default:
		return json.Marshal(struct {
			ObjectType string `json:"objectType"`
			ID         string `json:"id"`
		}{"Activity", o.ID})
	}
}

type Score struct {
	Scaled *float64 `json:"scaled,omitempty"`
	Raw    *float64 `json:"raw,omitempty"`
	Min    *float64 `json:"min,omitempty"`
	Max    *float64 `json:"max,omitempty"`
}

type Result struct {
	Score      *Score `json:"score,omitempty"`
	Success    *bool  `json:"success,omitempty"`
	Completion *bool  `json:"completion,omitempty"`
	Duration   string `json:"duration,omitempty"`
}

// ContextActivities carries the parent/grouping activities describing
// where a statement happened (course and site for launches).
type ContextActivities struct {
	Parent   []Object `json:"parent,omitempty"`
	Grouping []Object `json:"grouping,omitempty"`
}

type Context struct {
	Registration      string             `json:"registration,omitempty"`
	Language          string             `json:"language,omitempty"`
	ContextActivities *ContextActivities `json:"contextActivities,omitempty"`
}

type Statement struct {
	ID        string
	Actor     Actor
	Verb      Verb
	Object    Object
	Result    *Result
	Context   *Context
	Timestamp time.Time
	Stored    time.Time
}

// ScaledScore returns the statement's result.score.scaled value, if any.
func (s Statement) ScaledScore() (float64, bool) {
	if s.Result == nil || s.Result.Score == nil || s.Result.Score.Scaled == nil {
		return 0, false
	}
	return *s.Result.Score.Scaled, true
}

// OutboundStatement is a statement built locally for submission to the LRS.
// It marshals with the field set the statements endpoint expects.
type OutboundStatement struct {
	Actor     Agent    `json:"actor"`
	Verb      Verb     `json:"verb"`
	Object    Object   `json:"object"`
	Context   *Context `json:"context,omitempty"`
	Timestamp string   `json:"timestamp,omitempty"`
}
