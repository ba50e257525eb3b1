package storage

import "time"

// Auth modes for an activity's LRS connection.
const (
	AuthNone    = "none"
	AuthBasic   = "basic"
	AuthSession = "session"
)

// Completion states. StateUnknown is the zero value for learners with no
// recorded state yet.
const (
	StateUnknown    = ""
	StateIncomplete = "incomplete"
	StateComplete   = "complete"
)

// ActivityConfig is one tracked activity instance. CompletionVerb being
// empty disables completion tracking for the activity; ExpiryDays 0 means
// completions never expire; GradeWeight 0 disables grading.
type ActivityConfig struct {
	ID                    int64
	Name                  string
	CourseID              int64
	ContentURL            string
	ActivityIRI           string
	CompletionVerb        string
	Endpoint              string
	AuthMode              string
	Login                 string
	Password              string
	ExpiryDays            int
	GradeWeight           float64
	MultipleRegistrations bool
	EmailIdentification   bool
	ActorHomepage         string
	OverrideDefaults      bool
}

// Learner mirrors the enrollment provider's record shape.
type Learner struct {
	ID       int64
	Username string
	Email    string
	IDNumber string
	Lang     string
}

// Credential is a cached session-issued LRS credential for one activity,
// together with the config fingerprint it was issued under so drift can be
// detected.
type Credential struct {
	ActivityID int64
	Key        string
	Secret     string
	ExpiresAt  time.Time

	// Fingerprint of the activity config at issuance time.
	Endpoint string
	Login    string
	Password string
	AuthMode string
}

// CompletionChange is one recorded completion-state transition, the event
// sink for "completed" notifications.
type CompletionChange struct {
	OccurredAt time.Time
	ActivityID int64
	LearnerID  int64
	OldState   string
	NewState   string
}
