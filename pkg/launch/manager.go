package launch

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/edulab/lrsync/pkg/identity"
	"github.com/edulab/lrsync/pkg/lrs"
	"github.com/edulab/lrsync/pkg/settings"
	"github.com/edulab/lrsync/pkg/storage"
	"github.com/edulab/lrsync/pkg/xapi"
)

const (
	// State id of the per-learner registration registry document.
	registrationsStateID = "http://tincanapi.co.uk/stateapikeys/registrations"

	languageProfileID = "language"

	launchedVerbIRI = "http://adlnet.gov/expapi/verbs/launched"
)

// Logger abstracts logging so callers can use logrus, stdlib log, or any
// other logger that satisfies this interface.
type Logger interface {
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Debugf(format string, args ...interface{})
}

type nopLogger struct{}

func (nopLogger) Infof(string, ...interface{})  {}
func (nopLogger) Warnf(string, ...interface{})  {}
func (nopLogger) Debugf(string, ...interface{}) {}

// Registration is one attempt/session of a learner against an activity,
// persisted in LRS state storage (not locally). The registry document is a
// JSON array of these, sorted by lastlaunched descending.
type Registration struct {
	ID           string    `json:"id"`
	Created      time.Time `json:"created"`
	LastLaunched time.Time `json:"lastlaunched"`
}

// Manager handles learner-initiated launches: registration registry
// upsert, language profile write, launched statement, redirect URL.
type Manager struct {
	Store    *storage.DB
	Resolver *settings.Resolver
	HTTP     *http.Client
	SiteRoot string
	SiteLang string
	Log      Logger
	Now      func() time.Time
}

func (m *Manager) log() Logger {
	if m.Log == nil {
		return nopLogger{}
	}
	return m.Log
}

func (m *Manager) now() time.Time {
	if m.Now == nil {
		return time.Now().UTC()
	}
	return m.Now()
}

// Launch performs the full launch sequence for one learner and returns
// the URL the learner should be redirected to. A concurrent write to the
// registration registry surfaces as an error (wrapping
// lrs.ErrPreconditionFailed) with no statement emitted; the caller should
// show it to the learner rather than retry silently.
func (m *Manager) Launch(ctx context.Context, activityID, learnerID int64, registrationID string) (string, error) {
	cfg, err := m.Store.GetActivityConfig(ctx, activityID)
	if err != nil {
		return "", fmt.Errorf("loading activity %d: %w", activityID, err)
	}
	learner, err := m.Store.GetLearner(ctx, learnerID)
	if err != nil {
		return "", fmt.Errorf("loading learner %d: %w", learnerID, err)
	}
	eff, err := m.Resolver.Resolve(ctx, cfg)
	if err != nil {
		return "", err
	}

	agent := identity.BuildActor(learner, identity.ActorConfig{
		CustomHomepage:      cfg.ActorHomepage,
		EmailIdentification: cfg.EmailIdentification,
		SiteRoot:            m.SiteRoot,
	})

	client := lrs.New(eff.Endpoint, eff.Login, eff.Password)
	if m.HTTP != nil {
		client.HTTP = m.HTTP
	}

	stateParams := lrs.StateParams{
		ActivityIRI: cfg.ActivityIRI,
		Agent:       agent,
		StateID:     registrationsStateID,
	}

	registrations, etag, err := m.readRegistry(ctx, client, stateParams)
	if err != nil {
		return "", err
	}

	registrationID = m.pickRegistration(cfg, registrations, registrationID)
	now := m.now()
	registrations = upsertRegistration(registrations, registrationID, now)

	body, err := json.Marshal(registrations)
	if err != nil {
		return "", err
	}
	if err := client.PutState(ctx, stateParams, body, etag); err != nil {
		if errors.Is(err, lrs.ErrPreconditionFailed) {
			return "", fmt.Errorf("registration registry changed while launching, please retry: %w", err)
		}
		return "", fmt.Errorf("writing registration registry: %w", err)
	}

	if err := m.writeLanguage(ctx, client, agent, learner); err != nil {
		// Language preference is best-effort; the launch still proceeds.
		m.log().Warnf("Could not store language preference for learner %d: %v", learnerID, err)
	}

	if err := m.emitLaunched(ctx, client, cfg, agent, registrationID, now); err != nil {
		return "", fmt.Errorf("emitting launched statement: %w", err)
	}

	m.log().Infof("Learner %d launched activity %d (registration %s)", learnerID, activityID, registrationID)
	return m.buildRedirectURL(cfg, eff, agent, registrationID)
}

func (m *Manager) readRegistry(ctx context.Context, client *lrs.Client, params lrs.StateParams) ([]Registration, string, error) {
	doc, err := client.GetState(ctx, params)
	if errors.Is(err, lrs.ErrNotFound) {
		// No prior registrations; a valid outcome, not an error.
		return nil, "", nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("reading registration registry: %w", err)
	}

	var registrations []Registration
	if len(doc.Body) > 0 {
		if err := json.Unmarshal(doc.Body, &registrations); err != nil {
			return nil, "", fmt.Errorf("decoding registration registry: %w", err)
		}
	}
	return registrations, doc.Etag, nil
}

// pickRegistration decides which registration id this launch runs under.
// With multiple registrations disabled the most recent known one is
// reused; otherwise the caller's id or a fresh UUID is used.
func (m *Manager) pickRegistration(cfg storage.ActivityConfig, registrations []Registration, requested string) string {
	if requested != "" {
		return requested
	}
	if !cfg.MultipleRegistrations && len(registrations) > 0 {
		return registrations[0].ID
	}
	return uuid.NewString()
}

func upsertRegistration(registrations []Registration, id string, now time.Time) []Registration {
	found := false
	for i := range registrations {
		if registrations[i].ID == id {
			registrations[i].LastLaunched = now
			found = true
			break
		}
	}
	if !found {
		registrations = append(registrations, Registration{ID: id, Created: now, LastLaunched: now})
	}

	// Most recent launch first, before every write.
	sort.SliceStable(registrations, func(i, j int) bool {
		return registrations[i].LastLaunched.After(registrations[j].LastLaunched)
	})
	return registrations
}

func (m *Manager) writeLanguage(ctx context.Context, client *lrs.Client, agent xapi.Agent, learner storage.Learner) error {
	lang := learner.Lang
	if lang == "" {
		lang = m.SiteLang
	}
	if lang == "" {
		return nil
	}
	body, err := json.Marshal(lang)
	if err != nil {
		return err
	}
	return client.PutAgentProfile(ctx, lrs.ProfileParams{Agent: agent, ProfileID: languageProfileID}, body)
}

func (m *Manager) emitLaunched(ctx context.Context, client *lrs.Client, cfg storage.ActivityConfig, agent xapi.Agent, registrationID string, now time.Time) error {
	statement := xapi.OutboundStatement{
		Actor: agent,
		Verb: xapi.Verb{
			ID:      launchedVerbIRI,
			Display: map[string]string{"en-US": "launched"},
		},
		Object: xapi.Object{Kind: xapi.ObjectActivity, ID: cfg.ActivityIRI},
		Context: &xapi.Context{
			Registration: registrationID,
			ContextActivities: &xapi.ContextActivities{
				Parent:   []xapi.Object{{Kind: xapi.ObjectActivity, ID: m.courseIRI(cfg)}},
				Grouping: []xapi.Object{{Kind: xapi.ObjectActivity, ID: m.SiteRoot}},
			},
		},
		Timestamp: now.UTC().Format(time.RFC3339),
	}
	_, err := client.PostStatement(ctx, statement)
	return err
}

func (m *Manager) courseIRI(cfg storage.ActivityConfig) string {
	return fmt.Sprintf("%s/courses/%d", strings.TrimSuffix(m.SiteRoot, "/"), cfg.CourseID)
}

// buildRedirectURL appends the xAPI launch parameters the content player
// expects: endpoint, auth, actor, registration and activity id.
func (m *Manager) buildRedirectURL(cfg storage.ActivityConfig, eff settings.Effective, agent xapi.Agent, registrationID string) (string, error) {
	if cfg.ContentURL == "" {
		return "", fmt.Errorf("activity %d has no content URL configured", cfg.ID)
	}
	agentJSON, err := json.Marshal(agent)
	if err != nil {
		return "", err
	}

	values := url.Values{}
	values.Set("endpoint", eff.Endpoint)
	values.Set("auth", "Basic "+base64.StdEncoding.EncodeToString([]byte(eff.Login+":"+eff.Password)))
	values.Set("actor", string(agentJSON))
	values.Set("registration", registrationID)
	values.Set("activity_id", cfg.ActivityIRI)

	separator := "?"
	if strings.Contains(cfg.ContentURL, "?") {
		separator = "&"
	}
	return cfg.ContentURL + separator + values.Encode(), nil
}
