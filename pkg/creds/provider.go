package creds

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/tidwall/gjson"

	"github.com/edulab/lrsync/pkg/storage"
	"github.com/edulab/lrsync/pkg/whttp"
)

// ErrCredentialIssuance wraps failures to obtain session credentials.
// Processing of the affected activity is fatal for the current run; no
// statement query can proceed without valid auth.
var ErrCredentialIssuance = errors.New("creds: credential issuance failed")

const defaultCredentialTTL = 30 * 24 * time.Hour

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

// Provider issues and caches per-activity LRS credentials. Static and
// no-auth activities pass through unchanged; session-issued activities get
// scoped credentials from the auth backend, cached in storage until the
// activity's config drifts or the credential expires.
type Provider struct {
	Store *storage.DB
	HTTP  *http.Client
	Log   Logger
	Now   func() time.Time
}

func NewProvider(store *storage.DB) *Provider {
	return &Provider{
		Store: store,
		HTTP:  whttp.NewRetryClient(),
		Now:   time.Now,
	}
}

func (p *Provider) log() Logger {
	if p.Log == nil {
		return nopLogger{}
	}
	return p.Log
}

func (p *Provider) now() time.Time {
	if p.Now == nil {
		return time.Now()
	}
	return p.Now()
}

// Ensure returns the login/password pair to use for the activity's LRS
// requests. For session-issued auth the cached credential is reused as
// long as the activity's endpoint/login/password/mode fingerprint is
// unchanged and the credential hasn't expired.
func (p *Provider) Ensure(ctx context.Context, cfg storage.ActivityConfig) (string, string, error) {
	if cfg.AuthMode != storage.AuthSession {
		return cfg.Login, cfg.Password, nil
	}

	cached, ok, err := p.Store.GetCredential(ctx, cfg.ID)
	if err != nil {
		return "", "", err
	}
	if ok && !fingerprintDrifted(cached, cfg) && p.now().Before(cached.ExpiresAt) {
		return cached.Key, cached.Secret, nil
	}
	if ok {
		p.log().Debugf("Cached credential for activity %d is stale, reissuing", cfg.ID)
	}

	cred, err := p.issue(ctx, cfg)
	if err != nil {
		return "", "", err
	}
	if err := p.Store.PutCredential(ctx, cred); err != nil {
		return "", "", err
	}
	return cred.Key, cred.Secret, nil
}

func fingerprintDrifted(cached storage.Credential, cfg storage.ActivityConfig) bool {
	return cached.Endpoint != cfg.Endpoint ||
		cached.Login != cfg.Login ||
		cached.Password != cfg.Password ||
		cached.AuthMode != cfg.AuthMode
}

// issue calls the auth backend's session-creation endpoint with the
// configured base credentials and parses the scoped {key, secret} it
// returns.
func (p *Provider) issue(ctx context.Context, cfg storage.ActivityConfig) (storage.Credential, error) {
	tokenURL, err := tokenEndpoint(cfg.Endpoint)
	if err != nil {
		return storage.Credential{}, fmt.Errorf("%w: %v", ErrCredentialIssuance, err)
	}

	body := []byte(fmt.Sprintf(`{"activity":%q}`, cfg.ActivityIRI))
	res, err := whttp.SendHTTPRequest(ctx, &whttp.WHTTPReq{
		Method:    http.MethodPost,
		URL:       tokenURL,
		Body:      body,
		Headers:   []whttp.WHTTPHeader{{Name: "Content-Type", Value: "application/json"}},
		BasicUser: cfg.Login,
		BasicPass: cfg.Password,
	}, p.HTTP)
	if err != nil {
		return storage.Credential{}, fmt.Errorf("%w: %v", ErrCredentialIssuance, err)
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return storage.Credential{}, fmt.Errorf("%w: token endpoint returned status %d", ErrCredentialIssuance, res.StatusCode)
	}

	key := gjson.Get(res.BodyString, "key").String()
	secret := gjson.Get(res.BodyString, "secret").String()
	if key == "" || secret == "" {
		return storage.Credential{}, fmt.Errorf("%w: token endpoint returned no key/secret", ErrCredentialIssuance)
	}

	expires := p.now().Add(defaultCredentialTTL)
	if v := gjson.Get(res.BodyString, "expiresAt"); v.Exists() {
		if t, err := time.Parse(time.RFC3339, v.String()); err == nil {
			expires = t
		}
	}

	p.log().Infof("Issued session credential for activity %d (expires %s)", cfg.ID, expires.UTC().Format(time.RFC3339))
	return storage.Credential{
		ActivityID: cfg.ID,
		Key:        key,
		Secret:     secret,
		ExpiresAt:  expires.UTC(),
		Endpoint:   cfg.Endpoint,
		Login:      cfg.Login,
		Password:   cfg.Password,
		AuthMode:   cfg.AuthMode,
	}, nil
}

// SweepResult summarizes one expiry sweep.
type SweepResult struct {
	Revoked int
	Kept    int
}

// Sweep revokes and deletes every cached credential past its expiry. A
// revocation failure leaves the row in place so the next sweep retries it.
func (p *Provider) Sweep(ctx context.Context) (SweepResult, error) {
	var result SweepResult

	expired, err := p.Store.ListExpiredCredentials(ctx, p.now())
	if err != nil {
		return result, err
	}

	for _, cred := range expired {
		if err := p.revoke(ctx, cred); err != nil {
			p.log().Warnf("Could not revoke credential for activity %d, keeping for retry: %v", cred.ActivityID, err)
			result.Kept++
			continue
		}
		if err := p.Store.DeleteCredential(ctx, cred.ActivityID); err != nil {
			return result, err
		}
		result.Revoked++
	}
	return result, nil
}

func (p *Provider) revoke(ctx context.Context, cred storage.Credential) error {
	tokenURL, err := tokenEndpoint(cred.Endpoint)
	if err != nil {
		return err
	}
	res, err := whttp.SendHTTPRequest(ctx, &whttp.WHTTPReq{
		Method:    http.MethodDelete,
		URL:       tokenURL + "/" + url.PathEscape(cred.Key),
		BasicUser: cred.Login,
		BasicPass: cred.Password,
	}, p.HTTP)
	if err != nil {
		return err
	}
	// 404 means it's already gone server-side; safe to drop locally.
	if res.StatusCode != http.StatusNotFound && (res.StatusCode < 200 || res.StatusCode > 299) {
		return fmt.Errorf("revocation returned status %d", res.StatusCode)
	}
	return nil
}

// tokenEndpoint derives the auth backend's session-token endpoint from the
// LRS endpoint's origin.
func tokenEndpoint(endpoint string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", err
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("invalid endpoint %q", endpoint)
	}
	return u.Scheme + "://" + u.Host + "/auth/tokens", nil
}
