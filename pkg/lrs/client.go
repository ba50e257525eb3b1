package lrs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/edulab/lrsync/pkg/whttp"
	"github.com/edulab/lrsync/pkg/xapi"
)

const DefaultVersion = "1.0.3"

var (
	// ErrNotFound is returned by document reads when the LRS has no
	// content for the requested key. Callers treat it as a valid
	// "nothing stored yet" outcome, not a failure.
	ErrNotFound = errors.New("lrs: document not found")

	// ErrPreconditionFailed is returned when a conditional write loses a
	// race with a concurrent writer (HTTP 412).
	ErrPreconditionFailed = errors.New("lrs: precondition failed")
)

// Client issues authenticated xAPI requests against one LRS endpoint.
// It knows nothing about learners or courses.
type Client struct {
	Endpoint string // base URL, e.g. https://lrs.example.com/data/xAPI/
	Login    string
	Password string
	Version  string
	HTTP     *http.Client
}

func New(endpoint, login, password string) *Client {
	return &Client{
		Endpoint: strings.TrimSuffix(endpoint, "/") + "/",
		Login:    login,
		Password: password,
		Version:  DefaultVersion,
		HTTP:     whttp.NewRetryClient(),
	}
}

// Document is a state or agent-profile document plus the etag it was read
// with, used as the precondition for the following write.
type Document struct {
	Body []byte
	Etag string
}

// QueryParams selects statements. Zero-valued fields are omitted from the
// query string; a zero Since means "no lower bound".
type QueryParams struct {
	ActivityIRI       string
	VerbIRI           string
	Agent             *xapi.Agent
	Since             time.Time
	RelatedActivities bool
	Limit             int
}

// QueryStatements fetches all statements matching params, transparently
// following the server's "more" continuation links and concatenating pages
// in server order. Any transport error or non-2xx page fails the whole
// query; callers must never read a failure as "no matching statements".
func (c *Client) QueryStatements(ctx context.Context, params QueryParams) ([]xapi.Statement, error) {
	values := url.Values{}
	if params.ActivityIRI != "" {
		values.Set("activity", params.ActivityIRI)
	}
	if params.VerbIRI != "" {
		values.Set("verb", params.VerbIRI)
	}
	if params.Agent != nil {
		agentJSON, err := json.Marshal(params.Agent)
		if err != nil {
			return nil, err
		}
		values.Set("agent", string(agentJSON))
	}
	if !params.Since.IsZero() {
		values.Set("since", params.Since.UTC().Format(time.RFC3339))
	}
	if params.RelatedActivities {
		values.Set("related_activities", "true")
	}
	if params.Limit > 0 {
		values.Set("limit", strconv.Itoa(params.Limit))
	}

	nextURL := c.Endpoint + "statements?" + values.Encode()

	var all []xapi.Statement
	for nextURL != "" {
		res, err := c.send(ctx, http.MethodGet, nextURL, nil, "")
		if err != nil {
			return nil, err
		}
		if res.StatusCode < 200 || res.StatusCode > 299 {
			return nil, fmt.Errorf("lrs: statements query returned status %d", res.StatusCode)
		}

		page, more := xapi.ParseStatementsPage(res.BodyString)
		all = append(all, page...)

		nextURL = ""
		if more != "" {
			resolved, err := c.resolveMore(more)
			if err != nil {
				return nil, err
			}
			nextURL = resolved
		}
	}
	return all, nil
}

// PostStatement submits one statement and returns the id the LRS assigned.
func (c *Client) PostStatement(ctx context.Context, statement xapi.OutboundStatement) (string, error) {
	body, err := json.Marshal(statement)
	if err != nil {
		return "", err
	}
	res, err := c.send(ctx, http.MethodPost, c.Endpoint+"statements", body, "")
	if err != nil {
		return "", err
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return "", fmt.Errorf("lrs: statement post returned status %d", res.StatusCode)
	}
	ids := gjson.Get(res.BodyString, "0").String()
	return ids, nil
}

// StateParams identifies one state document.
type StateParams struct {
	ActivityIRI string
	Agent       xapi.Agent
	StateID     string
}

func (c *Client) stateURL(params StateParams) (string, error) {
	agentJSON, err := json.Marshal(params.Agent)
	if err != nil {
		return "", err
	}
	values := url.Values{}
	values.Set("activityId", params.ActivityIRI)
	values.Set("agent", string(agentJSON))
	values.Set("stateId", params.StateID)
	return c.Endpoint + "activities/state?" + values.Encode(), nil
}

// GetState reads a state document. A 404 yields ErrNotFound.
func (c *Client) GetState(ctx context.Context, params StateParams) (*Document, error) {
	reqURL, err := c.stateURL(params)
	if err != nil {
		return nil, err
	}
	return c.getDocument(ctx, reqURL)
}

// PutState writes a state document with an optimistic-concurrency
// precondition: If-Match when an etag is known, If-None-Match: * when the
// document is being created. A 412 yields ErrPreconditionFailed.
func (c *Client) PutState(ctx context.Context, params StateParams, body []byte, etag string) error {
	reqURL, err := c.stateURL(params)
	if err != nil {
		return err
	}
	return c.putDocument(ctx, reqURL, body, etag)
}

// ProfileParams identifies one agent-profile document.
type ProfileParams struct {
	Agent     xapi.Agent
	ProfileID string
}

func (c *Client) profileURL(params ProfileParams) (string, error) {
	agentJSON, err := json.Marshal(params.Agent)
	if err != nil {
		return "", err
	}
	values := url.Values{}
	values.Set("agent", string(agentJSON))
	values.Set("profileId", params.ProfileID)
	return c.Endpoint + "agents/profile?" + values.Encode(), nil
}

// GetAgentProfile reads an agent-profile document. A 404 yields ErrNotFound.
func (c *Client) GetAgentProfile(ctx context.Context, params ProfileParams) (*Document, error) {
	reqURL, err := c.profileURL(params)
	if err != nil {
		return nil, err
	}
	return c.getDocument(ctx, reqURL)
}

// PutAgentProfile overwrites an agent-profile document using get-then-put:
// the current etag is fetched first so the write always replaces whatever
// is there.
func (c *Client) PutAgentProfile(ctx context.Context, params ProfileParams, body []byte) error {
	reqURL, err := c.profileURL(params)
	if err != nil {
		return err
	}
	etag := ""
	doc, err := c.getDocument(ctx, reqURL)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	if doc != nil {
		etag = doc.Etag
	}
	return c.putDocument(ctx, reqURL, body, etag)
}

func (c *Client) getDocument(ctx context.Context, reqURL string) (*Document, error) {
	res, err := c.send(ctx, http.MethodGet, reqURL, nil, "")
	if err != nil {
		return nil, err
	}
	if res.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return nil, fmt.Errorf("lrs: document read returned status %d", res.StatusCode)
	}
	return &Document{
		Body: []byte(res.BodyString),
		Etag: strings.Trim(res.Header.Get("ETag"), `"`),
	}, nil
}

func (c *Client) putDocument(ctx context.Context, reqURL string, body []byte, etag string) error {
	res, err := c.send(ctx, http.MethodPut, reqURL, body, etag)
	if err != nil {
		return err
	}
	if res.StatusCode == http.StatusPreconditionFailed {
		return ErrPreconditionFailed
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return fmt.Errorf("lrs: document write returned status %d", res.StatusCode)
	}
	return nil
}

func (c *Client) send(ctx context.Context, method, reqURL string, body []byte, etag string) (*whttp.WHTTPRes, error) {
	version := c.Version
	if version == "" {
		version = DefaultVersion
	}
	headers := []whttp.WHTTPHeader{
		{Name: "X-Experience-API-Version", Value: version},
		{Name: "Accept", Value: "application/json"},
	}
	if len(body) > 0 {
		headers = append(headers, whttp.WHTTPHeader{Name: "Content-Type", Value: "application/json"})
	}
	if method == http.MethodPut {
		if etag != "" {
			headers = append(headers, whttp.WHTTPHeader{Name: "If-Match", Value: `"` + etag + `"`})
		} else {
			headers = append(headers, whttp.WHTTPHeader{Name: "If-None-Match", Value: "*"})
		}
	}
	return whttp.SendHTTPRequest(ctx, &whttp.WHTTPReq{
		Method:    method,
		URL:       reqURL,
		Body:      body,
		Headers:   headers,
		BasicUser: c.Login,
		BasicPass: c.Password,
	}, c.HTTP)
}

// resolveMore turns a server-provided continuation link, usually an
// absolute path like /data/xAPI/statements?..., into a full URL against
// the endpoint's origin.
func (c *Client) resolveMore(more string) (string, error) {
	if strings.HasPrefix(more, "http://") || strings.HasPrefix(more, "https://") {
		return more, nil
	}
	base, err := url.Parse(c.Endpoint)
	if err != nil {
		return "", err
	}
	ref, err := url.Parse(more)
	if err != nil {
		return "", fmt.Errorf("lrs: bad continuation link %q: %w", more, err)
	}
	return base.ResolveReference(ref).String(), nil
}
