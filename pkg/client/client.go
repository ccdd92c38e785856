package client

import (
	"bytes"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/challengectl/challengectl/pkg/types"
)

const (
	headerRunnerMAC = "X-Runner-MAC"
	headerRunnerMID = "X-Runner-Machine-ID"
	headerCSRF      = "X-CSRF-Token"
	sessionCookie   = "challengectl_session"

	requestTimeout  = 15 * time.Second
	downloadTimeout = 5 * time.Minute
)

// APIError is a non-2xx response from the controller. Unwrap maps the
// status code back onto the domain sentinels so callers can use errors.Is.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("controller answered %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("controller answered %d", e.StatusCode)
}

func (e *APIError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusUnauthorized:
		return types.ErrAuth
	case http.StatusForbidden:
		return types.ErrForbidden
	case http.StatusNotFound:
		return types.ErrNotFound
	case http.StatusConflict:
		return types.ErrConflict
	}
	return nil
}

// Retryable reports whether the error is worth another attempt. Server
// errors and transport failures are; 4xx responses and an empty work queue
// never are.
func Retryable(err error) bool {
	if err == nil || errors.Is(err, types.ErrNoWork) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 500
	}
	return true
}

// Client is a typed HTTP client for the controller API. One Client carries
// one credential set; agents and the CLI construct the flavor they need.
type Client struct {
	baseURL   string
	http      *http.Client
	downloads *http.Client

	bearer    string
	mac       string
	machineID string
	session   string
	csrf      string
}

func newClient(baseURL string, insecureTLS bool) *Client {
	transport := http.DefaultTransport
	if insecureTLS {
		t := http.DefaultTransport.(*http.Transport).Clone()
		t.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
		transport = t
	}
	return &Client{
		baseURL:   baseURL,
		http:      &http.Client{Timeout: requestTimeout, Transport: transport},
		downloads: &http.Client{Timeout: downloadTimeout, Transport: transport},
	}
}

// NewRunner builds a client authenticated as an enrolled runner.
func NewRunner(baseURL, apiKey, mac, machineID string, insecureTLS bool) *Client {
	c := newClient(baseURL, insecureTLS)
	c.bearer = apiKey
	c.mac = mac
	c.machineID = machineID
	return c
}

// NewEnrollment builds a client that can only enroll: it carries the
// single-use token plus the host identifiers the controller will bind.
func NewEnrollment(baseURL, token, mac, machineID string, insecureTLS bool) *Client {
	c := newClient(baseURL, insecureTLS)
	c.bearer = token
	c.mac = mac
	c.machineID = machineID
	return c
}

// NewAdmin builds a client authenticated with an admin session.
func NewAdmin(baseURL, sessionToken, csrfToken string, insecureTLS bool) *Client {
	c := newClient(baseURL, insecureTLS)
	c.session = sessionToken
	c.csrf = csrfToken
	return c
}

func (c *Client) newRequest(method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequest(method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if c.bearer != "" {
		req.Header.Set("Authorization", "Bearer "+c.bearer)
	}
	if c.mac != "" {
		req.Header.Set(headerRunnerMAC, c.mac)
	}
	if c.machineID != "" {
		req.Header.Set(headerRunnerMID, c.machineID)
	}
	if c.session != "" {
		req.AddCookie(&http.Cookie{Name: sessionCookie, Value: c.session})
	}
	if c.csrf != "" && method != http.MethodGet && method != http.MethodHead {
		req.Header.Set(headerCSRF, c.csrf)
	}
	return req, nil
}

func apiError(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&body)
	return &APIError{StatusCode: resp.StatusCode, Message: body.Error}
}

// call performs one JSON round trip. A nil out discards the body; a 204
// with a non-nil out reports ErrNoWork so pollers stay branch-free.
func (c *Client) call(method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := c.newRequest(method, path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNoContent:
		if out != nil {
			return types.ErrNoWork
		}
		return nil
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return apiError(resp)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}

// Health probes the controller's liveness endpoint.
func (c *Client) Health() error {
	return c.call(http.MethodGet, "/health", nil, nil)
}

// EnrollResponse is what a successful enrollment hands back. The API key
// is plaintext and appears exactly once.
type EnrollResponse struct {
	RunnerID string `json:"runner_id"`
	Name     string `json:"name"`
	APIKey   string `json:"api_key"`
}

type enrollPayload struct {
	Name         string         `json:"name"`
	AgentVersion string         `json:"agent_version"`
	Devices      []types.Device `json:"devices"`
}

// Enroll trades the enrollment token for a runner identity.
func (c *Client) Enroll(name, agentVersion string, devices []types.Device) (*EnrollResponse, error) {
	var out EnrollResponse
	err := c.call(http.MethodPost, "/api/v1/enrollment/enroll", enrollPayload{
		Name:         name,
		AgentVersion: agentVersion,
		Devices:      devices,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Register announces the agent's identity and device inventory.
func (c *Client) Register(req *types.RegisterRequest) (*types.Runner, error) {
	var out types.Runner
	if err := c.call(http.MethodPost, "/api/v1/agents/register", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// HeartbeatResponse carries the intervals the controller currently wants
// the agent to honor.
type HeartbeatResponse struct {
	Status            string `json:"status"`
	PollInterval      string `json:"poll_interval"`
	HeartbeatInterval string `json:"heartbeat_interval"`
}

// Heartbeat refreshes liveness.
func (c *Client) Heartbeat(runnerID string) (*HeartbeatResponse, error) {
	var out HeartbeatResponse
	if err := c.call(http.MethodPost, "/api/v1/agents/"+runnerID+"/heartbeat", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PollTask asks for work. No work is types.ErrNoWork, not an HTTP error.
func (c *Client) PollTask(runnerID string) (*types.Task, error) {
	var out types.Task
	if err := c.call(http.MethodGet, "/api/v1/agents/"+runnerID+"/task", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Complete submits a transmission report.
func (c *Client) Complete(runnerID string, report *types.Report) error {
	return c.call(http.MethodPost, "/api/v1/agents/"+runnerID+"/complete", report, nil)
}

// Signout tells the controller the agent is shutting down.
func (c *Client) Signout(runnerID string) error {
	return c.call(http.MethodPost, "/api/v1/agents/"+runnerID+"/signout", nil, nil)
}

// DownloadFile streams a payload blob. The caller owns the ReadCloser and
// is responsible for verifying the digest of what it read.
func (c *Client) DownloadFile(digest string) (io.ReadCloser, error) {
	req, err := c.newRequest(http.MethodGet, "/api/v1/files/"+digest, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.downloads.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, apiError(resp)
	}
	return resp.Body, nil
}

// UploadFile sends one payload file as multipart form data.
func (c *Client) UploadFile(name string, content io.Reader) (*types.FileMeta, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, content); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := c.newRequest(http.MethodPost, "/api/v1/files", &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.downloads.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return nil, apiError(resp)
	}

	var meta types.FileMeta
	if err := json.NewDecoder(resp.Body).Decode(&meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

func (c *Client) ListFiles() ([]*types.FileMeta, error) {
	var out []*types.FileMeta
	if err := c.call(http.MethodGet, "/api/v1/files", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ListChallenges() ([]*types.Challenge, error) {
	var out []*types.Challenge
	if err := c.call(http.MethodGet, "/api/v1/challenges", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetChallenge(id string) (*types.Challenge, error) {
	var out types.Challenge
	if err := c.call(http.MethodGet, "/api/v1/challenges/"+id, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) TriggerChallenge(id string) error {
	return c.call(http.MethodPost, "/api/v1/challenges/"+id+"/trigger", nil, nil)
}

func (c *Client) EnableChallenge(id string) error {
	return c.call(http.MethodPost, "/api/v1/challenges/"+id+"/enable", nil, nil)
}

func (c *Client) DisableChallenge(id string) error {
	return c.call(http.MethodPost, "/api/v1/challenges/"+id+"/disable", nil, nil)
}

func (c *Client) DeleteChallenge(id string) error {
	return c.call(http.MethodDelete, "/api/v1/challenges/"+id, nil, nil)
}

// Reload posts manifest YAML and returns the apply diff.
func (c *Client) Reload(manifestYAML []byte) (*types.ReloadSummary, error) {
	req, err := c.newRequest(http.MethodPost, "/api/v1/challenges/reload", bytes.NewReader(manifestYAML))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/yaml")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, apiError(resp)
	}

	var summary types.ReloadSummary
	if err := json.NewDecoder(resp.Body).Decode(&summary); err != nil {
		return nil, err
	}
	return &summary, nil
}

func (c *Client) ListRunners() ([]*types.Runner, error) {
	var out []*types.Runner
	if err := c.call(http.MethodGet, "/api/v1/runners", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) EnableRunner(id string) error {
	return c.call(http.MethodPost, "/api/v1/runners/"+id+"/enable", nil, nil)
}

func (c *Client) DisableRunner(id string) error {
	return c.call(http.MethodPost, "/api/v1/runners/"+id+"/disable", nil, nil)
}

func (c *Client) DeleteRunner(id string) error {
	return c.call(http.MethodDelete, "/api/v1/runners/"+id, nil, nil)
}

// TransmissionQuery filters the audit listing. Zero values mean "no
// filter" and the controller's defaults apply.
type TransmissionQuery struct {
	ChallengeID string
	RunnerID    string
	Since       time.Time
	Limit       int
}

func (c *Client) ListTransmissions(q TransmissionQuery) ([]*types.Transmission, error) {
	params := url.Values{}
	if q.ChallengeID != "" {
		params.Set("challenge_id", q.ChallengeID)
	}
	if q.RunnerID != "" {
		params.Set("runner_id", q.RunnerID)
	}
	if !q.Since.IsZero() {
		params.Set("since", q.Since.Format(time.RFC3339))
	}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}

	path := "/api/v1/transmissions"
	if len(params) > 0 {
		path += "?" + params.Encode()
	}
	var out []*types.Transmission
	if err := c.call(http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) MintEnrollmentToken(description, ttl, reEnrollFor string) (*types.EnrollmentToken, error) {
	payload := map[string]string{"description": description}
	if ttl != "" {
		payload["ttl"] = ttl
	}
	if reEnrollFor != "" {
		payload["re_enroll_for"] = reEnrollFor
	}
	var out types.EnrollmentToken
	if err := c.call(http.MethodPost, "/api/v1/enrollment/tokens", payload, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListEnrollmentTokens() ([]*types.EnrollmentToken, error) {
	var out []*types.EnrollmentToken
	if err := c.call(http.MethodGet, "/api/v1/enrollment/tokens", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) RevokeEnrollmentToken(token string) error {
	return c.call(http.MethodDelete, "/api/v1/enrollment/tokens/"+token, nil, nil)
}

// Dashboard fetches the admin dashboard document as raw JSON for display.
func (c *Client) Dashboard() (json.RawMessage, error) {
	var out json.RawMessage
	if err := c.call(http.MethodGet, "/api/v1/dashboard", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Pause() error {
	return c.call(http.MethodPost, "/api/v1/system/pause", nil, nil)
}

func (c *Client) Resume() error {
	return c.call(http.MethodPost, "/api/v1/system/resume", nil, nil)
}
