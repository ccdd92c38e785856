package types

import (
	"time"

	"github.com/challengectl/challengectl/pkg/freq"
)

// Runner represents an enrolled transmitter host
type Runner struct {
	ID            string       `json:"id"`
	Name          string       `json:"name"`
	Hostname      string       `json:"hostname,omitempty"`
	IP            string       `json:"ip,omitempty"`
	Status        RunnerStatus `json:"status"`
	Enabled       bool         `json:"enabled"`
	MAC           string       `json:"mac"`
	MachineID     string       `json:"machine_id"`
	APIKeyHash    string       `json:"api_key_hash,omitempty"`
	AgentVersion  string       `json:"agent_version,omitempty"`
	Devices       []Device     `json:"devices"`
	LastHeartbeat time.Time    `json:"last_heartbeat"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// RunnerStatus represents the liveness state of a runner. A busy runner is
// online and currently holds at least one assignment.
type RunnerStatus string

const (
	RunnerOnline  RunnerStatus = "online"
	RunnerOffline RunnerStatus = "offline"
	RunnerBusy    RunnerStatus = "busy"
)

// Device describes one SDR transmitter attached to a runner
type Device struct {
	Name        string   `json:"name"`
	Driver      string   `json:"driver"`
	Serial      string   `json:"serial,omitempty"`
	Frequencies freq.Set `json:"frequencies"`
}

// Capabilities returns the union of all device transmit ranges
func (r *Runner) Capabilities() freq.Set {
	var s freq.Set
	for _, d := range r.Devices {
		s = append(s, d.Frequencies...)
	}
	return s.Normalize()
}

// Challenge represents one schedulable transmission job
type Challenge struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Modulation  string            `json:"modulation"`
	Params      map[string]string `json:"params,omitempty"`
	Frequencies freq.Set          `json:"frequencies"`
	Files       []FileRef         `json:"files"`
	MinDelay    time.Duration     `json:"min_delay"`
	MaxDelay    time.Duration     `json:"max_delay"`
	Priority    int               `json:"priority"`
	Enabled     bool              `json:"enabled"`
	PublicView  bool              `json:"public_view"`

	Status              ChallengeStatus `json:"status"`
	AssignedTo          string          `json:"assigned_to,omitempty"`
	AssignedAt          time.Time       `json:"assigned_at,omitzero"`
	AssignmentExpires   time.Time       `json:"assignment_expires,omitzero"`
	AssignedFrequencyHz uint64          `json:"assigned_frequency_hz,omitempty"`
	LastTxTime          time.Time       `json:"last_tx_time,omitzero"`
	NextTxTime          time.Time       `json:"next_tx_time,omitzero"`
	TransmissionCount   int64           `json:"transmission_count"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ChallengeStatus represents the dispatch state of a challenge
type ChallengeStatus string

const (
	ChallengeDisabled ChallengeStatus = "disabled"
	ChallengeQueued   ChallengeStatus = "queued"
	ChallengeAssigned ChallengeStatus = "assigned"
	ChallengeWaiting  ChallengeStatus = "waiting"
)

// Assigned reports whether the challenge currently holds a live assignment.
// A challenge in the assigned state always carries runner, timestamp and
// expiry together; ClearAssignment removes all of them at once.
func (c *Challenge) Assigned() bool {
	return c.Status == ChallengeAssigned
}

// ClearAssignment drops all assignment fields as a unit
func (c *Challenge) ClearAssignment() {
	c.AssignedTo = ""
	c.AssignedAt = time.Time{}
	c.AssignmentExpires = time.Time{}
	c.AssignedFrequencyHz = 0
}

// FileRef references a payload file needed by a challenge. Digest-addressed
// refs ("sha256:<hex>") are fetched from the controller; refs without a
// digest are resolved as paths local to the runner.
type FileRef struct {
	Name   string `json:"name"`
	Digest string `json:"digest,omitempty"`
	Size   int64  `json:"size,omitempty"`
}

// Transmission is one audit record of a transmit attempt
type Transmission struct {
	ID          string        `json:"id"`
	ChallengeID string        `json:"challenge_id"`
	RunnerID    string        `json:"runner_id"`
	DeviceID    string        `json:"device_id,omitempty"`
	FrequencyHz uint64        `json:"frequency_hz,omitempty"`
	Outcome     Outcome       `json:"outcome"`
	Detail      string        `json:"detail,omitempty"`
	Stale       bool          `json:"stale,omitempty"`
	StartedAt   time.Time     `json:"started_at,omitzero"`
	ReportedAt  time.Time     `json:"reported_at"`
	Duration    time.Duration `json:"duration,omitempty"`
}

// Outcome represents the result of a transmit attempt
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// Task is the work order handed to a runner for one transmit attempt
type Task struct {
	ChallengeID string            `json:"challenge_id"`
	Name        string            `json:"name"`
	Modulation  string            `json:"modulation"`
	Params      map[string]string `json:"params,omitempty"`
	FrequencyHz uint64            `json:"frequency_hz"`
	Files       []FileRef         `json:"files"`
	Expires     time.Time         `json:"expires"`
}

// Report is a runner's completion report for an assigned task
type Report struct {
	ChallengeID string        `json:"challenge_id"`
	DeviceID    string        `json:"device_id,omitempty"`
	FrequencyHz uint64        `json:"frequency_hz,omitempty"`
	Outcome     Outcome       `json:"outcome"`
	Detail      string        `json:"detail,omitempty"`
	StartedAt   time.Time     `json:"started_at,omitzero"`
	Duration    time.Duration `json:"duration,omitempty"`
}

// RegisterRequest announces a runner's devices and agent version
type RegisterRequest struct {
	Name         string   `json:"name,omitempty"`
	Hostname     string   `json:"hostname,omitempty"`
	AgentVersion string   `json:"agent_version,omitempty"`
	Devices      []Device `json:"devices"`
}

// ReloadSummary describes the outcome of applying a challenge manifest
type ReloadSummary struct {
	Created   []string `json:"created"`
	Updated   []string `json:"updated"`
	Unchanged []string `json:"unchanged"`
}

// Failure detail values written by the controller itself
const (
	DetailTimeout  = "timeout"
	DetailShutdown = "shutdown"
	DetailDisabled = "disabled"
)

// FileMeta is the stored metadata for a content-addressed payload file
type FileMeta struct {
	Digest      string    `json:"digest"`
	Name        string    `json:"name"`
	Size        int64     `json:"size"`
	ContentType string    `json:"content_type,omitempty"`
	UploadedAt  time.Time `json:"uploaded_at"`
	UploadedBy  string    `json:"uploaded_by,omitempty"`
}

// EnrollmentToken authorizes exactly one runner enrollment. A used token
// stays on record until the credential sweep removes it, so a second
// presenter gets a conflict rather than a generic auth failure.
type EnrollmentToken struct {
	Token       string    `json:"token"`
	Description string    `json:"description,omitempty"`
	ReEnrollFor string    `json:"re_enroll_for,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
	UsedAt      time.Time `json:"used_at,omitzero"`
	UsedBy      string    `json:"used_by,omitempty"`
}

// ProvisioningKey is a long-lived machine credential for fleet tooling
type ProvisioningKey struct {
	ID          string    `json:"id"`
	KeyHash     string    `json:"key_hash,omitempty"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// User is an operator account referenced by admin sessions
type User struct {
	Username     string    `json:"username"`
	PasswordHash string    `json:"password_hash,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Session is an authenticated admin browser or CLI session. Only sessions
// with TOTPVerified set resolve to the admin principal.
type Session struct {
	Token        string    `json:"token"`
	Username     string    `json:"username"`
	CSRFToken    string    `json:"csrf_token"`
	TOTPVerified bool      `json:"totp_verified"`
	CreatedAt    time.Time `json:"created_at"`
	ExpiresAt    time.Time `json:"expires_at"`
}
