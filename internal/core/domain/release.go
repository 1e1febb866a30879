package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Release Errors
// =============================================================================

var (
	ErrInvalidReleaseTransition = errors.New("invalid release status transition")
)

// =============================================================================
// Release Status
// =============================================================================

type ReleaseStatus string

const (
	ReleasePending   ReleaseStatus = "pending"
	ReleaseRunning   ReleaseStatus = "running"
	ReleaseSucceeded ReleaseStatus = "succeeded"
	ReleaseFailed    ReleaseStatus = "failed"
)

// =============================================================================
// Step Records
// =============================================================================

// StepRecord is the persisted outcome of one pipeline step. Outcome values
// mirror the pipeline package: succeeded, failed, skipped.
type StepRecord struct {
	Name       string `json:"name"`
	Outcome    string `json:"outcome"`
	Advisory   bool   `json:"advisory,omitempty"`
	Message    string `json:"message,omitempty"`
	ExitCode   int    `json:"exit_code,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

// =============================================================================
// Release
// =============================================================================

// Release represents one run of the deployment pipeline against an
// environment. It is created pending before any step executes and is always
// driven to a terminal status, so the history reflects failed runs too.
type Release struct {
	ID           string        `json:"id"`
	Environment  string        `json:"environment"`
	Registry     string        `json:"registry"`
	Tag          string        `json:"tag"`
	ImageRef     string        `json:"image_ref"`
	Namespace    string        `json:"namespace"`
	Provider     string        `json:"provider"`
	Status       ReleaseStatus `json:"status"`
	Steps        []StepRecord  `json:"steps,omitempty"`
	Endpoint     string        `json:"endpoint,omitempty"`
	ErrorMessage string        `json:"error_message,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
	StartedAt    *time.Time    `json:"started_at,omitempty"`
	FinishedAt   *time.Time    `json:"finished_at,omitempty"`
}

// ReleaseParams carries the resolved deployment parameters a release is
// created from. Values are the resolver's output, already validated.
type ReleaseParams struct {
	Environment string
	Registry    string
	Tag         string
	ImageRef    string
	Namespace   string
	Provider    string
}

// NewRelease creates a pending release.
func NewRelease(params ReleaseParams) *Release {
	now := time.Now().UTC()
	return &Release{
		ID:          uuid.New().String(),
		Environment: params.Environment,
		Registry:    params.Registry,
		Tag:         params.Tag,
		ImageRef:    params.ImageRef,
		Namespace:   params.Namespace,
		Provider:    params.Provider,
		Status:      ReleasePending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Start transitions the release to running.
func (r *Release) Start() error {
	if err := ValidateReleaseTransition(r.Status, ReleaseRunning); err != nil {
		return err
	}

	now := time.Now().UTC()
	r.Status = ReleaseRunning
	r.StartedAt = &now
	r.UpdatedAt = now
	return nil
}

// Succeed transitions the release to succeeded, recording the resolved
// endpoint when one was found.
func (r *Release) Succeed(endpoint string) error {
	if err := ValidateReleaseTransition(r.Status, ReleaseSucceeded); err != nil {
		return err
	}

	now := time.Now().UTC()
	r.Status = ReleaseSucceeded
	r.Endpoint = endpoint
	r.FinishedAt = &now
	r.UpdatedAt = now
	return nil
}

// Fail transitions the release to failed with the halting error. A pending
// release may fail directly when work before the first step goes wrong.
func (r *Release) Fail(errorMessage string) error {
	if err := ValidateReleaseTransition(r.Status, ReleaseFailed); err != nil {
		return err
	}

	now := time.Now().UTC()
	r.Status = ReleaseFailed
	r.ErrorMessage = errorMessage
	r.FinishedAt = &now
	r.UpdatedAt = now
	return nil
}

// Finished reports whether the release reached a terminal status.
func (r *Release) Finished() bool {
	return r.Status == ReleaseSucceeded || r.Status == ReleaseFailed
}

// =============================================================================
// State Machine
// =============================================================================

// validReleaseTransitions defines the allowed status transitions.
var validReleaseTransitions = map[ReleaseStatus][]ReleaseStatus{
	ReleasePending:   {ReleaseRunning, ReleaseFailed},
	ReleaseRunning:   {ReleaseSucceeded, ReleaseFailed},
	ReleaseSucceeded: {}, // Terminal state
	ReleaseFailed:    {}, // Terminal state
}

// ValidateReleaseTransition checks if a status transition is valid.
func ValidateReleaseTransition(from, to ReleaseStatus) error {
	allowed, exists := validReleaseTransitions[from]
	if !exists {
		return ErrInvalidReleaseTransition
	}

	for _, s := range allowed {
		if s == to {
			return nil
		}
	}

	return ErrInvalidReleaseTransition
}
