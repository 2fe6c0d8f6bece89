package manager

import (
	"time"

	"modelproxy/internal/runtime"
)

// Status is the lifecycle state of a deployment.
type Status string

const (
	StatusPending   Status = "pending"
	StatusDeploying Status = "deploying"
	StatusReady     Status = "ready"
	StatusError     Status = "error"
	StatusStopped   Status = "stopped"
)

// Statuses lists every status in lifecycle order.
var Statuses = []Status{StatusPending, StatusDeploying, StatusReady, StatusError, StatusStopped}

// transitions holds the allowed edges. Removal is allowed from any state and
// is not an edge. ready is entered only by attaching a handle.
var transitions = map[Status][]Status{
	StatusPending:   {StatusDeploying, StatusError, StatusStopped},
	StatusDeploying: {StatusReady, StatusError, StatusStopped},
	StatusReady:     {StatusStopped},
	StatusError:     {StatusStopped},
	StatusStopped:   nil,
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// reusable reports whether a create for the same model returns the existing
// record instead of replacing it.
func (s Status) reusable() bool {
	return s == StatusPending || s == StatusDeploying || s == StatusReady
}

// Deployment is a copy of one user's deployment record.
type Deployment struct {
	UserID        string
	ModelName     string
	Backend       runtime.Backend
	Status        Status
	APIKey        string
	APIKeyEnabled bool
	BaseURL       string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	LoadedAt      *time.Time
	ErrorMessage  string
	CustomConfig  map[string]any

	// epoch identifies this record generation; a re-create gets a new one.
	epoch uint64
}

// Epoch returns the record generation.
func (d Deployment) Epoch() uint64 { return d.epoch }

func (d Deployment) clone() Deployment {
	if d.LoadedAt != nil {
		t := *d.LoadedAt
		d.LoadedAt = &t
	}
	if d.CustomConfig != nil {
		cc := make(map[string]any, len(d.CustomConfig))
		for k, v := range d.CustomConfig {
			cc[k] = v
		}
		d.CustomConfig = cc
	}
	return d
}

// DeployRequest is a validated create request.
type DeployRequest struct {
	UserID        string
	ModelName     string
	Backend       string
	APIKeyEnabled bool
	CustomConfig  map[string]any
}

// DeployResult reports the record after Deploy and whether it was created.
type DeployResult struct {
	Deployment Deployment
	Created    bool
}

// Stats is a consistent rollup of the registry.
type Stats struct {
	Total         int
	ByStatus      map[Status]int
	ActiveHandles int
	DistinctUsers int
}
