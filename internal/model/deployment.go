package model

import (
	"errors"
	"fmt"
	"time"
)

// Unit kind constants for the factories registered at startup. The registry
// accepts any tag; these are the built-in kinds.
const (
	KindNative  = "native"
	KindProcess = "process"
)

// Lifecycle event type constants.
const (
	EventDeploy          = "deploy"
	EventInstanceStarted = "instance_started"
	EventInstanceFailed  = "instance_failed"
	EventDeployed        = "deployed"
	EventUndeploy        = "undeploy"
	EventInstanceStopped = "instance_stopped"
	EventUndeployed      = "undeployed"
)

// ContextID identifies a scheduling context owned by the reactor. An instance
// records the context its start ran on so its stop can be pinned there.
type ContextID int64

// DeploymentSpec describes a requested deployment of one or more instances
// of a service unit.
type DeploymentSpec struct {
	Kind          string   `json:"kind"`
	Name          string   `json:"name"`
	ModuleRef     string   `json:"module_ref"`
	ResourceScope []string `json:"resource_scope,omitempty"`
	Instances     int      `json:"instances"`
	Worker        bool     `json:"worker"`
}

// Validate checks the fields a deploy request must carry. Module references
// and kind registrations are resolved per launch, not here.
func (s DeploymentSpec) Validate() error {
	if s.Name == "" {
		return errors.New("deployment name is required")
	}
	if s.Kind == "" {
		return errors.New("unit kind is required")
	}
	if s.Instances < 0 {
		return fmt.Errorf("instance count must be >= 0, got %d", s.Instances)
	}
	return nil
}

// Metadata is the immutable record kept for a live deployment. It is created
// when the name is reserved and dropped when the deployment is purged.
type Metadata struct {
	Name          string    `json:"name"`
	Kind          string    `json:"kind"`
	ModuleRef     string    `json:"module_ref"`
	ResourceScope []string  `json:"resource_scope,omitempty"`
	Instances     int       `json:"instances"`
	Worker        bool      `json:"worker"`
	CreatedAt     time.Time `json:"created_at"`
}

// InstanceInfo describes one successfully started instance.
type InstanceInfo struct {
	ID        string    `json:"id"`
	Context   ContextID `json:"context"`
	StartedAt time.Time `json:"started_at"`
}

// DeploymentStatus is the snapshot shape served by the API: the deployment's
// metadata plus the instances currently registered for it.
type DeploymentStatus struct {
	Metadata  Metadata       `json:"metadata"`
	Instances []InstanceInfo `json:"instances"`
}

// Event is a single lifecycle transition, published to subscribers and
// appended to the journal.
type Event struct {
	ID         string    `json:"id"`
	Deployment string    `json:"deployment"`
	Type       string    `json:"type"`
	Detail     string    `json:"detail,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}
