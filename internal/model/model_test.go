package model

import (
	"regexp"
	"testing"
)

// crockfordBase32 matches valid ULID strings (26 chars, Crockford Base32 alphabet).
var crockfordBase32 = regexp.MustCompile(`^[0123456789ABCDEFGHJKMNPQRSTVWXYZ]{26}$`)

func TestNewIDFormat(t *testing.T) {
	id := NewID()
	if !crockfordBase32.MatchString(id) {
		t.Errorf("NewID() = %q, does not match Crockford Base32 ULID format", id)
	}
}

func TestNewIDUniqueness(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := NewID()
		if seen[id] {
			t.Fatalf("NewID() produced duplicate: %s", id)
		}
		seen[id] = true
	}
}

func TestKindConstants(t *testing.T) {
	kinds := []struct {
		constant string
		expected string
	}{
		{KindNative, "native"},
		{KindProcess, "process"},
	}
	for _, k := range kinds {
		if k.constant != k.expected {
			t.Errorf("kind constant = %q, want %q", k.constant, k.expected)
		}
	}
}

func TestEventTypeConstants(t *testing.T) {
	types := []struct {
		constant string
		expected string
	}{
		{EventDeploy, "deploy"},
		{EventInstanceStarted, "instance_started"},
		{EventInstanceFailed, "instance_failed"},
		{EventDeployed, "deployed"},
		{EventUndeploy, "undeploy"},
		{EventInstanceStopped, "instance_stopped"},
		{EventUndeployed, "undeployed"},
	}
	for _, tt := range types {
		if tt.constant != tt.expected {
			t.Errorf("event type constant = %q, want %q", tt.constant, tt.expected)
		}
	}
}

func TestDeploymentSpecValidate(t *testing.T) {
	tests := []struct {
		name    string
		spec    DeploymentSpec
		wantErr bool
	}{
		{
			name:    "valid",
			spec:    DeploymentSpec{Kind: KindNative, Name: "svc1", ModuleRef: "heartbeat", Instances: 3},
			wantErr: false,
		},
		{
			name:    "zero instances allowed",
			spec:    DeploymentSpec{Kind: KindNative, Name: "svc1", ModuleRef: "heartbeat", Instances: 0},
			wantErr: false,
		},
		{
			name:    "missing name",
			spec:    DeploymentSpec{Kind: KindNative, ModuleRef: "heartbeat", Instances: 1},
			wantErr: true,
		},
		{
			name:    "missing kind",
			spec:    DeploymentSpec{Name: "svc1", ModuleRef: "heartbeat", Instances: 1},
			wantErr: true,
		},
		{
			name:    "negative instances",
			spec:    DeploymentSpec{Kind: KindNative, Name: "svc1", ModuleRef: "heartbeat", Instances: -1},
			wantErr: true,
		},
		{
			name:    "empty module ref deferred to launch",
			spec:    DeploymentSpec{Kind: KindNative, Name: "svc1", Instances: 1},
			wantErr: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.spec.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
