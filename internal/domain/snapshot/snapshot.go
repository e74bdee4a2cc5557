// Package snapshot defines the per-session pre-mutation ledger records.
package snapshot

import "time"

// ResourceType distinguishes what kind of resource a snapshot preserves.
type ResourceType string

const (
	ResourceMemory ResourceType = "memory"
	ResourcePath   ResourceType = "path"
)

// OperationType records which mutation the snapshot preceded.
type OperationType string

const (
	OpCreate        OperationType = "create"
	OpModifyContent OperationType = "modify_content"
	OpModifyMeta    OperationType = "modify_meta"
	OpDelete        OperationType = "delete"
	OpCreateAlias   OperationType = "create_alias"
)

// Snapshot is a pre-mutation record. (SessionID, ResourceID) is the review
// key; at most one pending snapshot exists per key.
type Snapshot struct {
	SessionID     string        `json:"session_id"`
	ResourceID    string        `json:"resource_id"`
	ResourceType  ResourceType  `json:"resource_type"`
	OperationType OperationType `json:"operation_type"`
	SnapshotTime  time.Time     `json:"snapshot_time"`
	PreState      []byte        `json:"pre_state"`
}

// Diff reports a snapshot's pre-state against the current store state.
type Diff struct {
	ResourceID   string `json:"resource_id"`
	PreState     string `json:"pre_state"`
	CurrentState string `json:"current_state"`
	Changed      bool   `json:"changed"`
}
