package status

import "time"

// Status is the lifecycle status of the directory's synchronization
type Status string

const (
	// StatusIdle means no sync is running
	StatusIdle Status = "Idle"

	// StatusRunning means a sync attempt is in progress
	StatusRunning Status = "Running"

	// StatusSuccess means the last attempt completed all pages and the deletion pass
	StatusSuccess Status = "Success"

	// StatusFailed means the last attempt stopped on an unrecovered error
	StatusFailed Status = "Failed"
)

// Counters holds the record counters of one sync attempt
type Counters struct {
	RecordsProcessed int `json:"recordsProcessed" yaml:"recordsProcessed"`
	RecordsCreated   int `json:"recordsCreated" yaml:"recordsCreated"`
	RecordsUpdated   int `json:"recordsUpdated" yaml:"recordsUpdated"`
	RecordsDeleted   int `json:"recordsDeleted" yaml:"recordsDeleted"`
}

// SyncState is the singleton synchronization state of the directory
type SyncState struct {
	// Status is the current lifecycle status
	Status Status `json:"status" yaml:"status"`

	// LastSyncAt is the completion instant of the last finished attempt, success or failure
	LastSyncAt *time.Time `json:"lastSyncAt,omitempty" yaml:"lastSyncAt,omitempty"`

	// LastError summarizes the failure of the last attempt
	LastError string `json:"lastError,omitempty" yaml:"lastError,omitempty"`

	// LastErrorKind is the error kind of LastError (RemoteUnavailable, StorageError, ...)
	LastErrorKind string `json:"lastErrorKind,omitempty" yaml:"lastErrorKind,omitempty"`

	// StartedAt is the start instant of the current or last attempt
	StartedAt *time.Time `json:"startedAt,omitempty" yaml:"startedAt,omitempty"`

	// AttemptID identifies the current or last attempt
	AttemptID string `json:"attemptId,omitempty" yaml:"attemptId,omitempty"`

	// Counters of the most recently completed attempt, overwritten each run
	Counters `yaml:",inline"`
}

// NewIdleState returns the state created on first startup
func NewIdleState() *SyncState {
	return &SyncState{Status: StatusIdle}
}

// IsRunning reports whether an attempt is in progress
func (s *SyncState) IsRunning() bool {
	return s != nil && s.Status == StatusRunning
}

// Clone returns a deep copy of the state
func (s *SyncState) Clone() *SyncState {
	if s == nil {
		return nil
	}
	c := *s
	if s.LastSyncAt != nil {
		t := *s.LastSyncAt
		c.LastSyncAt = &t
	}
	if s.StartedAt != nil {
		t := *s.StartedAt
		c.StartedAt = &t
	}
	return &c
}
