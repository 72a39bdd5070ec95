package models

import "time"

// DestinationKind tags the variant of a sync destination.
type DestinationKind string

const (
	KindStorage  DestinationKind = "storage"
	KindDatabase DestinationKind = "database"
	KindVault    DestinationKind = "vault"
)

// Probe is the readiness answer of a single capability.
type Probe struct {
	Name   string `json:"name"`
	Valid  bool   `json:"valid"`
	Detail string `json:"detail"`
}

// SyncOutcome is what a destination reports back for one batch. Destinations
// capture their own failures in Err instead of returning them.
type SyncOutcome struct {
	Succeeded bool
	Detail    string
	Err       error
	Uploads   []UploadItem
}

type SyncResult struct {
	Destination string          `json:"destination"`
	Kind        DestinationKind `json:"kind"`
	Succeeded   bool            `json:"succeeded"`
	Detail      string          `json:"detail"`
	Error       string          `json:"error,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
}
