package model

import "time"

// LeaseStatus is the lifecycle state of a lease row.
type LeaseStatus string

const (
	StatusUnclaimed LeaseStatus = "unclaimed"
	StatusLeased    LeaseStatus = "leased"
	StatusDone      LeaseStatus = "done"
)

// Task is a unit of work produced by the upstream pipeline. Rows are
// inserted and flipped to ready upstream; this module only reads them.
type Task struct {
	ID    int64 `json:"id"`
	Ready bool  `json:"ready"`
}

// Lease is one (task, worker-class) claim row. At most one row exists
// per pair; it is created lazily by the first successful claim.
type Lease struct {
	TaskID      int64       `json:"task_id"`
	WorkerClass string      `json:"worker_class"`
	Status      LeaseStatus `json:"status"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
	LeasedAt    time.Time   `json:"leased_at"`
}
