package model

import "time"

// DaemonStatus is returned by the daemon's status command.
type DaemonStatus struct {
	PID          int        `json:"pid"`
	StartedAt    time.Time  `json:"started_at"`
	InboxDir     string     `json:"inbox_dir"`
	Executor     string     `json:"executor"`
	Pending      int        `json:"pending"`
	Quarantined  int        `json:"quarantined"`
	DeadLettered int        `json:"dead_lettered"`
	LastScan     *ScanStats `json:"last_scan,omitempty"`
	// History maps ledger outcomes to counts; empty when history is disabled.
	History map[string]int `json:"history,omitempty"`
}

// ScanStats summarises one inbox scan.
type ScanStats struct {
	At           time.Time `json:"at"`
	Duration     string    `json:"duration"`
	Executed     int       `json:"executed"`
	Skipped      int       `json:"skipped"`
	Rejected     int       `json:"rejected"`
	Retrying     int       `json:"retrying"`
	DeadLettered int       `json:"dead_lettered"`
	Errors       int       `json:"errors"`
}
