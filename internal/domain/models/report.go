package models

import "time"

// RunKind identifies which batch produced a RunReport.
type RunKind string

const (
	RunAccrual  RunKind = "feed_accrual"
	RunBackfill RunKind = "metrics_backfill"
)

// RunItem is the outcome of one item inside a batch run.
type RunItem struct {
	CycleID   string `bson:"cycle_id,omitempty" json:"cycle_id,omitempty"`
	HistoryID string `bson:"history_id,omitempty" json:"history_id,omitempty"`
	CycleName string `bson:"cycle_name,omitempty" json:"cycle_name,omitempty"`
	AddedBags string `bson:"added_bags,omitempty" json:"added_bags,omitempty"`
	NewAge    int    `bson:"new_age,omitempty" json:"new_age,omitempty"`
	Error     string `bson:"error,omitempty" json:"error,omitempty"`
}

// RunReport summarizes a batch run and is archived in MongoDB.
type RunReport struct {
	Kind       RunKind   `bson:"kind" json:"kind"`
	Scope      string    `bson:"scope,omitempty" json:"scope,omitempty"`
	StartedAt  time.Time `bson:"started_at" json:"started_at"`
	FinishedAt time.Time `bson:"finished_at" json:"finished_at"`
	Processed  int       `bson:"processed" json:"processed"`
	Updated    int       `bson:"updated" json:"updated"`
	Errors     int       `bson:"errors" json:"errors"`
	Items      []RunItem `bson:"items" json:"items"`
}
