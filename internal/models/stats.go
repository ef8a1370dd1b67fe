package models

import "time"

// ProcessingStats summarizes one ProcessAllDocuments run.
type ProcessingStats struct {
	Scanned       int           `json:"scanned"`
	Skipped       int           `json:"skipped"`
	Processed     int           `json:"processed"`
	Failed        int           `json:"failed"`
	ChunksCreated int           `json:"chunks_created"`
	ChunksFailed  int           `json:"chunks_failed"`
	Cancelled     bool          `json:"cancelled"`
	StartedAt     time.Time     `json:"started_at"`
	Elapsed       time.Duration `json:"elapsed"`
}

// Add accumulates other into s. Timing fields keep the latest run.
func (s *ProcessingStats) Add(other ProcessingStats) {
	s.Scanned += other.Scanned
	s.Skipped += other.Skipped
	s.Processed += other.Processed
	s.Failed += other.Failed
	s.ChunksCreated += other.ChunksCreated
	s.ChunksFailed += other.ChunksFailed
	s.Elapsed += other.Elapsed
	if other.StartedAt.After(s.StartedAt) {
		s.StartedAt = other.StartedAt
	}
}
