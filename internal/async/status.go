// Package async tracks the progress of the indexing pipeline so it can be
// reported while work continues in the background.
package async

import (
	"sync"
	"time"
)

// Status is the overall state of the pipeline.
type Status string

const (
	// StatusIndexing means the initial load is in progress.
	StatusIndexing Status = "indexing"
	// StatusReady means the initial load is committed and live events flow.
	StatusReady Status = "ready"
	// StatusError means startup failed.
	StatusError Status = "error"
	// StatusStopped means the pipeline has shut down.
	StatusStopped Status = "stopped"
)

// Stage is the step the pipeline is currently in.
type Stage string

const (
	StageStarting    Stage = "starting"
	StageScanning    Stage = "scanning"
	StageReconciling Stage = "reconciling"
	StageDraining    Stage = "draining"
	StageWatching    Stage = "watching"
	StageStopping    Stage = "stopping"
)

// Snapshot is an immutable copy of Progress.
type Snapshot struct {
	Status         string  `json:"status"`
	Stage          string  `json:"stage"`
	FilesFound     int     `json:"files_found"`
	FilesApplied   int     `json:"files_applied"`
	StaleRemoved   int     `json:"stale_removed"`
	ScanErrors     int     `json:"scan_errors"`
	ProgressPct    float64 `json:"progress_pct"`
	ElapsedSeconds int     `json:"elapsed_seconds"`
	ErrorMessage   string  `json:"error_message,omitempty"`
}

// Progress is safe for concurrent use.
type Progress struct {
	mu sync.RWMutex

	status       Status
	stage        Stage
	filesFound   int
	filesApplied int
	staleRemoved int
	scanErrors   int
	startTime    time.Time
	errorMessage string
}

// NewProgress returns a tracker in the indexing state.
func NewProgress() *Progress {
	return &Progress{
		status:    StatusIndexing,
		stage:     StageStarting,
		startTime: time.Now(),
	}
}

// SetStage moves to stage.
func (p *Progress) SetStage(stage Stage) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stage = stage
}

// FileFound counts one file discovered by the initial scan.
func (p *Progress) FileFound() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.filesFound++
}

// ScanError counts one entry the scan could not read.
func (p *Progress) ScanError() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scanErrors++
}

// SetStale records how many indexed paths reconciliation removed.
func (p *Progress) SetStale(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.staleRemoved = n
}

// SetApplied records how many initial-load operations have completed.
func (p *Progress) SetApplied(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.filesApplied = n
}

// SetError marks startup as failed.
func (p *Progress) SetError(message string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status = StatusError
	p.errorMessage = message
}

// SetReady marks the initial load as complete.
func (p *Progress) SetReady() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status = StatusReady
	p.stage = StageWatching
	if p.filesApplied < p.filesFound {
		p.filesApplied = p.filesFound
	}
}

// SetStopped marks the pipeline as shut down.
func (p *Progress) SetStopped() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.status != StatusError {
		p.status = StatusStopped
	}
}

// IsIndexing reports whether the initial load is still running.
func (p *Progress) IsIndexing() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.status == StatusIndexing
}

// Snapshot returns a copy of the current state.
func (p *Progress) Snapshot() Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var pct float64
	switch {
	case p.status == StatusReady || p.status == StatusStopped:
		pct = 100
	case p.filesFound > 0:
		pct = float64(p.filesApplied) / float64(p.filesFound) * 100.0
		if pct > 100 {
			pct = 100
		}
	}

	return Snapshot{
		Status:         string(p.status),
		Stage:          string(p.stage),
		FilesFound:     p.filesFound,
		FilesApplied:   p.filesApplied,
		StaleRemoved:   p.staleRemoved,
		ScanErrors:     p.scanErrors,
		ProgressPct:    pct,
		ElapsedSeconds: int(time.Since(p.startTime).Seconds()),
		ErrorMessage:   p.errorMessage,
	}
}
