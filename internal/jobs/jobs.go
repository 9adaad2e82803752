// Package jobs tracks background index/reindex jobs. Job metadata lives as
// JSON files under .context/jobs/; cancellation is cooperative through a
// marker file the running job polls.
package jobs

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dshills/sca/internal/workspace"
	"github.com/dshills/sca/pkg/types"
)

// State is the lifecycle state of a job.
type State string

const (
	StateQueued    State = "queued"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// Terminal reports whether the state is final.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCancelled:
		return true
	}
	return false
}

// Job is the persisted job descriptor.
type Job struct {
	ID        string               `json:"id"`
	Command   string               `json:"command"`
	State     State                `json:"state"`
	PID       int                  `json:"pid,omitempty"`
	CreatedAt time.Time            `json:"createdAt"`
	UpdatedAt time.Time            `json:"updatedAt"`
	Result    json.RawMessage      `json:"result,omitempty"`
	Error     *types.ErrorEnvelope `json:"error,omitempty"`
}

// Manager reads and writes job metadata in one jobs directory.
type Manager struct {
	dir string
}

// NewManager creates a manager over the jobs directory.
func NewManager(dir string) *Manager {
	return &Manager{dir: dir}
}

func (m *Manager) jobPath(id string) string {
	return filepath.Join(m.dir, id+".json")
}

func (m *Manager) cancelPath(id string) string {
	return filepath.Join(m.dir, id+".cancel")
}

// Create registers a new queued job and returns it.
func (m *Manager) Create(command string) (Job, *types.ErrorEnvelope) {
	now := time.Now().UTC()
	job := Job{
		ID:        types.NewCorrelationID("job"),
		Command:   command,
		State:     StateQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if env := m.write(job); env != nil {
		return Job{}, env
	}
	return job, nil
}

// Get loads a job by id.
func (m *Manager) Get(id string) (Job, *types.ErrorEnvelope) {
	payload, err := os.ReadFile(m.jobPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return Job{}, types.Expected(types.CodeNotFound, "job not found").WithMeta("job_id", id)
		}
		return Job{}, types.AsEnvelope(err)
	}

	var job Job
	if err := json.Unmarshal(payload, &job); err != nil {
		return Job{}, types.Unexpected(types.CodeInternal, "job metadata parse failed", types.NonRetriable).
			WithMeta("job_id", id)
	}
	return job, nil
}

// List returns all jobs, newest first.
func (m *Manager) List() ([]Job, *types.ErrorEnvelope) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, types.AsEnvelope(err)
	}

	var out []Job
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasSuffix(name, ".json") {
			continue
		}
		job, env := m.Get(strings.TrimSuffix(name, ".json"))
		if env != nil {
			continue
		}
		out = append(out, job)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// MarkRunning transitions a job to running with the worker pid.
func (m *Manager) MarkRunning(id string, pid int) *types.ErrorEnvelope {
	return m.update(id, func(job *Job) {
		job.State = StateRunning
		job.PID = pid
	})
}

// MarkCompleted stores the result payload and finishes the job.
func (m *Manager) MarkCompleted(id string, result any) *types.ErrorEnvelope {
	payload, err := json.Marshal(result)
	if err != nil {
		return types.AsEnvelope(err)
	}
	return m.update(id, func(job *Job) {
		job.State = StateCompleted
		job.Result = payload
	})
}

// MarkFailed records the failure envelope. Cancellation maps to the
// cancelled state rather than failed.
func (m *Manager) MarkFailed(id string, envErr *types.ErrorEnvelope) *types.ErrorEnvelope {
	return m.update(id, func(job *Job) {
		if envErr.IsCancelled() {
			job.State = StateCancelled
		} else {
			job.State = StateFailed
		}
		job.Error = envErr
	})
}

// RequestCancel drops the cancellation marker. A queued job is cancelled
// immediately; a running job observes the marker at its next poll.
func (m *Manager) RequestCancel(id string) *types.ErrorEnvelope {
	job, env := m.Get(id)
	if env != nil {
		return env
	}
	if job.State.Terminal() {
		return types.Expected(types.CodeInvalidValue, "job already finished").
			WithMeta("job_id", id).
			WithMeta("state", string(job.State))
	}

	if err := os.WriteFile(m.cancelPath(id), []byte(time.Now().UTC().Format(time.RFC3339)), 0o644); err != nil {
		return types.AsEnvelope(err)
	}
	if job.State == StateQueued {
		return m.update(id, func(job *Job) { job.State = StateCancelled })
	}
	return nil
}

// CancelRequested reports whether the cancel marker exists.
func (m *Manager) CancelRequested(id string) bool {
	_, err := os.Stat(m.cancelPath(id))
	return err == nil
}

// WatchCancel polls for the cancel marker and cancels rc when it appears.
// The watcher stops when rc ends.
func (m *Manager) WatchCancel(rc *types.RequestContext, id string, interval time.Duration) {
	if interval <= 0 {
		interval = time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-rc.Done():
				return
			case <-ticker.C:
				if m.CancelRequested(id) {
					rc.Cancel()
					return
				}
			}
		}
	}()
}

func (m *Manager) update(id string, mutate func(*Job)) *types.ErrorEnvelope {
	job, env := m.Get(id)
	if env != nil {
		return env
	}
	mutate(&job)
	job.UpdatedAt = time.Now().UTC()
	return m.write(job)
}

func (m *Manager) write(job Job) *types.ErrorEnvelope {
	payload, err := json.MarshalIndent(job, "", "  ")
	if err != nil {
		return types.AsEnvelope(err)
	}
	return workspace.AtomicWriteFile(m.jobPath(job.ID), payload)
}
