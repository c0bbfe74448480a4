package project

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"autoforge/internal/logging"
)

// Store persists project state, execution logs, and generated artifacts.
type Store interface {
	// SaveProject writes the full state. The write is atomic so a crash
	// mid-save never leaves a truncated project.json behind.
	SaveProject(state *State) error

	// LoadProject reads the state for id, or ErrNotFound.
	LoadProject(id string) (*State, error)

	// AppendLog appends one entry to the project's logs.jsonl.
	AppendLog(projectID string, entry LogEntry) error

	// ArtifactsDir ensures and returns the generated-files directory for
	// a task.
	ArtifactsDir(projectID, taskID string) (string, error)

	// ListProjects returns the ids of all saved projects, sorted.
	ListProjects() ([]string, error)
}

// LogEntry is one line of a project's logs.jsonl.
type LogEntry struct {
	Timestamp time.Time              `json:"timestamp"`
	Agent     string                 `json:"agent"`
	Event     string                 `json:"event"`
	Message   string                 `json:"message"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// NewLogEntry stamps an entry with the current time.
func NewLogEntry(agent, event, message string) LogEntry {
	return LogEntry{
		Timestamp: time.Now().UTC(),
		Agent:     agent,
		Event:     event,
		Message:   message,
	}
}

// FileStore lays projects out under a root directory:
//
//	<root>/project_<id>/project.json
//	<root>/project_<id>/logs.jsonl
//	<root>/project_<id>/artifacts/task_<id>/generated/
type FileStore struct {
	root string
}

// NewFileStore creates the root directory if needed.
func NewFileStore(root string) (*FileStore, error) {
	if root == "" {
		return nil, fmt.Errorf("project store root must not be empty")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create project root %s: %w", root, err)
	}
	return &FileStore{root: root}, nil
}

// Root returns the store's base directory.
func (f *FileStore) Root() string {
	return f.root
}

func (f *FileStore) projectDir(id string) string {
	return filepath.Join(f.root, "project_"+id)
}

func (f *FileStore) SaveProject(state *State) error {
	if state == nil || state.ID == "" {
		return fmt.Errorf("cannot save project without an id")
	}
	dir := f.projectDir(state.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create project dir: %w", err)
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal project %s: %w", state.ID, err)
	}
	data = append(data, '\n')

	// Write to a temp file in the same directory, then rename over the
	// target. Rename within one filesystem is atomic.
	tmp, err := os.CreateTemp(dir, ".project-*.json.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write project %s: %w", state.ID, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	target := filepath.Join(dir, "project.json")
	if err := os.Rename(tmpPath, target); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace %s: %w", target, err)
	}

	logging.StoreDebug("saved project %s (phase=%s, tasks=%d)", state.ID, state.Phase, len(state.Tasks))
	return nil
}

func (f *FileStore) LoadProject(id string) (*State, error) {
	path := filepath.Join(f.projectDir(id), "project.json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %q", ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to parse project %s: %w", id, err)
	}
	return &state, nil
}

func (f *FileStore) AppendLog(projectID string, entry LogEntry) error {
	dir := f.projectDir(projectID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create project dir: %w", err)
	}
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal log entry: %w", err)
	}
	path := filepath.Join(dir, "logs.jsonl")
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer file.Close()
	if _, err := file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to append to %s: %w", path, err)
	}
	return nil
}

func (f *FileStore) ArtifactsDir(projectID, taskID string) (string, error) {
	// Task ids already carry the task_ prefix; normalize either form.
	dir := filepath.Join(f.projectDir(projectID), "artifacts", "task_"+strings.TrimPrefix(taskID, "task_"), "generated")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create artifacts dir: %w", err)
	}
	return dir, nil
}

func (f *FileStore) ListProjects() ([]string, error) {
	entries, err := os.ReadDir(f.root)
	if err != nil {
		return nil, fmt.Errorf("failed to read project root: %w", err)
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), "project_") {
			ids = append(ids, strings.TrimPrefix(e.Name(), "project_"))
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// ReadLogs loads every entry from a project's logs.jsonl. Missing file
// means no entries yet.
func (f *FileStore) ReadLogs(projectID string) ([]LogEntry, error) {
	path := filepath.Join(f.projectDir(projectID), "logs.jsonl")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	var entries []LogEntry
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var entry LogEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			logging.StoreError("skipping malformed log line in %s: %v", path, err)
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
