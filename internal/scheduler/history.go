package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/spf13/afero"
)

// HistoryFile keeps job history in a JSON file next to the mail data.
type HistoryFile struct {
	fs   afero.Fs
	path string
}

func NewHistoryFile(fs afero.Fs, path string) *HistoryFile {
	return &HistoryFile{fs: fs, path: path}
}

// Load reads the history. A missing file is an empty history.
func (hf *HistoryFile) Load() (map[string]*JobHistory, error) {
	history := make(map[string]*JobHistory)

	data, err := afero.ReadFile(hf.fs, hf.path)
	if err != nil {
		if os.IsNotExist(err) {
			return history, nil
		}
		return nil, fmt.Errorf("read %s: %w", hf.path, err)
	}

	var list []JobHistory
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("parse %s: %w", hf.path, err)
	}
	for i := range list {
		if list[i].JobID == "" {
			continue
		}
		history[list[i].JobID] = &list[i]
	}
	return history, nil
}

// Save writes history sorted by job ID. The file is replaced by rename so a
// crash mid-write leaves the previous history.
func (hf *HistoryFile) Save(history map[string]*JobHistory) error {
	if err := hf.fs.MkdirAll(filepath.Dir(hf.path), 0755); err != nil {
		return err
	}

	list := make([]JobHistory, 0, len(history))
	for _, h := range history {
		list = append(list, *h)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].JobID < list[j].JobID })

	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return err
	}
	tmp := hf.path + ".tmp"
	if err := afero.WriteFile(hf.fs, tmp, data, 0644); err != nil {
		return err
	}
	if err := hf.fs.Rename(tmp, hf.path); err != nil {
		hf.fs.Remove(tmp)
		return err
	}
	return nil
}

// record folds one run into h.
func (h *JobHistory) record(result JobResult) {
	h.LastRun = result.EndTime
	h.LastDuration = result.EndTime.Sub(result.StartTime).Milliseconds()
	h.LastSummary = result.Summary
	h.LastError = ""
	h.RunCount++

	switch {
	case result.Success:
		h.LastStatus = StatusSuccess
		h.SuccessCount++
		return
	case errors.Is(result.Error, context.DeadlineExceeded):
		h.LastStatus = StatusTimeout
	default:
		h.LastStatus = StatusFailure
	}
	h.FailureCount++
	if result.Error != nil {
		h.LastError = result.Error.Error()
	}
}

// String renders h as one status line.
func (h JobHistory) String() string {
	if h.RunCount == 0 {
		return fmt.Sprintf("%s: never run", h.JobID)
	}
	line := fmt.Sprintf("%s: %s at %s (%d runs, %d failed)",
		h.JobID, h.LastStatus, h.LastRun.Format(time.DateTime), h.RunCount, h.FailureCount)
	switch {
	case h.LastError != "":
		line += ": " + h.LastError
	case h.LastSummary != "":
		line += ": " + h.LastSummary
	}
	return line
}

// updateHistory records a completed run and persists the history.
func (s *Scheduler) updateHistory(result JobResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, exists := s.history[result.JobID]
	if !exists {
		h = &JobHistory{JobID: result.JobID}
		s.history[result.JobID] = h
	}
	h.record(result)
	log.Printf("DEBUG: Job '%s' history: status=%s, duration=%dms, runs=%d, failures=%d",
		result.JobID, h.LastStatus, h.LastDuration, h.RunCount, h.FailureCount)

	if s.historyFile == nil {
		return
	}
	if err := s.historyFile.Save(s.history); err != nil {
		log.Printf("ERROR: Failed to save maintenance history: %v", err)
	}
}
