package mockserver

import (
	"encoding/json"
	"sync"
	"time"

	"nuacast/internal/core"
)

// job tracks one cast request from creation to its terminal push message.
type job struct {
	record  core.RequestRecord
	message []byte
	done    chan struct{}
}

// store keeps request records in memory for the lifetime of the server.
type store struct {
	mu   sync.Mutex
	jobs map[string]*job
}

func newStore() *store {
	return &store{jobs: make(map[string]*job)}
}

func (s *store) add(record core.RequestRecord) *job {
	s.mu.Lock()
	defer s.mu.Unlock()
	j := &job{record: record, done: make(chan struct{})}
	s.jobs[record.ID] = j
	return j
}

func (s *store) get(id string) (*job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	return j, ok
}

// snapshot returns a copy of the record that is safe to encode.
func (s *store) snapshot(id string) (core.RequestRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return core.RequestRecord{}, false
	}
	return j.record, true
}

func (s *store) start(id string) {
	s.update(id, func(r *core.RequestRecord) {
		now := time.Now().UTC()
		r.LLMStatus = core.LLMStatusProcessing
		r.StartedAt = &now
	})
}

// finish stores the outcome and releases every subscriber of the job. message
// is the terminal push payload.
func (s *store) finish(id string, outputName string, data any, failure error, message []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return
	}

	now := time.Now().UTC()
	r := &j.record
	r.FinishedAt = &now
	r.UpdatedAt = now
	if r.StartedAt == nil {
		r.StartedAt = &now
	}
	if failure != nil {
		msg := failure.Error()
		r.LLMStatus = core.LLMStatusFailed
		r.Error = &msg
	} else {
		r.LLMStatus = core.LLMStatusSuccess
		encoded, _ := json.Marshal(data)
		r.Result = map[string]json.RawMessage{outputName: encoded}
	}

	j.message = message
	close(j.done)
}

func (s *store) markDelivered(id string) {
	s.update(id, func(r *core.RequestRecord) {
		r.SSEStatus = core.DeliverySent
	})
}

func (s *store) update(id string, fn func(*core.RequestRecord)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[id]; ok {
		fn(&j.record)
		j.record.UpdatedAt = time.Now().UTC()
	}
}

// message returns the terminal payload once the job is done.
func (s *store) message(j *job) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return j.message
}
