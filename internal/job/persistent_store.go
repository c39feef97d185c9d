package job

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/phuslu/log"

	"github.com/snapcollect/collector/internal/db"
)

const bucket = "jobs"

type PersistentStore struct {
	dbStore *db.Store
}

func NewPersistentStore(dbStore *db.Store) *PersistentStore {
	return &PersistentStore{dbStore: dbStore}
}

func (s *PersistentStore) put(j *Job) error {
	data, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := s.dbStore.Put(bucket, j.ID, data); err != nil {
		return fmt.Errorf("store job: %w", err)
	}
	return nil
}

func (s *PersistentStore) Add(j *Job) error {
	return s.put(j)
}

func (s *PersistentStore) Get(id string) (*Job, error) {
	data, err := s.dbStore.Get(bucket, id)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("get job: %w", err)
	}

	var j Job
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("unmarshal job: %w", err)
	}
	return &j, nil
}

func (s *PersistentStore) Update(j *Job) error {
	if _, err := s.Get(j.ID); err != nil {
		return err
	}
	return s.put(j)
}

// all loads every stored job. Undecodable records are skipped.
func (s *PersistentStore) all() []*Job {
	var jobs []*Job
	err := s.dbStore.Scan(bucket, func(key string, value []byte) error {
		var j Job
		if err := json.Unmarshal(value, &j); err != nil {
			log.Warn().Err(err).Str("job_id", key).Msg("skipping unreadable job record")
			return nil
		}
		jobs = append(jobs, &j)
		return nil
	})
	if err != nil {
		log.Error().Err(err).Msg("scan jobs")
	}
	return jobs
}

func (s *PersistentStore) List(limit, offset int, state string) ([]*Job, int) {
	return paginate(s.all(), limit, offset, state)
}

func (s *PersistentStore) Stats() Stats {
	stats := Stats{ByState: make(map[State]int)}
	for _, j := range s.all() {
		stats.count(j)
	}
	return stats
}
