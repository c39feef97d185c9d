package job

// JobStore defines the interface for run history storage (both in-memory and persistent)
type JobStore interface {
	Add(j *Job) error
	Get(id string) (*Job, error)
	Update(j *Job) error
	List(limit, offset int, state string) ([]*Job, int)
	Stats() Stats
}
