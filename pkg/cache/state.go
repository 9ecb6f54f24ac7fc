package cache

// JobState threads the restore outcome to the save phase of the same CI job
// run: the primary key used at restore time and the key that was actually
// matched, if any. Save uses it to skip re-uploading content that was just
// restored under an exact primary-key match.
//
// One instance lives for one job run: created at job start, written once by
// restore, read once by save, discarded at job end. The phases are strictly
// sequential so no locking is needed.
type JobState struct {
	primaryKey    string
	hasPrimaryKey bool
	matchedKey    string
	hasMatchedKey bool
}

// NewJobState creates an empty job state.
func NewJobState() *JobState {
	return &JobState{}
}

// SetPrimaryKey records the primary key used by the restore phase.
func (s *JobState) SetPrimaryKey(key string) {
	s.primaryKey = key
	s.hasPrimaryKey = true
}

// PrimaryKey returns the primary key recorded by restore. ok is false when
// restore never ran (e.g., a save-only invocation).
func (s *JobState) PrimaryKey() (key string, ok bool) {
	return s.primaryKey, s.hasPrimaryKey
}

// SetMatchedKey records the key restore actually matched.
func (s *JobState) SetMatchedKey(key string) {
	s.matchedKey = key
	s.hasMatchedKey = true
}

// MatchedKey returns the key restore matched. ok is false when restore
// missed or never ran.
func (s *JobState) MatchedKey() (key string, ok bool) {
	return s.matchedKey, s.hasMatchedKey
}
