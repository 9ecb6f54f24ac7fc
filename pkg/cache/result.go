package cache

// RestoreOutcome classifies how a restore invocation ended. Misses and
// degraded failures are ordinary outcomes, not errors: the invoking build
// must never fail merely because caching was unavailable.
type RestoreOutcome int

const (
	// RestoreMiss means no entry matched any key. Normal and expected.
	RestoreMiss RestoreOutcome = iota

	// RestoreHit means an entry matched and (unless lookup-only) was
	// downloaded and unpacked.
	RestoreHit

	// RestoreFailed means restore degraded on a non-validation error and
	// behaved like a miss.
	RestoreFailed
)

func (o RestoreOutcome) String() string {
	switch o {
	case RestoreMiss:
		return "miss"
	case RestoreHit:
		return "hit"
	default:
		return "failed"
	}
}

// RestoreResult is the outcome surface of Restore.
type RestoreResult struct {
	Outcome RestoreOutcome

	// MatchedKey is the exact key the entry matched on a hit. It can be a
	// restore key rather than the primary key.
	MatchedKey string
}

// Hit reports whether an entry was matched.
func (r RestoreResult) Hit() bool {
	return r.Outcome == RestoreHit
}

// SaveOutcome classifies how a save invocation ended.
type SaveOutcome int

const (
	// SaveFailed means the archive was not saved, either because of a
	// degraded transport failure or one of the pre-flight hard stops.
	SaveFailed SaveOutcome = iota

	// SaveSkipped means saving was pointless: restore already matched this
	// exact primary key in the same job, so no packaging or network
	// activity occurred.
	SaveSkipped

	// SaveLost means the backend already holds content under this key
	// (a race with another concurrent save). The second writer loses
	// silently.
	SaveLost

	// SaveUploaded means a new archive was successfully uploaded by this
	// call.
	SaveUploaded
)

func (o SaveOutcome) String() string {
	switch o {
	case SaveSkipped:
		return "skipped"
	case SaveLost:
		return "lost"
	case SaveUploaded:
		return "saved"
	default:
		return "failed"
	}
}

// SaveResult is the outcome surface of Save.
type SaveResult struct {
	Outcome SaveOutcome
}

// Saved reports whether a new archive was uploaded by this call.
func (r SaveResult) Saved() bool {
	return r.Outcome == SaveUploaded
}
