package pagesearch

import "sync"

// Phase names the indexing pipeline stage currently running.
type Phase string

// Pipeline phases, in order.
const (
	PhasePreparing      Phase = "preparing"
	PhaseExtractingText Phase = "extracting_text"
	PhaseApplyingOCR    Phase = "applying_ocr"
	PhaseWritingIndex   Phase = "writing_index"
)

// phase weights for overall progress; they sum to 1.
var phaseBase = map[Phase]float64{
	PhasePreparing:      0,
	PhaseExtractingText: 0.05,
	PhaseApplyingOCR:    0.55,
	PhaseWritingIndex:   0.85,
}

var phaseWeight = map[Phase]float64{
	PhasePreparing:      0.05,
	PhaseExtractingText: 0.50,
	PhaseApplyingOCR:    0.30,
	PhaseWritingIndex:   0.15,
}

// IndexingState is the observable preparation state. The zero value is
// idle.
type IndexingState struct {
	InProgress bool
	DocumentID string
	Phase      Phase
	// Progress is the weighted overall fraction in [0,1], valid only while
	// InProgress.
	Progress float64
}

// stateTracker guards the coordinator-wide indexing state. Updates are
// scoped by document id: while document A is in progress, updates for any
// other document are ignored, so concurrent shard work cannot corrupt the
// observable progress.
type stateTracker struct {
	mu        sync.Mutex
	current   IndexingState
	listeners map[int]func(IndexingState)
	nextID    int
}

func (t *stateTracker) set(documentID string, phase Phase, frac float64) {
	if frac < 0 {
		frac = 0
	}
	if frac > 1 {
		frac = 1
	}
	next := IndexingState{
		InProgress: true,
		DocumentID: documentID,
		Phase:      phase,
		Progress:   phaseBase[phase] + frac*phaseWeight[phase],
	}

	t.mu.Lock()
	if t.current.InProgress && t.current.DocumentID != documentID {
		t.mu.Unlock()
		return
	}
	t.current = next
	fns := t.snapshotListeners()
	t.mu.Unlock()

	for _, fn := range fns {
		fn(next)
	}
}

// reset returns the state to idle, but only if documentID still owns it.
// An empty documentID resets unconditionally (disposal).
func (t *stateTracker) reset(documentID string) {
	t.mu.Lock()
	if documentID != "" && t.current.DocumentID != documentID {
		t.mu.Unlock()
		return
	}
	t.current = IndexingState{}
	idle := t.current
	fns := t.snapshotListeners()
	t.mu.Unlock()

	for _, fn := range fns {
		fn(idle)
	}
}

func (t *stateTracker) get() IndexingState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

// subscribe registers a listener and returns an unsubscribe func.
func (t *stateTracker) subscribe(fn func(IndexingState)) func() {
	t.mu.Lock()
	if t.listeners == nil {
		t.listeners = make(map[int]func(IndexingState))
	}
	id := t.nextID
	t.nextID++
	t.listeners[id] = fn
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		delete(t.listeners, id)
		t.mu.Unlock()
	}
}

func (t *stateTracker) snapshotListeners() []func(IndexingState) {
	fns := make([]func(IndexingState), 0, len(t.listeners))
	for _, fn := range t.listeners {
		fns = append(fns, fn)
	}
	return fns
}
