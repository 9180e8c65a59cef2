package timeline

import (
	"sync"
	"time"
)

// Entry is one scheduled note callback: the note's position in seconds from
// timeline zero and its length.
type Entry struct {
	TrackID  int
	NoteID   int
	Start    float64
	Duration float64
}

type entryKey struct {
	trackID int
	noteID  int
}

type scheduled struct {
	Entry
	timer *time.Timer
}

// Timeline owns a session's scheduled playback callbacks. Every mutation
// happens under one lock, so a rescale replaces the whole schedule in a
// single step and no reader ever sees a half-rescaled mix.
type Timeline struct {
	mu      sync.Mutex
	fire    func(Entry)
	entries map[entryKey]*scheduled
	playing bool
	origin  time.Time // wall-clock moment of timeline position zero
}

// New creates a stopped timeline. fire runs when a scheduled note's start
// time is reached during playback; it may be nil for headless use.
func New(fire func(Entry)) *Timeline {
	if fire == nil {
		fire = func(Entry) {}
	}
	return &Timeline{fire: fire, entries: make(map[entryKey]*scheduled)}
}

// Schedule adds or replaces the entry for (TrackID, NoteID).
func (tl *Timeline) Schedule(e Entry) {
	tl.mu.Lock()
	defer tl.mu.Unlock()

	key := entryKey{e.TrackID, e.NoteID}
	if prev, ok := tl.entries[key]; ok && prev.timer != nil {
		prev.timer.Stop()
	}
	sc := &scheduled{Entry: e}
	if tl.playing {
		sc.timer = tl.armLocked(e)
	}
	tl.entries[key] = sc
}

// Cancel drops the entry for one note, stopping its pending callback.
func (tl *Timeline) Cancel(trackID, noteID int) {
	tl.mu.Lock()
	defer tl.mu.Unlock()

	key := entryKey{trackID, noteID}
	if sc, ok := tl.entries[key]; ok {
		if sc.timer != nil {
			sc.timer.Stop()
		}
		delete(tl.entries, key)
	}
}

// CancelTrack drops every entry belonging to a track.
func (tl *Timeline) CancelTrack(trackID int) {
	tl.mu.Lock()
	defer tl.mu.Unlock()

	for key, sc := range tl.entries {
		if key.trackID == trackID {
			if sc.timer != nil {
				sc.timer.Stop()
			}
			delete(tl.entries, key)
		}
	}
}

// Rescale multiplies every entry's start and duration by factor and, when
// playing, cancels and re-arms every pending callback at its new start, all
// under one lock: the schedule is never observable partially rescaled.
func (tl *Timeline) Rescale(factor float64) {
	tl.mu.Lock()
	defer tl.mu.Unlock()

	for _, sc := range tl.entries {
		if sc.timer != nil {
			sc.timer.Stop()
			sc.timer = nil
		}
		sc.Start *= factor
		sc.Duration *= factor
	}
	if tl.playing {
		for _, sc := range tl.entries {
			sc.timer = tl.armLocked(sc.Entry)
		}
	}
}

// Replace swaps the entire schedule for a new entry set in one step.
func (tl *Timeline) Replace(entries []Entry) {
	tl.mu.Lock()
	defer tl.mu.Unlock()

	for _, sc := range tl.entries {
		if sc.timer != nil {
			sc.timer.Stop()
		}
	}
	tl.entries = make(map[entryKey]*scheduled, len(entries))
	for _, e := range entries {
		sc := &scheduled{Entry: e}
		if tl.playing {
			sc.timer = tl.armLocked(e)
		}
		tl.entries[entryKey{e.TrackID, e.NoteID}] = sc
	}
}

// Start begins playback from the given offset in seconds; entries whose start
// has already passed are not fired.
func (tl *Timeline) Start(offset float64) {
	tl.mu.Lock()
	defer tl.mu.Unlock()

	tl.playing = true
	tl.origin = time.Now().Add(-time.Duration(offset * float64(time.Second)))
	for _, sc := range tl.entries {
		sc.timer = tl.armLocked(sc.Entry)
	}
}

// Stop halts playback and cancels all pending callbacks; entries stay.
func (tl *Timeline) Stop() {
	tl.mu.Lock()
	defer tl.mu.Unlock()

	tl.playing = false
	for _, sc := range tl.entries {
		if sc.timer != nil {
			sc.timer.Stop()
			sc.timer = nil
		}
	}
}

// Snapshot returns a copy of the current entries.
func (tl *Timeline) Snapshot() []Entry {
	tl.mu.Lock()
	defer tl.mu.Unlock()

	out := make([]Entry, 0, len(tl.entries))
	for _, sc := range tl.entries {
		out = append(out, sc.Entry)
	}
	return out
}

// armLocked creates the callback timer for an entry. Caller holds the lock.
// Entries already in the past are left unarmed.
func (tl *Timeline) armLocked(e Entry) *time.Timer {
	at := tl.origin.Add(time.Duration(e.Start * float64(time.Second)))
	delay := time.Until(at)
	if delay < 0 {
		return nil
	}
	return time.AfterFunc(delay, func() { tl.fire(e) })
}
