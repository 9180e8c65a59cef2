package session

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/cadenzalab/ensemble-backend/internal/models"
	"github.com/cadenzalab/ensemble-backend/internal/regions"
	"github.com/cadenzalab/ensemble-backend/internal/storage"
	"github.com/cadenzalab/ensemble-backend/internal/timeline"
	"github.com/cadenzalab/ensemble-backend/internal/ws"
)

// beatsPerMeasure fixes the measure length used for region clustering.
const beatsPerMeasure = 4

// Engine is the single authoritative execution context for one session: all
// state-mutating work is funneled through one goroutine, which keeps the
// per-track event-id counter and the tempo-rescale transaction atomic without
// further locking. Network I/O stays on per-connection workers and hands
// mutations off here. Once a command is accepted, it runs to completion even
// if the submitting connection goes away.
type Engine struct {
	sessionID   string
	store       storage.Store
	registry    *ws.Registry
	broadcaster *ws.Broadcaster
	timeline    *timeline.Timeline
	logger      zerolog.Logger

	ctx     context.Context // detached from callers; store calls outlive a closed conn
	cmds    chan command
	stop    chan struct{}
	stopped chan struct{}

	// state is the authoritative working copy, touched only inside run.
	state *models.Session
}

type command struct {
	fn   func()
	done chan struct{}
}

func newEngine(ctx context.Context, state *models.Session, store storage.Store,
	registry *ws.Registry, broadcaster *ws.Broadcaster, logger zerolog.Logger) *Engine {

	e := &Engine{
		sessionID:   state.ID,
		store:       store,
		registry:    registry,
		broadcaster: broadcaster,
		timeline:    timeline.New(nil),
		logger:      logger.With().Str("session", state.ID).Logger(),
		ctx:         ctx,
		cmds:        make(chan command, 64),
		stop:        make(chan struct{}),
		stopped:     make(chan struct{}),
		state:       state,
	}
	for _, t := range state.Tracks {
		for _, n := range t.Events {
			e.timeline.Schedule(timeline.Entry{TrackID: t.ID, NoteID: n.ID, Start: n.Start, Duration: n.Duration})
		}
	}
	go e.run()
	return e
}

func (e *Engine) run() {
	defer close(e.stopped)
	for {
		select {
		case cmd := <-e.cmds:
			cmd.fn()
			close(cmd.done)
		case <-e.stop:
			e.timeline.Stop()
			return
		}
	}
}

// exec runs fn inside the serialized loop and waits for it to finish. The
// caller context only guards the wait for a queue slot: once accepted, the
// command is not cancelled by the caller going away.
func (e *Engine) exec(ctx context.Context, fn func()) error {
	cmd := command{fn: fn, done: make(chan struct{})}
	select {
	case e.cmds <- cmd:
	case <-e.stop:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-cmd.done:
		return nil
	case <-e.stopped:
		return ErrStopped
	}
}

// halt stops the run loop; pending queued commands are dropped.
func (e *Engine) halt() {
	select {
	case <-e.stop:
	default:
		close(e.stop)
	}
}

// SessionID returns the id of the session this engine serializes.
func (e *Engine) SessionID() string { return e.sessionID }

// Timeline exposes the session's playback schedule.
func (e *Engine) Timeline() *timeline.Timeline { return e.timeline }

// Snapshot returns a consistent deep copy of the session state, taken inside
// the serialized loop so it can never observe a half-applied mutation.
func (e *Engine) Snapshot(ctx context.Context) (*models.Session, error) {
	var snap *models.Session
	if err := e.exec(ctx, func() { snap = e.state.Clone() }); err != nil {
		return nil, err
	}
	return snap, nil
}

// Regions computes the display regions of one track from a consistent
// snapshot. The measure length derives from the current shared tempo and the
// clustering gap is two measures.
func (e *Engine) Regions(ctx context.Context, trackID int) ([]regions.Region, error) {
	var (
		out     []regions.Region
		missing bool
	)
	err := e.exec(ctx, func() {
		track := e.state.Track(trackID)
		if track == nil {
			missing = true
			return
		}
		measureLength := beatsPerMeasure * 60.0 / e.state.Tempo
		out = regions.Compute(track.Clone().Events, measureLength, regions.GapForMeasure(measureLength))
	})
	if err != nil {
		return nil, err
	}
	if missing {
		return nil, ErrNotFound
	}
	return out, nil
}
