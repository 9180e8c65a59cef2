package session

import (
	"context"
	"fmt"

	"github.com/cadenzalab/ensemble-backend/internal/models"
)

// Invite adds a participant in the invited-but-not-joined state. Admin-only.
func (e *Engine) Invite(ctx context.Context, byUserID string, userID, username string, asAdmin bool) error {
	var failure error
	err := e.exec(ctx, func() {
		if err := e.requireAdmin(byUserID); err != nil {
			failure = err
			return
		}
		if e.state.Participant(userID) != nil {
			failure = fmt.Errorf("%w: participant %s already invited", ErrConflict, userID)
			return
		}
		prev := e.state.Clone()
		e.state.Participants = append(e.state.Participants, &models.Participant{
			UserID:   userID,
			Username: username,
			IsAdmin:  asAdmin,
		})
		if err := e.store.SaveSession(e.ctx, e.state); err != nil {
			e.state = prev
			failure = fmt.Errorf("%w: %v", ErrInfra, err)
		}
	})
	if err != nil {
		return err
	}
	return failure
}

// Join flips an invited participant to joined.
func (e *Engine) Join(ctx context.Context, userID string) error {
	var failure error
	err := e.exec(ctx, func() {
		p := e.state.Participant(userID)
		if p == nil {
			failure = fmt.Errorf("%w: participant %s not invited", ErrNotFound, userID)
			return
		}
		if p.Accepted {
			return
		}
		prev := e.state.Clone()
		p.Accepted = true
		if err := e.store.SaveSession(e.ctx, e.state); err != nil {
			e.state = prev
			failure = fmt.Errorf("%w: %v", ErrInfra, err)
		}
	})
	if err != nil {
		return err
	}
	return failure
}
