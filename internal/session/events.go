package session

import (
	"errors"

	"github.com/OCAP2/mapmarkers/internal/geo"
	"github.com/OCAP2/mapmarkers/internal/resolver"
	"github.com/OCAP2/mapmarkers/pkg/core"
)

// Reason explains why an event left the state unchanged.
type Reason string

const (
	ReasonNone            Reason = ""
	ReasonInvalidPosition Reason = "invalid_position"
	ReasonUnknownID       Reason = "unknown_id"
	ReasonNoMarker        Reason = "no_marker"
	ReasonUnchanged       Reason = "unchanged"
)

// Result is the outcome of one event. Events never fail: a rejected or
// ignored event reports Changed=false with a Reason.
type Result struct {
	Changed bool          `json:"changed"`
	Reason  Reason        `json:"reason,omitempty"`
	ID      core.MarkerID `json:"id,omitempty"`
}

func changed(id core.MarkerID) Result {
	return Result{Changed: true, ID: id}
}

func (s *Session) ignore(op string, reason Reason, id core.MarkerID) Result {
	s.recordIgnored(op, reason)
	s.log.Debug("Event ignored", "event", op, "reason", string(reason), "id", uint64(id))
	return Result{Reason: reason, ID: id}
}

// PointerClicked adds a marker at pos and opens its popup.
func (s *Session) PointerClicked(pos core.Position) Result {
	const op = "pointer_clicked"
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.store.Add(pos)
	if err != nil {
		return s.ignore(op, ReasonInvalidPosition, 0)
	}
	s.sel.Select(m.ID)

	s.recordMutation(op)
	s.notify()
	return changed(m.ID)
}

// PointerHovered resolves q to the nearest marker and applies the hover policy.
func (s *Session) PointerHovered(q core.Position) Result {
	const op = "pointer_hovered"
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := geo.Validate(q); err != nil {
		return s.ignore(op, ReasonInvalidPosition, 0)
	}

	m, err := s.nearest(q)
	if errors.Is(err, resolver.ErrNoMarker) {
		return s.ignore(op, ReasonNoMarker, 0)
	}
	if err != nil {
		s.log.Error("Nearest marker lookup failed", "error", err)
		return s.ignore(op, ReasonNoMarker, 0)
	}

	if !s.sel.Hover(m.ID) {
		return s.ignore(op, ReasonUnchanged, m.ID)
	}
	s.notify()
	return changed(m.ID)
}

// PointerLeft closes the popup when the session is configured to do so.
func (s *Session) PointerLeft() Result {
	const op = "pointer_left"
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.clearOnLeave || !s.sel.Close() {
		return s.ignore(op, ReasonUnchanged, 0)
	}
	s.notify()
	return changed(0)
}

// DragStarted closes the popup for the duration of the drag.
func (s *Session) DragStarted() Result {
	const op = "drag_started"
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.sel.DragStart() {
		return s.ignore(op, ReasonUnchanged, 0)
	}
	s.notify()
	return changed(0)
}

// DragEnded moves marker id to pos.
func (s *Session) DragEnded(id core.MarkerID, pos core.Position) Result {
	const op = "drag_ended"
	s.mu.Lock()
	defer s.mu.Unlock()

	ok, err := s.store.UpdatePosition(id, pos)
	if err != nil {
		return s.ignore(op, ReasonInvalidPosition, id)
	}
	if !ok {
		return s.ignore(op, ReasonUnknownID, id)
	}

	s.recordMutation(op)
	s.notify()
	return changed(id)
}

// SetScore rates marker id; out of range values are clamped.
func (s *Session) SetScore(id core.MarkerID, value int) Result {
	const op = "set_score"
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.store.UpdateScore(id, value) {
		return s.ignore(op, ReasonUnknownID, id)
	}

	s.recordMutation(op)
	s.notify()
	return changed(id)
}

// EditMarker saves the popup form of marker id.
func (s *Session) EditMarker(id core.MarkerID, title, description string) Result {
	const op = "edit_marker"
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.store.UpdateText(id, title, description) {
		return s.ignore(op, ReasonUnknownID, id)
	}

	s.recordMutation(op)
	s.notify()
	return changed(id)
}

// RemoveMarker deletes marker id and closes its popup if it was open.
func (s *Session) RemoveMarker(id core.MarkerID) Result {
	const op = "remove_marker"
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.store.Remove(id) {
		return s.ignore(op, ReasonUnknownID, id)
	}
	s.sel.ClearIf(id)

	s.recordMutation(op)
	s.notify()
	return changed(id)
}

// ClosePopup clears the selection.
func (s *Session) ClosePopup() Result {
	const op = "close_popup"
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.sel.Close() {
		return s.ignore(op, ReasonUnchanged, 0)
	}
	s.notify()
	return changed(0)
}
