package main

import (
	"sync"
	"time"
)

const defaultEventHistoryLimit = 64

// eventHistory keeps the most recent connect/disconnect events for the
// status surfaces. Old entries fall off; total keeps counting.
type eventHistory struct {
	mu     sync.Mutex
	events []playerEvent
	total  uint64
	limit  int
}

func newEventHistory(limit int) *eventHistory {
	if limit <= 0 {
		limit = defaultEventHistoryLimit
	}
	return &eventHistory{limit: limit}
}

func (h *eventHistory) record(evt playerEvent) uint64 {
	if h == nil || evt.Kind == eventOther || evt.Name == "" {
		return 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.total++
	h.events = append(h.events, evt)
	if len(h.events) > h.limit {
		h.events = append([]playerEvent(nil), h.events[len(h.events)-h.limit:]...)
	}
	return h.total
}

type playerEventView struct {
	At     string `json:"at"`
	Player string `json:"player"`
	Kind   string `json:"kind"`
	X      int    `json:"x"`
	Y      int    `json:"y"`
}

// snapshot returns the retained events newest first plus the all-time total.
func (h *eventHistory) snapshot() (uint64, []playerEventView) {
	if h == nil {
		return 0, nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.events) == 0 {
		return h.total, nil
	}
	out := make([]playerEventView, 0, len(h.events))
	for i := len(h.events) - 1; i >= 0; i-- {
		ev := h.events[i]
		out = append(out, playerEventView{
			At:     ev.Time.UTC().Format(time.RFC3339),
			Player: ev.Name,
			Kind:   ev.Kind.String(),
			X:      ev.X,
			Y:      ev.Y,
		})
	}
	return h.total, out
}
