package realm

import (
	"sync"

	"skycast.gg/internal/protocol"
)

// EventSink receives every committed event exactly once, in cursor order.
// Sinks must not block; persistence sinks buffer internally.
type EventSink interface {
	RecordEvent(cursor uint64, ev protocol.Event)
}

// eventHub is the outbound event window. Cursors are 1-based and strictly
// increasing; old events fall out of the retained window but cursors never
// reset.
type eventHub struct {
	mu     sync.RWMutex
	buf    []protocol.EventBatchItem
	next   uint64 // cursor the next event will get
	retain int
	sinks  []EventSink
}

func newEventHub(retain int) *eventHub {
	return &eventHub{next: 1, retain: retain}
}

func (h *eventHub) addSink(s EventSink) {
	h.mu.Lock()
	h.sinks = append(h.sinks, s)
	h.mu.Unlock()
}

func (h *eventHub) emit(ev protocol.Event) uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	cursor := h.next
	h.next++
	h.buf = append(h.buf, protocol.EventBatchItem{Cursor: cursor, Event: ev})
	if len(h.buf) > h.retain {
		h.buf = h.buf[len(h.buf)-h.retain:]
	}
	// Sinks are delivered under the lock so concurrent emits cannot hand
	// them events out of cursor order. Sinks must not block.
	for _, s := range h.sinks {
		s.RecordEvent(cursor, ev)
	}
	return cursor
}

// cursor returns the cursor of the most recent event (0 before any).
func (h *eventHub) cursor() uint64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.next - 1
}

// since returns up to limit events with cursor > sinceCursor, plus the
// cursor to resume from. Events older than the retained window are gone;
// callers that fall behind resume from the oldest retained event.
func (h *eventHub) since(sinceCursor uint64, limit int) ([]protocol.EventBatchItem, uint64) {
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]protocol.EventBatchItem, 0, limit)
	for _, it := range h.buf {
		if it.Cursor <= sinceCursor {
			continue
		}
		out = append(out, it)
		if len(out) == limit {
			break
		}
	}
	next := sinceCursor
	if n := len(out); n > 0 {
		next = out[n-1].Cursor
	} else if h.next-1 > next {
		// Nothing retained past sinceCursor; skip ahead.
		next = h.next - 1
	}
	return out, next
}

// restoreCursor fast-forwards the cursor counter after a snapshot import so
// cursors stay unique across restarts. The window itself is not restored.
func (h *eventHub) restoreCursor(last uint64) {
	h.mu.Lock()
	if last+1 > h.next {
		h.next = last + 1
	}
	h.buf = nil
	h.mu.Unlock()
}
