package progress

import (
	"context"
	"log"
	"sync"
	"time"

	"vectorflow/internal/models"
)

const (
	// streamBuffer bounds how many undelivered events a single stream may
	// hold before old ones are dropped for a slow consumer.
	streamBuffer = 32

	// defaultGrace is how long a stream stays open after a terminal event
	// so the transport can flush it.
	defaultGrace = time.Second
)

// Tracker wraps a Store with per-document fan-out notification. The document
// processor pushes an update after every stage transition; every current
// subscriber for that document receives the resulting ProgressEvent.
type Tracker struct {
	store *Store
	grace time.Duration

	mu     sync.Mutex
	subs   map[string]map[int]func(models.ProgressEvent)
	nextID int
}

func NewTracker(store *Store) *Tracker {
	return &Tracker{
		store: store,
		grace: defaultGrace,
		subs:  make(map[string]map[int]func(models.ProgressEvent)),
	}
}

// Initialize registers fresh state for a document and notifies subscribers
// with the initial upload event.
func (t *Tracker) Initialize(documentID, ownerID, filename string, metadata map[string]string) models.ProgressEvent {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec := t.store.Initialize(documentID, ownerID, filename, metadata)
	evt := eventFromRecord(rec)
	t.fanoutLocked(documentID, evt)
	return evt
}

// Update atomically applies the partial update to the store, builds a
// ProgressEvent from the new state and synchronously invokes every current
// subscriber. Returns false when the document has no live state.
func (t *Tracker) Update(documentID string, upd models.ProgressUpdate) (models.ProgressEvent, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.store.Update(documentID, upd)
	if !ok {
		return models.ProgressEvent{}, false
	}
	evt := eventFromRecord(rec)
	t.fanoutLocked(documentID, evt)
	return evt, true
}

// Subscribe registers a callback for one document's events. The returned
// function removes exactly that callback; when the last subscriber for a
// document unsubscribes the tracker drops its subscriber set (the store
// record is untouched).
func (t *Tracker) Subscribe(documentID string, fn func(models.ProgressEvent)) func() {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.subscribeLocked(documentID, fn)
}

// Stream returns a push-driven sequence of ProgressEvents for one document.
// The document's current state is replayed immediately as the first event,
// so a late subscriber never waits for the next transition; a document with
// no live state (never registered, or already removed) yields a closed
// channel right away instead of a stream that would never emit. The channel
// closes shortly after a terminal event, or as soon as ctx is done; either
// way the underlying subscription is released.
func (t *Tracker) Stream(ctx context.Context, documentID string) <-chan models.ProgressEvent {
	out := make(chan models.ProgressEvent, streamBuffer)
	in := make(chan models.ProgressEvent, streamBuffer)

	push := func(evt models.ProgressEvent) {
		select {
		case in <- evt:
		default:
			// Slow consumer: drop the oldest pending event so the newest
			// state keeps flowing. Terminal events are the last writes and
			// therefore always land.
			select {
			case <-in:
			default:
			}
			select {
			case in <- evt:
			default:
			}
		}
	}

	t.mu.Lock()
	rec, ok := t.store.Get(documentID)
	if !ok {
		t.mu.Unlock()
		close(out)
		return out
	}
	push(eventFromRecord(rec))
	unsubscribe := t.subscribeLocked(documentID, push)
	t.mu.Unlock()

	go func() {
		defer close(out)
		defer unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case evt := <-in:
				select {
				case out <- evt:
				case <-ctx.Done():
					return
				}
				if evt.Status.Terminal() {
					select {
					case <-time.After(t.grace):
					case <-ctx.Done():
					}
					return
				}
			}
		}
	}()

	return out
}

func (t *Tracker) subscribeLocked(documentID string, fn func(models.ProgressEvent)) func() {
	id := t.nextID
	t.nextID++

	set, ok := t.subs[documentID]
	if !ok {
		set = make(map[int]func(models.ProgressEvent))
		t.subs[documentID] = set
	}
	set[id] = fn

	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if set, ok := t.subs[documentID]; ok {
			delete(set, id)
			if len(set) == 0 {
				delete(t.subs, documentID)
			}
		}
	}
}

// fanoutLocked delivers evt to every subscriber of the document. A panicking
// callback must not stop delivery to the others.
func (t *Tracker) fanoutLocked(documentID string, evt models.ProgressEvent) {
	for _, fn := range t.subs[documentID] {
		deliver(fn, evt)
	}
}

func deliver(fn func(models.ProgressEvent), evt models.ProgressEvent) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("progress: subscriber panicked: %v", r)
		}
	}()
	fn(evt)
}

func eventFromRecord(rec models.ProcessingRecord) models.ProgressEvent {
	return models.ProgressEvent{
		DocumentID: rec.DocumentID,
		Stage:      rec.Stage,
		Status:     rec.Status,
		Progress:   rec.Progress,
		ChunkCount: rec.ChunkCount,
		Error:      rec.ErrorMessage,
		Timestamp:  time.Now(),
	}
}
