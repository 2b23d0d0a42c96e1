// Copyright 2025 The Wildfire Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package router

import (
	"container/list"
	"sync"
	"time"

	"github.com/igniterealtime/wildfire/logger"
	"github.com/igniterealtime/wildfire/stanza"
)

// ResultListener is notified when an answer to a server-originated IQ
// arrives, or when the wait for one expires. Exactly one of the two
// callbacks fires per registered id, never both.
type ResultListener interface {
	// ReceivedAnswer is invoked with the result or error IQ matching the
	// registered id.
	ReceivedAnswer(iq *stanza.IQ)

	// AnswerTimeout is invoked when no answer arrived within the listener's
	// timeout. The wait lasts at least the configured timeout and at most
	// one sweep interval longer.
	AnswerTimeout(id string)
}

type correlationEntry struct {
	id       string
	listener ResultListener
	deadline time.Time
}

// CorrelationRegistry tracks pending request/response correlations by
// stanza id. Entries are kept in ascending deadline order so the periodic
// timeout sweep can stop at the first entry that has not expired yet.
type CorrelationRegistry struct {
	defaultTimeout time.Duration

	mu    sync.Mutex
	order *list.List // of *correlationEntry, ascending deadline
	byID  map[string]*list.Element

	sweepStop chan struct{}
}

// NewCorrelationRegistry constructs a registry whose AddListener entries
// expire after defaultTimeout.
func NewCorrelationRegistry(defaultTimeout time.Duration) *CorrelationRegistry {
	return &CorrelationRegistry{
		defaultTimeout: defaultTimeout,
		order:          list.New(),
		byID:           make(map[string]*list.Element),
	}
}

// AddListener registers the listener for the given stanza id with the
// default timeout. At most one listener may wait per id; a second
// registration for the same id replaces the first without notifying it.
func (r *CorrelationRegistry) AddListener(id string, l ResultListener) {
	r.AddListenerWithTimeout(id, l, r.defaultTimeout)
}

// AddListenerWithTimeout registers the listener with an explicit timeout.
func (r *CorrelationRegistry) AddListenerWithTimeout(id string, l ResultListener, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	entry := &correlationEntry{id: id, listener: l, deadline: deadline}

	r.mu.Lock()
	defer r.mu.Unlock()
	if el, ok := r.byID[id]; ok {
		r.order.Remove(el)
	}
	// Walk backwards from the tail: with a uniform default timeout nearly
	// every insert lands at the end.
	at := r.order.Back()
	for at != nil && at.Value.(*correlationEntry).deadline.After(deadline) {
		at = at.Prev()
	}
	if at == nil {
		r.byID[id] = r.order.PushFront(entry)
	} else {
		r.byID[id] = r.order.InsertAfter(entry, at)
	}
}

// take removes and returns the listener registered for id, or nil. Removal
// happens exactly once per entry: an answer that takes the listener
// prevents the sweep from ever seeing it, and vice versa.
func (r *CorrelationRegistry) take(id string) ResultListener {
	r.mu.Lock()
	defer r.mu.Unlock()
	el, ok := r.byID[id]
	if !ok {
		return nil
	}
	delete(r.byID, id)
	r.order.Remove(el)
	return el.Value.(*correlationEntry).listener
}

// Pending returns the number of listeners waiting for an answer.
func (r *CorrelationRegistry) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}

// Start launches the periodic timeout sweep. A second Start without an
// intervening Stop is a no-op.
func (r *CorrelationRegistry) Start(interval time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sweepStop != nil {
		return
	}
	stop := make(chan struct{})
	r.sweepStop = stop
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.sweep(time.Now())
			case <-stop:
				return
			}
		}
	}()
}

// Stop ends the timeout sweep. Safe to call repeatedly; the registry can
// be started again afterwards.
func (r *CorrelationRegistry) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sweepStop == nil {
		return
	}
	close(r.sweepStop)
	r.sweepStop = nil
}

// sweep expires every entry whose deadline passed. The list is deadline
// ordered, so iteration stops at the first live entry.
func (r *CorrelationRegistry) sweep(now time.Time) {
	var expired []*correlationEntry

	r.mu.Lock()
	for el := r.order.Front(); el != nil; {
		entry := el.Value.(*correlationEntry)
		if entry.deadline.After(now) {
			break
		}
		next := el.Next()
		r.order.Remove(el)
		delete(r.byID, entry.id)
		expired = append(expired, entry)
		el = next
	}
	r.mu.Unlock()

	for _, entry := range expired {
		resultTimeouts.Inc()
		notifyTimeout(entry.listener, entry.id)
	}
}

func notifyTimeout(l ResultListener, id string) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("result listener panicked on timeout", "id", id, "panic", rec)
		}
	}()
	l.AnswerTimeout(id)
}

func notifyAnswer(l ResultListener, iq *stanza.IQ) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("result listener panicked on answer", "id", iq.GetID(), "panic", rec)
		}
	}()
	l.ReceivedAnswer(iq)
}
