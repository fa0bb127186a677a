package app

import (
	"errors"
	"sync"

	"motorbay/internal/realtime"
	"motorbay/pkg/domain"
	"motorbay/pkg/store"
)

// Config wires required collaborators for the engagement core.
type Config struct {
	Store      store.Store
	Markers    store.ReadMarkerStore
	Dispatcher *realtime.Dispatcher
}

// App implements the message channel and the test-drive workflow engine.
// It holds no request state of its own; the hub behind the dispatcher is
// the only shared mutable structure.
type App struct {
	store      store.Store
	markers    store.ReadMarkerStore
	dispatcher *realtime.Dispatcher

	mu        sync.Mutex
	convLocks map[domain.ConversationKey]*sync.Mutex
}

// New constructs the application core.
func New(cfg Config) (*App, error) {
	if cfg.Store == nil {
		return nil, errors.New("store required")
	}
	if cfg.Markers == nil {
		return nil, errors.New("read marker store required")
	}
	if cfg.Dispatcher == nil {
		return nil, errors.New("dispatcher required")
	}
	return &App{
		store:      cfg.Store,
		markers:    cfg.Markers,
		dispatcher: cfg.Dispatcher,
		convLocks:  make(map[domain.ConversationKey]*sync.Mutex),
	}, nil
}

// lockConversation returns the mutex serializing sends for one thread, so
// near-simultaneous sends from both participants fan out in the same order
// to each side.
func (a *App) lockConversation(key domain.ConversationKey) *sync.Mutex {
	a.mu.Lock()
	defer a.mu.Unlock()
	l, ok := a.convLocks[key]
	if !ok {
		l = &sync.Mutex{}
		a.convLocks[key] = l
	}
	return l
}
