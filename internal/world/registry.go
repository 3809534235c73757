// ABOUTME: Registry of world actors keyed by world id
// ABOUTME: Entry point for subscribing to worlds and for world-level administration

package world

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/2389/agentworld/internal/bus"
	"github.com/2389/agentworld/internal/store"
)

// DefaultTurnLimit is used for worlds created without one.
const DefaultTurnLimit = 5

var (
	// ErrWorldNotLoaded is returned by operations on a subscription that has
	// been released or whose world has been unloaded.
	ErrWorldNotLoaded = errors.New("world not loaded")

	// ErrWorldInUse is returned when deleting a world that has subscribers.
	ErrWorldInUse = errors.New("world has active subscribers")

	// ErrRegistryClosed is returned by Subscribe after Close.
	ErrRegistryClosed = errors.New("registry closed")

	// ErrAgentExists is returned when creating an agent whose id is taken.
	ErrAgentExists = errors.New("agent already exists")
)

// Config configures a Registry.
type Config struct {
	Store            store.Store
	Loader           Loader              // nil means StoreLoader{Store}
	Providers        bus.ProviderFactory // nil means in-process delivery
	Persist          bool
	HistoryLimit     int
	DefaultTurnLimit int
	Logger           *slog.Logger
}

// Info is a diagnostic snapshot of one world's actor.
type Info struct {
	Loaded   bool
	RefCount int
}

// Registry maps world ids to their actors. Each world has at most one actor
// at a time, and that actor serializes every mutation of the world.
type Registry struct {
	cfg    Config
	logger *slog.Logger

	mu     sync.Mutex
	actors map[string]*actor
	closed bool
}

// NewRegistry creates a registry.
func NewRegistry(cfg Config) *Registry {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Loader == nil {
		cfg.Loader = StoreLoader{Store: cfg.Store}
	}
	if cfg.Providers == nil {
		cfg.Providers = bus.LocalFactory(logger)
	}
	if cfg.DefaultTurnLimit <= 0 {
		cfg.DefaultTurnLimit = DefaultTurnLimit
	}
	return &Registry{
		cfg:    cfg,
		logger: logger.With("component", "world"),
		actors: make(map[string]*actor),
	}
}

// Subscribe attaches to a world, loading it if no one else holds it.
// Concurrent first subscribers share a single load.
func (r *Registry) Subscribe(ctx context.Context, worldID string) (*Subscription, error) {
	for {
		a, err := r.actorFor(worldID)
		if err != nil {
			return nil, err
		}
		sub, err := a.subscribe(ctx)
		if errors.Is(err, errActorStopped) {
			// Lost a race with the last unsubscribe; the next actor starts fresh.
			continue
		}
		return sub, err
	}
}

func (r *Registry) actorFor(worldID string) (*actor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrRegistryClosed
	}
	if a, ok := r.actors[worldID]; ok {
		return a, nil
	}
	a := newActor(r, worldID)
	r.actors[worldID] = a
	go a.run()
	return a, nil
}

// remove drops a from the registry if it is still the actor for its world.
func (r *Registry) remove(a *actor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.actors[a.worldID] == a {
		delete(r.actors, a.worldID)
	}
}

// Info reports whether a world is loaded and how many subscribers hold it.
// The answer is advisory; it may change as soon as it is returned.
func (r *Registry) Info(worldID string) Info {
	r.mu.Lock()
	a, ok := r.actors[worldID]
	r.mu.Unlock()
	if !ok {
		return Info{}
	}
	return a.snapshot()
}

// CreateWorld persists a new world.
func (r *Registry) CreateWorld(ctx context.Context, w *store.World) error {
	if w.ID == "" {
		return fmt.Errorf("world id is required")
	}
	if w.Name == "" {
		w.Name = w.ID
	}
	if w.TurnLimit <= 0 {
		w.TurnLimit = r.cfg.DefaultTurnLimit
	}
	if err := r.cfg.Store.CreateWorld(ctx, w); err != nil {
		return err
	}
	r.logger.Info("world created", "world_id", w.ID, "name", w.Name)
	return nil
}

// Worlds lists every persisted world.
func (r *Registry) Worlds(ctx context.Context) ([]*store.World, error) {
	return r.cfg.Store.ListWorlds(ctx)
}

// DeleteWorld removes a world and everything it owns. Loaded worlds cannot
// be deleted.
func (r *Registry) DeleteWorld(ctx context.Context, worldID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.actors[worldID]; ok {
		return ErrWorldInUse
	}
	if err := r.cfg.Store.DeleteWorld(ctx, worldID); err != nil {
		return err
	}
	r.logger.Info("world deleted", "world_id", worldID)
	return nil
}

// DeleteMessage removes a message and everything after it in its chat from
// every agent's memory. Unlike most lookups it fails with store.ErrNotFound
// when the world does not exist.
func (r *Registry) DeleteMessage(ctx context.Context, worldID, chatID, messageID string) (int, error) {
	if _, err := r.cfg.Store.LoadWorld(ctx, worldID); err != nil {
		return 0, err
	}
	sub, err := r.Subscribe(ctx, worldID)
	if err != nil {
		return 0, err
	}
	defer sub.Unsubscribe()
	return sub.DeleteMessage(ctx, chatID, messageID)
}

// Close unloads every world and rejects later subscribes.
func (r *Registry) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	actors := make([]*actor, 0, len(r.actors))
	for _, a := range r.actors {
		actors = append(actors, a)
	}
	r.mu.Unlock()

	for _, a := range actors {
		a.shutdown()
	}
	r.logger.Info("registry closed", "worlds", len(actors))
	return nil
}
