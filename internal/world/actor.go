// ABOUTME: Per-world actor goroutine owning a loaded world's runtime state
// ABOUTME: Serializes load, reference counting, unload, and every state mutation

package world

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/agentworld/internal/addressing"
	"github.com/2389/agentworld/internal/approval"
	"github.com/2389/agentworld/internal/bus"
	"github.com/2389/agentworld/internal/event"
	"github.com/2389/agentworld/internal/metrics"
	"github.com/2389/agentworld/internal/store"
)

// errActorStopped means the actor unloaded before it could take the request.
var errActorStopped = errors.New("world actor stopped")

type actor struct {
	reg     *Registry
	worldID string
	logger  *slog.Logger

	ops  chan func()
	done chan struct{}

	// Owned by the run goroutine.
	loaded   bool
	refs     int
	world    *store.World
	agents   map[string]*store.Agent
	chats    map[string]*store.Chat
	bus      *bus.Bus
	gate     *approval.Gate
	cleanups []func()
	activity *activity

	infoMu sync.Mutex
	info   Info
}

func newActor(r *Registry, worldID string) *actor {
	return &actor{
		reg:     r,
		worldID: worldID,
		logger:  r.logger.With("world_id", worldID),
		ops:     make(chan func()),
		done:    make(chan struct{}),
	}
}

func (a *actor) run() {
	for {
		select {
		case op := <-a.ops:
			op()
		case <-a.done:
			return
		}
	}
}

// do runs fn on the actor goroutine and waits for it. fn must not call back
// into the actor.
func (a *actor) do(fn func() error) error {
	result := make(chan error, 1)
	select {
	case a.ops <- func() { result <- fn() }:
	case <-a.done:
		return errActorStopped
	}
	return <-result
}

func (a *actor) snapshot() Info {
	a.infoMu.Lock()
	defer a.infoMu.Unlock()
	return a.info
}

func (a *actor) publishInfo() {
	a.infoMu.Lock()
	a.info = Info{Loaded: a.loaded, RefCount: a.refs}
	a.infoMu.Unlock()
}

// stop removes the actor from the registry and ends its goroutine. Called on
// the actor goroutine.
func (a *actor) stop() {
	a.reg.remove(a)
	close(a.done)
}

func (a *actor) subscribe(ctx context.Context) (*Subscription, error) {
	var sub *Subscription
	err := a.do(func() error {
		if !a.loaded {
			if err := a.load(ctx); err != nil {
				if a.refs == 0 {
					a.stop()
				}
				return err
			}
		}
		a.refs++
		a.publishInfo()
		sub = &Subscription{a: a, id: uuid.New().String(), bus: a.bus}
		a.logger.Debug("subscribed", "subscription_id", sub.id, "refs", a.refs)
		return nil
	})
	return sub, err
}

func (a *actor) release(subID string) {
	err := a.do(func() error {
		a.refs--
		a.logger.Debug("unsubscribed", "subscription_id", subID, "refs", a.refs)
		if a.refs > 0 {
			a.publishInfo()
			return nil
		}
		a.unload()
		a.stop()
		return nil
	})
	if err != nil {
		a.logger.Warn("release after actor stopped", "subscription_id", subID)
	}
}

// shutdown force-unloads the world regardless of subscribers.
func (a *actor) shutdown() {
	_ = a.do(func() error {
		a.refs = 0
		a.unload()
		a.stop()
		return nil
	})
}

func (a *actor) load(ctx context.Context) error {
	st, err := a.reg.cfg.Loader.Load(ctx, a.worldID)
	if err != nil {
		a.logger.Error("failed to load world", "error", err)
		return err
	}

	provider, err := a.reg.cfg.Providers(a.worldID)
	if err != nil {
		return fmt.Errorf("creating event provider: %w", err)
	}

	a.world = st.World
	a.agents = st.Agents
	a.chats = st.Chats
	if a.agents == nil {
		a.agents = make(map[string]*store.Agent)
	}
	if a.chats == nil {
		a.chats = make(map[string]*store.Chat)
	}
	if a.world.CurrentChatID != nil {
		if _, ok := a.chats[*a.world.CurrentChatID]; !ok {
			a.logger.Warn("current chat missing, clearing", "chat_id", *a.world.CurrentChatID)
			a.world.CurrentChatID = nil
		}
	}

	a.bus = bus.New(bus.Config{
		WorldID:      a.worldID,
		Provider:     provider,
		Log:          a.reg.cfg.Store,
		Persist:      a.reg.cfg.Persist,
		HistoryLimit: a.reg.cfg.HistoryLimit,
		Logger:       a.reg.logger,
	})
	a.bus.SetCurrentChat(a.world.CurrentChatID)
	a.bus.SetRoster(a.roster())
	a.gate = approval.NewGate(a.bus, a.reg.logger)

	a.activity = newActivity()
	a.cleanups = []func(){
		a.bus.Subscribe(bus.TopicMessages, a.activity.observe, nil),
		a.bus.Subscribe(bus.TopicSSE, a.activity.observe, nil),
		a.bus.Subscribe(bus.TopicTool, a.activity.observe, nil),
	}

	a.loaded = true
	metrics.WorldLoads.Inc()
	metrics.WorldsLoaded.Inc()
	a.logger.Info("world loaded", "agents", len(a.agents), "chats", len(a.chats))
	return nil
}

// unload runs cleanups in reverse registration order, closes the bus, and
// only then marks the world unloaded.
func (a *actor) unload() {
	if !a.loaded {
		a.publishInfo()
		return
	}
	for i := len(a.cleanups) - 1; i >= 0; i-- {
		a.runCleanup(a.cleanups[i])
	}
	a.cleanups = nil
	a.persistActivity()

	a.gate.Clear()
	if err := a.bus.Close(); err != nil {
		a.logger.Warn("failed to close bus", "error", err)
	}

	a.world, a.agents, a.chats = nil, nil, nil
	a.bus, a.gate, a.activity = nil, nil, nil
	a.loaded = false
	a.publishInfo()

	metrics.WorldUnloads.Inc()
	metrics.WorldsLoaded.Dec()
	a.logger.Info("world unloaded")
}

func (a *actor) runCleanup(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("cleanup panicked", "panic", r)
		}
	}()
	fn()
}

// persistActivity writes the activity observed since load back to agents.
func (a *actor) persistActivity() {
	ctx := context.Background()
	for id, seen := range a.activity.drain() {
		agent, ok := a.agents[id]
		if !ok {
			continue
		}
		if agent.LastActive != nil && !seen.last.After(*agent.LastActive) && seen.calls == 0 {
			continue
		}
		last := seen.last
		agent.LastActive = &last
		agent.LLMCallCount += seen.calls
		if err := a.reg.cfg.Store.SaveAgent(ctx, a.worldID, agent); err != nil {
			a.logger.Warn("failed to save agent activity", "agent_id", id, "error", err)
		}
	}
}

func (a *actor) roster() []addressing.Agent {
	out := make([]addressing.Agent, 0, len(a.agents))
	for _, ag := range sortedAgents(a.agents) {
		out = append(out, addressing.Agent{ID: ag.ID, Name: ag.Name})
	}
	return out
}

// notify surfaces a lifecycle failure to operators as a system event.
func (a *actor) notify(ctx context.Context, op string, err error) {
	if a.bus == nil {
		return
	}
	_, perr := a.bus.Publish(ctx, bus.TopicSystem, event.SystemPayload{
		Kind:    "world-error",
		Content: fmt.Sprintf("%s failed: %v", op, err),
		Data:    map[string]any{"operation": op},
	})
	if perr != nil {
		a.logger.Warn("failed to publish world error", "error", perr)
	}
}

// activity tracks when agents last acted on the bus. Handlers run on the
// publisher's goroutine, so it has its own lock.
type activity struct {
	mu   sync.Mutex
	seen map[string]agentActivity
}

type agentActivity struct {
	last  time.Time
	calls int
}

func newActivity() *activity {
	return &activity{seen: make(map[string]agentActivity)}
}

func (t *activity) observe(e *event.Event) {
	if event.SenderType(e.Meta.String(event.MetaSenderType)) != event.SenderAgent {
		return
	}
	id := e.Meta.String(event.MetaAgentID)
	if id == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.seen[id]
	if e.CreatedAt.After(s.last) {
		s.last = e.CreatedAt
	}
	if sse, ok := e.Payload.(event.SSEPayload); ok && sse.Type == event.SSEStart {
		s.calls++
	}
	t.seen[id] = s
}

func (t *activity) lastActive(agentID string) (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.seen[agentID]
	return s.last, ok
}

func (t *activity) drain() map[string]agentActivity {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := t.seen
	t.seen = make(map[string]agentActivity)
	return out
}
