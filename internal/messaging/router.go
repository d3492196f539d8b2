package messaging

import (
	"context"
	"log/slog"
	"sync"

	"github.com/BTreeMap/GoalPipe/internal/models"
)

// Handler produces replies for an inbound event.
type Handler interface {
	Handle(ctx context.Context, ev models.Event) []models.OutboundMessage
}

// Router reads a Service's events and hands them to a Handler. Each chat gets its own
// worker, so chats proceed independently while one chat's events keep their order.
type Router struct {
	svc     Service
	handler Handler

	mu     sync.Mutex
	queues map[string]chan models.Event
	wg     sync.WaitGroup
}

// NewRouter creates a Router.
func NewRouter(svc Service, handler Handler) *Router {
	return &Router{
		svc:     svc,
		handler: handler,
		queues:  make(map[string]chan models.Event),
	}
}

// Run consumes events and receipts until ctx is cancelled or the service closes its
// event channel, then waits for in-flight events to finish.
func (r *Router) Run(ctx context.Context) {
	slog.Info("Router started")
	defer func() {
		r.wg.Wait()
		slog.Info("Router stopped")
	}()

	events := r.svc.Events()
	receipts := r.svc.Receipts()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			r.enqueue(ctx, ev)
		case rc, ok := <-receipts:
			if !ok {
				receipts = nil
				continue
			}
			slog.Debug("Router receipt", "to", rc.To, "status", rc.Status)
		}
	}
}

// enqueue hands ev to its chat's worker, starting one if needed. The send happens
// under the lock so a worker cannot retire between lookup and send.
func (r *Router) enqueue(ctx context.Context, ev models.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	q, ok := r.queues[ev.ChatID]
	if !ok {
		q = make(chan models.Event, DefaultChannelBufferSize)
		r.queues[ev.ChatID] = q
		r.wg.Add(1)
		go r.worker(ctx, ev.ChatID, q)
	}
	q <- ev
}

func (r *Router) worker(ctx context.Context, chatID string, q chan models.Event) {
	defer r.wg.Done()
	for {
		select {
		case ev := <-q:
			r.dispatch(ctx, ev)
		default:
			r.mu.Lock()
			if len(q) == 0 {
				delete(r.queues, chatID)
				r.mu.Unlock()
				return
			}
			r.mu.Unlock()
		}
	}
}

func (r *Router) dispatch(ctx context.Context, ev models.Event) {
	for _, msg := range r.handler.Handle(ctx, ev) {
		if err := r.svc.SendMessage(ctx, msg.To, Render(msg)); err != nil {
			slog.Error("Router failed to send reply", "to", msg.To, "error", err)
		}
	}
}
