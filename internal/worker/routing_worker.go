package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/spec-kit/student-support/internal/config"
	"github.com/spec-kit/student-support/internal/domain"
	"github.com/spec-kit/student-support/internal/events"
	"github.com/spec-kit/student-support/internal/observability"
	"github.com/spec-kit/student-support/internal/reply"
)

var (
	// ErrQueueFull is returned when the routing queue has no free slot.
	ErrQueueFull = errors.New("routing queue is full")
	// ErrWorkerStopped is returned when enqueueing after Stop.
	ErrWorkerStopped = errors.New("routing worker stopped")
)

// Item is one student message awaiting an automated follow-up.
type Item struct {
	ThreadID string
	Sender   domain.Role
	Text     string
}

// ThreadReader reads thread state for prompt building.
type ThreadReader interface {
	GetThread(ctx context.Context, threadID string) (domain.Thread, error)
	ListMessages(ctx context.Context, threadID string) ([]domain.Message, error)
}

// MessagePoster appends platform-authored messages through the regular notification path.
type MessagePoster interface {
	PostAutomatedMessage(ctx context.Context, threadID string, sender domain.Role, text string) (domain.Message, error)
}

// Dependencies wires the worker.
type Dependencies struct {
	Threads   ThreadReader
	Poster    MessagePoster
	Generator reply.Generator
	Config    config.RoutingConfig
	Logger    *zap.Logger
	Metrics   *observability.Metrics
}

// RoutingWorker answers student messages asynchronously, one item at a time in enqueue order.
type RoutingWorker struct {
	threads   ThreadReader
	poster    MessagePoster
	generator reply.Generator
	ackText   string
	fallback  string
	logger    *zap.Logger
	metrics   *observability.Metrics

	queue chan Item

	mu      sync.Mutex
	running bool
	stopped bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewRoutingWorker builds a worker with a bounded queue.
func NewRoutingWorker(deps Dependencies) *RoutingWorker {
	size := deps.Config.QueueSize
	if size <= 0 {
		size = 256
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	generator := deps.Generator
	if generator == nil {
		generator = reply.Disabled{}
	}
	ack := deps.Config.AckText
	if ack == "" {
		ack = "Your request has been received and will be routed to the right office."
	}
	fallback := deps.Config.FallbackText
	if fallback == "" {
		fallback = "Your request has been received. We will reply soon."
	}
	return &RoutingWorker{
		threads:   deps.Threads,
		poster:    deps.Poster,
		generator: generator,
		ackText:   ack,
		fallback:  fallback,
		logger:    logger,
		metrics:   deps.Metrics,
		queue:     make(chan Item, size),
	}
}

// Enqueue hands item to the worker without blocking. A full queue rejects the item.
func (w *RoutingWorker) Enqueue(item Item) error {
	w.mu.Lock()
	stopped := w.stopped
	w.mu.Unlock()
	if stopped {
		return ErrWorkerStopped
	}

	select {
	case w.queue <- item:
		w.metrics.SetQueueDepth(len(w.queue))
		return nil
	default:
		w.metrics.RecordRouting(observability.RoutingRejected)
		w.logger.Warn("routing queue full, item rejected",
			zap.String("thread_id", item.ThreadID),
			zap.Int("capacity", cap(w.queue)))
		return ErrQueueFull
	}
}

// HandleEvent enqueues student-authored messages announced on the dispatcher.
func (w *RoutingWorker) HandleEvent(_ context.Context, event events.Event) error {
	if !event.IsStudentMessage() {
		return nil
	}
	err := w.Enqueue(Item{ThreadID: event.ThreadID, Sender: event.Payload.SenderRole, Text: event.Payload.Text})
	if errors.Is(err, ErrQueueFull) {
		return nil
	}
	return err
}

// Register subscribes the worker to events that can carry a new student message.
func (w *RoutingWorker) Register(dispatcher events.Dispatcher) {
	dispatcher.Subscribe(events.EventThreadCreated, w.HandleEvent)
	dispatcher.Subscribe(events.EventMessagePosted, w.HandleEvent)
}

// Start launches the processing loop. It returns immediately.
func (w *RoutingWorker) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running || w.stopped {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.running = true

	w.wg.Add(1)
	go w.run(ctx)
}

// Stop ends the processing loop and waits for the in-flight item. Queued items are discarded.
func (w *RoutingWorker) Stop() {
	w.mu.Lock()
	w.stopped = true
	cancel := w.cancel
	w.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	w.wg.Wait()
}

// Pending returns the number of queued items.
func (w *RoutingWorker) Pending() int {
	return len(w.queue)
}

func (w *RoutingWorker) run(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case item := <-w.queue:
			w.metrics.SetQueueDepth(len(w.queue))
			w.process(ctx, item)
		}
	}
}

func (w *RoutingWorker) process(ctx context.Context, item Item) {
	defer func() {
		if r := recover(); r != nil {
			w.metrics.RecordRouting(observability.RoutingDropped)
			w.logger.Error("routing item panicked", zap.String("thread_id", item.ThreadID), zap.Any("panic", r))
		}
	}()

	text, outcome := w.candidateReply(ctx, item)
	if _, err := w.poster.PostAutomatedMessage(ctx, item.ThreadID, domain.RoleAssistant, text); err != nil {
		w.logger.Warn("routing reply append failed, posting fallback",
			zap.String("thread_id", item.ThreadID), zap.Error(err))
		if _, err := w.poster.PostAutomatedMessage(ctx, item.ThreadID, domain.RoleAssistant, w.fallback); err != nil {
			w.metrics.RecordRouting(observability.RoutingDropped)
			w.logger.Error("routing item dropped",
				zap.String("thread_id", item.ThreadID), zap.Error(err))
			return
		}
		outcome = observability.RoutingFallback
	}
	w.metrics.RecordRouting(outcome)
}

// candidateReply never fails: any lookup or generation problem degrades to the acknowledgement.
func (w *RoutingWorker) candidateReply(ctx context.Context, item Item) (string, string) {
	thread, err := w.threads.GetThread(ctx, item.ThreadID)
	if err != nil {
		w.logger.Debug("routing thread lookup failed", zap.String("thread_id", item.ThreadID), zap.Error(err))
		return w.ackText, observability.RoutingAcknowledged
	}
	history, err := w.threads.ListMessages(ctx, item.ThreadID)
	if err != nil {
		w.logger.Debug("routing history lookup failed", zap.String("thread_id", item.ThreadID), zap.Error(err))
		return w.ackText, observability.RoutingAcknowledged
	}

	text, err := w.generate(ctx, thread, history, item.Text)
	if err != nil {
		w.logger.Info("reply generation unavailable, acknowledging", zap.String("thread_id", item.ThreadID), zap.Error(err))
		return w.ackText, observability.RoutingAcknowledged
	}
	if text == "" {
		return w.ackText, observability.RoutingAcknowledged
	}
	return text, observability.RoutingReplied
}

func (w *RoutingWorker) generate(ctx context.Context, thread domain.Thread, history []domain.Message, text string) (reply string, err error) {
	defer func() {
		if r := recover(); r != nil {
			reply, err = "", fmt.Errorf("reply generator panicked: %v", r)
		}
	}()
	return w.generator.GenerateReply(ctx, thread, history, text)
}
