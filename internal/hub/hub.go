package hub

import (
	"context"
	"log/slog"
	"sync"

	"classlens/pkg/interfaces"
	"classlens/pkg/types"
)

// Processor applies decoded presence events; it is only ever called from the hub goroutine
type Processor interface {
	HandleMessage(connectionID string, identity types.Identity, msg types.InboundMessage)
	HandleDisconnect(connectionID string)
}

// event is either an inbound frame or a disconnect for one connection
type event struct {
	connectionID string
	identity     types.Identity
	frame        []byte
	disconnect   bool
}

// Hub serialises every presence event through one goroutine
// ARCHITECTURAL DISCOVERY: Frames and disconnects share one channel so a
// connection's disconnect can never overtake a frame it sent earlier; that
// keeps per-connection receive order without per-session locks
type Hub struct {
	events          chan event    // TECHNICAL DISCOVERY: 1000 buffer absorbs join storms at class start
	shutdownChannel chan struct{} // Unbuffered for immediate shutdown signaling
	stopped         chan struct{} // closed when the run loop returns

	processor Processor
	delivery  interfaces.Delivery
	logger    *slog.Logger

	running bool
	mu      sync.RWMutex
}

// NewHub creates a hub feeding processor; delivery is used for error replies
func NewHub(processor Processor, delivery interfaces.Delivery, bufferSize int, logger *slog.Logger) *Hub {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		events:          make(chan event, bufferSize),
		shutdownChannel: make(chan struct{}),
		stopped:         make(chan struct{}),
		processor:       processor,
		delivery:        delivery,
		logger:          logger,
	}
}

// Start begins hub processing
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return ErrHubAlreadyRunning
	}
	h.running = true
	h.mu.Unlock()

	h.logger.Info("starting presence hub")
	go h.run(ctx)

	return nil
}

// Stop signals the loop to exit and waits for it
func (h *Hub) Stop() error {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return ErrHubNotRunning
	}
	h.running = false

	// TECHNICAL DISCOVERY: Safe channel close using select to prevent panic
	select {
	case <-h.shutdownChannel:
	default:
		close(h.shutdownChannel)
	}
	h.mu.Unlock()

	<-h.stopped
	h.logger.Info("presence hub stopped")
	return nil
}

// Submit queues an inbound frame
// FUNCTIONAL DISCOVERY: Blocks while the queue is full, which pushes
// backpressure onto the reading connection instead of dropping presence events
func (h *Hub) Submit(connectionID string, identity types.Identity, frame []byte) error {
	return h.enqueue(event{connectionID: connectionID, identity: identity, frame: frame})
}

// Disconnect queues roster cleanup for a closed connection
func (h *Hub) Disconnect(connectionID string) error {
	return h.enqueue(event{connectionID: connectionID, disconnect: true})
}

func (h *Hub) enqueue(ev event) error {
	h.mu.RLock()
	running := h.running
	h.mu.RUnlock()
	if !running {
		return ErrHubNotRunning
	}

	select {
	case h.events <- ev:
		return nil
	case <-h.shutdownChannel:
		return ErrHubNotRunning
	}
}

// run is the main hub processing loop
// TECHNICAL DISCOVERY: Single select loop handles all coordination
// preventing race conditions on the roster
func (h *Hub) run(ctx context.Context) {
	defer close(h.stopped)

	for {
		select {
		case ev := <-h.events:
			h.handle(ev)

		case <-h.shutdownChannel:
			return

		case <-ctx.Done():
			h.mu.Lock()
			h.running = false
			select {
			case <-h.shutdownChannel:
			default:
				close(h.shutdownChannel)
			}
			h.mu.Unlock()
			return
		}
	}
}

func (h *Hub) handle(ev event) {
	if ev.disconnect {
		h.processor.HandleDisconnect(ev.connectionID)
		return
	}

	msg, err := types.DecodeInbound(ev.frame)
	if err != nil {
		// Malformed frames are dropped; only the sender hears about it
		h.logger.Warn("dropping invalid presence frame",
			"connection_id", ev.connectionID,
			"account_id", ev.identity.AccountID,
			"error", err)
		reply := types.NewOutbound(types.MessageTypeError, types.ErrorPayload{Message: err.Error()})
		if sendErr := h.delivery.SendTo(ev.connectionID, reply); sendErr != nil {
			h.logger.Debug("error reply not delivered", "connection_id", ev.connectionID, "error", sendErr)
		}
		return
	}

	h.processor.HandleMessage(ev.connectionID, ev.identity, msg)
}
