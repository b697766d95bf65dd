package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/leomeyer/OPDI-deprecated/pkg/log"
	"github.com/leomeyer/OPDI-deprecated/pkg/transport"
	"github.com/leomeyer/OPDI-deprecated/pkg/wire"
)

// Router errors.
var (
	// ErrTimeout indicates that no response arrived before the deadline.
	ErrTimeout = errors.New("timeout")

	// ErrDisconnected indicates that the session ended.
	ErrDisconnected = errors.New("disconnected")

	// ErrAborted indicates that the caller cancelled the operation.
	ErrAborted = errors.New("aborted")

	// ErrNoFreeChannel indicates that every channel is in use.
	ErrNoFreeChannel = errors.New("no free channel")

	// ErrChannelBusy indicates a channel already holding a mailbox or binding.
	ErrChannelBusy = errors.New("channel busy")

	// ErrMailboxFull indicates a second message for a channel whose
	// request has not consumed the first one.
	ErrMailboxFull = errors.New("mailbox full")
)

// DefaultMaxChannel is the highest channel number allocated for requests.
const DefaultMaxChannel = 0xFFFF

// Config configures a Router.
type Config struct {
	// Logger receives operational warnings (default: slog.Default()).
	Logger *slog.Logger

	// ProtocolLogger captures decoded messages (optional).
	ProtocolLogger log.Logger

	// ConnID and Address identify the session in capture events.
	ConnID  string
	Address string

	// MaxChannel bounds request channel allocation (default: DefaultMaxChannel).
	MaxChannel uint32
}

// ControlHandler handles control channel messages that no request waits for.
type ControlHandler func(msg wire.Message)

// StreamSink receives the payloads of a bound streaming channel in wire order.
type StreamSink func(payload string)

// ReplyHook runs on the reader goroutine when the response to an exchange
// arrives, before the exchange returns and before the next line is
// dispatched. It must not block or start another exchange.
type ReplyHook func(reply wire.Message)

// fill results.
const (
	filled = iota
	slotTaken
	requestEnded
)

// mailbox is the single response slot of one request.
type mailbox struct {
	ch      chan wire.Message
	sentAt  atomic.Int64
	onReply ReplyHook

	mu     sync.Mutex
	full   bool
	closed bool
}

func newMailbox(hook ReplyHook) *mailbox {
	return &mailbox{ch: make(chan wire.Message, 1), onReply: hook}
}

// fill stores msg in the slot. seen runs when msg is accepted, before the
// reply hook.
func (mb *mailbox) fill(msg wire.Message, seen func()) int {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	switch {
	case mb.closed:
		return requestEnded
	case mb.full:
		return slotTaken
	}
	mb.full = true
	seen()
	if mb.onReply != nil {
		mb.onReply(msg)
	}
	mb.ch <- msg
	return filled
}

// close ends the request. It waits for a fill in progress.
func (mb *mailbox) close() {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	mb.closed = true
}

// late returns a response that was stored while the request gave up.
func (mb *mailbox) late() (wire.Message, bool) {
	select {
	case msg := <-mb.ch:
		return msg, true
	default:
		return wire.Message{}, false
	}
}

func (mb *mailbox) elapsed() *time.Duration {
	sent := mb.sentAt.Load()
	if sent == 0 {
		return nil
	}
	d := time.Duration(time.Now().UnixNano() - sent)
	return &d
}

// Router demultiplexes inbound messages and matches requests to responses.
type Router struct {
	stream transport.Stream
	codec  *wire.Codec
	cfg    Config
	logger *slog.Logger

	mu        sync.Mutex
	mailboxes map[uint32]*mailbox
	sinks     map[uint32]StreamSink
	next      uint32
	control   ControlHandler
	onError   func(error)
	onClose   func(error)
	started   bool

	lastActivity atomic.Int64

	closeOnce  sync.Once
	closeErr   error
	cause      error
	done       chan struct{}
	readerDone chan struct{}
}

// New creates a Router for stream. Call Start to begin reading.
func New(stream transport.Stream, cfg Config) *Router {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxChannel == 0 {
		cfg.MaxChannel = DefaultMaxChannel
	}
	r := &Router{
		stream:     stream,
		codec:      wire.NewCodec(),
		cfg:        cfg,
		logger:     cfg.Logger.With("conn_id", cfg.ConnID),
		mailboxes:  make(map[uint32]*mailbox),
		sinks:      make(map[uint32]StreamSink),
		next:       1,
		done:       make(chan struct{}),
		readerDone: make(chan struct{}),
	}
	r.lastActivity.Store(time.Now().UnixNano())
	return r
}

// Codec returns the codec used for this stream.
func (r *Router) Codec() *wire.Codec {
	return r.codec
}

// SetControlHandler sets the handler for unsolicited control messages.
func (r *Router) SetControlHandler(h ControlHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.control = h
}

// SetErrorHandler sets a hook for non-fatal routing errors such as
// malformed lines and full mailboxes.
func (r *Router) SetErrorHandler(h func(error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onError = h
}

// SetCloseHandler sets the hook called once when the router closes.
// It runs on the goroutine that triggered the close, which is the
// reader goroutine when the link drops.
func (r *Router) SetCloseHandler(h func(cause error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onClose = h
}

// Start launches the reader goroutine. It is safe to call more than once.
func (r *Router) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return
	}
	r.started = true
	go r.readLoop()
}

// Done is closed when the router has closed.
func (r *Router) Done() <-chan struct{} {
	return r.done
}

// Cause returns the reason the router closed, or nil while open.
func (r *Router) Cause() error {
	select {
	case <-r.done:
		return r.cause
	default:
		return nil
	}
}

// Wait blocks until the reader goroutine has exited. It must not be
// called from a close handler.
func (r *Router) Wait() {
	r.mu.Lock()
	started := r.started
	r.mu.Unlock()
	if started {
		<-r.readerDone
	}
}

// LastActivity returns the time the last inbound line arrived.
func (r *Router) LastActivity() time.Time {
	return time.Unix(0, r.lastActivity.Load())
}

// Exchange sends payload on a freshly allocated channel and waits for the
// response on that channel. The channel is released on return.
// A timeout of zero waits until ctx is done or the router closes.
func (r *Router) Exchange(ctx context.Context, payload string, timeout time.Duration) (wire.Message, error) {
	return r.ExchangeHook(ctx, payload, timeout, nil)
}

// ExchangeHook is Exchange with a hook that sees the response on the
// reader goroutine. Once the response is accepted, further lines on the
// channel go to a streaming binding when one exists; a response that
// races with the deadline is returned rather than dropped, so the hook's
// effects are never hidden from the caller.
func (r *Router) ExchangeHook(ctx context.Context, payload string, timeout time.Duration, hook ReplyHook) (wire.Message, error) {
	r.mu.Lock()
	ch, err := r.allocate()
	if err != nil {
		r.mu.Unlock()
		return wire.Message{}, err
	}
	mb := newMailbox(hook)
	r.mailboxes[ch] = mb
	r.mu.Unlock()

	msg, err := r.roundTrip(ctx, ch, mb, payload, timeout)
	r.release(ch, mb)
	if err != nil && !r.closed() {
		if reply, ok := mb.late(); ok {
			return reply, nil
		}
	}
	return msg, err
}

// Control sends payload on the control channel and waits for the next
// control message. It is used during the handshake, before a control
// handler takes over the channel.
func (r *Router) Control(ctx context.Context, payload string, timeout time.Duration) (wire.Message, error) {
	mb, err := r.openControl()
	if err != nil {
		return wire.Message{}, err
	}
	defer r.release(wire.ControlChannel, mb)
	return r.roundTrip(ctx, wire.ControlChannel, mb, payload, timeout)
}

// Receive waits for the next control message without sending anything.
func (r *Router) Receive(ctx context.Context, timeout time.Duration) (wire.Message, error) {
	mb, err := r.openControl()
	if err != nil {
		return wire.Message{}, err
	}
	defer r.release(wire.ControlChannel, mb)
	return r.wait(ctx, wire.ControlChannel, mb, timeout)
}

func (r *Router) openControl() (*mailbox, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed() {
		return nil, r.cause
	}
	if _, busy := r.mailboxes[wire.ControlChannel]; busy {
		return nil, fmt.Errorf("%w: control channel", ErrChannelBusy)
	}
	mb := newMailbox(nil)
	r.mailboxes[wire.ControlChannel] = mb
	return mb, nil
}

func (r *Router) roundTrip(ctx context.Context, ch uint32, mb *mailbox, payload string, timeout time.Duration) (wire.Message, error) {
	mb.sentAt.Store(time.Now().UnixNano())
	if err := r.Send(ch, payload); err != nil {
		return wire.Message{}, err
	}
	return r.wait(ctx, ch, mb, timeout)
}

func (r *Router) wait(ctx context.Context, ch uint32, mb *mailbox, timeout time.Duration) (wire.Message, error) {
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case msg := <-mb.ch:
		return msg, nil
	case <-expired:
		return wire.Message{}, fmt.Errorf("%w: no response on channel %d after %v", ErrTimeout, ch, timeout)
	case <-ctx.Done():
		return wire.Message{}, fmt.Errorf("%w: %w", ErrAborted, ctx.Err())
	case <-r.done:
		return wire.Message{}, r.cause
	}
}

// Send writes payload on channel without waiting for a response.
func (r *Router) Send(channel uint32, payload string) error {
	if r.closed() {
		return r.cause
	}
	msg := wire.Message{Channel: channel, Payload: payload}
	if err := r.stream.WriteLine(r.codec.Encode(msg)); err != nil {
		if r.closed() {
			return r.cause
		}
		return fmt.Errorf("%w: %w", ErrDisconnected, err)
	}
	r.capture(msg, log.DirectionOut, nil)
	return nil
}

// Bind routes messages arriving on channel to sink. Request allocation
// skips bound channels until Unbind.
func (r *Router) Bind(channel uint32, sink StreamSink) error {
	if channel == wire.ControlChannel {
		return fmt.Errorf("%w: cannot bind the control channel", ErrChannelBusy)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed() {
		return r.cause
	}
	if _, bound := r.sinks[channel]; bound {
		return fmt.Errorf("%w: channel %d already bound", ErrChannelBusy, channel)
	}
	r.sinks[channel] = sink
	return nil
}

// Unbind removes the binding for channel. Later messages on it are dropped.
func (r *Router) Unbind(channel uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sinks, channel)
}

// IsBound reports whether channel has a streaming binding.
func (r *Router) IsBound(channel uint32) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.sinks[channel]
	return ok
}

// Pending returns the number of channels currently waiting for a response.
func (r *Router) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.mailboxes)
}

// Close stops the router: it closes the stream, which stops the reader,
// and fails every pending request with cause (ErrDisconnected when nil).
// Only the first call has an effect.
func (r *Router) Close(cause error) error {
	r.closeOnce.Do(func() {
		if cause == nil {
			cause = ErrDisconnected
		}

		r.mu.Lock()
		r.cause = cause
		close(r.done)
		r.mailboxes = make(map[uint32]*mailbox)
		r.sinks = make(map[uint32]StreamSink)
		onClose := r.onClose
		r.mu.Unlock()

		r.closeErr = r.stream.Close()

		if onClose != nil {
			onClose(cause)
		}
	})
	return r.closeErr
}

// allocate returns the next free request channel. r.mu must be held.
func (r *Router) allocate() (uint32, error) {
	if r.closed() {
		return 0, r.cause
	}
	for i := uint32(0); i < r.cfg.MaxChannel; i++ {
		ch := r.next
		r.next++
		if r.next > r.cfg.MaxChannel {
			r.next = 1
		}
		if _, busy := r.mailboxes[ch]; busy {
			continue
		}
		if _, bound := r.sinks[ch]; bound {
			continue
		}
		return ch, nil
	}
	return 0, ErrNoFreeChannel
}

func (r *Router) release(ch uint32, mb *mailbox) {
	mb.close()
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.mailboxes[ch] == mb {
		delete(r.mailboxes, ch)
	}
}

func (r *Router) closed() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

func (r *Router) readLoop() {
	defer close(r.readerDone)

	for {
		line, err := r.stream.ReadLine(time.Time{})
		if err != nil {
			switch {
			case r.closed():
				return
			case errors.Is(err, transport.ErrReadTimeout):
				continue
			case errors.Is(err, transport.ErrLineTooLong):
				r.logger.Warn("dropping overlong line")
				r.reportError(err)
				continue
			default:
				r.Close(fmt.Errorf("%w: %w", ErrDisconnected, err))
				return
			}
		}

		r.lastActivity.Store(time.Now().UnixNano())

		msg, err := r.codec.Decode(line)
		if err != nil {
			r.logger.Warn("dropping malformed line", "line", line, "error", err)
			r.reportError(err)
			continue
		}
		r.dispatch(msg)
	}
}

func (r *Router) dispatch(msg wire.Message) {
	r.mu.Lock()
	mb, waiting := r.mailboxes[msg.Channel]
	sink, bound := r.sinks[msg.Channel]
	control := r.control
	r.mu.Unlock()

	full := false
	if waiting {
		switch mb.fill(msg, func() { r.capture(msg, log.DirectionIn, mb.elapsed()) }) {
		case filled:
			return
		case slotTaken:
			full = true
		}
	}

	switch {
	case bound:
		r.capture(msg, log.DirectionIn, nil)
		sink(msg.Payload)

	case full:
		r.capture(msg, log.DirectionIn, nil)
		r.logger.Warn("mailbox full, dropping message", "channel", msg.Channel, "payload", msg.Payload)
		r.reportError(fmt.Errorf("%w: channel %d", ErrMailboxFull, msg.Channel))

	case msg.IsControl() && control != nil:
		r.capture(msg, log.DirectionIn, nil)
		control(msg)

	default:
		r.capture(msg, log.DirectionIn, nil)
		r.logger.Warn("dropping message on unused channel", "channel", msg.Channel, "payload", msg.Payload)
	}
}

func (r *Router) reportError(err error) {
	r.mu.Lock()
	h := r.onError
	r.mu.Unlock()
	if h != nil {
		h(err)
	}
}

func (r *Router) capture(msg wire.Message, direction log.Direction, elapsed *time.Duration) {
	if r.cfg.ProtocolLogger == nil {
		return
	}
	category := log.CategoryMessage
	if msg.IsControl() {
		category = log.CategoryControl
	}
	r.cfg.ProtocolLogger.Log(log.Event{
		Timestamp:     time.Now(),
		ConnectionID:  r.cfg.ConnID,
		Direction:     direction,
		Layer:         log.LayerWire,
		Category:      category,
		DeviceAddress: r.cfg.Address,
		Message: &log.MessageEvent{
			Channel: msg.Channel,
			Magic:   msg.Magic(),
			Payload: msg.Payload,
			Elapsed: elapsed,
		},
	})
}
