package supervisor

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/pgkeep/pgkeep/internal/pgerrors"
)

// DefaultBlockingTimeout bounds how long Serve waits on a single connection's
// request frame before giving up, the blocking_timeout
// (default 30s), applied at the reactor level rather than per-stage.
const DefaultBlockingTimeout = 30 * time.Second

// Reactor owns the control-socket listener and dispatches each
// accepted connection to the Dispatcher. The original design is a
// single-threaded libev-style reactor forking a child process per
// command; this accepts one goroutine per connection instead (an
// idiomatic in-process substitute authorized by the design), with
// each connection handled start-to-finish by its own goroutine exactly
// as a forked child would have handled it alone.
type Reactor struct {
	Listener        net.Listener
	Dispatcher      *Dispatcher
	Codec           Codec
	BlockingTimeout time.Duration
	Log             func(format string, args ...any)

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewReactor builds a Reactor over an already-bound listener.
func NewReactor(listener net.Listener, dispatcher *Dispatcher) *Reactor {
	return &Reactor{
		Listener:        listener,
		Dispatcher:      dispatcher,
		Codec:           Plain{},
		BlockingTimeout: DefaultBlockingTimeout,
	}
}

// Serve accepts connections until ctx is canceled or the listener is
// closed. It blocks; call it from its own goroutine.
func (r *Reactor) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	defer cancel()

	for {
		conn, err := r.Listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				r.wg.Wait()
				return nil
			default:
			}
			return pgerrors.Wrap(pgerrors.TransportError, "accepting control connection", err)
		}
		r.wg.Add(1)
		go r.handle(ctx, conn)
	}
}

// Stop signals Serve's accept loop to exit after in-flight connections
// finish, then closes the listener so Accept unblocks.
func (r *Reactor) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.Listener.Close()
	r.wg.Wait()
}

func (r *Reactor) handle(ctx context.Context, conn net.Conn) {
	defer r.wg.Done()
	defer conn.Close()

	if r.BlockingTimeout > 0 {
		conn.SetReadDeadline(time.Now().Add(r.BlockingTimeout))
	}

	var req Request
	if err := ReadFrame(conn, r.Codec, &req); err != nil {
		log.Error("reading management request", "error", err)
		return
	}

	resp := r.Dispatcher.Dispatch(ctx, req)

	if err := WriteFrame(conn, r.Codec, resp); err != nil {
		log.Error("writing management response", "category", req.Category, "error", err)
	}
}
