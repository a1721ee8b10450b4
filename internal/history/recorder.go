package history

import (
	"context"

	"github.com/simgunz/udp-ip-stack/internal/engine"
	"github.com/simgunz/udp-ip-stack/internal/util"
)

const recorderQueue = 64

// Recorder moves result events off the engine goroutine and into the store.
type Recorder struct {
	store  *Store
	keep   int
	logger util.Logger
	queue  chan engine.Result
}

func NewRecorder(store *Store, keep int, logger util.Logger) *Recorder {
	if logger == nil {
		logger = util.DiscardLogger()
	}
	return &Recorder{
		store:  store,
		keep:   keep,
		logger: logger,
		queue:  make(chan engine.Result, recorderQueue),
	}
}

// Observe is an engine.EventFunc. Results are dropped when the queue is full.
func (r *Recorder) Observe(ev engine.Event) {
	if ev.Kind != engine.EventResult || ev.Result == nil {
		return
	}
	select {
	case r.queue <- *ev.Result:
	default:
		r.logger.Warn("history queue full, result dropped", "session", ev.SessionID)
	}
}

func (r *Recorder) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			r.drain()
			return nil
		case res := <-r.queue:
			r.record(ctx, res)
		}
	}
}

func (r *Recorder) drain() {
	for {
		select {
		case res := <-r.queue:
			r.record(context.Background(), res)
		default:
			return
		}
	}
}

// record outlives the Run context: a result taken off the queue during
// shutdown is still written.
func (r *Recorder) record(ctx context.Context, res engine.Result) {
	ctx = context.WithoutCancel(ctx)
	if err := r.store.Record(ctx, res); err != nil {
		r.logger.Error("history record failed", "session", res.SessionID, "error", err)
		return
	}
	if n, err := r.store.Prune(ctx, r.keep); err != nil {
		r.logger.Warn("history prune failed", "error", err)
	} else if n > 0 {
		r.logger.Debug("history pruned", "rows", n)
	}
}
