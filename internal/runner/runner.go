package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"zipaes/internal/backend"
	"zipaes/internal/metrics"
	"zipaes/internal/winzip"
	"zipaes/internal/zipentry"
)

// Stats is a periodic snapshot of progress.
type Stats struct {
	// PerWorker holds stored bytes consumed by each worker so far.
	PerWorker []uint64
	Done      uint64
	Failed    uint64
	Total     int
	Timestamp time.Time
}

// Result is the outcome of one entry plus how long it took.
type Result struct {
	backend.Outcome
	Worker   int
	Duration time.Duration
}

type Config struct {
	ZipBytes    []byte
	Password    []byte
	Entries     []zipentry.EntryRef
	Workers     int
	ReportEvery time.Duration
	Backend     backend.Backend

	Logger  logrus.FieldLogger
	Metrics *metrics.Metrics
}

// Runner decrypts entries on a pool of workers. Each entry gets its own
// pipeline; workers share nothing but the read-only archive buffer.
type Runner struct {
	cfg      Config
	statsCh  chan Stats
	resultCh chan Result

	// per-worker stored byte counters
	counters []uint64
	done     atomic.Uint64
	failed   atomic.Uint64

	started atomic.Bool
}

func NewRunner(cfg Config) (*Runner, error) {
	if len(cfg.ZipBytes) == 0 {
		return nil, errors.New("runner: empty archive")
	}
	if cfg.Backend == nil {
		return nil, errors.New("runner: no backend")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Workers > len(cfg.Entries) && len(cfg.Entries) > 0 {
		cfg.Workers = len(cfg.Entries)
	}
	if cfg.ReportEvery <= 0 {
		cfg.ReportEvery = time.Second
	}
	if cfg.Logger == nil {
		l := logrus.New()
		l.SetLevel(logrus.PanicLevel)
		cfg.Logger = l
	}
	return &Runner{
		cfg:      cfg,
		statsCh:  make(chan Stats, 8),
		resultCh: make(chan Result, len(cfg.Entries)),
		counters: make([]uint64, cfg.Workers),
	}, nil
}

func (r *Runner) StatsCh() <-chan Stats { return r.statsCh }

// ResultCh delivers one Result per entry and is closed when all entries are
// accounted for. It is buffered for every entry, so workers never block on
// a slow consumer.
func (r *Runner) ResultCh() <-chan Result { return r.resultCh }

// Workers returns the effective worker count.
func (r *Runner) Workers() int { return r.cfg.Workers }

// Start launches the workers and returns immediately. Entries not yet
// dispatched when ctx is cancelled are reported with winzip.ErrCancelled.
func (r *Runner) Start(ctx context.Context) error {
	if !r.started.CompareAndSwap(false, true) {
		return errors.New("runner: already started")
	}

	workers := make([]backend.Worker, 0, r.cfg.Workers)
	for i := 0; i < r.cfg.Workers; i++ {
		w, err := r.cfg.Backend.NewWorker(r.cfg.ZipBytes, r.cfg.Password)
		if err != nil {
			for _, w := range workers {
				w.Close()
			}
			return fmt.Errorf("runner: create worker: %w", err)
		}
		workers = append(workers, w)
	}
	r.cfg.Logger.WithFields(logrus.Fields{
		"backend": r.cfg.Backend.Name(),
		"workers": len(workers),
		"entries": len(r.cfg.Entries),
	}).Info("starting decryption")

	jobs := make(chan zipentry.EntryRef, r.cfg.Workers*2)

	var wg sync.WaitGroup
	for i, w := range workers {
		wg.Add(1)
		go func(id int, w backend.Worker) {
			defer wg.Done()
			defer w.Close()
			for ref := range jobs {
				r.process(ctx, id, w, ref)
			}
		}(i, w)
	}

	// Feeder
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(jobs)
		for i, ref := range r.cfg.Entries {
			select {
			case jobs <- ref:
			case <-ctx.Done():
				for _, rest := range r.cfg.Entries[i:] {
					r.publish(Result{Outcome: backend.Outcome{
						Ref: rest,
						Err: fmt.Errorf("%w: %w", winzip.ErrCancelled, ctx.Err()),
					}, Worker: -1})
				}
				return
			}
		}
	}()

	finished := make(chan struct{})

	// Stats publisher
	var statsWg sync.WaitGroup
	statsWg.Add(1)
	go func() {
		defer statsWg.Done()
		t := time.NewTicker(r.cfg.ReportEvery)
		defer t.Stop()
		for {
			select {
			case <-finished:
				r.sendStats(time.Now())
				return
			case now := <-t.C:
				r.sendStats(now)
			}
		}
	}()

	go func() {
		wg.Wait()
		close(finished)
		statsWg.Wait()
		close(r.statsCh)
		close(r.resultCh)
	}()

	return nil
}

func (r *Runner) process(ctx context.Context, id int, w backend.Worker, ref zipentry.EntryRef) {
	var end func()
	if r.cfg.Metrics != nil {
		end = r.cfg.Metrics.Begin()
	}
	start := time.Now()
	out := w.Decrypt(ctx, ref)
	d := time.Since(start)
	if end != nil {
		end()
	}

	atomic.AddUint64(&r.counters[id], uint64(out.Processed))
	if r.cfg.Metrics != nil {
		r.cfg.Metrics.ObserveEntry(r.cfg.Backend.Name(), winzip.Kind(out.Err), out.Processed, int64(len(out.Content)), d)
	}

	log := r.cfg.Logger.WithFields(logrus.Fields{
		"entry":    ref.Name,
		"worker":   id,
		"duration": d.String(),
	})
	if out.Err != nil {
		log.WithError(out.Err).WithField("kind", winzip.Kind(out.Err)).Warn("entry failed")
	} else {
		log.WithField("bytes", len(out.Content)).Debug("entry decrypted")
	}
	r.publish(Result{Outcome: out, Worker: id, Duration: d})
}

func (r *Runner) publish(res Result) {
	if res.Err != nil {
		r.failed.Add(1)
	} else {
		r.done.Add(1)
	}
	r.resultCh <- res
}

func (r *Runner) sendStats(now time.Time) {
	per := make([]uint64, len(r.counters))
	for i := range r.counters {
		per[i] = atomic.LoadUint64(&r.counters[i])
	}
	s := Stats{
		PerWorker: per,
		Done:      r.done.Load(),
		Failed:    r.failed.Load(),
		Total:     len(r.cfg.Entries),
		Timestamp: now,
	}
	select {
	case r.statsCh <- s:
	default:
		// drop if UI is slow; next tick will carry new data
	}
}
