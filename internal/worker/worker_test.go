package worker

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/seopulse/collector/internal/collect"
	"github.com/seopulse/collector/internal/mail"
	"github.com/seopulse/collector/internal/queue"
)

type stubFactory struct {
	err error
}

func (f stubFactory) NewBundle(context.Context) (*Bundle, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &Bundle{Mailer: mail.Nop{}, Logger: zap.NewNop()}, nil
}

type recordingPipeline struct {
	mu        sync.Mutex
	processed []int64
	failOn    int64
}

func (p *recordingPipeline) Process(_ context.Context, item collect.WorkItem) error {
	if p.failOn != 0 && item.ID == p.failOn {
		return errors.New("boom")
	}
	p.mu.Lock()
	p.processed = append(p.processed, item.ID)
	p.mu.Unlock()
	return nil
}

type countingNotifier struct {
	mu    sync.Mutex
	sends int
}

func (n *countingNotifier) Send(string, string) {
	n.mu.Lock()
	n.sends++
	n.mu.Unlock()
}

func fillQueue(n int) *queue.Queue {
	q := queue.New()
	for i := 1; i <= n; i++ {
		q.Push(collect.WorkItem{ID: int64(i)})
	}
	return q
}

func TestWorkersDrainQueue(t *testing.T) {
	t.Parallel()

	q := fillQueue(50)
	pipe := &recordingPipeline{}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		w := &Worker{
			ID:      i,
			Job:     "rank",
			Queue:   q,
			Factory: stubFactory{},
			Build:   func(*Bundle) collect.Pipeline { return pipe },
			Notify:  mail.Nop{},
			Logger:  zap.NewNop(),
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Run(context.Background())
		}()
	}
	wg.Wait()

	require.Len(t, pipe.processed, 50)
	require.Zero(t, q.Len())
}

func TestWorkerFaultStopsOnlyThatWorker(t *testing.T) {
	t.Parallel()

	q := fillQueue(10)
	pipe := &recordingPipeline{failOn: 3}
	notifier := &countingNotifier{}

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		w := &Worker{
			ID:      i,
			Job:     "pagespeed",
			Queue:   q,
			Factory: stubFactory{},
			Build:   func(*Bundle) collect.Pipeline { return pipe },
			Notify:  notifier,
			Logger:  zap.NewNop(),
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Run(context.Background())
		}()
	}
	wg.Wait()

	// One worker died on item 3 and alerted; the survivor drained the
	// rest. Item 3 is lost, not requeued.
	require.Len(t, pipe.processed, 9)
	require.NotContains(t, pipe.processed, int64(3))
	require.Zero(t, q.Len())
	require.Equal(t, 1, notifier.sends)
}

func TestWorkerBundleFailureAlertsAndExits(t *testing.T) {
	t.Parallel()

	q := fillQueue(3)
	notifier := &countingNotifier{}
	w := &Worker{
		ID:      0,
		Job:     "rank",
		Queue:   q,
		Factory: stubFactory{err: errors.New("pool exhausted")},
		Build: func(*Bundle) collect.Pipeline {
			t.Fatal("pipeline must not be built without a bundle")
			return nil
		},
		Notify: notifier,
		Logger: zap.NewNop(),
	}
	w.Run(context.Background())

	require.Equal(t, 1, notifier.sends)
	require.Equal(t, 3, q.Len())
}
