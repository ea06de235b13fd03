package dispatcher

import (
	"context"
	"sync"
	"testing"
	"time"

	"chordring/internal/chordnode"
	"chordring/internal/fingertable"
	"chordring/internal/logger"
	"chordring/internal/lookup"
	"chordring/internal/message"
	"chordring/internal/stabilizer"
)

func testSpace(t *testing.T) chordnode.Space {
	t.Helper()
	sp, err := chordnode.NewSpace(7, 3, 28)
	if err != nil {
		t.Fatalf("NewSpace: %v", err)
	}
	return sp
}

func node(id uint64, addr string) chordnode.NodeInfo {
	return chordnode.NodeInfo{Address: addr, ID: chordnode.ID(id)}
}

// recordingTransport is a fake dispatcher.Transport: Send just records, and
// Serve hands back control to the test so it can drive handle/run directly
// without a real or in-memory network round trip.
type recordingTransport struct {
	mu   sync.Mutex
	sent []message.Message
}

func (r *recordingTransport) Send(ctx context.Context, target chordnode.NodeInfo, msg message.Message) error {
	r.mu.Lock()
	r.sent = append(r.sent, msg)
	r.mu.Unlock()
	return nil
}

func (r *recordingTransport) Serve(ctx context.Context, handle InboundHandler) error {
	<-ctx.Done()
	return ctx.Err()
}

func newDispatcher(t *testing.T, workerPoolSize, schedulerPoolSize int) (*Dispatcher, *recordingTransport, *fingertable.Table) {
	t.Helper()
	sp := testSpace(t)
	self := node(10, "n10")
	ft := fingertable.New(self, sp, logger.NopLogger{})
	transport := &recordingTransport{}
	engine := lookup.New(ft, transport, 50*time.Millisecond, logger.NopLogger{})
	ft.SetNotifier(engine)
	stab := stabilizer.New(ft, engine, transport, 50*time.Millisecond, logger.NopLogger{})
	d := New(transport, engine, stab, workerPoolSize, schedulerPoolSize, logger.NopLogger{})
	return d, transport, ft
}

func TestDispatcherRoutesNotifyToStabilizer(t *testing.T) {
	d, _, ft := newDispatcher(t, 4, 2)
	ctx := context.Background()

	sender := node(20, "n20")
	d.handle(ctx, sender, message.Notify{Origin: sender})
	d.Wait()

	pred := ft.Predecessor()
	if pred == nil || pred.ID != sender.ID {
		t.Errorf("expected predecessor %v, got %v", sender, pred)
	}
}

func TestDispatcherRoutesLookupToEngine(t *testing.T) {
	d, transport, _ := newDispatcher(t, 4, 2)
	sp := testSpace(t)

	ctx := context.Background()
	origin := node(20, "n20")
	op := message.Lookup{
		Origin:             origin,
		Key:                chordnode.ID(10),
		LastNode:           origin,
		TimeToLive:         sp.MaximumHops,
		ReachedDestination: true,
	}
	d.handle(ctx, origin, op)
	d.Wait()

	transport.mu.Lock()
	defer transport.mu.Unlock()
	if len(transport.sent) != 1 {
		t.Fatalf("expected 1 sent message, got %d", len(transport.sent))
	}
	if _, ok := transport.sent[0].(message.LookupResult); !ok {
		t.Errorf("expected a LookupResult reply, got %T", transport.sent[0])
	}
}

func TestDispatcherRoutesRequestPredecessorToStabilizer(t *testing.T) {
	d, transport, ft := newDispatcher(t, 4, 2)
	ctx := context.Background()
	origin := node(20, "n20")
	d.handle(ctx, origin, message.RequestPredecessor{Origin: origin})
	d.Wait()

	transport.mu.Lock()
	defer transport.mu.Unlock()
	if len(transport.sent) != 1 {
		t.Fatalf("expected 1 sent message, got %d", len(transport.sent))
	}
	resp, ok := transport.sent[0].(message.PredecessorResponse)
	if !ok {
		t.Fatalf("expected a PredecessorResponse, got %T", transport.sent[0])
	}
	if resp.Responder.ID != ft.Self().ID {
		t.Errorf("expected responder %v, got %v", ft.Self(), resp.Responder)
	}
}

func TestDispatcherRoutesUnrecognizedMessageWithoutPanicking(t *testing.T) {
	d, _, _ := newDispatcher(t, 4, 2)
	ctx := context.Background()

	d.handle(ctx, node(99, "n99"), struct{ message.Message }{})
	d.Wait()
}

func TestDispatcherWorkerPoolBoundsConcurrency(t *testing.T) {
	d, _, _ := newDispatcher(t, 2, 2)
	ctx := context.Background()

	release := make(chan struct{})
	var mu sync.Mutex
	current, peak := 0, 0

	track := func() {
		mu.Lock()
		current++
		if current > peak {
			peak = current
		}
		mu.Unlock()
		<-release
		mu.Lock()
		current--
		mu.Unlock()
	}

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.handle(ctx, node(1, "p"), trackingMessage{track: track})
		}()
	}

	time.Sleep(30 * time.Millisecond)
	close(release)
	wg.Wait()
	d.Wait()

	mu.Lock()
	defer mu.Unlock()
	if peak > 2 {
		t.Errorf("expected at most 2 concurrent workers, saw %d", peak)
	}
}

type trackingMessage struct {
	track func()
}

func (m trackingMessage) Kind() string {
	m.track()
	return "tracking"
}

func TestRunScheduledBoundsConcurrentTasks(t *testing.T) {
	d, _, _ := newDispatcher(t, 4, 2)

	var mu sync.Mutex
	current, peak := 0, 0
	release := make(chan struct{})

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.RunScheduled(context.Background(), func(ctx context.Context) {
				mu.Lock()
				current++
				if current > peak {
					peak = current
				}
				mu.Unlock()

				<-release

				mu.Lock()
				current--
				mu.Unlock()
			})
		}()
	}

	time.Sleep(30 * time.Millisecond)
	close(release)
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if peak > 2 {
		t.Errorf("expected at most 2 concurrent scheduled tasks, saw %d", peak)
	}
}
