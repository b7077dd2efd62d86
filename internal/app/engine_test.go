package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"golang-wa-dispatch/internal/domain"
	"golang-wa-dispatch/internal/ports"
)

// ── Fakes ─────────────────────────────────────────────────────────────────────

type fakeSource struct {
	rows []domain.RecipientRow
	err  error
}

func (s *fakeSource) Load(ctx context.Context) ([]domain.RecipientRow, error) {
	return s.rows, s.err
}

type fakeGateway struct {
	mu      sync.Mutex
	calls   []ports.SendRequest
	failOn  map[int]error // 1-based call index -> transport error
	started chan struct{} // closed when the first Send begins, if set
	release chan struct{} // Send blocks on this, if set
	once    sync.Once
}

func (g *fakeGateway) Send(ctx context.Context, token string, req ports.SendRequest) (ports.SendResult, error) {
	g.mu.Lock()
	g.calls = append(g.calls, req)
	n := len(g.calls)
	g.mu.Unlock()

	if g.started != nil {
		g.once.Do(func() { close(g.started) })
	}
	if g.release != nil {
		<-g.release
	}
	if err := g.failOn[n]; err != nil {
		return ports.SendResult{}, err
	}
	return ports.SendResult{StatusCode: 200, Reply: `{"status":true}`}, nil
}

func (g *fakeGateway) sent() []ports.SendRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]ports.SendRequest(nil), g.calls...)
}

type fakeLog struct {
	mu   sync.Mutex
	recs []domain.OutcomeRecord
	err  error
}

func (l *fakeLog) Append(ctx context.Context, rec domain.OutcomeRecord) error {
	if l.err != nil {
		return l.err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.recs = append(l.recs, rec)
	return nil
}

func (l *fakeLog) Recent(ctx context.Context, limit int) ([]domain.OutcomeRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]domain.OutcomeRecord(nil), l.recs...), nil
}

type fakePacer struct {
	mu sync.Mutex
	n  int
}

func (p *fakePacer) Pace(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.n++
	return nil
}

func (p *fakePacer) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.n
}

// memLock is an in-process RunLock for tests.
type memLock struct {
	mu sync.Mutex
}

func (l *memLock) TryAcquire(ctx context.Context, wait time.Duration) (bool, error) {
	deadline := time.Now().Add(wait)
	for {
		if l.mu.TryLock() {
			return true, nil
		}
		if !time.Now().Before(deadline) {
			return false, nil
		}
		time.Sleep(time.Millisecond)
	}
}

func (l *memLock) Release(ctx context.Context) error {
	l.mu.Unlock()
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type deps struct {
	source  *fakeSource
	gateway *fakeGateway
	logbook *fakeLog
	lock    *memLock
	pacer   *fakePacer
}

func newEngine(d deps) *DispatchEngine {
	if d.lock == nil {
		d.lock = &memLock{}
	}
	if d.pacer == nil {
		d.pacer = &fakePacer{}
	}
	e := NewDispatchEngine(d.source, d.gateway, d.logbook, d.lock, d.pacer, discardLogger())
	e.SetLockWait(0)
	return e
}

func run(label string) domain.RunContext {
	return domain.NewRunContext("token", label, "1 Aug 2026 s.d. 15 Aug 2026")
}

// ── Tests ─────────────────────────────────────────────────────────────────────

func TestRunSendsAndRecordsInOrder(t *testing.T) {
	src := &fakeSource{rows: []domain.RecipientRow{
		{RawPhone: "08111", DisplayName: "Alice", MessageBody: "Hi Alice"},
		{RawPhone: "+628222", DisplayName: "Bob", MessageBody: "Hi Bob"},
	}}
	gw := &fakeGateway{}
	lb := &fakeLog{}
	pc := &fakePacer{}

	e := newEngine(deps{source: src, gateway: gw, logbook: lb, pacer: pc})
	if err := e.Run(context.Background(), run("KOMANDO")); err != nil {
		t.Fatalf("run: %v", err)
	}

	calls := gw.sent()
	if len(calls) != 2 {
		t.Fatalf("gateway calls = %d, want 2", len(calls))
	}
	if calls[0].Target != "628111" || calls[1].Target != "628222" {
		t.Errorf("targets = %q, %q", calls[0].Target, calls[1].Target)
	}

	if len(lb.recs) != 2 {
		t.Fatalf("records = %d, want 2", len(lb.recs))
	}
	for i, rec := range lb.recs {
		if rec.Status != domain.StatusSent {
			t.Errorf("record %d status = %q", i, rec.Status)
		}
		if rec.RunLabel != "KOMANDO" || rec.RunRange != "1 Aug 2026 s.d. 15 Aug 2026" {
			t.Errorf("record %d run fields = %q, %q", i, rec.RunLabel, rec.RunRange)
		}
		if rec.GatewayReply != `{"status":true}` {
			t.Errorf("record %d reply = %q", i, rec.GatewayReply)
		}
	}
	if lb.recs[0].Phone != "628111" || lb.recs[1].Phone != "628222" {
		t.Errorf("record order = %q, %q", lb.recs[0].Phone, lb.recs[1].Phone)
	}

	// Paced once after every attempted send, success or failure.
	if pc.count() != 2 {
		t.Errorf("paces = %d, want 2", pc.count())
	}
}

func TestRunSkipsInvalidRowsSilently(t *testing.T) {
	src := &fakeSource{rows: []domain.RecipientRow{
		{RawPhone: "08111", DisplayName: "Alice", MessageBody: "Hi"},
		{RawPhone: "", DisplayName: "Bob", MessageBody: "Hi"},
		{RawPhone: "6283334", DisplayName: "Carol", MessageBody: ""},
	}}
	gw := &fakeGateway{}
	lb := &fakeLog{}
	pc := &fakePacer{}

	e := newEngine(deps{source: src, gateway: gw, logbook: lb, pacer: pc})
	if err := e.Run(context.Background(), run("L")); err != nil {
		t.Fatalf("run: %v", err)
	}

	if calls := gw.sent(); len(calls) != 1 || calls[0].Target != "628111" {
		t.Fatalf("gateway calls = %+v, want one to 628111", calls)
	}
	if len(lb.recs) != 1 {
		t.Fatalf("records = %d, want exactly 1", len(lb.recs))
	}
	// Skipped rows must not consume pacing either.
	if pc.count() != 1 {
		t.Errorf("paces = %d, want 1", pc.count())
	}
}

func TestRunIsolatesPerRecipientFailure(t *testing.T) {
	src := &fakeSource{rows: []domain.RecipientRow{
		{RawPhone: "08111", DisplayName: "Alice", MessageBody: "m1"},
		{RawPhone: "08222", DisplayName: "Bob", MessageBody: "m2"},
		{RawPhone: "08333", DisplayName: "Carol", MessageBody: "m3"},
	}}
	gw := &fakeGateway{failOn: map[int]error{2: errors.New("connection reset")}}
	lb := &fakeLog{}
	pc := &fakePacer{}

	e := newEngine(deps{source: src, gateway: gw, logbook: lb, pacer: pc})
	if err := e.Run(context.Background(), run("L")); err != nil {
		t.Fatalf("run must complete despite a failed recipient: %v", err)
	}

	if len(lb.recs) != 3 {
		t.Fatalf("records = %d, want 3", len(lb.recs))
	}
	wantStatus := []domain.Status{domain.StatusSent, domain.StatusFailed, domain.StatusSent}
	for i, want := range wantStatus {
		if lb.recs[i].Status != want {
			t.Errorf("record %d status = %q, want %q", i, lb.recs[i].Status, want)
		}
	}
	if lb.recs[1].GatewayReply != "connection reset" {
		t.Errorf("failed record reply = %q", lb.recs[1].GatewayReply)
	}
	// The failed call is paced like any other.
	if pc.count() != 3 {
		t.Errorf("paces = %d, want 3", pc.count())
	}
}

func TestRunDebugOverrideRedirectsEverySend(t *testing.T) {
	src := &fakeSource{rows: []domain.RecipientRow{
		{RawPhone: "08111", DisplayName: "Alice", MessageBody: "for alice"},
		{RawPhone: "628222", DisplayName: "Bob", MessageBody: "for bob"},
	}}
	gw := &fakeGateway{}
	lb := &fakeLog{}

	rc := run("L")
	rc.OverridePhone = "087778651293"

	e := newEngine(deps{source: src, gateway: gw, logbook: lb})
	if err := e.Run(context.Background(), rc); err != nil {
		t.Fatalf("run: %v", err)
	}

	calls := gw.sent()
	if len(calls) != 2 {
		t.Fatalf("gateway calls = %d, want 2", len(calls))
	}
	for i, c := range calls {
		if c.Target != "6287778651293" {
			t.Errorf("call %d target = %q, want override", i, c.Target)
		}
	}
	// Message content still comes from each row.
	if calls[0].Message != "for alice" || calls[1].Message != "for bob" {
		t.Errorf("messages = %q, %q", calls[0].Message, calls[1].Message)
	}
}

func TestRunSharesAttachmentAcrossBatch(t *testing.T) {
	src := &fakeSource{rows: []domain.RecipientRow{
		{RawPhone: "08111", MessageBody: "a"},
		{RawPhone: "08222", MessageBody: "b"},
	}}
	gw := &fakeGateway{}
	lb := &fakeLog{}

	rc := run("L")
	rc.Attachment = &domain.Attachment{Filename: "report.png", Data: []byte("img")}

	e := newEngine(deps{source: src, gateway: gw, logbook: lb})
	if err := e.Run(context.Background(), rc); err != nil {
		t.Fatalf("run: %v", err)
	}

	calls := gw.sent()
	if len(calls) != 2 {
		t.Fatalf("gateway calls = %d", len(calls))
	}
	for i, c := range calls {
		if c.Attachment != rc.Attachment {
			t.Errorf("call %d does not share the run attachment", i)
		}
	}
}

func TestRunLockDeniedTouchesNothing(t *testing.T) {
	lock := &memLock{}
	if ok, _ := lock.TryAcquire(context.Background(), 0); !ok {
		t.Fatal("setup: could not pre-acquire lock")
	}

	src := &fakeSource{rows: []domain.RecipientRow{{RawPhone: "08111", MessageBody: "m"}}}
	gw := &fakeGateway{}
	lb := &fakeLog{}

	e := newEngine(deps{source: src, gateway: gw, logbook: lb, lock: lock})
	err := e.Run(context.Background(), run("L"))
	if !errors.Is(err, domain.ErrLockHeld) {
		t.Fatalf("err = %v, want ErrLockHeld", err)
	}
	if len(gw.sent()) != 0 || len(lb.recs) != 0 {
		t.Fatal("a denied run must not touch the gateway or the log")
	}
}

func TestConcurrentRunsSingleFlight(t *testing.T) {
	lock := &memLock{}

	started := make(chan struct{})
	release := make(chan struct{})
	gwA := &fakeGateway{started: started, release: release}
	lbA := &fakeLog{}
	srcA := &fakeSource{rows: []domain.RecipientRow{{RawPhone: "08111", MessageBody: "m"}}}
	a := newEngine(deps{source: srcA, gateway: gwA, logbook: lbA, lock: lock})

	errA := make(chan error, 1)
	go func() { errA <- a.Run(context.Background(), run("A")) }()

	<-started // A is mid-send, lock held

	gwB := &fakeGateway{}
	lbB := &fakeLog{}
	b := newEngine(deps{source: &fakeSource{rows: srcA.rows}, gateway: gwB, logbook: lbB, lock: lock})
	if err := b.Run(context.Background(), run("B")); !errors.Is(err, domain.ErrLockHeld) {
		t.Fatalf("second run err = %v, want ErrLockHeld", err)
	}
	if len(gwB.sent()) != 0 || len(lbB.recs) != 0 {
		t.Fatal("losing run must write nothing")
	}

	close(release)
	if err := <-errA; err != nil {
		t.Fatalf("first run: %v", err)
	}
	if len(lbA.recs) != 1 {
		t.Fatalf("winning run records = %d, want 1", len(lbA.recs))
	}
}

func TestRunMissingTokenAbortsBeforeAnySend(t *testing.T) {
	src := &fakeSource{rows: []domain.RecipientRow{{RawPhone: "08111", MessageBody: "m"}}}
	gw := &fakeGateway{}
	lb := &fakeLog{}
	lock := &memLock{}

	e := newEngine(deps{source: src, gateway: gw, logbook: lb, lock: lock})

	rc := run("L")
	rc.Token = ""
	if err := e.Run(context.Background(), rc); !errors.Is(err, domain.ErrMissingToken) {
		t.Fatalf("err = %v, want ErrMissingToken", err)
	}
	if len(gw.sent()) != 0 || len(lb.recs) != 0 {
		t.Fatal("aborted run must not send or log")
	}

	// The lock must have been released on the abort path.
	if ok, _ := lock.TryAcquire(context.Background(), 0); !ok {
		t.Fatal("lock still held after aborted run")
	}
}

func TestRunSourceErrorReleasesLock(t *testing.T) {
	src := &fakeSource{err: errors.New("sheet unavailable")}
	lock := &memLock{}

	e := newEngine(deps{source: src, gateway: &fakeGateway{}, logbook: &fakeLog{}, lock: lock})
	if err := e.Run(context.Background(), run("L")); err == nil {
		t.Fatal("expected source error")
	}
	if ok, _ := lock.TryAcquire(context.Background(), 0); !ok {
		t.Fatal("lock still held after failed run")
	}
}

func TestStartReportsLockContentionSynchronously(t *testing.T) {
	lock := &memLock{}
	if ok, _ := lock.TryAcquire(context.Background(), 0); !ok {
		t.Fatal("setup: could not pre-acquire lock")
	}

	src := &fakeSource{rows: []domain.RecipientRow{{RawPhone: "08111", MessageBody: "m"}}}
	gw := &fakeGateway{}
	lb := &fakeLog{}

	e := newEngine(deps{source: src, gateway: gw, logbook: lb, lock: lock})
	if err := e.Start(context.Background(), run("C")); !errors.Is(err, domain.ErrLockHeld) {
		t.Fatalf("err = %v, want ErrLockHeld", err)
	}
	if len(gw.sent()) != 0 || len(lb.recs) != 0 {
		t.Fatal("a denied start must not touch the gateway or the log")
	}
}

func TestStartRunsBatchInBackgroundAndReleases(t *testing.T) {
	src := &fakeSource{rows: []domain.RecipientRow{{RawPhone: "08111", MessageBody: "m"}}}
	started := make(chan struct{})
	gw := &fakeGateway{started: started}
	lb := &fakeLog{}
	lock := &memLock{}

	e := newEngine(deps{source: src, gateway: gw, logbook: lb, lock: lock})
	if err := e.Start(context.Background(), run("BG")); err != nil {
		t.Fatalf("start: %v", err)
	}

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("batch never started in the background")
	}

	// The background run must release the lock when the batch is done.
	ok, err := lock.TryAcquire(context.Background(), 2*time.Second)
	if err != nil || !ok {
		t.Fatalf("lock not released after background run (ok=%v err=%v)", ok, err)
	}
	if len(gw.sent()) != 1 || len(lb.recs) != 1 {
		t.Fatalf("sends = %d, records = %d, want 1 and 1", len(gw.sent()), len(lb.recs))
	}
}

func TestRunLogWriteFailureDoesNotStopBatch(t *testing.T) {
	src := &fakeSource{rows: []domain.RecipientRow{
		{RawPhone: "08111", MessageBody: "a"},
		{RawPhone: "08222", MessageBody: "b"},
	}}
	gw := &fakeGateway{}
	lb := &fakeLog{err: errors.New("log store down")}

	e := newEngine(deps{source: src, gateway: gw, logbook: lb})
	if err := e.Run(context.Background(), run("L")); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(gw.sent()) != 2 {
		t.Fatalf("gateway calls = %d, want 2 despite log failures", len(gw.sent()))
	}
}
