package participant

import (
	"bytes"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/someipd/internal/dispatch"
	"github.com/danmuck/someipd/internal/endpoint"
	"github.com/danmuck/someipd/internal/protocol"
	"github.com/danmuck/someipd/internal/protocol/frame"
	"github.com/danmuck/someipd/internal/testutil/testlog"
)

type fakeTransport struct {
	buf      []byte
	restarts int
}

func (f *fakeTransport) RemoteAddress() string       { return "10.0.0.2" }
func (f *fakeTransport) RemotePort() uint16          { return 30509 }
func (f *fakeTransport) Protocol() endpoint.Protocol { return endpoint.ProtocolTCP }
func (f *fakeTransport) Version() endpoint.IPVersion { return endpoint.IPv4 }
func (f *fakeTransport) ReceiveBuffer() []byte       { return f.buf }
func (f *fakeTransport) Restart()                    { f.restarts++ }
func (f *fakeTransport) deliver(p *Participant, b []byte) error {
	f.buf = append(f.buf[:0], b...)
	return p.Received(nil, len(b))
}

type countingObserver struct {
	mu        sync.Mutex
	bytes     int
	messages  int
	cookies   int
	attempts  int
	resynced  int
	failed    int
	deliveryE int
}

func (o *countingObserver) BytesReceived(n int) { o.mu.Lock(); o.bytes += n; o.mu.Unlock() }
func (o *countingObserver) MessageReceived(*protocol.Message, int) {
	o.mu.Lock()
	o.messages++
	o.mu.Unlock()
}
func (o *countingObserver) CookieDropped()       { o.mu.Lock(); o.cookies++; o.mu.Unlock() }
func (o *countingObserver) ResyncAttempted()     { o.mu.Lock(); o.attempts++; o.mu.Unlock() }
func (o *countingObserver) Resynced()            { o.mu.Lock(); o.resynced++; o.mu.Unlock() }
func (o *countingObserver) ResyncFailed()        { o.mu.Lock(); o.failed++; o.mu.Unlock() }
func (o *countingObserver) DeliveryFailed(error) { o.mu.Lock(); o.deliveryE++; o.mu.Unlock() }

func newTestParticipant(t *testing.T, resync bool, opts ...Option) (*Participant, *fakeTransport) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.SupportsResync = resync
	tr := &fakeTransport{}
	p, err := New(cfg, tr, opts...)
	if err != nil {
		t.Fatalf("new participant: %v", err)
	}
	return p, tr
}

func wire(service protocol.ServiceID, method protocol.MethodID, payload string) []byte {
	msg := protocol.NewMessage(service, method, []byte(payload))
	msg.Header.Request = 0x00420007
	msg.Header.InterfaceVersion = 2
	msg.Header.Type = protocol.MessageTypeNotification
	return frame.Encode(msg)
}

func TestSingleFrameDispatchedWithOrigin(t *testing.T) {
	testlog.Start(t)
	p, tr := newTestParticipant(t, false)
	rec := dispatch.NewRecorder()
	p.Register(rec, 1, 2)

	if err := tr.deliver(p, wire(1, 2, "hello")); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	msgs := rec.Messages()
	if len(msgs) != 1 {
		t.Fatalf("expected one message, got %d", len(msgs))
	}
	h := msgs[0].Header
	if h.Service != 1 || h.Method != 2 || h.Length != 13 || h.Request != 0x00420007 ||
		h.ProtocolVersion != 1 || h.InterfaceVersion != 2 || h.Type != protocol.MessageTypeNotification || h.ReturnCode != protocol.ReturnOK {
		t.Fatalf("unexpected header: %+v", h)
	}
	if string(msgs[0].Payload) != "hello" {
		t.Fatalf("unexpected payload: %q", msgs[0].Payload)
	}
	if msgs[0].Sender == nil || msgs[0].Sender.String() != "tcp://10.0.0.2:30509" || msgs[0].Sender.Version != endpoint.IPv4 {
		t.Fatalf("unexpected sender: %v", msgs[0].Sender)
	}
	if p.Pending() != 0 {
		t.Fatalf("buffer not empty: %d", p.Pending())
	}
	if tr.restarts != 1 {
		t.Fatalf("expected one restart, got %d", tr.restarts)
	}
}

func TestFrameDeliveredInChunks(t *testing.T) {
	testlog.Start(t)
	for _, size := range []int{1, 3, 7, 16, 20} {
		p, tr := newTestParticipant(t, false)
		rec := dispatch.NewRecorder()
		p.Register(rec, 0x10, 0x20)

		b := wire(0x10, 0x20, "fragmented payload")
		for off := 0; off < len(b); off += size {
			end := min(off+size, len(b))
			if err := tr.deliver(p, b[off:end]); err != nil {
				t.Fatalf("deliver: %v", err)
			}
			if end < len(b) && rec.Count() != 0 {
				t.Fatalf("chunk=%d dispatched before frame complete", size)
			}
		}
		if rec.Count() != 1 {
			t.Fatalf("chunk=%d expected one message, got %d", size, rec.Count())
		}
		if string(rec.Messages()[0].Payload) != "fragmented payload" {
			t.Fatalf("chunk=%d unexpected payload", size)
		}
		if p.Pending() != 0 {
			t.Fatalf("chunk=%d buffer not empty: %d", size, p.Pending())
		}
	}
}

func TestBackToBackFramesInOneChunk(t *testing.T) {
	testlog.Start(t)
	for _, resync := range []bool{false, true} {
		p, tr := newTestParticipant(t, resync)
		rec := dispatch.NewRecorder()
		p.Register(rec, 3, 4)

		var buf bytes.Buffer
		const n = 5
		for i := 0; i < n; i++ {
			buf.Write(wire(3, 4, string(rune('a'+i))))
		}
		if err := tr.deliver(p, buf.Bytes()); err != nil {
			t.Fatalf("deliver: %v", err)
		}
		if rec.Count() != n {
			t.Fatalf("resync=%v expected %d messages, got %d", resync, n, rec.Count())
		}
		for i, msg := range rec.Messages() {
			if string(msg.Payload) != string(rune('a'+i)) {
				t.Fatalf("resync=%v out of order at %d: %q", resync, i, msg.Payload)
			}
		}
		if p.Pending() != 0 || tr.restarts != 1 {
			t.Fatalf("resync=%v pending=%d restarts=%d", resync, p.Pending(), tr.restarts)
		}
	}
}

func TestDispatchRequiresExactPair(t *testing.T) {
	testlog.Start(t)
	p, tr := newTestParticipant(t, false)
	rec := dispatch.NewRecorder()
	p.Register(rec, 1, 2)

	tr.deliver(p, wire(1, 3, "other method"))
	if rec.Count() != 0 {
		t.Fatalf("receiver invoked for (1,3)")
	}
	tr.deliver(p, wire(1, 2, "match"))
	if rec.Count() != 1 {
		t.Fatalf("receiver not invoked for (1,2)")
	}
}

func TestUnregisteredReceiverNotInvoked(t *testing.T) {
	testlog.Start(t)
	p, tr := newTestParticipant(t, false)
	rec := dispatch.NewRecorder()
	p.Register(rec, 1, 2)
	p.Unregister(rec, 1, 2)
	tr.deliver(p, wire(1, 2, "x"))
	if rec.Count() != 0 {
		t.Fatalf("unregistered receiver invoked %d times", rec.Count())
	}
}

func TestShortPrefixWaitsWithoutResync(t *testing.T) {
	testlog.Start(t)
	obs := &countingObserver{}
	p, tr := newTestParticipant(t, false, WithObserver(obs))
	rec := dispatch.NewRecorder()
	p.Register(rec, 1, 2)

	b := wire(1, 2, "0123456789")
	tr.deliver(p, b[:20])
	if rec.Count() != 0 {
		t.Fatalf("dispatched from a prefix")
	}
	if p.deserializer.Len() != 20 || p.deserializer.Position() != 0 || p.deserializer.Framing() {
		t.Fatalf("buffer mutated: len=%d pos=%d framing=%v", p.deserializer.Len(), p.deserializer.Position(), p.deserializer.Framing())
	}
	if obs.attempts != 0 {
		t.Fatalf("resync attempted while unsupported")
	}
	tr.deliver(p, b[20:])
	if rec.Count() != 1 {
		t.Fatalf("expected frame after completion, got %d", rec.Count())
	}
}

func TestResyncLandsPastCookie(t *testing.T) {
	testlog.Start(t)
	obs := &countingObserver{}
	p, _ := newTestParticipant(t, true, WithObserver(obs))

	garbage := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}
	p.deserializer.Append(garbage)
	p.deserializer.Append(frame.Cookie())
	p.deserializer.Append([]byte{0xAA, 0xBB, 0xCC})

	if !p.Resync() {
		t.Fatalf("expected resync success")
	}
	if p.deserializer.Position() != len(garbage)+frame.HeaderLen {
		t.Fatalf("cursor not past cookie: pos=%d", p.deserializer.Position())
	}
	if p.deserializer.Available() != 3 {
		t.Fatalf("unexpected available: %d", p.deserializer.Available())
	}
	if obs.attempts != 1 || obs.resynced != 1 || obs.failed != 0 {
		t.Fatalf("unexpected observer counts: %+v", obs)
	}
}

func TestResyncFieldMismatchClearsBuffer(t *testing.T) {
	testlog.Start(t)
	tests := []struct {
		name  string
		index int
		value byte
	}{
		{"length", 7, 0x09},
		{"request id", 11, 0xEE},
		{"protocol version", 12, 0x02},
		{"interface version", 13, 0x01},
		{"message type", 14, 0x02},
		{"return code", 15, 0x01},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obs := &countingObserver{}
			p, _ := newTestParticipant(t, true, WithObserver(obs))
			cookie := frame.Cookie()
			cookie[tt.index] = tt.value
			p.deserializer.Append(cookie)
			p.deserializer.Append(wire(1, 1, "after"))

			if p.Resync() {
				t.Fatalf("resync succeeded with bad %s", tt.name)
			}
			if p.deserializer.Len() != 0 || p.deserializer.Available() != 0 {
				t.Fatalf("buffer not cleared: len=%d", p.deserializer.Len())
			}
			if obs.failed != 1 {
				t.Fatalf("expected one failure, got %d", obs.failed)
			}
		})
	}
}

func TestResyncWithoutSentinelClearsBuffer(t *testing.T) {
	testlog.Start(t)
	p, _ := newTestParticipant(t, true)
	p.deserializer.Append(bytes.Repeat([]byte{0x11}, 37))
	if p.Resync() {
		t.Fatalf("resync succeeded without sentinel")
	}
	if p.deserializer.Len() != 0 {
		t.Fatalf("buffer not cleared: %d", p.deserializer.Len())
	}
}

func TestResyncTruncatedCookieClearsBuffer(t *testing.T) {
	testlog.Start(t)
	p, _ := newTestParticipant(t, true)
	p.deserializer.Append(frame.Cookie()[:10])
	if p.Resync() {
		t.Fatalf("resync succeeded on truncated cookie")
	}
	if p.deserializer.Len() != 0 {
		t.Fatalf("buffer not cleared: %d", p.deserializer.Len())
	}
}

func TestResyncUnsupportedFlushes(t *testing.T) {
	testlog.Start(t)
	obs := &countingObserver{}
	p, _ := newTestParticipant(t, false, WithObserver(obs))
	p.deserializer.Append(frame.Cookie())
	p.deserializer.Append(wire(1, 1, "lost"))
	if p.Resync() {
		t.Fatalf("resync succeeded while unsupported")
	}
	if p.deserializer.Len() != 0 {
		t.Fatalf("buffer not cleared: %d", p.deserializer.Len())
	}
	if obs.attempts != 0 {
		t.Fatalf("scan attempted while unsupported")
	}
}

func TestDeframeResyncsAfterBrokenFrame(t *testing.T) {
	testlog.Start(t)
	obs := &countingObserver{}
	p, tr := newTestParticipant(t, true, WithObserver(obs))
	rec := dispatch.NewRecorder()
	p.Register(rec, 9, 9)

	broken := frame.EncodeHeader(protocol.Header{Service: 0x0102, Method: 0x0304, Length: 1000, Request: 0x05060708})
	var buf bytes.Buffer
	buf.Write(broken)
	buf.Write(frame.Cookie())
	buf.Write(wire(9, 9, "recovered"))
	if err := tr.deliver(p, buf.Bytes()); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if rec.Count() != 1 || string(rec.Messages()[0].Payload) != "recovered" {
		t.Fatalf("expected recovered frame, got %d", rec.Count())
	}
	if obs.resynced != 1 || obs.failed != 0 {
		t.Fatalf("unexpected observer counts: %+v", obs)
	}
	if p.Pending() != 0 {
		t.Fatalf("buffer not drained: %d", p.Pending())
	}
}

func TestDeframeResyncExhaustionFlushes(t *testing.T) {
	testlog.Start(t)
	obs := &countingObserver{}
	p, tr := newTestParticipant(t, true, WithObserver(obs))
	b := wire(1, 2, "0123456789")
	tr.deliver(p, b[:18])
	if p.Pending() != 0 {
		t.Fatalf("partial frame not flushed under resync: %d", p.Pending())
	}
	if obs.failed != 1 {
		t.Fatalf("expected resync failure, got %+v", obs)
	}
	if tr.restarts != 1 {
		t.Fatalf("transport not restarted after flush")
	}
}

func TestInStreamCookieIsDropped(t *testing.T) {
	testlog.Start(t)
	obs := &countingObserver{}
	p, tr := newTestParticipant(t, true, WithObserver(obs))
	rec := dispatch.NewRecorder()
	p.Register(rec, frame.CookieService, frame.CookieMethod)
	p.Register(rec, 4, 4)

	var buf bytes.Buffer
	buf.Write(frame.Cookie())
	buf.Write(wire(4, 4, "data"))
	buf.Write(frame.Cookie())
	tr.deliver(p, buf.Bytes())
	if rec.Count() != 1 || rec.Messages()[0].Header.Service != 4 {
		t.Fatalf("cookie leaked to receivers: %d", rec.Count())
	}
	if obs.cookies != 2 || obs.messages != 1 {
		t.Fatalf("unexpected observer counts: %+v", obs)
	}
}

func TestMalformedLengthWithoutResyncFlushes(t *testing.T) {
	testlog.Start(t)
	p, tr := newTestParticipant(t, false)
	rec := dispatch.NewRecorder()
	p.Register(rec, 1, 1)
	bad := frame.EncodeHeader(protocol.Header{Service: 1, Method: 1, Length: 2})
	tr.deliver(p, append(bad, wire(1, 1, "next")...))
	if rec.Count() != 0 {
		t.Fatalf("dispatched after malformed frame")
	}
	if p.Pending() != 0 {
		t.Fatalf("buffer not flushed: %d", p.Pending())
	}
}

func TestDeliveryErrorStopsWithoutRestart(t *testing.T) {
	testlog.Start(t)
	obs := &countingObserver{}
	p, tr := newTestParticipant(t, false, WithObserver(obs))
	rec := dispatch.NewRecorder()
	p.Register(rec, 1, 2)
	tr.buf = wire(1, 2, "never")

	err := p.Received(io.ErrUnexpectedEOF, len(tr.buf))
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("expected delivery error, got %v", err)
	}
	if tr.restarts != 0 || rec.Count() != 0 || p.Pending() != 0 {
		t.Fatalf("processing continued: restarts=%d count=%d pending=%d", tr.restarts, rec.Count(), p.Pending())
	}
	if obs.deliveryE != 1 {
		t.Fatalf("delivery failure not observed")
	}
}

func TestSendingMagicCookiesGate(t *testing.T) {
	testlog.Start(t)
	p, _ := newTestParticipant(t, false)
	p.SetSendingMagicCookies(true)
	if p.IsSendingMagicCookies() {
		t.Fatalf("cookies enabled without resync support")
	}

	q, _ := newTestParticipant(t, true)
	q.SetSendingMagicCookies(true)
	if !q.IsSendingMagicCookies() {
		t.Fatalf("cookies not enabled with resync support")
	}
	q.SetSendingMagicCookies(false)
	if q.IsSendingMagicCookies() {
		t.Fatalf("cookies not disabled")
	}

	cfg := DefaultConfig()
	cfg.SendMagicCookies = true
	r, err := New(cfg, &fakeTransport{})
	if err != nil {
		t.Fatalf("new participant: %v", err)
	}
	if r.IsSendingMagicCookies() {
		t.Fatalf("config bypassed the resync gate")
	}
}

func TestFramePrependsCookieWhenSending(t *testing.T) {
	testlog.Start(t)
	p, _ := newTestParticipant(t, true)
	msg := protocol.NewMessage(5, 6, []byte("out"))

	plain, err := p.Frame(msg)
	if err != nil {
		t.Fatalf("frame: %v", err)
	}
	if !bytes.Equal(plain, frame.Encode(msg)) {
		t.Fatalf("unexpected plain frame: % x", plain)
	}

	p.SetSendingMagicCookies(true)
	withCookie, err := p.Frame(msg)
	if err != nil {
		t.Fatalf("frame: %v", err)
	}
	if !bytes.Equal(withCookie[:frame.HeaderLen], frame.Cookie()) || !bytes.Equal(withCookie[frame.HeaderLen:], plain) {
		t.Fatalf("unexpected cookie frame: % x", withCookie)
	}
}

func TestLoopbackThroughOwnFraming(t *testing.T) {
	testlog.Start(t)
	sender, _ := newTestParticipant(t, true)
	sender.SetSendingMagicCookies(true)
	receiver, tr := newTestParticipant(t, true)
	rec := dispatch.NewRecorder()
	receiver.Register(rec, 7, 1)

	var stream bytes.Buffer
	for i := 0; i < 3; i++ {
		b, err := sender.Frame(protocol.NewMessage(7, 1, []byte{byte(i)}))
		if err != nil {
			t.Fatalf("frame: %v", err)
		}
		stream.Write(b)
	}
	tr.deliver(receiver, stream.Bytes())
	if rec.Count() != 3 {
		t.Fatalf("expected 3 messages, got %d", rec.Count())
	}
}

type fakeExecutor struct{ pollOne, poll, run int }

func (f *fakeExecutor) PollOne() int { f.pollOne++; return 1 }
func (f *fakeExecutor) Poll() int    { f.poll++; return 2 }
func (f *fakeExecutor) Run() int     { f.run++; return 3 }

func TestExecutionDelegates(t *testing.T) {
	testlog.Start(t)
	exec := &fakeExecutor{}
	p, _ := newTestParticipant(t, false, WithExecutor(exec))
	if p.PollOne() != 1 || p.Poll() != 2 || p.Run() != 3 {
		t.Fatalf("delegation returned wrong counts")
	}
	if exec.pollOne != 1 || exec.poll != 1 || exec.run != 1 {
		t.Fatalf("unexpected calls: %+v", exec)
	}

	bare, _ := newTestParticipant(t, false)
	if bare.PollOne() != 0 || bare.Poll() != 0 || bare.Run() != 0 {
		t.Fatalf("nil executor should run nothing")
	}
}

func TestSharedRegistryAcrossParticipants(t *testing.T) {
	testlog.Start(t)
	reg := dispatch.NewRegistry()
	a, ta := newTestParticipant(t, false, WithRegistry(reg))
	b, tb := newTestParticipant(t, false, WithRegistry(reg))
	rec := dispatch.NewRecorder()
	a.Register(rec, 2, 2)

	ta.deliver(a, wire(2, 2, "from a"))
	tb.deliver(b, wire(2, 2, "from b"))
	if rec.Count() != 2 {
		t.Fatalf("expected both participants to dispatch, got %d", rec.Count())
	}
	if a.ID() == b.ID() {
		t.Fatalf("participants share an id")
	}
}

func TestCloseReleasesBuffers(t *testing.T) {
	testlog.Start(t)
	p, tr := newTestParticipant(t, true)
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := tr.deliver(p, wire(1, 1, "late")); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if _, err := p.Frame(protocol.NewMessage(1, 1, nil)); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed from Frame, got %v", err)
	}
	if p.Resync() {
		t.Fatalf("resync after close succeeded")
	}
}

func TestNewRejectsInvalidInput(t *testing.T) {
	testlog.Start(t)
	if _, err := New(Config{}, &fakeTransport{}); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
	if _, err := New(DefaultConfig(), nil); !errors.Is(err, ErrNoTransport) {
		t.Fatalf("expected ErrNoTransport, got %v", err)
	}
}

type reentrantReceiver struct {
	p       *Participant
	pending []int
}

func (r *reentrantReceiver) Receive(*protocol.Message) {
	r.pending = append(r.pending, r.p.Pending())
	r.p.Resync()
}

func TestReceiverMayCallBackIntoParticipant(t *testing.T) {
	testlog.Start(t)
	p, tr := newTestParticipant(t, false)
	recv := &reentrantReceiver{p: p}
	p.Register(recv, 1, 2)

	var buf bytes.Buffer
	buf.Write(wire(1, 2, "first"))
	buf.Write(wire(1, 2, "second"))
	done := make(chan error, 1)
	go func() { done <- tr.deliver(p, buf.Bytes()) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("deliver: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("receive did not complete while a receiver called back into the participant")
	}
	if len(recv.pending) != 2 {
		t.Fatalf("expected two callbacks, got %d", len(recv.pending))
	}
	for i, n := range recv.pending {
		if n != 0 {
			t.Fatalf("callback %d saw %d pending bytes", i, n)
		}
	}
	if tr.restarts != 1 {
		t.Fatalf("expected one restart, got %d", tr.restarts)
	}
}
