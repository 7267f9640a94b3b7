package bridge_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/mock/gomock"
	"i4.energy/across/satbridge/bridge"
	"i4.energy/across/satbridge/link"
	"i4.energy/across/satbridge/mavlink"
	"i4.energy/across/satbridge/modem"
)

const tickInterval = 20 * time.Millisecond

type clock struct {
	now time.Time
}

func (c *clock) Now() time.Time {
	return c.now
}

func encode(t *testing.T, id mavlink.MessageID, payload []byte) []byte {
	t.Helper()
	raw, err := mavlink.Encode(2, 0, 1, 1, id, payload)
	if err != nil {
		t.Fatalf("encode %s: %v", id, err)
	}
	return raw
}

// iridium answers like a healthy modem, echo included. Data written
// during a call is not answered.
func iridium(sent []byte) []byte {
	cmd := string(bytes.TrimSuffix(sent, []byte("\r")))
	switch {
	case cmd == "+++":
		return []byte("\r\nOK\r\n")
	case cmd == "AT+CPIN?":
		return []byte(cmd + "\r\r\n+CPIN: READY\r\n\r\nOK\r\n")
	case cmd == "ATA":
		return []byte(cmd + "\r\r\nCONNECT 2400\r\n")
	case strings.HasPrefix(cmd, "AT"):
		return []byte(cmd + "\r\r\nOK\r\n")
	}
	return nil
}

// sequence hands out the given links one per dial, then fails.
func sequence(links ...link.Link) link.Dialer {
	return link.DialerFunc(func(context.Context) (link.Link, error) {
		if len(links) == 0 {
			return nil, errors.New("no more links")
		}
		l := links[0]
		links = links[1:]
		return l, nil
	})
}

type harness struct {
	t      *testing.T
	clock  *clock
	ap     *link.TestLink
	mdm    *link.TestLink
	bridge *bridge.Bridge
	logs   *bytes.Buffer
	level  *slog.LevelVar
}

func newHarness(t *testing.T, settings bridge.Settings, modems ...*link.TestLink) *harness {
	t.Helper()
	h := &harness{
		t:     t,
		clock: &clock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)},
		ap:    link.NewTestLink(),
		logs:  &bytes.Buffer{},
		level: &slog.LevelVar{},
	}
	if len(modems) == 0 {
		modems = []*link.TestLink{link.NewTestLink()}
	}
	dialed := make([]link.Link, len(modems))
	for i, m := range modems {
		if m.Responder == nil {
			m.Responder = iridium
		}
		dialed[i] = m
	}
	h.mdm = modems[0]
	h.level.Set(slog.LevelInfo)

	h.bridge = bridge.New(bridge.Config{
		Autopilot: h.ap.Dialer(),
		Modem:     sequence(dialed...),
		Settings:  settings,
		Logger:    slog.New(slog.NewTextHandler(h.logs, &slog.HandlerOptions{Level: h.level})),
		Level:     h.level,
		BaseLevel: slog.LevelInfo,
		Now:       h.clock.Now,
	})
	if err := h.bridge.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	return h
}

func (h *harness) tick() {
	h.t.Helper()
	h.clock.now = h.clock.now.Add(tickInterval)
	if err := h.bridge.Tick(context.Background()); err != nil {
		h.t.Fatalf("tick: %v", err)
	}
}

// until ticks until cond holds, for at most the given simulated time.
func (h *harness) until(what string, limit time.Duration, cond func() bool) {
	h.t.Helper()
	for elapsed := time.Duration(0); elapsed <= limit; elapsed += tickInterval {
		if cond() {
			return
		}
		h.tick()
	}
	h.t.Fatalf("%s: not reached within %v (state %s)", what, limit, h.bridge.Status().State)
}

func (h *harness) inState(s modem.State) func() bool {
	return func() bool { return h.bridge.Status().State == s }
}

func (h *harness) call() {
	h.t.Helper()
	h.until("configured", time.Second, h.inState(modem.Idle))
	h.mdm.Inject("\r\nRING\r\n")
	h.until("call up", time.Second, h.inState(modem.InCall))
}

func sentFrame(l *link.TestLink, frame []byte) bool {
	for _, p := range l.Sent() {
		if bytes.Equal(p, frame) {
			return true
		}
	}
	return false
}

func TestBridgeCall(t *testing.T) {
	h := newHarness(t, bridge.Settings{})
	h.call()

	up := encode(t, mavlink.MsgHeartbeat, make([]byte, 9))
	h.ap.InjectBytes(up)
	h.until("frame to modem", time.Second, func() bool { return sentFrame(h.mdm, up) })

	down := encode(t, mavlink.MsgCommandLong, make([]byte, 33))
	h.mdm.InjectBytes(down)
	h.until("frame to autopilot", time.Second, func() bool { return sentFrame(h.ap, down) })

	h.mdm.Inject("\r\nNO CARRIER\r\n")
	h.until("call dropped", time.Second, h.inState(modem.Idle))

	st := h.bridge.Status()
	if st.Modem.Calls != 1 || st.Modem.Dropped != 1 {
		t.Errorf("unexpected modem stats %+v", st.Modem)
	}
	if st.Counters.AutopilotFrames != 1 || st.Counters.ModemFrames != 1 {
		t.Errorf("unexpected counters %+v", st.Counters)
	}
	if st.Counters.BadCRC != 0 {
		t.Errorf("%d frames with a bad checksum", st.Counters.BadCRC)
	}
}

func TestBridgeCallDroppedMidFrame(t *testing.T) {
	h := newHarness(t, bridge.Settings{})
	h.call()

	down := encode(t, mavlink.MsgCommandLong, make([]byte, 33))
	h.mdm.InjectBytes(down[:20])
	h.tick()
	h.mdm.Inject("\r\nNO CARRIER\r\n")
	h.until("call dropped", time.Second, h.inState(modem.Idle))

	if st := h.bridge.Status(); st.Modem.Dropped != 1 || st.Counters.ModemFrames != 0 {
		t.Errorf("unexpected stats %+v %+v", st.Modem, st.Counters)
	}
}

func TestBridgeStrayMagicWhileConfiguring(t *testing.T) {
	h := newHarness(t, bridge.Settings{})
	h.mdm.InjectBytes([]byte{mavlink.MagicV1})
	h.until("configured", 2*time.Second, h.inState(modem.Idle))
	if st := h.bridge.Status(); st.Modem.Retries != 0 {
		t.Errorf("configuration retried %d times", st.Modem.Retries)
	}
}

func TestBridgeNoDataWithoutCall(t *testing.T) {
	h := newHarness(t, bridge.Settings{})
	h.until("configured", time.Second, h.inState(modem.Idle))

	up := encode(t, mavlink.MsgHeartbeat, make([]byte, 9))
	h.ap.InjectBytes(up)
	for range 50 {
		h.tick()
	}
	if sentFrame(h.mdm, up) {
		t.Fatal("frame written to the modem outside a call")
	}
	if q := h.bridge.Status().Forward.Directions[0].Queued; q != 1 {
		t.Fatalf("essential frame should wait for the call, %d queued", q)
	}

	h.mdm.Inject("\r\nRING\r\n")
	h.until("queued frame sent once the call is up", 2*time.Second, func() bool { return sentFrame(h.mdm, up) })
}

func TestBridgeSignallingFrames(t *testing.T) {
	h := newHarness(t, bridge.Settings{})
	// The first reply is still outstanding, the modem is configuring.
	h.mdm.InjectBytes(encode(t, mavlink.MsgHeartbeat, make([]byte, 9)))
	h.tick()
	if st := h.bridge.Status(); st.State != modem.Configuring || st.Counters.SignallingFrames != 1 {
		t.Fatalf("expected a consumed frame while configuring, got state %s counters %+v", st.State, st.Counters)
	}
	for range 20 {
		h.tick()
	}
	if len(h.ap.Sent()) != 0 {
		t.Error("frame received while configuring reached the autopilot")
	}
}

func TestBridgeModemLinkLoss(t *testing.T) {
	first, second := link.NewTestLink(), link.NewTestLink()
	h := newHarness(t, bridge.Settings{}, first, second)
	h.until("configured", time.Second, h.inState(modem.Idle))

	// Essential traffic waiting for a call.
	h.ap.InjectBytes(encode(t, mavlink.MsgHeartbeat, make([]byte, 9)))
	h.tick()

	first.Kill()
	h.tick()

	st := h.bridge.Status()
	if st.State != modem.Error || !errors.Is(st.LastError, modem.ErrLink) {
		t.Fatalf("expected Error with a link error, got %s: %v", st.State, st.LastError)
	}
	if st.ModemUp {
		t.Error("modem link reported up")
	}
	if d := st.Forward.Directions[0]; d.Queued != 0 || d.LinkLossDrops != 1 {
		t.Errorf("to-modem queue not flushed: %+v", d)
	}
	if !first.Closed() {
		t.Error("failed link not closed")
	}

	// Nothing is dialled before the reconnect interval.
	for range 10 {
		h.tick()
	}
	if len(second.Sent()) != 0 {
		t.Fatal("redialled too early")
	}

	h.until("reconfigured on the new link", bridge.DefaultReconnectInterval+time.Second, h.inState(modem.Idle))
	if n := strings.Count(h.logs.String(), "level=ERROR"); n != 1 {
		t.Errorf("expected the failure to be reported once, got %d reports", n)
	}
}

func TestBridgeAutopilotLinkLoss(t *testing.T) {
	h := newHarness(t, bridge.Settings{})
	h.call()

	h.ap.Kill()
	h.tick()
	st := h.bridge.Status()
	if st.AutopilotUp || st.Counters.AutopilotDrops != 1 {
		t.Fatalf("autopilot loss not noticed: %+v", st.Counters)
	}
	if st.State != modem.InCall {
		t.Errorf("the call does not depend on the autopilot link, state %s", st.State)
	}

	// Frames from the modem are still accepted but cannot be delivered.
	h.mdm.InjectBytes(encode(t, mavlink.MsgCommandLong, make([]byte, 33)))
	h.tick()
	if q := h.bridge.Status().Forward.Directions[1].Queued; q != 1 {
		t.Errorf("expected 1 frame queued for the autopilot, got %d", q)
	}
}

func TestBridgeHangup(t *testing.T) {
	h := newHarness(t, bridge.Settings{})
	h.call()

	if err := h.bridge.Hangup(); err != nil {
		t.Fatalf("hangup: %v", err)
	}
	h.until("call hung up", 5*time.Second, h.inState(modem.Idle))

	sent := h.mdm.SentStrings()
	if len(sent) < 2 || sent[len(sent)-2] != "+++" || sent[len(sent)-1] != "ATH\r" {
		t.Errorf("expected escape and ATH, sent %q", sent)
	}
	if st := h.bridge.Status(); st.Modem.HungUp != 1 {
		t.Errorf("unexpected modem stats %+v", st.Modem)
	}
	if err := h.bridge.Hangup(); !errors.Is(err, modem.ErrNoCall) {
		t.Errorf("expected ErrNoCall, got: %v", err)
	}
}

func TestBridgeUpdateSettings(t *testing.T) {
	h := newHarness(t, bridge.Settings{})

	t.Run("Verbose", func(t *testing.T) {
		s := h.bridge.Settings()
		s.Verbose = true
		if err := h.bridge.UpdateSettings(s); err != nil {
			t.Fatalf("update: %v", err)
		}
		if h.level.Level() != slog.LevelDebug {
			t.Errorf("level %s, want debug", h.level.Level())
		}
		s.Verbose = false
		h.bridge.UpdateSettings(s)
		if h.level.Level() != slog.LevelInfo {
			t.Errorf("level %s, want info", h.level.Level())
		}
	})

	t.Run("Allow-list", func(t *testing.T) {
		s := h.bridge.Settings()
		s.EssentialAllowlist = []string{"HEARTBEAT", "ATTITUDE"}
		if err := h.bridge.UpdateSettings(s); err != nil {
			t.Fatalf("update: %v", err)
		}
		want := []mavlink.MessageID{mavlink.MsgHeartbeat, mavlink.MsgAttitude}
		got := h.bridge.Status().Allowlist
		if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
			t.Errorf("allow-list %v, want %v", got, want)
		}
	})

	t.Run("Invalid settings are rejected as a whole", func(t *testing.T) {
		before := h.bridge.Settings()
		bad := before
		bad.EssentialAllowlist = []string{"NOPE"}
		bad.RingsBeforeAnswer = -1
		err := h.bridge.UpdateSettings(bad)
		var merr *multierror.Error
		if !errors.As(err, &merr) || len(merr.Errors) != 2 {
			t.Fatalf("expected two aggregated errors, got: %v", err)
		}
		if !errors.Is(err, mavlink.ErrUnknownMessage) || !errors.Is(err, modem.ErrInvalidConfig) {
			t.Errorf("unexpected causes: %v", err)
		}
		if got := h.bridge.Settings(); len(got.EssentialAllowlist) != len(before.EssentialAllowlist) {
			t.Error("rejected settings were applied")
		}
	})
}

func TestBridgeUpdateSettingsRecoversFromError(t *testing.T) {
	mdm := link.NewTestLink()
	mdm.Responder = func(sent []byte) []byte {
		if string(sent) == "AT+CPIN=\"0000\"\r" {
			return []byte("\r\n+CME ERROR: 16\r\n")
		}
		return iridium(sent)
	}
	h := newHarness(t, bridge.Settings{SimPIN: "0000"}, mdm)
	h.until("wrong PIN rejected", time.Second, h.inState(modem.Error))

	var rejected *modem.RejectedError
	if err := h.bridge.Status().LastError; !errors.As(err, &rejected) || rejected.Code != 16 {
		t.Fatalf("expected a rejection with code 16, got: %v", err)
	}

	s := h.bridge.Settings()
	s.SimPIN = ""
	if err := h.bridge.UpdateSettings(s); err != nil {
		t.Fatalf("update: %v", err)
	}
	h.until("configured without PIN", time.Second, h.inState(modem.Idle))
}

func TestBridgeLifecycle(t *testing.T) {
	t.Run("Tick before Initialize", func(t *testing.T) {
		b := bridge.New(bridge.Config{})
		if err := b.Tick(context.Background()); !errors.Is(err, bridge.ErrNotInitialized) {
			t.Errorf("expected ErrNotInitialized, got: %v", err)
		}
		if err := b.Initialize(context.Background()); err == nil {
			t.Error("expected an error without dialers")
		}
	})

	t.Run("Cancelled context", func(t *testing.T) {
		h := newHarness(t, bridge.Settings{})
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if err := h.bridge.Tick(ctx); !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got: %v", err)
		}
	})

	t.Run("Invalid settings", func(t *testing.T) {
		b := bridge.New(bridge.Config{
			Autopilot: link.NewTestLink().Dialer(),
			Modem:     link.NewTestLink().Dialer(),
			Settings:  bridge.Settings{EssentialAllowlist: []string{"BOGUS"}},
		})
		if err := b.Initialize(context.Background()); !errors.Is(err, mavlink.ErrUnknownMessage) {
			t.Errorf("expected ErrUnknownMessage, got: %v", err)
		}
	})

	t.Run("Shutdown closes both links", func(t *testing.T) {
		h := newHarness(t, bridge.Settings{})
		if err := h.bridge.Shutdown(); err != nil {
			t.Fatalf("shutdown: %v", err)
		}
		if !h.ap.Closed() || !h.mdm.Closed() {
			t.Error("links left open")
		}
		if err := h.bridge.Tick(context.Background()); !errors.Is(err, bridge.ErrNotInitialized) {
			t.Errorf("expected ErrNotInitialized after shutdown, got: %v", err)
		}
	})
}

func TestBridgeWithMocks(t *testing.T) {
	t.Run("Shutdown aggregates close errors", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		ap, mdm := link.NewMockLink(ctrl), link.NewMockLink(ctrl)
		apDialer, mdmDialer := link.NewMockDialer(ctrl), link.NewMockDialer(ctrl)

		apDialer.EXPECT().Dial(gomock.Any()).Return(ap, nil)
		mdmDialer.EXPECT().Dial(gomock.Any()).Return(mdm, nil)
		for _, l := range []*link.MockLink{ap, mdm} {
			l.EXPECT().IsAlive().Return(true).AnyTimes()
			l.EXPECT().TryRecv(gomock.Any()).Return(nil, nil).AnyTimes()
		}
		mdm.EXPECT().Send([]byte("AT+CMEE=1\r")).Return(nil)
		ap.EXPECT().Close().Return(errors.New("port busy"))
		mdm.EXPECT().Close().Return(errors.New("port gone"))

		b := bridge.New(bridge.Config{Autopilot: apDialer, Modem: mdmDialer})
		if err := b.Initialize(context.Background()); err != nil {
			t.Fatalf("initialize: %v", err)
		}
		err := b.Shutdown()
		var merr *multierror.Error
		if !errors.As(err, &merr) || len(merr.Errors) != 2 {
			t.Fatalf("expected two close errors, got: %v", err)
		}
	})

	t.Run("Failed dial is retried", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		c := &clock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
		ap := link.NewTestLink()
		mdm := link.NewTestLink()
		mdm.Responder = iridium
		dialer := link.NewMockDialer(ctrl)
		gomock.InOrder(
			dialer.EXPECT().Dial(gomock.Any()).Return(nil, errors.New("no such device")),
			dialer.EXPECT().Dial(gomock.Any()).Return(mdm, nil),
		)

		b := bridge.New(bridge.Config{
			Autopilot:         ap.Dialer(),
			Modem:             dialer,
			ReconnectInterval: time.Second,
			Now:               c.Now,
		})
		if err := b.Initialize(context.Background()); err != nil {
			t.Fatalf("a failed dial must not fail Initialize: %v", err)
		}
		if b.Status().ModemUp {
			t.Fatal("modem reported up")
		}

		for range 100 {
			c.now = c.now.Add(tickInterval)
			b.Tick(context.Background())
		}
		st := b.Status()
		if !st.ModemUp || st.State != modem.Idle {
			t.Errorf("expected the redialled modem to be configured, got up=%v state %s", st.ModemUp, st.State)
		}
		if st.Counters.DialFailures != 1 {
			t.Errorf("expected 1 dial failure, got %d", st.Counters.DialFailures)
		}
	})
}

func TestBridgeDialTimeout(t *testing.T) {
	c := &clock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	var attempts int
	hanging := link.DialerFunc(func(ctx context.Context) (link.Link, error) {
		attempts++
		if _, ok := ctx.Deadline(); !ok {
			return nil, errors.New("dial without a deadline")
		}
		<-ctx.Done()
		return nil, ctx.Err()
	})

	b := bridge.New(bridge.Config{
		Autopilot:   link.NewTestLink().Dialer(),
		Modem:       hanging,
		DialTimeout: 10 * time.Millisecond,
		Now:         c.Now,
	})
	start := time.Now()
	if err := b.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	c.now = c.now.Add(bridge.DefaultReconnectInterval)
	if err := b.Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("dials took %v", elapsed)
	}
	if attempts != 2 || b.Status().Counters.DialFailures != 2 {
		t.Errorf("expected 2 failed dials, got %d attempts %+v", attempts, b.Status().Counters)
	}
}

// listener is an autopilot link that cannot send until it has a peer.
type listener struct {
	*link.TestLink
	ready bool
}

func (l *listener) Ready() bool {
	return l.ready
}

func TestBridgeAutopilotNotReady(t *testing.T) {
	c := &clock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	ap := &listener{TestLink: link.NewTestLink()}
	mdm := link.NewTestLink()
	mdm.Responder = iridium
	b := bridge.New(bridge.Config{
		Autopilot: link.DialerFunc(func(context.Context) (link.Link, error) { return ap, nil }),
		Modem:     mdm.Dialer(),
		Now:       c.Now,
	})
	if err := b.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	run := func(n int) {
		for range n {
			c.now = c.now.Add(tickInterval)
			if err := b.Tick(context.Background()); err != nil {
				t.Fatalf("tick: %v", err)
			}
		}
	}

	run(50)
	mdm.Inject("\r\nRING\r\n")
	run(50)
	if st := b.Status(); st.State != modem.InCall {
		t.Fatalf("expected a call, got %s", st.State)
	}

	down := encode(t, mavlink.MsgCommandLong, make([]byte, 33))
	mdm.InjectBytes(down)
	run(50)
	if len(ap.Sent()) != 0 {
		t.Fatal("frame sent to an autopilot link without a peer")
	}
	st := b.Status().Forward.Directions[1]
	if st.Queued != 1 || st.Forwarded != 0 {
		t.Errorf("frame should wait for the peer: %+v", st)
	}

	ap.ready = true
	run(50)
	if !sentFrame(ap.TestLink, down) {
		t.Error("frame not delivered once the peer is known")
	}
}
