package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/hashicorp/go-multierror"
	"i4.energy/across/satbridge/forward"
	"i4.energy/across/satbridge/link"
	"i4.energy/across/satbridge/mavlink"
	"i4.energy/across/satbridge/modem"
)

// ErrNotInitialized is returned by operations that need Initialize first.
var ErrNotInitialized = errors.New("bridge not initialized")

// Counters are the bridge's own cumulative counters.
type Counters struct {
	AutopilotFrames  int // frames received from the autopilot
	ModemFrames      int // frames received from the modem during a call
	SignallingFrames int // frames received from the modem outside a call, not forwarded
	ATLines          int
	NoiseBytes       int
	BadCRC           int // frames of known messages with a checksum mismatch, still forwarded
	AutopilotDrops   int // autopilot link losses
	ModemDrops       int // modem link losses
	Dials            int
	DialFailures     int
}

// Status is a snapshot of the bridge.
type Status struct {
	State       modem.State
	LastError   error
	AutopilotUp bool
	ModemUp     bool
	Forward     forward.Stats
	Modem       modem.Stats
	Counters    Counters
	Allowlist   []mavlink.MessageID
}

// endpoint is one of the two links with its reconnect bookkeeping.
type endpoint struct {
	name     string
	dialer   link.Dialer
	link     link.Link
	nextDial time.Time
}

func (e *endpoint) up() bool {
	return e.link != nil && e.link.IsAlive()
}

// Bridge connects an autopilot link to an Iridium modem link. It owns
// both links, the modem session and the forwarder. All methods must be
// called from the goroutine that calls Tick.
type Bridge struct {
	config   Config
	settings Settings
	logger   *slog.Logger

	session    *modem.Session
	classifier *mavlink.Classifier
	forwarder  *forward.Forwarder

	autopilot endpoint
	modem     endpoint
	apBuf     []byte
	demux     Demux

	counters    Counters
	lastStatus  time.Time
	initialized bool
}

func New(config Config) *Bridge {
	config.setDefaults()
	return &Bridge{
		config:    config,
		settings:  config.Settings,
		logger:    config.Logger.With("component", "bridge"),
		autopilot: endpoint{name: "autopilot", dialer: config.Autopilot},
		modem:     endpoint{name: "modem", dialer: config.Modem},
	}
}

// Initialize validates the settings, builds the components and dials
// both links. A link that cannot be dialled is not an error: it is
// retried by Tick every ReconnectInterval.
func (b *Bridge) Initialize(ctx context.Context) error {
	if b.initialized {
		return errors.New("bridge already initialized")
	}
	if b.config.Autopilot == nil || b.config.Modem == nil {
		return errors.New("bridge: both link dialers are required")
	}
	c, err := b.settings.compile(b.config.Logger)
	if err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}

	b.applyLevel(b.settings.Verbose)
	b.classifier = mavlink.NewClassifier(c.allow)
	c.forward.MaxQueueDepth = b.config.MaxQueueDepth
	b.forwarder = forward.New(c.forward)
	b.session = modem.NewSession(c.modem)
	b.session.OnTransition = b.onTransition
	b.initialized = true

	now := b.config.Now()
	b.lastStatus = now
	b.redial(ctx, &b.autopilot, now)
	b.redial(ctx, &b.modem, now)

	b.logger.Info("bridge initialized",
		"essential", len(b.classifier.Allowlist()),
		"max_bitrate_bps", c.forward.RateBps,
		"autopilot_up", b.autopilot.up(),
		"modem_up", b.modem.up())
	return nil
}

// Tick runs one pass of the scheduling loop: it checks both links, polls
// them for input, advances the modem session and forwards what the
// token bucket allows. It never blocks longer than two poll timeouts.
func (b *Bridge) Tick(ctx context.Context) error {
	if !b.initialized {
		return ErrNotInitialized
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	now := b.config.Now()

	b.checkLink(ctx, &b.autopilot, now)
	b.checkLink(ctx, &b.modem, now)

	b.pollAutopilot(now)
	b.pollModem(now)
	b.session.Tick(now)

	if err := b.forwarder.Tick(now, b.sinks()); err != nil {
		b.sinkFailed(err, now)
	}

	if now.Sub(b.lastStatus) >= b.config.StatusInterval {
		b.lastStatus = now
		b.logStatus()
	}
	return nil
}

// Shutdown closes both links. Queued traffic is discarded.
func (b *Bridge) Shutdown() error {
	var result *multierror.Error
	for _, e := range []*endpoint{&b.autopilot, &b.modem} {
		if e.link == nil {
			continue
		}
		if err := e.link.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("close %s link: %w", e.name, err))
		}
		e.link = nil
	}
	if b.initialized {
		b.logStatus()
		b.logger.Info("bridge shut down")
	}
	b.initialized = false
	return result.ErrorOrNil()
}

// UpdateSettings applies new settings. Invalid settings are rejected as
// a whole and the previous ones stay in effect. The modem-side options
// (SIM PIN, auto-answer) reach the modem the next time the session is
// configured, which happens at once when the session is in Error.
func (b *Bridge) UpdateSettings(s Settings) error {
	if !b.initialized {
		b.settings = s
		return nil
	}
	c, err := s.compile(b.config.Logger)
	if err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}

	b.settings = s
	b.applyLevel(s.Verbose)
	b.classifier = mavlink.NewClassifier(c.allow)
	c.forward.MaxQueueDepth = b.config.MaxQueueDepth
	b.forwarder.Update(c.forward)
	b.session.UpdateConfig(c.modem)
	b.logger.Info("settings updated", "verbose", s.Verbose, "essential", len(b.classifier.Allowlist()))

	if b.session.State() == modem.Error && b.modem.up() {
		b.ResetModem()
	}
	return nil
}

// Settings returns the settings in effect.
func (b *Bridge) Settings() Settings {
	return b.settings
}

// Hangup asks the modem to end the current call.
func (b *Bridge) Hangup() error {
	if !b.initialized {
		return ErrNotInitialized
	}
	return b.session.Hangup(b.config.Now())
}

// ResetModem leaves Error by resetting the session and, when the modem
// link is up, configuring the modem again.
func (b *Bridge) ResetModem() error {
	if !b.initialized {
		return ErrNotInitialized
	}
	b.session.Reset()
	b.demux.Reset()
	if !b.modem.up() {
		// Configured again once the link is back.
		return nil
	}
	return b.session.Open(b.modem.link, b.config.Now())
}

func (b *Bridge) Status() Status {
	s := Status{
		AutopilotUp: b.autopilot.up(),
		ModemUp:     b.modem.up(),
		Counters:    b.counters,
	}
	s.Counters.NoiseBytes += b.demux.Dropped()
	if b.session != nil {
		s.State = b.session.State()
		s.LastError = b.session.LastError()
		s.Modem = b.session.Stats()
	}
	if b.forwarder != nil {
		s.Forward = b.forwarder.Stats()
	}
	if b.classifier != nil {
		s.Allowlist = b.classifier.Allowlist()
	}
	return s
}

func (b *Bridge) applyLevel(verbose bool) {
	if b.config.Level == nil {
		return
	}
	if verbose {
		b.config.Level.Set(slog.LevelDebug)
		return
	}
	b.config.Level.Set(b.config.BaseLevel)
}

// onTransition reports the counters whenever a call starts or ends.
func (b *Bridge) onTransition(from, to modem.State) {
	if from == modem.InCall || to == modem.InCall {
		b.logStatus()
	}
}

// checkLink notices a lost link and redials a down one when its
// reconnect time has come.
func (b *Bridge) checkLink(ctx context.Context, e *endpoint, now time.Time) {
	if e.link != nil && !e.link.IsAlive() {
		b.linkLost(e, link.ErrDown, now)
	}
	if e.link == nil && !now.Before(e.nextDial) {
		b.redial(ctx, e, now)
	}
}

func (b *Bridge) redial(ctx context.Context, e *endpoint, now time.Time) {
	e.nextDial = now.Add(b.config.ReconnectInterval)
	b.counters.Dials++

	dialCtx, cancel := context.WithTimeout(ctx, b.config.DialTimeout)
	defer cancel()
	l, err := e.dialer.Dial(dialCtx)
	if err != nil {
		b.counters.DialFailures++
		b.logger.Warn("link dial failed", "link", e.name, "error", err, "retry_in", b.config.ReconnectInterval)
		return
	}
	e.link = l
	b.logger.Info("link up", "link", e.name)

	if e == &b.autopilot {
		b.apBuf = b.apBuf[:0]
		return
	}
	b.demux.Reset()
	if b.session.State() != modem.Uninitialized {
		b.session.Reset()
	}
	// A failed Open leaves the session in Error, the link check of the
	// next tick takes it from there.
	_ = b.session.Open(l, now)
}

// linkLost closes a failed link and drops the traffic queued for it.
// Losing the modem link ends any call and puts the session in Error.
func (b *Bridge) linkLost(e *endpoint, cause error, now time.Time) {
	_ = e.link.Close()
	e.link = nil
	e.nextDial = now.Add(b.config.ReconnectInterval)
	b.logger.Warn("link down", "link", e.name, "error", cause, "retry_in", b.config.ReconnectInterval)

	if e == &b.autopilot {
		b.counters.AutopilotDrops++
		b.forwarder.Flush(forward.ToAutopilot)
		return
	}
	b.counters.ModemDrops++
	b.session.Fail(fmt.Errorf("%w: %w", modem.ErrLink, cause))
	b.forwarder.Flush(forward.ToModem)
}

func (b *Bridge) pollAutopilot(now time.Time) {
	if !b.autopilot.up() {
		return
	}
	data, err := b.autopilot.link.TryRecv(b.config.PollTimeout)
	if err != nil {
		b.linkLost(&b.autopilot, err, now)
		return
	}
	if len(data) == 0 {
		return
	}

	b.apBuf = append(b.apBuf, data...)
	for {
		advance, token, _ := mavlink.Splitter(b.apBuf, false)
		if advance == 0 {
			break
		}
		if token == nil {
			b.counters.NoiseBytes += advance
		} else {
			frame := append([]byte(nil), token...)
			b.counters.AutopilotFrames++
			b.enqueue(forward.ToModem, frame, now)
		}
		b.apBuf = append(b.apBuf[:0], b.apBuf[advance:]...)
	}
	if len(b.apBuf) > maxBuffered {
		b.counters.NoiseBytes += len(b.apBuf)
		b.apBuf = b.apBuf[:0]
	}
}

func (b *Bridge) pollModem(now time.Time) {
	if !b.modem.up() {
		return
	}
	data, err := b.modem.link.TryRecv(b.config.PollTimeout)
	if err != nil {
		b.linkLost(&b.modem, err, now)
		return
	}
	if len(data) > 0 {
		b.demux.Write(data)
	}

	for {
		b.demux.Lenient = b.session.DataSession()
		kind, token := b.demux.Next()
		switch kind {
		case TokenNone:
			return
		case TokenLine:
			b.counters.ATLines++
			b.session.HandleLine(string(token), now)
		case TokenFrame:
			if !b.session.CallEligible() {
				b.counters.SignallingFrames++
				continue
			}
			b.counters.ModemFrames++
			b.enqueue(forward.ToAutopilot, token, now)
		}
	}
}

// enqueue classifies a frame and queues it. Rejections are counted by
// the forwarder.
func (b *Bridge) enqueue(dir forward.Direction, raw []byte, now time.Time) {
	f, err := mavlink.Parse(raw)
	if err != nil {
		b.counters.NoiseBytes += len(raw)
		return
	}
	if ok, known := mavlink.CheckCRC(f); known && !ok {
		b.counters.BadCRC++
	}
	_ = b.forwarder.Enqueue(dir, raw, b.classifier.Classify(f), now)
}

// sinks reports which directions can take data now.
func (b *Bridge) sinks() forward.Sinks {
	var s forward.Sinks
	if b.autopilot.up() && link.Ready(b.autopilot.link) {
		s[forward.ToAutopilot] = b.autopilot.link.Send
	}
	if b.modem.up() && b.session.DataSession() {
		s[forward.ToModem] = b.session.WriteData
	}
	return s
}

func (b *Bridge) sinkFailed(err error, now time.Time) {
	var merr *multierror.Error
	if !errors.As(err, &merr) {
		return
	}
	for _, e := range merr.Errors {
		var sinkErr *forward.SinkError
		if !errors.As(e, &sinkErr) {
			continue
		}
		switch sinkErr.Direction {
		case forward.ToAutopilot:
			if b.autopilot.link != nil {
				b.linkLost(&b.autopilot, sinkErr.Err, now)
			}
		case forward.ToModem:
			if b.modem.link != nil {
				b.linkLost(&b.modem, sinkErr.Err, now)
			}
		}
	}
}

func (b *Bridge) logStatus() {
	st := b.Status()
	level := slog.LevelDebug
	if b.settings.Verbose {
		level = slog.LevelInfo
	}
	toModem := st.Forward.Directions[forward.ToModem]
	toAutopilot := st.Forward.Directions[forward.ToAutopilot]
	b.logger.Log(context.Background(), level, "status",
		"state", st.State.String(),
		"autopilot_up", st.AutopilotUp,
		"modem_up", st.ModemUp,
		"to_modem", humanize.IBytes(uint64(toModem.ForwardedBytes)),
		"to_modem_queued", toModem.Queued,
		"to_autopilot", humanize.IBytes(uint64(toAutopilot.ForwardedBytes)),
		"to_autopilot_queued", toAutopilot.Queued,
		"backpressure_drops", humanize.Comma(int64(toModem.BackpressureDrops+toAutopilot.BackpressureDrops)),
		"link_loss_drops", humanize.Comma(int64(toModem.LinkLossDrops+toAutopilot.LinkLossDrops)),
		"calls", st.Modem.Calls,
		"bad_crc", st.Counters.BadCRC,
		"noise", humanize.IBytes(uint64(st.Counters.NoiseBytes)))
}
