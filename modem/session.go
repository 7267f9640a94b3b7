package modem

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"i4.energy/across/satbridge/at"
	"i4.energy/across/satbridge/link"
)

// State is the modem lifecycle state.
type State int

const (
	Uninitialized State = iota
	Configuring
	Idle
	Ringing
	InCall
	Error
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Configuring:
		return "configuring"
	case Idle:
		return "idle"
	case Ringing:
		return "ringing"
	case InCall:
		return "in-call"
	case Error:
		return "error"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Stats are cumulative session counters. They survive Reset.
type Stats struct {
	Commands   int
	Retries    int
	Timeouts   int
	Rejections int
	Calls      int
	Dropped    int // calls ended by the modem
	HungUp     int // calls ended by Hangup
}

// operation is what the outstanding command is for.
type operation int

const (
	opNone operation = iota
	opConfigure
	opAnswer
	opEscape
	opHangup
)

// Session drives an Iridium modem through configuration, answering
// incoming data calls and hanging up. It owns the command channel and is
// driven entirely by HandleLine and Tick from a single scheduling loop.
type Session struct {
	// OnTransition, if set, is called after every state change.
	OnTransition func(from, to State)

	config Config
	ch     *Channel
	logger *slog.Logger

	state    State
	lastErr  error
	reported bool

	op      operation
	current at.Command
	retries int

	steps []at.Command
	step  int

	rings    int
	lastRing time.Time

	hangupRequested bool
	escapeAt        time.Time
	escapeAttempts  int

	stats Stats
}

func NewSession(config Config) *Session {
	config.setDefaults()
	logger := config.logger.With("component", "modem")
	return &Session{
		config: config,
		ch:     NewChannel(nil, logger),
		logger: logger,
	}
}

// UpdateConfig replaces the session configuration. The answer threshold
// applies to the next ring. The modem-side settings apply on the next Open.
func (s *Session) UpdateConfig(config Config) {
	config.setDefaults()
	s.config = config
	s.logger = config.logger.With("component", "modem")
	s.ch.logger = s.logger
}

func (s *Session) State() State {
	return s.state
}

// LastError is the cause of the most recent transition into Error. It is
// cleared by Reset.
func (s *Session) LastError() error {
	return s.lastErr
}

func (s *Session) Rings() int {
	return s.rings
}

func (s *Session) Stats() Stats {
	return s.stats
}

func (s *Session) HangupRequested() bool {
	return s.hangupRequested
}

func (s *Session) Config() Config {
	return s.config
}

// PendingCommand returns the command awaiting its final response, if any.
func (s *Session) PendingCommand() (at.Command, bool) {
	return s.ch.Pending()
}

// CallEligible reports whether modem-link traffic may be handed to the
// forwarder. Only Idle and InCall qualify, everything else on the link is
// protocol signalling.
func (s *Session) CallEligible() bool {
	return s.state == Idle || s.state == InCall
}

// DataSession reports whether data can be written to the modem now: a
// call is up, no hang-up is under way and no command is outstanding.
func (s *Session) DataSession() bool {
	return s.state == InCall && !s.hangupRequested && !s.ch.Busy()
}

// Open binds the session to a freshly acquired modem link and starts the
// configuration sequence.
func (s *Session) Open(l link.Link, now time.Time) error {
	if s.state != Uninitialized {
		return fmt.Errorf("%w: open in state %s", ErrInvalidState, s.state)
	}
	if l == nil || !l.IsAlive() {
		err := fmt.Errorf("%w: open: link not available", ErrLink)
		s.Fail(err)
		return err
	}

	s.ch.SetLink(l)
	s.steps = s.configureSteps()
	s.step = 0
	s.transition(Configuring)
	s.issue(opConfigure, s.steps[0], now)
	return nil
}

// Reset abandons whatever the session was doing and returns it to
// Uninitialized. Counters are kept.
func (s *Session) Reset() {
	s.ch.Abandon()
	s.op = opNone
	s.current = at.Command{}
	s.retries = 0
	s.step = 0
	s.rings = 0
	s.hangupRequested = false
	s.lastErr = nil
	s.transition(Uninitialized)
}

// Fail moves the session into Error with err as the cause. It is used for
// command failures and by the bridge when the modem link goes down. The
// first failure after a successful configuration is logged, repeats are
// not.
func (s *Session) Fail(err error) {
	if s.state == Error {
		return
	}
	s.ch.Abandon()
	s.op = opNone
	s.hangupRequested = false
	s.lastErr = err
	s.transition(Error)

	if s.reported {
		s.logger.Debug("modem session failed again", "error", err)
		return
	}
	s.reported = true
	s.logger.Error("modem session failed", "error", err)
}

// Hangup requests the end of the current call. The escape sequence is
// sent once the guard time has passed, followed by ATH.
func (s *Session) Hangup(now time.Time) error {
	if s.state != InCall {
		return fmt.Errorf("%w: hangup in state %s", ErrNoCall, s.state)
	}
	if s.hangupRequested {
		return nil
	}
	s.hangupRequested = true
	s.escapeAt = now.Add(s.config.hangupGuard)
	s.escapeAttempts = 0
	s.logger.Info("hangup requested")
	return nil
}

// WriteData sends data-session bytes to the remote end of the call.
func (s *Session) WriteData(p []byte) error {
	if !s.DataSession() {
		if s.ch.Busy() {
			return ErrBusy
		}
		return fmt.Errorf("%w: state %s", ErrNoCall, s.state)
	}
	return s.ch.WriteData(p)
}

// HandleLine processes one AT line received from the modem.
func (s *Session) HandleLine(line string, now time.Time) {
	if s.state == Error || s.state == Uninitialized {
		return
	}
	resp, ok := s.ch.Feed(line)
	if !ok {
		return
	}
	if resp.Kind == at.ResultUnsolicited {
		s.handleEvent(resp.Payload, now)
		return
	}
	s.handleResult(resp, now)
}

// Tick expires timed out commands and runs the time driven transitions.
func (s *Session) Tick(now time.Time) {
	if s.state == Error || s.state == Uninitialized {
		return
	}
	if resp, ok := s.ch.Poll(now); ok {
		s.handleResult(resp, now)
	}
	if s.ch.Busy() {
		return
	}

	switch s.state {
	case Ringing:
		if now.Sub(s.lastRing) > s.config.ringTimeout {
			s.logger.Info("caller gave up before answer", "rings", s.rings)
			s.transition(Idle)
		}
	case InCall:
		if s.hangupRequested && s.op == opNone && !now.Before(s.escapeAt) {
			s.issue(opEscape, at.Command{
				Text:    at.CmdEscape,
				Raw:     true,
				Timeout: s.config.hangupGuard + s.config.atTimeout,
			}, now)
		}
	}
}

func (s *Session) configureSteps() []at.Command {
	timeout := s.config.atTimeout
	steps := []at.Command{
		{Text: at.CmdReportErrors, Timeout: timeout},
		{Text: at.CmdRegistration, Timeout: timeout},
		{Text: at.CmdBearer, Timeout: timeout},
		// The modem answers by itself one ring after we would have.
		{Text: at.AutoAnswer(s.config.ringsBeforeAnswer + 1), Timeout: timeout},
	}
	if s.config.simPIN != "" {
		steps = append(steps, at.Command{Text: at.SimUnlock(s.config.simPIN), Timeout: timeout, Sensitive: true})
	} else {
		steps = append(steps, at.Command{Text: at.CmdSimStatus, Timeout: timeout, Expect: at.ExpectLine(at.SimReady)})
	}
	return steps
}

func (s *Session) issue(op operation, cmd at.Command, now time.Time) {
	s.op = op
	s.current = cmd
	s.retries = 0
	s.start(now)
}

func (s *Session) start(now time.Time) {
	s.stats.Commands++
	if err := s.ch.Start(s.current, now); err != nil {
		s.Fail(&SessionError{Command: s.current.String(), Err: err})
	}
}

// retry re-issues the current command after a timeout. It reports false
// once the retry budget is spent.
func (s *Session) retry(now time.Time) bool {
	if s.retries >= s.config.maxRetries {
		return false
	}
	s.retries++
	s.stats.Retries++
	s.logger.Warn("command timed out, retrying", "command", s.current.String(), "attempt", s.retries+1)
	s.start(now)
	return true
}

func (s *Session) fault() {
	s.Fail(&SessionError{
		Command: s.current.String(),
		Err:     fmt.Errorf("%w after %d attempts: %w", ErrModemFault, s.retries+1, ErrTimeout),
	})
}

func (s *Session) handleResult(resp at.Response, now time.Time) {
	op := s.op
	s.op = opNone

	switch resp.Kind {
	case at.ResultTimeout:
		s.stats.Timeouts++
	case at.ResultError:
		s.stats.Rejections++
	}

	// NO CARRIER as the answer to anything during a call means the call is gone.
	if resp.Kind == at.ResultError && resp.Code == at.CodeNoCarrier && s.state == InCall {
		s.endCall(op == opEscape || op == opHangup)
		return
	}

	switch op {
	case opConfigure:
		s.configured(resp, now)
	case opAnswer:
		s.answered(resp)
	case opEscape:
		s.escaped(resp, now)
	case opHangup:
		s.hungUp(resp, now)
	}
}

func (s *Session) configured(resp at.Response, now time.Time) {
	switch resp.Kind {
	case at.ResultOK:
		s.step++
		if s.step == len(s.steps) {
			s.logger.Info("modem configured")
			s.transition(Idle)
			return
		}
		s.issue(opConfigure, s.steps[s.step], now)
	case at.ResultTimeout:
		s.op = opConfigure
		if !s.retry(now) {
			s.fault()
		}
	default:
		s.Fail(&SessionError{Command: s.current.String(), Err: s.rejection(resp)})
	}
}

func (s *Session) rejection(resp at.Response) error {
	rejected := &RejectedError{Code: resp.Code, Line: resp.Final()}
	if resp.Code == at.CodeUnexpected && s.current.Text == at.CmdSimStatus {
		for _, l := range resp.Lines {
			if strings.HasPrefix(l, at.SimPin) {
				return errors.Join(ErrSIMPinRequired, rejected)
			}
		}
	}
	return rejected
}

func (s *Session) answered(resp at.Response) {
	if resp.Kind == at.ResultOK {
		s.startCall(resp.Final())
		return
	}
	s.logger.Warn("answer failed", "result", resp.Kind.String(), "line", resp.Final())
	if s.state == Ringing {
		s.transition(Idle)
	}
}

func (s *Session) escaped(resp at.Response, now time.Time) {
	switch resp.Kind {
	case at.ResultOK:
		s.issue(opHangup, at.Command{Text: at.CmdHangup, Timeout: s.config.atTimeout}, now)
	case at.ResultTimeout:
		s.escapeAttempts++
		if s.escapeAttempts > s.config.maxRetries {
			s.retries = s.escapeAttempts - 1
			s.fault()
			return
		}
		// Keep the guard time again before the next attempt.
		s.stats.Retries++
		s.escapeAt = now.Add(s.config.hangupGuard)
	default:
		s.logger.Warn("escape rejected, call stays up", "line", resp.Final())
		s.hangupRequested = false
	}
}

func (s *Session) hungUp(resp at.Response, now time.Time) {
	switch resp.Kind {
	case at.ResultOK:
		s.endCall(true)
	case at.ResultTimeout:
		s.op = opHangup
		if !s.retry(now) {
			s.fault()
		}
	default:
		s.logger.Warn("hangup rejected, call stays up", "line", resp.Final())
		s.hangupRequested = false
	}
}

func (s *Session) handleEvent(line string, now time.Time) {
	switch {
	case at.IsRing(line):
		s.ring(now)
	case strings.HasPrefix(line, at.Connect):
		// The modem's own auto-answer picked up the call.
		if s.state == Ringing {
			s.startCall(line)
		}
	case line == at.NoCarrier:
		switch s.state {
		case InCall:
			s.endCall(false)
		case Ringing:
			s.logger.Info("caller hung up before answer", "rings", s.rings)
			s.transition(Idle)
		}
	case strings.HasPrefix(line, at.UrcRegistration):
		s.logger.Debug("network registration", "status", strings.TrimSpace(strings.TrimPrefix(line, at.UrcRegistration)))
	default:
		s.logger.Debug("unsolicited line ignored", "line", line, "state", s.state.String())
	}
}

func (s *Session) ring(now time.Time) {
	switch s.state {
	case Idle:
		s.rings = 0
		s.transition(Ringing)
	case Ringing:
	default:
		return
	}
	s.rings++
	s.lastRing = now
	s.logger.Debug("ring", "count", s.rings)

	if s.rings >= s.config.ringsBeforeAnswer && !s.ch.Busy() {
		s.issue(opAnswer, at.Command{Text: at.CmdAnswer, Timeout: s.config.answerTimeout}, now)
	}
}

func (s *Session) startCall(connect string) {
	s.stats.Calls++
	s.rings = 0
	s.hangupRequested = false
	s.logger.Info("call connected", "result", connect)
	s.transition(InCall)
}

func (s *Session) endCall(requested bool) {
	s.ch.Abandon()
	s.op = opNone
	if requested {
		s.stats.HungUp++
		s.logger.Info("call hung up")
	} else {
		s.stats.Dropped++
		s.logger.Info("call dropped by modem")
	}
	s.transition(Idle)
}

func (s *Session) transition(to State) {
	from := s.state
	if from == to {
		return
	}
	s.state = to
	if to == Idle {
		s.rings = 0
		s.hangupRequested = false
		s.reported = false
	}
	s.logger.Debug("state transition", "from", from.String(), "to", to.String())
	if s.OnTransition != nil {
		s.OnTransition(from, to)
	}
}
