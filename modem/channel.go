package modem

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"i4.energy/across/satbridge/at"
	"i4.energy/across/satbridge/link"
)

// Channel runs one AT command at a time over the modem link.
//
// Execution is split into non-blocking steps so a command's wait spans
// scheduler ticks: Start writes the command, Feed hands it received lines
// and Poll expires it. Lines that do not belong to the outstanding command
// come back as unsolicited responses.
type Channel struct {
	link    link.Link
	logger  *slog.Logger
	pending *pendingCommand
}

type pendingCommand struct {
	cmd      at.Command
	deadline time.Time
	lines    []string
}

func NewChannel(l link.Link, logger *slog.Logger) *Channel {
	if logger == nil {
		logger = slog.Default()
	}
	return &Channel{link: l, logger: logger}
}

// SetLink replaces the link, e.g. after a redial. Any outstanding command
// is abandoned.
func (c *Channel) SetLink(l link.Link) {
	c.link = l
	c.pending = nil
}

// Busy reports whether a command is outstanding.
func (c *Channel) Busy() bool {
	return c.pending != nil
}

// Pending returns the outstanding command, if any.
func (c *Channel) Pending() (at.Command, bool) {
	if c.pending == nil {
		return at.Command{}, false
	}
	return c.pending.cmd, true
}

// Abandon forgets the outstanding command. Its final response, should it
// still arrive, is reported as unsolicited.
func (c *Channel) Abandon() {
	c.pending = nil
}

// Start writes cmd to the link. The command times out at now+cmd.Timeout.
func (c *Channel) Start(cmd at.Command, now time.Time) error {
	if c.pending != nil {
		return ErrBusy
	}
	if c.link == nil || !c.link.IsAlive() {
		return fmt.Errorf("%w: send %s: link not available", ErrLink, cmd)
	}
	if err := c.link.Send([]byte(cmd.Wire())); err != nil {
		return fmt.Errorf("%w: send %s: %w", ErrLink, cmd, err)
	}
	c.logger.Debug("command sent", "command", cmd.String())
	c.pending = &pendingCommand{cmd: cmd, deadline: now.Add(cmd.Timeout)}
	return nil
}

// Feed hands one received line to the channel. It reports true when the
// line completed the outstanding command or is an unsolicited event.
func (c *Channel) Feed(line string) (at.Response, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return at.Response{}, false
	}

	kind := at.Classify(line)
	if kind == at.TypeURC || c.pending == nil {
		return at.Response{Kind: at.ResultUnsolicited, Payload: line}, true
	}

	p := c.pending
	// Echo is left on by the modem's factory profile.
	if line == strings.TrimSpace(p.cmd.Text) {
		return at.Response{}, false
	}

	if kind == at.TypeData {
		p.lines = append(p.lines, line)
		return at.Response{}, false
	}

	c.pending = nil
	lines := append(p.lines, line)
	if !at.IsSuccess(line) {
		return at.Response{Kind: at.ResultError, Code: at.ParseErrorCode(line), Lines: lines}, true
	}
	if p.cmd.Expect != nil && !p.cmd.Expect(lines) {
		return at.Response{Kind: at.ResultError, Code: at.CodeUnexpected, Lines: lines}, true
	}
	return at.Response{Kind: at.ResultOK, Lines: lines}, true
}

// Poll expires the outstanding command once its deadline has passed. The
// channel is free again afterwards.
func (c *Channel) Poll(now time.Time) (at.Response, bool) {
	if c.pending == nil || now.Before(c.pending.deadline) {
		return at.Response{}, false
	}
	p := c.pending
	c.pending = nil
	c.logger.Debug("command timed out", "command", p.cmd.String())
	return at.Response{Kind: at.ResultTimeout, Lines: p.lines}, true
}

// WriteData writes data-session bytes to the link. It is refused while a
// command is outstanding so data never interleaves with a command.
func (c *Channel) WriteData(p []byte) error {
	if c.pending != nil {
		return ErrBusy
	}
	if c.link == nil || !c.link.IsAlive() {
		return fmt.Errorf("%w: link not available", ErrLink)
	}
	if err := c.link.Send(p); err != nil {
		return fmt.Errorf("%w: %w", ErrLink, err)
	}
	return nil
}
