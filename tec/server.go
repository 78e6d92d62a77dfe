// Package tec implements the single-threaded cooperative event loop that
// ties the ADC sequencer, the two channel state machines, and the
// line-oriented TCP command interface together (§4.9, §5).
//
// Everything here runs on one goroutine. The dispatcher mutates config
// and channel mode directly rather than through a queue, which is safe
// precisely because nothing else ever touches those objects
// concurrently — the Go equivalent of the single cooperative task the
// design note in §9 describes.
package tec

import (
	"bytes"
	"context"
	"net"
	"time"

	"github.com/cenkalti/backoff"
	"golang.org/x/time/rate"

	"github.com/nasa-jpl/tecsrv/adc"
	"github.com/nasa-jpl/tecsrv/channel"
	"github.com/nasa-jpl/tecsrv/internal/logging"
	"github.com/nasa-jpl/tecsrv/tecproto"
)

// MaxSessions is the largest number of simultaneous TCP command sessions
// the server will accept (§4.9); additional connection attempts are
// accepted and immediately closed.
const MaxSessions = 4

// pollInterval bounds how fast the cooperative loop spins when no
// ADC/TCP work is pending, so it behaves like a lightly-loaded poll loop
// rather than a busy spin.
const pollInterval = time.Millisecond

// ErrResetRequested and ErrDFURequested are returned by Serve when a
// session issues "reset" or "dfu". Actually restarting into the
// bootloader is outside a userspace process's reach; the caller is
// expected to log the request and exit, relying on a supervisor
// (systemd, runit, a container restart policy) to bring the process back
// up, which is the idiomatic stand-in for a hardware reset on a Linux
// gateway running this firmware's control loop.
var (
	ErrResetRequested = errString("tec: reset requested")
	ErrDFURequested   = errString("tec: dfu requested")
)

type errString string

func (e errString) Error() string { return string(e) }

// Server owns the ADC sequencer, both channels, the command dispatcher,
// and the set of live TCP sessions.
type Server struct {
	ADC        *adc.Sequencer
	Channels   [2]*channel.Channel
	Dispatcher *tecproto.Dispatcher
	Log        *logging.Logger
	Watchdog   *Watchdog

	listener *net.TCPListener
	sessions []*session

	lastSample [2]time.Time
	adcBackoff *backoff.ExponentialBackOff
	nextADCAt  time.Time

	limiter *rate.Limiter
}

type session struct {
	conn  *net.TCPConn
	proto tecproto.Session
	buf   []byte
}

// NewServer constructs a Server. listener must already be bound (e.g. via
// net.ListenTCP); Serve takes ownership of it.
func NewServer(listener *net.TCPListener, seq *adc.Sequencer, channels [2]*channel.Channel, dispatcher *tecproto.Dispatcher, log *logging.Logger, wd *Watchdog) *Server {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 10 * time.Millisecond
	bo.MaxInterval = 500 * time.Millisecond
	bo.MaxElapsedTime = 0 // never give up; the ADC always eventually reinitialises

	return &Server{
		ADC:        seq,
		Channels:   channels,
		Dispatcher: dispatcher,
		Log:        log,
		Watchdog:   wd,
		listener:   listener,
		adcBackoff: bo,
		limiter:    rate.NewLimiter(rate.Every(pollInterval), 1),
	}
}

// Serve runs the event loop until ctx is cancelled or a session requests
// a reset/DFU, per the five-step order in §4.9: ADC intake and routing,
// per-channel drift re-assertion, TCP accept, per-session command
// dispatch and report streaming, and the reset/DFU check.
func (s *Server) Serve(ctx context.Context) error {
	for {
		if err := s.limiter.Wait(ctx); err != nil {
			return ctx.Err()
		}

		// program any postfilter rate a command stored since the last
		// iteration, so it is in effect before the next conversion is read
		for ch := 0; ch < 2; ch++ {
			cfg := s.ADC.Config(ch)
			if rate := s.Dispatcher.Store.Channel(ch).Postfilter; rate != cfg.Rate {
				cfg.Rate = rate
				if err := s.ADC.Configure(ch, cfg); err != nil {
					s.Log.Error("configure adc channel %d: %v", ch, err)
				}
			}
		}

		s.pollADC()
		s.reassertOpenLoop()
		s.acceptSessions()
		s.serviceSessions()
		if s.Watchdog != nil {
			s.Watchdog.Pet()
		}

		if s.Dispatcher.ResetRequested {
			s.Log.Info("reset requested over command interface")
			return ErrResetRequested
		}
		if s.Dispatcher.DFURequested {
			s.Log.Info("dfu requested over command interface")
			return ErrDFURequested
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
}

// pollADC reads at most one conversion per iteration and routes it to
// the owning channel, using the measured interval since that channel's
// previous sample (§4.5: the PID must use measured, not nominal, dt).
func (s *Server) pollADC() {
	now := time.Now()
	if now.Before(s.nextADCAt) {
		return
	}

	sample, err := s.ADC.OnDataReady()
	switch err {
	case nil:
		s.adcBackoff.Reset()
	case adc.ErrSaturated:
		s.adcBackoff.Reset()
	case adc.ErrNotReady:
		s.nextADCAt = now.Add(s.adcBackoff.NextBackOff())
		s.Log.Warn("adc data-ready timeout, sequencer re-initialised")
		return
	default:
		s.nextADCAt = now.Add(s.adcBackoff.NextBackOff())
		return
	}

	ch := sample.Channel
	if ch < 0 || ch > 1 {
		return
	}
	var dt float64
	if !s.lastSample[ch].IsZero() {
		dt = now.Sub(s.lastSample[ch]).Seconds()
	}
	s.lastSample[ch] = now

	rpt, tickErr := s.Channels[ch].HandleSample(sample, dt)
	switch tickErr {
	case nil, channel.ErrAdcSaturated:
		// AdcSaturated is telemetry-only (§7): the PID step was already
		// skipped inside HandleSample, nothing more to do here.
	case channel.ErrDacDrift:
		s.Log.Warn("channel %d: dac feedback drift exceeds threshold", ch)
	default:
		s.Log.Error("channel %d tick: %v", ch, tickErr)
	}
	s.broadcastReport(rpt)
}

// reassertOpenLoop re-drives the DAC for any channel that is in OpenLoop
// and hasn't had its setpoint re-asserted in over a second, correcting
// for DAC drift between ADC samples (§4.6).
func (s *Server) reassertOpenLoop() {
	now := time.Now()
	for _, c := range s.Channels {
		if _, err := c.ReassertIfStale(now); err != nil {
			s.Log.Error("channel %d reassert: %v", c.ID, err)
		}
	}
}

// acceptSessions accepts at most one new connection per iteration,
// non-blocking: a short deadline makes Accept return a timeout error
// immediately if nothing is pending, which is how this cooperative loop
// avoids ever blocking on I/O (§5).
func (s *Server) acceptSessions() {
	s.listener.SetDeadline(time.Now().Add(time.Microsecond))
	conn, err := s.listener.Accept()
	if err != nil {
		return
	}
	tcpConn := conn.(*net.TCPConn)
	if len(s.sessions) >= MaxSessions {
		s.Log.Warn("rejecting connection from %s: max sessions reached", conn.RemoteAddr())
		conn.Close()
		return
	}
	s.sessions = append(s.sessions, &session{conn: tcpConn})
	s.Log.Info("session opened from %s", conn.RemoteAddr())
}

// serviceSessions reads any pending bytes from every session, dispatches
// complete lines, and writes back exactly one response line per command.
func (s *Server) serviceSessions() {
	live := s.sessions[:0]
	for _, sess := range s.sessions {
		if s.serviceOne(sess) {
			live = append(live, sess)
		}
	}
	s.sessions = live
}

// serviceOne returns false if the session's connection closed or errored
// and should be dropped.
func (s *Server) serviceOne(sess *session) bool {
	sess.conn.SetReadDeadline(time.Now().Add(time.Microsecond))
	readBuf := make([]byte, 4096)
	n, err := sess.conn.Read(readBuf)
	if n > 0 {
		sess.buf = append(sess.buf, readBuf[:n]...)
	}
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return true
		}
		sess.conn.Close()
		return false
	}

	for {
		idx := bytes.IndexByte(sess.buf, '\n')
		if idx < 0 {
			break
		}
		line := string(bytes.TrimRight(sess.buf[:idx], "\r"))
		sess.buf = sess.buf[idx+1:]

		resp := s.Dispatcher.Dispatch(line, &sess.proto)
		if _, err := sess.conn.Write(append(resp, '\n')); err != nil {
			sess.conn.Close()
			return false
		}
	}
	return true
}

// broadcastReport writes rpt as one JSON line to every session currently
// subscribed to the streaming report (§4.8/§6).
func (s *Server) broadcastReport(rpt channel.Report) {
	line := append(tecproto.EncodeReport(rpt), '\n')
	for _, sess := range s.sessions {
		if !sess.proto.ReportOn {
			continue
		}
		sess.conn.SetWriteDeadline(time.Now().Add(50 * time.Millisecond))
		_, _ = sess.conn.Write(line)
	}
}
