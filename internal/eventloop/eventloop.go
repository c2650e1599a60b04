// Package eventloop implements the single-threaded, blocking multiplexed
// wait over every registered socket fd. It has exactly one suspension
// point: the call to unix.Poll with no timeout.
package eventloop

import (
	"context"
	"fmt"

	"github.com/UnionPacific/udp-repeater/internal/repeatererr"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// Dispatcher is the subset of dispatch.Dispatcher the Loop depends on, kept
// as an interface so the loop can be exercised with a fake in tests without
// building a Registry.
type Dispatcher interface {
	Dispatch(fd int) error
}

// Config controls which fds get registered for read-readiness.
type Config struct {
	// PollEgressSockets, if true, registers egress-only (transmitter)
	// sockets with the poller too, matching the original C repeater's
	// behavior of polling every socket it owns and discarding whatever
	// arrives on a transmitter. The default (false) registers only
	// ingress sockets, per spec.md §9's recommendation that this is the
	// cleaner model; unsolicited datagrams on a transmitter socket are
	// then simply queued by the kernel and never read.
	PollEgressSockets bool
}

// Loop polls a fixed set of fds for read-readiness and dispatches each one
// that becomes readable, once per pass, until ctx is canceled or a fatal
// poll error occurs.
type Loop struct {
	dispatcher Dispatcher
	log        *logrus.Logger
	pollFDs    []unix.PollFd
}

// New builds a Loop that polls ingressFDs (and, if cfg.PollEgressSockets,
// egressFDs too) and hands each ready fd to dispatcher.
func New(dispatcher Dispatcher, log *logrus.Logger, cfg Config, ingressFDs, egressFDs []int) *Loop {
	fds := make([]unix.PollFd, 0, len(ingressFDs)+len(egressFDs))
	for _, fd := range ingressFDs {
		fds = append(fds, unix.PollFd{Fd: int32(fd), Events: unix.POLLIN})
	}
	if cfg.PollEgressSockets {
		for _, fd := range egressFDs {
			fds = append(fds, unix.PollFd{Fd: int32(fd), Events: unix.POLLIN})
		}
	}
	return &Loop{dispatcher: dispatcher, log: log, pollFDs: fds}
}

// Run blocks, servicing ready fds, until ctx is canceled or a fatal poll
// error occurs. ctx is checked before each poll call and the poll has no
// timeout, so a cancellation takes effect only after the poll next returns
// (a datagram arrives on a polled fd, or EINTR). Poll errors other than
// EINTR are fatal; recv/send errors inside Dispatch are logged and never
// abort the loop.
func (l *Loop) Run(ctx context.Context) error {
	if len(l.pollFDs) == 0 {
		return repeatererr.New(repeatererr.KindPoll, "poll", 0, fmt.Errorf("no sockets registered"))
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		n, err := unix.Poll(l.pollFDs, -1)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return repeatererr.New(repeatererr.KindPoll, "poll", 0, err)
		}
		if n == 0 {
			continue
		}

		for i := range l.pollFDs {
			if l.pollFDs[i].Revents&unix.POLLIN == 0 {
				continue
			}
			l.pollFDs[i].Revents = 0
			fd := int(l.pollFDs[i].Fd)
			if err := l.dispatcher.Dispatch(fd); err != nil {
				l.log.WithFields(logrus.Fields{"fd": fd, "error": err}).Warn("dispatch error")
			}
		}
	}
}
