package worklet

import (
	"sync/atomic"

	"github.com/leandrodaf/sfworklet/sdk/contracts"
)

// Port is the pair of one-directional mailboxes between a Coordinator and the
// control side. Both directions are bounded and never block the sender.
type Port struct {
	inbox  chan contracts.Command
	outbox chan contracts.Status
	closed atomic.Bool
}

func newPort(mailbox, statuses int) *Port {
	return &Port{
		inbox:  make(chan contracts.Command, mailbox),
		outbox: make(chan contracts.Status, statuses),
	}
}

// PostMessage enqueues cmd for the coordinator's next drain.
func (p *Port) PostMessage(cmd contracts.Command) error {
	if p.closed.Load() {
		return contracts.ErrPortClosed
	}
	select {
	case p.inbox <- cmd:
		return nil
	default:
		return contracts.ErrMailboxFull
	}
}

// Messages delivers status messages posted by the coordinator.
func (p *Port) Messages() <-chan contracts.Status {
	return p.outbox
}

// Pending reports how many commands wait for the next drain.
func (p *Port) Pending() int {
	return len(p.inbox)
}
