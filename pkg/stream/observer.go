package stream

import "time"

// Observers returns an Observer that forwards to every non-nil o in order.
func Observers(obs ...Observer) Observer {
	var list multiObserver
	for _, o := range obs {
		if o != nil {
			list = append(list, o)
		}
	}
	switch len(list) {
	case 0:
		return nopObserver{}
	case 1:
		return list[0]
	}
	return list
}

type multiObserver []Observer

func (m multiObserver) StreamOpened(role Role) {
	for _, o := range m {
		o.StreamOpened(role)
	}
}

func (m multiObserver) StreamClosed(role Role, lifetime time.Duration) {
	for _, o := range m {
		o.StreamClosed(role, lifetime)
	}
}

func (m multiObserver) FrameReceived(role Role, kind string, size int) {
	for _, o := range m {
		o.FrameReceived(role, kind, size)
	}
}

func (m multiObserver) FrameSent(role Role, kind string, size int) {
	for _, o := range m {
		o.FrameSent(role, kind, size)
	}
}

func (m multiObserver) FrameDropped(role Role, reason string) {
	for _, o := range m {
		o.FrameDropped(role, reason)
	}
}
