package client

import (
	"fmt"
	"time"
)

// NewRequest creates a request for method with the next request id.
// The parameter limit is the one negotiated during Connect.
func (s *Session) NewRequest(method string) *Request {
	return newRequest(s.nextRequestID.Add(1), method, s.maxParams)
}

// Send writes the request on the main socket and blocks until its response arrives.
//
// An error is returned only if the request never reached the peer: the session is stopped
// (ErrStopped), not connected (ErrNotConnected), the request was already sent (ErrRequestSent)
// or the write failed (ErrCommunication, which also stops the session). Once written, Send returns a response. If the session goes down
// before the peer answered, its outcome is OutcomeTransportError.
//
// Big buffers referenced by the request must stay unmodified until Send returns.
func (s *Session) Send(req *Request) (*Response, error) {
	if s.stopped.Load() {
		return nil, ErrStopped
	}
	if !s.connected.Load() {
		return nil, ErrNotConnected
	}
	if s.limiter != nil {
		if err := s.limiter.Wait(s.ctx); err != nil {
			return nil, ErrStopped
		}
	}
	if !req.sent.CompareAndSwap(false, true) {
		return nil, ErrRequestSent
	}

	start := time.Now()
	id := req.ID()
	req.packet.ParameterCount = uint32(len(req.params))

	entry := &pendingEntry{
		request: req,
		sent:    make([]bool, len(req.bigBuffers)),
		done:    make(chan struct{}),
	}
	if _, loaded := s.pending.LoadOrStore(id, entry); loaded {
		return nil, fmt.Errorf("request %d already in flight", id)
	}

	// A shutdown may have drained the table right before the entry was stored
	if s.stopped.Load() {
		if _, ok := s.pending.LoadAndDelete(id); ok {
			return nil, ErrStopped
		}
		<-entry.done
		return entry.response, nil
	}

	s.inFlight.Inc(1)
	defer s.inFlight.Dec(1)

	if _, err := s.sendRequestPacket(req.packet, req.params, false, 0); err != nil {
		s.pending.Delete(id)
		if s.isStopErr(err) {
			return nil, ErrStopped
		}
		s.signalError(fmt.Errorf("failed to send request %d (%s): %w", id, req.method, err))
		return nil, fmt.Errorf("%w: %v", ErrCommunication, err)
	}

	<-entry.done
	s.sendTimer.UpdateSince(start)
	return entry.response, nil
}
