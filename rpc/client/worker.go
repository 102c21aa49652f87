package client

import (
	"fmt"
	"github.com/ValentinKolb/artic/rpc/common"
	"github.com/ValentinKolb/artic/rpc/serializer"
	"github.com/ValentinKolb/artic/rpc/transport/base"
	"net"
	"time"
)

// --------------------------------------------------------------------------
// Worker loop
// --------------------------------------------------------------------------

// worker reads response frames from one worker connection until the session stops or the
// connection dies. The last exiting worker resolves all requests still pending.
func (s *Session) worker(index int, conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		if s.runningWorkers.Add(-1) == 0 {
			s.drainPending()
		}
		Logger.Debugf("Worker %d exited", index)
	}()

	Logger.Debugf("Worker %d started on %s", index, conn.RemoteAddr())

	frame := make([]byte, common.DataPacketSize)
	retries := 0

	for {
		err := base.ReadExact(conn, frame, 0, s.rxTraffic)
		if err != nil {
			if s.stopped.Load() {
				return
			}
			if base.IsClosed(err) {
				s.signalError(fmt.Errorf("worker %d connection lost: %w", index, err))
				return
			}

			retries++
			if retries >= s.config.WorkerRetryBudget {
				s.signalError(fmt.Errorf("worker %d gave up after %d failed reads: %w", index, retries, err))
				return
			}
			Logger.Debugf("Worker %d read failed (%d/%d): %v", index, retries, s.config.WorkerRetryBudget, err)

			select {
			case <-s.stopCh:
				return
			case <-time.After(s.config.WorkerRetryBackoff):
			}
			continue
		}
		retries = 0

		if err := s.handleFrame(index, conn, frame); err != nil {
			if !s.stopped.Load() {
				s.signalError(err)
			}
			return
		}
	}
}

// handleFrame processes one response frame. A returned error is fatal for the session.
func (s *Session) handleFrame(index int, conn net.Conn, frame []byte) error {
	pkt, err := serializer.DecodeDataPacket(frame)
	if err != nil {
		return err
	}
	resp := serializer.DecodeResponseMethod(pkt.Raw)

	switch resp.Result {
	case common.ResultSuccess:
		// The payload belongs to the frame, it is consumed even if nobody waits for it
		var payload []byte
		if resp.BufferSize < 0 {
			return fmt.Errorf("%w: negative payload size %d for request %d", ErrProtocol, resp.BufferSize, pkt.RequestID)
		}
		if resp.BufferSize > 0 {
			payload = make([]byte, resp.BufferSize)
			if err := base.ReadExact(conn, payload, 0, s.rxTraffic); err != nil {
				return fmt.Errorf("worker %d failed to read payload of request %d: %w", index, pkt.RequestID, err)
			}
		}
		s.complete(pkt.RequestID, &Response{
			outcome:      OutcomeSuccess,
			methodResult: resp.ResultOrBufferID,
			payload:      payload,
		})

	case common.ResultProvideInput:
		return s.provideInput(index, conn, pkt, resp)

	case common.ResultMethodNotFound:
		s.complete(pkt.RequestID, &Response{outcome: OutcomeMethodNotFound})

	default:
		s.complete(pkt.RequestID, &Response{outcome: OutcomeMethodError, methodResult: resp.ResultOrBufferID})
	}
	return nil
}

// complete resolves the pending request id, frames for unknown ids are dropped
func (s *Session) complete(requestID uint32, resp *Response) {
	entry, ok := s.pending.LoadAndDelete(requestID)
	if !ok {
		Logger.Debugf("Dropping response for unknown request %d", requestID)
		return
	}
	entry.resolve(resp)
}

// provideInput answers a request of the peer for a big buffer of a pending request.
// The request stays pending, its terminal frame follows on the same connection.
func (s *Session) provideInput(index int, conn net.Conn, pkt common.DataPacket, resp common.ResponseMethod) error {
	entry, ok := s.pending.Load(pkt.RequestID)
	if !ok {
		Logger.Debugf("Dropping input request for unknown request %d", pkt.RequestID)
		return nil
	}

	bufferID := int(resp.ResultOrBufferID)
	bigBuffers := entry.request.bigBuffers

	if bufferID < 0 || bufferID >= len(bigBuffers) || int(resp.BufferSize) != len(bigBuffers[bufferID]) {
		Logger.Warningf("Worker %d: invalid input request for buffer %d (%d bytes) of request %d",
			index, bufferID, resp.BufferSize, pkt.RequestID)

		reply := pkt
		serializer.SetResult(&reply.Raw, common.ResultMethodError)
		if err := base.WriteExact(conn, serializer.EncodeDataPacket(reply), s.config.ControlTimeout, s.txTraffic); err != nil {
			return fmt.Errorf("worker %d failed to reject input request: %w", index, err)
		}
		return nil
	}

	if entry.sent[bufferID] {
		return fmt.Errorf("%w: buffer %d of request %d requested twice", ErrProtocol, bufferID, pkt.RequestID)
	}
	entry.sent[bufferID] = true

	if err := base.WriteExact(conn, serializer.EncodeDataPacket(pkt), s.config.ControlTimeout, s.txTraffic); err != nil {
		return fmt.Errorf("worker %d failed to acknowledge input request: %w", index, err)
	}
	if err := base.WriteExact(conn, bigBuffers[bufferID], s.config.ControlTimeout, s.txTraffic); err != nil {
		return fmt.Errorf("worker %d failed to send buffer %d: %w", index, bufferID, err)
	}
	return nil
}
