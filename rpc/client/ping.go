package client

import (
	"fmt"
	"github.com/ValentinKolb/artic/rpc/common"
	"time"
)

// monitor proves the session alive. Whenever the main socket was silent for longer than
// PingIdle it sends a $PING, a missing reply is a communication error.
func (s *Session) monitor() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.PingInterval)
	defer ticker.Stop()

	for {
		idle := time.Since(time.Unix(0, s.lastSent.Load()))
		if idle > s.config.PingIdle {
			if _, err := s.sendSimpleRequest(common.CtrlPing); err != nil {
				if !s.stopped.Load() {
					s.signalError(fmt.Errorf("ping after %s of silence failed: %w", idle.Round(time.Millisecond), err))
				}
				return
			}
			s.pings.Mark(1)
			Logger.Debugf("Ping to %s answered", s.config.Endpoint())
		}

		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
		}
	}
}
