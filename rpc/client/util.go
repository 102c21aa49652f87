package client

import (
	"errors"
	"fmt"
	"github.com/ValentinKolb/artic/rpc/common"
	"github.com/lni/dragonboat/v4/logger"
	"strconv"
	"strings"
)

var (
	Logger = logger.GetLogger(common.LoggerClient)
)

var (
	// ErrNotConnected is returned when a request is sent before Connect succeeded
	ErrNotConnected = errors.New("session not connected")
	// ErrStopped is returned when a request is sent on a stopped session
	ErrStopped = errors.New("session stopped")
	// ErrCommunication wraps every failure that tore the session down
	ErrCommunication = errors.New("communication error")
	// ErrProtocol marks frames that break the wire contract
	ErrProtocol = errors.New("protocol violation")
	// ErrTooManyParameters is returned when a request already holds the negotiated maximum of parameters
	ErrTooManyParameters = errors.New("too many parameters")
	// ErrRequestSent is returned when a request is sent a second time
	ErrRequestSent = errors.New("request already sent")
	// ErrMethodFailed is returned by the file backend when the peer did not answer with success
	ErrMethodFailed = errors.New("method failed")
)

// --------------------------------------------------------------------------
// Handshake reply parsing
// --------------------------------------------------------------------------

// parseNonNegative parses a decimal control reply that must not be negative
func parseNonNegative(reply string) (int, error) {
	v, err := strconv.Atoi(strings.TrimSpace(reply))
	if err != nil {
		return 0, fmt.Errorf("invalid number %q: %w", reply, err)
	}
	if v < 0 {
		return 0, fmt.Errorf("negative value %d", v)
	}
	return v, nil
}

// parsePorts parses the comma separated worker port list of a $PORTS reply
func parsePorts(reply string) ([]uint16, error) {
	var ports []uint16
	for _, part := range strings.Split(reply, ",") {
		port, err := strconv.ParseUint(strings.TrimSpace(part), 10, 16)
		if err != nil {
			return nil, fmt.Errorf("invalid worker port %q: %w", part, err)
		}
		if port == 0 {
			return nil, fmt.Errorf("invalid worker port 0")
		}
		ports = append(ports, uint16(port))
	}
	if len(ports) == 0 {
		return nil, fmt.Errorf("no worker ports")
	}
	return ports, nil
}

// checkResponse turns an unsuccessful send or response into an error
func checkResponse(resp *Response, err error) error {
	if err != nil {
		return err
	}
	if !resp.Succeeded() {
		if resp.Outcome() == OutcomeMethodError && resp.MethodResult() != 0 {
			return fmt.Errorf("%w: %s: %w", ErrMethodFailed, resp.Outcome(), common.NewResultError(uint32(resp.MethodResult())))
		}
		return fmt.Errorf("%w: %s", ErrMethodFailed, resp.Outcome())
	}
	if resp.MethodResult() < 0 {
		return common.NewResultError(uint32(resp.MethodResult()))
	}
	return nil
}
