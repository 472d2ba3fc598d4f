package engine

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
)

// EnvAgentAddr tells an injected agent where to report back.
const EnvAgentAddr = "ENCAP_AGENT_ADDR"

// Message kinds exchanged on the agent channel.
const (
	// MsgEndpoint carries the child's private management endpoint.
	MsgEndpoint byte = 1

	// MsgLog carries a diagnostic line from the agent.
	MsgLog byte = 2
)

// maxAgentPayload bounds a single message; the channel carries small
// tagged messages only.
const maxAgentPayload = 64 * 1024

// ErrAgentClosed is returned when waiting on a closed channel.
var ErrAgentClosed = errors.New("agent channel closed")

// AgentMessage is one tagged message from the injected agent.
type AgentMessage struct {
	Kind    byte
	Payload []byte
}

// AgentChannel is a loopback listener the injected agent connects
// back to. A dedicated goroutine receives length-prefixed tagged
// messages; the main pipeline only blocks when explicitly awaiting
// one.
type AgentChannel struct {
	listener net.Listener
	messages chan AgentMessage
	logger   hclog.Logger

	mu       sync.Mutex
	endpoint string
	closed   bool
}

// StartAgentChannel opens the loopback listener and starts the
// receive goroutine.
func StartAgentChannel(logger hclog.Logger) (*AgentChannel, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("failed to open agent channel: %w", err)
	}

	ch := &AgentChannel{
		listener: listener,
		messages: make(chan AgentMessage, 16),
		logger:   logger,
	}
	go ch.receive()

	logger.Debug("📡 Agent channel listening", "addr", ch.Addr())
	return ch, nil
}

// Addr returns the address exported to the child.
func (ch *AgentChannel) Addr() string {
	return ch.listener.Addr().String()
}

// receive accepts one agent connection at a time and decodes its
// messages until EOF or close.
func (ch *AgentChannel) receive() {
	defer close(ch.messages)
	for {
		conn, err := ch.listener.Accept()
		if err != nil {
			return
		}
		ch.logger.Debug("📡 Agent connected", "remote", conn.RemoteAddr())
		ch.readMessages(conn)
		conn.Close()
	}
}

// readMessages decodes length-prefixed tagged messages: one kind
// byte, a big-endian 4-byte payload length, then the payload.
func (ch *AgentChannel) readMessages(conn net.Conn) {
	for {
		var header [5]byte
		if _, err := io.ReadFull(conn, header[:]); err != nil {
			if err != io.EOF {
				ch.logger.Debug("Agent stream ended", "error", err)
			}
			return
		}
		kind := header[0]
		length := binary.BigEndian.Uint32(header[1:])
		if length > maxAgentPayload {
			ch.logger.Warn("⚠️ Oversized agent message dropped", "kind", kind, "length", length)
			return
		}
		payload := make([]byte, length)
		if _, err := io.ReadFull(conn, payload); err != nil {
			return
		}

		switch kind {
		case MsgEndpoint:
			ch.mu.Lock()
			ch.endpoint = string(payload)
			ch.mu.Unlock()
			ch.logger.Debug("📡 Agent reported management endpoint", "endpoint", string(payload))
		case MsgLog:
			ch.logger.Debug("📡 Agent", "message", string(payload))
		}

		select {
		case ch.messages <- AgentMessage{Kind: kind, Payload: payload}:
		default:
			// slow consumer, drop rather than block the receive loop
		}
	}
}

// Endpoint blocks until the agent reports the child's management
// endpoint, or the timeout expires.
func (ch *AgentChannel) Endpoint(timeout time.Duration) (string, error) {
	deadline := time.After(timeout)
	for {
		ch.mu.Lock()
		ep := ch.endpoint
		ch.mu.Unlock()
		if ep != "" {
			return ep, nil
		}

		select {
		case _, ok := <-ch.messages:
			if !ok {
				return "", ErrAgentClosed
			}
		case <-deadline:
			return "", fmt.Errorf("timed out waiting for agent endpoint after %s", timeout)
		}
	}
}

// Close stops the listener and the receive goroutine. Safe to call
// more than once.
func (ch *AgentChannel) Close() {
	ch.mu.Lock()
	if ch.closed {
		ch.mu.Unlock()
		return
	}
	ch.closed = true
	ch.mu.Unlock()
	ch.listener.Close()
}
