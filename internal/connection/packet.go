// File: internal/connection/packet.go
package connection

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/smartdevs17/mine-alert-notifier/pkg/utils"
)

// PacketType is an Engine.IO v4 packet type
type PacketType byte

const (
	PacketOpen    PacketType = '0'
	PacketClose   PacketType = '1'
	PacketPing    PacketType = '2'
	PacketPong    PacketType = '3'
	PacketMessage PacketType = '4'
	PacketUpgrade PacketType = '5'
	PacketNoop    PacketType = '6'
)

// payloadSeparator delimits packets in a polling payload
const payloadSeparator = "\x1e"

// Packet is a single Engine.IO packet
type Packet struct {
	Type PacketType
	Data string
}

// Handshake is the body of the Engine.IO open packet
type Handshake struct {
	SID          string   `json:"sid"`
	Upgrades     []string `json:"upgrades"`
	PingInterval int      `json:"pingInterval"`
	PingTimeout  int      `json:"pingTimeout"`
	MaxPayload   int      `json:"maxPayload"`
}

// HeartbeatTimeout is how long the link may stay silent before it is considered dead
func (h Handshake) HeartbeatTimeout() time.Duration {
	interval, timeout := h.PingInterval, h.PingTimeout
	if interval <= 0 {
		interval = 25000
	}
	if timeout <= 0 {
		timeout = 20000
	}
	return time.Duration(interval+timeout) * time.Millisecond
}

// EncodePacket encodes a packet as text
func EncodePacket(p Packet) string {
	return string(rune(p.Type)) + p.Data
}

// DecodePacket decodes a text packet
func DecodePacket(s string) (Packet, error) {
	if s == "" {
		return Packet{}, utils.NewAppError(utils.ErrCodeProtocol, "Empty engine packet")
	}
	if s[0] == 'b' {
		return Packet{}, utils.NewAppError(utils.ErrCodeProtocol, "Binary engine packets are not supported")
	}
	t := PacketType(s[0])
	if t < PacketOpen || t > PacketNoop {
		return Packet{}, utils.NewAppError(utils.ErrCodeProtocol, "Unknown engine packet type", fmt.Sprintf("%q", s[0]))
	}
	return Packet{Type: t, Data: s[1:]}, nil
}

// EncodePayload joins packets for a polling request body
func EncodePayload(packets []Packet) string {
	parts := make([]string, len(packets))
	for i, p := range packets {
		parts[i] = EncodePacket(p)
	}
	return strings.Join(parts, payloadSeparator)
}

// DecodePayload splits a polling response body into packets
func DecodePayload(s string) ([]Packet, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, payloadSeparator)
	packets := make([]Packet, 0, len(parts))
	for _, part := range parts {
		p, err := DecodePacket(part)
		if err != nil {
			return nil, err
		}
		packets = append(packets, p)
	}
	return packets, nil
}

// ParseHandshake decodes an open packet
func ParseHandshake(p Packet) (Handshake, error) {
	var h Handshake
	if p.Type != PacketOpen {
		return h, utils.NewAppError(utils.ErrCodeProtocol, "Expected engine open packet",
			fmt.Sprintf("got type %q", byte(p.Type)))
	}
	if err := json.Unmarshal([]byte(p.Data), &h); err != nil {
		return h, utils.NewAppError(utils.ErrCodeProtocol, "Invalid engine handshake", err.Error())
	}
	if h.SID == "" {
		return h, utils.NewAppError(utils.ErrCodeProtocol, "Engine handshake without session id")
	}
	return h, nil
}

// MessageType is a Socket.IO v5 packet type
type MessageType byte

const (
	MessageConnect      MessageType = '0'
	MessageDisconnect   MessageType = '1'
	MessageEvent        MessageType = '2'
	MessageAck          MessageType = '3'
	MessageConnectError MessageType = '4'
	MessageBinaryEvent  MessageType = '5'
	MessageBinaryAck    MessageType = '6'
)

// Message is a Socket.IO packet carried inside an Engine.IO message packet
type Message struct {
	Type      MessageType
	Namespace string
	AckID     *int
	Data      json.RawMessage
}

// EncodeMessage encodes a Socket.IO packet
func EncodeMessage(m Message) string {
	var b strings.Builder
	b.WriteByte(byte(m.Type))
	if m.Namespace != "" && m.Namespace != "/" {
		b.WriteString(m.Namespace)
		b.WriteByte(',')
	}
	if m.AckID != nil {
		b.WriteString(strconv.Itoa(*m.AckID))
	}
	b.Write(m.Data)
	return b.String()
}

// DecodeMessage decodes a Socket.IO packet
func DecodeMessage(s string) (Message, error) {
	var m Message
	if s == "" {
		return m, utils.NewAppError(utils.ErrCodeProtocol, "Empty socket packet")
	}
	m.Type = MessageType(s[0])
	switch m.Type {
	case MessageConnect, MessageDisconnect, MessageEvent, MessageAck, MessageConnectError:
	case MessageBinaryEvent, MessageBinaryAck:
		return m, utils.NewAppError(utils.ErrCodeProtocol, "Binary socket packets are not supported")
	default:
		return m, utils.NewAppError(utils.ErrCodeProtocol, "Unknown socket packet type", fmt.Sprintf("%q", s[0]))
	}

	rest := s[1:]
	m.Namespace = "/"
	if strings.HasPrefix(rest, "/") {
		i := strings.IndexByte(rest, ',')
		if i < 0 {
			m.Namespace, rest = rest, ""
		} else {
			m.Namespace, rest = rest[:i], rest[i+1:]
		}
	}

	digits := 0
	for digits < len(rest) && rest[digits] >= '0' && rest[digits] <= '9' {
		digits++
	}
	if digits > 0 {
		id, err := strconv.Atoi(rest[:digits])
		if err != nil {
			return m, utils.NewAppError(utils.ErrCodeProtocol, "Invalid ack id", err.Error())
		}
		m.AckID = &id
		rest = rest[digits:]
	}

	if rest != "" {
		if !json.Valid([]byte(rest)) {
			return m, utils.NewAppError(utils.ErrCodeProtocol, "Invalid socket packet payload")
		}
		m.Data = json.RawMessage(rest)
	}
	return m, nil
}

// EventMessage builds an EVENT packet for the default namespace
func EventMessage(event string, args ...interface{}) (Message, error) {
	items := make([]interface{}, 0, len(args)+1)
	items = append(items, event)
	items = append(items, args...)
	data, err := json.Marshal(items)
	if err != nil {
		return Message{}, utils.NewAppError(utils.ErrCodeValidation, "Cannot encode event", err.Error())
	}
	return Message{Type: MessageEvent, Namespace: "/", Data: data}, nil
}

// Event splits an EVENT packet into its name and arguments
func (m Message) Event() (string, []json.RawMessage, error) {
	if m.Type != MessageEvent {
		return "", nil, utils.NewAppError(utils.ErrCodeProtocol, "Not an event packet")
	}
	var items []json.RawMessage
	if err := json.Unmarshal(m.Data, &items); err != nil || len(items) == 0 {
		return "", nil, utils.NewAppError(utils.ErrCodeProtocol, "Malformed event packet")
	}
	var name string
	if err := json.Unmarshal(items[0], &name); err != nil {
		return "", nil, utils.NewAppError(utils.ErrCodeProtocol, "Event name must be a string")
	}
	return name, items[1:], nil
}

// ErrorMessage returns the message of a CONNECT_ERROR packet
func (m Message) ErrorMessage() string {
	var body struct {
		Message string `json:"message"`
	}
	if len(m.Data) > 0 && json.Unmarshal(m.Data, &body) == nil && body.Message != "" {
		return body.Message
	}
	var plain string
	if len(m.Data) > 0 && json.Unmarshal(m.Data, &plain) == nil {
		return plain
	}
	return "connection refused"
}

// messagePacket wraps a Socket.IO packet in an Engine.IO message packet
func messagePacket(m Message) Packet {
	return Packet{Type: PacketMessage, Data: EncodeMessage(m)}
}
