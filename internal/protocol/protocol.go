// Package protocol defines the JSON messages exchanged with minimap clients over WebSocket.
package protocol

import "encoding/json"

const Version = "1.0"

// Message types.
const (
	// Client -> server.
	TypeHello   = "HELLO"
	TypeMove    = "MOVE"
	TypeDeath   = "DEATH"
	TypeCommand = "COMMAND"

	// Server -> client.
	TypeWelcome        = "WELCOME"
	TypeAck            = "ACK"
	TypeMinimapSpawn   = "MINIMAP_SPAWN"
	TypeMinimapDespawn = "MINIMAP_DESPAWN"
	TypeLayerSpawn     = "LAYER_SPAWN"
	TypeLayerDespawn   = "LAYER_DESPAWN"
	TypeLayerUpdate    = "LAYER_UPDATE"
)

// BaseMessage lets us route unknown JSON messages by type.
type BaseMessage struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}
