package protocol_test

import (
	"encoding/json"
	"testing"

	"vanillaminimaps.ai/internal/protocol"
)

func TestSchemas_ValidateSamples(t *testing.T) {
	valid := map[string]string{
		protocol.TypeHello:   `{"type":"HELLO","protocol_version":"1.0","player_id":"6f1c3b7e-2a55-4c1e-9a3e-0d8f4b2a7c11","name":"steve","world":"overworld","x":1.5,"z":-3}`,
		protocol.TypeMove:    `{"type":"MOVE","protocol_version":"1.0","x":10,"z":20}`,
		protocol.TypeDeath:   `{"type":"DEATH","protocol_version":"1.0","world":"nether","x":-5,"z":7}`,
		protocol.TypeCommand: `{"type":"COMMAND","protocol_version":"1.0","id":"c1","op":"marker_add","name":"home","value":"house"}`,
	}
	for typ, raw := range valid {
		if err := protocol.Validate(typ, []byte(raw)); err != nil {
			t.Fatalf("%s: %v", typ, err)
		}
	}

	update, _ := json.Marshal(protocol.LayerUpdateMsg{
		Type:            protocol.TypeLayerUpdate,
		ProtocolVersion: protocol.Version,
		Layer:           3,
		Width:           128,
		Height:          128,
		Data:            []byte{1, 2, 3},
	})
	if err := protocol.Validate(protocol.TypeLayerUpdate, update); err != nil {
		t.Fatalf("LAYER_UPDATE: %v", err)
	}
}

func TestSchemas_RejectInvalid(t *testing.T) {
	invalid := map[string]string{
		"missing world":       `{"type":"HELLO","protocol_version":"1.0","x":0,"z":0}`,
		"fractional death":    `{"type":"DEATH","protocol_version":"1.0","world":"w","x":1.5,"z":0}`,
		"unknown op":          `{"type":"COMMAND","protocol_version":"1.0","id":"c1","op":"teleport"}`,
		"marker without name": `{"type":"COMMAND","protocol_version":"1.0","id":"c1","op":"marker_remove"}`,
		"position no value":   `{"type":"COMMAND","protocol_version":"1.0","id":"c1","op":"position"}`,
	}
	for name, raw := range invalid {
		var base protocol.BaseMessage
		_ = json.Unmarshal([]byte(raw), &base)
		if err := protocol.Validate(base.Type, []byte(raw)); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
	if err := protocol.Validate("UNKNOWN", []byte(`{}`)); err != nil {
		t.Fatalf("types without a schema pass: %v", err)
	}
}
