package ws

import (
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"vanillaminimaps.ai/internal/protocol"
	"vanillaminimaps.ai/internal/sim/minimap"
)

// Hub routes minimap packets to the connection of each viewer. It implements
// minimap.PacketSender and never blocks the caller.
type Hub struct {
	log logrus.FieldLogger

	mu    sync.RWMutex
	conns map[uuid.UUID]*client

	droppedUpdates atomic.Uint64
	kicked         atomic.Uint64
}

type client struct {
	out  chan []byte
	kick chan struct{}
	once sync.Once
}

func (c *client) close() { c.once.Do(func() { close(c.kick) }) }

type HubStats struct {
	Connections    int    `json:"connections"`
	DroppedUpdates uint64 `json:"dropped_updates"`
	Kicked         uint64 `json:"kicked"`
}

func NewHub(logger logrus.FieldLogger) *Hub {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Hub{
		log:   logger.WithField("component", "ws_hub"),
		conns: map[uuid.UUID]*client{},
	}
}

// Register routes the viewer's packets to out. A previous connection of the same viewer is
// kicked. The returned channel closes when this connection is kicked.
func (h *Hub) Register(viewer uuid.UUID, out chan []byte) <-chan struct{} {
	c := &client{out: out, kick: make(chan struct{})}
	h.mu.Lock()
	prev := h.conns[viewer]
	h.conns[viewer] = c
	h.mu.Unlock()
	if prev != nil {
		prev.close()
	}
	return c.kick
}

// Unregister removes the viewer if out is still its current connection and reports whether it was.
func (h *Hub) Unregister(viewer uuid.UUID, out chan []byte) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	c := h.conns[viewer]
	if c == nil || c.out != out {
		return false
	}
	delete(h.conns, viewer)
	c.close()
	return true
}

func (h *Hub) Stats() HubStats {
	h.mu.RLock()
	n := len(h.conns)
	h.mu.RUnlock()
	return HubStats{Connections: n, DroppedUpdates: h.droppedUpdates.Load(), Kicked: h.kicked.Load()}
}

func (h *Hub) lookup(viewer uuid.UUID) *client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.conns[viewer]
}

// sendControl queues a message the client cannot recover from losing. A client too slow to
// take it is disconnected.
func (h *Hub) sendControl(viewer uuid.UUID, v any) error {
	c := h.lookup(viewer)
	if c == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	select {
	case c.out <- b:
	default:
		h.kicked.Add(1)
		h.log.WithField("viewer", viewer).Warn("outbound queue full, disconnecting")
		c.close()
	}
	return nil
}

// sendUpdate queues a layer update. Updates always carry the whole window, so when the queue
// is full this one is dropped and the next refresh repaints the layer.
func (h *Hub) sendUpdate(viewer uuid.UUID, v any) error {
	c := h.lookup(viewer)
	if c == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	select {
	case c.out <- b:
	default:
		h.droppedUpdates.Add(1)
	}
	return nil
}

func layerRef(name string, l *minimap.Layer) protocol.LayerRef {
	return protocol.LayerRef{ID: l.ID, Name: name, World: string(l.World)}
}

func (h *Hub) SpawnMinimap(m *minimap.Minimap) error {
	msg := protocol.MinimapSpawnMsg{
		Type:            protocol.TypeMinimapSpawn,
		ProtocolVersion: protocol.Version,
		Position:        m.ScreenPosition().String(),
		Primary:         m.Primary().ID,
	}
	for _, name := range m.LayerNames() {
		l := m.Layer(name)
		ref := layerRef(name, l.Base)
		ref.World = string(l.World)
		msg.Layers = append(msg.Layers, ref)
	}
	return h.sendControl(m.Holder().ID(), msg)
}

func (h *Hub) DespawnMinimap(m *minimap.Minimap) error {
	return h.sendControl(m.Holder().ID(), protocol.MinimapDespawnMsg{
		Type:            protocol.TypeMinimapDespawn,
		ProtocolVersion: protocol.Version,
	})
}

func (h *Hub) SpawnLayer(viewer uuid.UUID, layer *minimap.Layer) error {
	return h.sendControl(viewer, protocol.LayerSpawnMsg{
		Type:            protocol.TypeLayerSpawn,
		ProtocolVersion: protocol.Version,
		Layer:           layerRef("", layer),
	})
}

func (h *Hub) DespawnLayer(viewer uuid.UUID, layer *minimap.Layer) error {
	return h.sendControl(viewer, protocol.LayerDespawnMsg{
		Type:            protocol.TypeLayerDespawn,
		ProtocolVersion: protocol.Version,
		Layer:           layer.ID,
	})
}

// UpdateLayer sends a pixel window, run-length encoded when that is smaller.
func (h *Hub) UpdateLayer(viewer uuid.UUID, layer *minimap.Layer, x, y, width, height int, data []byte) error {
	msg := protocol.LayerUpdateMsg{
		Type:            protocol.TypeLayerUpdate,
		ProtocolVersion: protocol.Version,
		Layer:           layer.ID,
		X:               x,
		Y:               y,
		Width:           width,
		Height:          height,
		Data:            data,
	}
	if rle := protocol.EncodeRLE(data); len(rle) < len(data) {
		msg.Encoding = protocol.EncodingRLE
		msg.Data = rle
	}
	return h.sendUpdate(viewer, msg)
}
