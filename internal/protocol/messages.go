package protocol

// HELLO (client -> server). PlayerID is optional; an empty one gets a fresh identity.
type HelloMsg struct {
	Type            string  `json:"type"`
	ProtocolVersion string  `json:"protocol_version"`
	PlayerID        string  `json:"player_id,omitempty"`
	Name            string  `json:"name"`
	World           string  `json:"world"`
	X               float64 `json:"x"`
	Z               float64 `json:"z"`
	MaxQueue        int     `json:"max_queue,omitempty"`
}

// MOVE (client -> server). An empty World keeps the current one.
type MoveMsg struct {
	Type            string  `json:"type"`
	ProtocolVersion string  `json:"protocol_version"`
	World           string  `json:"world,omitempty"`
	X               float64 `json:"x"`
	Z               float64 `json:"z"`
}

// DEATH (client -> server)
type DeathMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	World           string `json:"world"`
	X               int    `json:"x"`
	Z               int    `json:"z"`
}

// Command ops.
const (
	OpEnable       = "enable"
	OpDisable      = "disable"
	OpPosition     = "position"
	OpMarkerAdd    = "marker_add"
	OpMarkerIcon   = "marker_icon"
	OpMarkerRename = "marker_rename"
	OpMarkerRemove = "marker_remove"
	OpDeathReset   = "death_reset"
)

// COMMAND (client -> server). Every command is answered with an ACK carrying ID.
type CommandMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ID              string `json:"id"`
	Op              string `json:"op"`
	Name            string `json:"name,omitempty"`
	Value           string `json:"value,omitempty"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string          `json:"type"`
	ProtocolVersion string          `json:"protocol_version"`
	PlayerID        string          `json:"player_id"`
	Tick            uint64          `json:"tick"`
	Enabled         bool            `json:"enabled"`
	Settings        MinimapSettings `json:"settings"`
}

type MinimapSettings struct {
	TickRateHz int    `json:"tick_rate_hz"`
	Scale      int    `json:"scale"`
	Shape      string `json:"shape"`
}

type AckMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	AckFor          string `json:"ack_for"`
	Accepted        bool   `json:"accepted"`
	Code            string `json:"code,omitempty"`
	Message         string `json:"message,omitempty"`
}

// MINIMAP_SPAWN (server -> client): create the HUD and its layers, bottom to top.
type MinimapSpawnMsg struct {
	Type            string     `json:"type"`
	ProtocolVersion string     `json:"protocol_version"`
	Position        string     `json:"position"`
	Primary         int32      `json:"primary"`
	Layers          []LayerRef `json:"layers"`
}

type LayerRef struct {
	ID    int32  `json:"id"`
	Name  string `json:"name,omitempty"`
	World string `json:"world,omitempty"`
}

type MinimapDespawnMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
}

type LayerSpawnMsg struct {
	Type            string   `json:"type"`
	ProtocolVersion string   `json:"protocol_version"`
	Layer           LayerRef `json:"layer"`
}

type LayerDespawnMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Layer           int32  `json:"layer"`
}

// LAYER_UPDATE (server -> client). Data is the base64 of the Width*Height window bytes.
type LayerUpdateMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Layer           int32  `json:"layer"`
	X               int    `json:"x"`
	Y               int    `json:"y"`
	Width           int    `json:"width"`
	Height          int    `json:"height"`
	Encoding        string `json:"encoding,omitempty"`
	Data            []byte `json:"data"`
}
