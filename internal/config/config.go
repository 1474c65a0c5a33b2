// internal/config/config.go
package config

type Config struct {
	Logging      LoggingConfig       `yaml:"logging"`
	Links        []LinkConfig        `yaml:"links"`
	Sensors      []SensorConfig      `yaml:"sensors"`
	StatusMemory *StatusMemoryConfig `yaml:"status_memory"`
}

// ---- LOGGING ----

type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // json | text
	Output string `yaml:"output"` // stdout | stderr
}

// ---- DESERIALIZER LINK ----

type LinkConfig struct {
	ID         string      `yaml:"id"`
	Bus        string      `yaml:"bus"`
	Address    uint16      `yaml:"address"`
	CSIMode    string      `yaml:"csi_mode"` // 2x4 | 4x2
	MaxSources int         `yaml:"max_sources"`
	Power      PowerConfig `yaml:"power"`
}

type PowerConfig struct {
	ResetGPIO     string `yaml:"reset_gpio"`
	RailGPIO      string `yaml:"rail_gpio"`
	ActiveLow     bool   `yaml:"active_low"`
	ResetSettleUs int    `yaml:"reset_settle_us"`
	RailSettleMs  int    `yaml:"rail_settle_ms"`
}

// ---- SENSOR ----

type SensorConfig struct {
	ID    string `yaml:"id"`
	Model string `yaml:"model"`

	Bus              string `yaml:"bus"`
	Address          uint16 `yaml:"address"`
	BroadcastAddress uint16 `yaml:"broadcast_address"` // 0 = none
	ResetGPIO        string `yaml:"reset_gpio"`        // mipi only

	Transport string `yaml:"transport"` // mipi | gmsl
	Link      string `yaml:"link"`      // LinkConfig.ID, gmsl only
	CSILink   string `yaml:"csi_link"`  // A | B
	CSIPort   string `yaml:"csi_port"`  // A..F

	Lanes    int    `yaml:"lanes"`
	BitDepth int    `yaml:"bit_depth"`
	InckHz   uint64 `yaml:"inck_hz"`
	Tables   string `yaml:"tables"` // optional YAML register table overrides

	Mode       string  `yaml:"mode"`
	FrameRate  uint64  `yaml:"frame_rate"`
	ExposureUs int64   `yaml:"exposure_us"`
	Gain       int64   `yaml:"gain"`
	BlackLevel *uint64 `yaml:"black_level"`

	Role         string `yaml:"role"` // unicast | broadcast
	Master       bool   `yaml:"master"`
	ExternalSync bool   `yaml:"external_sync"`

	// Device status block (optional, opt-in)
	StatusSlot *uint16 `yaml:"status_slot"`
	DeviceName string  `yaml:"device_name"`
}

// ---- STATUS MEMORY ----

type StatusMemoryConfig struct {
	Endpoint   string `yaml:"endpoint"`
	UnitID     uint8  `yaml:"unit_id"`
	IntervalMs int    `yaml:"interval_ms"`
	TimeoutMs  int    `yaml:"timeout_ms"`
}
