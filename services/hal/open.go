package hal

import (
	"fmt"

	"go.uber.org/zap"

	"fieldnode-go/bus"
	"fieldnode-go/services/hal/internal/platform"
	"fieldnode-go/services/hal/internal/store"
)

// Hardware selects the board definition and the backend driving it.
type Hardware struct {
	Board      string `mapstructure:"board" json:"board"`
	BoardFile  string `mapstructure:"board_file" json:"board_file,omitempty"`
	Backend    string `mapstructure:"backend" json:"backend"` // periph | sim
	I2CBus     string `mapstructure:"i2c_bus" json:"i2c_bus,omitempty"`
	OneWireBus string `mapstructure:"onewire_bus" json:"onewire_bus,omitempty"`
}

// Open builds a HAL on the configured hardware with its configuration
// persisted under storeDir. An empty storeDir keeps it in memory.
func Open(cfg Config, hw Hardware, storeDir string, conn *bus.Connection, log *zap.Logger) (*HAL, error) {
	board, err := loadBoard(hw)
	if err != nil {
		return nil, err
	}

	var backend platform.Backend
	switch hw.Backend {
	case "sim":
		backend = platform.NewSim(board)
	case "periph", "":
		p, err := platform.NewPeriph(board, hw.I2CBus, hw.OneWireBus)
		if err != nil {
			return nil, err
		}
		backend = p
	default:
		return nil, fmt.Errorf("unknown hardware backend %q", hw.Backend)
	}

	var kv store.KV = store.NewMem()
	if storeDir != "" {
		f, err := store.NewFile(storeDir)
		if err != nil {
			backend.Close()
			return nil, err
		}
		kv = f
	}

	log.Info("hardware selected",
		zap.String("board", board.Name),
		zap.String("backend", hw.Backend),
		zap.Int("actuator_slots", board.ActuatorSlots),
		zap.Int("sensor_slots", board.SensorSlots))

	h, err := New(cfg, board, backend, kv, conn, log)
	if err != nil {
		backend.Close()
		return nil, err
	}
	return h, nil
}

func loadBoard(hw Hardware) (platform.Board, error) {
	if hw.BoardFile != "" {
		return platform.LoadBoardFile(hw.BoardFile)
	}
	return platform.LookupBoard(hw.Board)
}

// Close releases the hardware backend. Call it after Run returns.
func (h *HAL) Close() error {
	return h.hw.Close()
}
