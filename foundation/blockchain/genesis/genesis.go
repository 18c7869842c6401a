// Package genesis maintains access to the genesis file.
package genesis

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"
)

// Genesis represents the genesis file. Every consensus parameter the node
// runs with is read from here so all nodes on a chain agree on them.
type Genesis struct {
	Date             time.Time         `json:"date"`
	ChainID          uint16            `json:"chain_id"`          // The chain id represents an unique id for this running instance.
	TransPerBlock    uint16            `json:"trans_per_block"`   // The maximum number of transactions that can be in a block.
	MaxBlockBytes    int               `json:"max_block_bytes"`   // The maximum encoded size of the transactions in a block.
	Difficulty       uint64            `json:"difficulty"`        // The starting difficulty of the chain.
	BlockInterval    Duration          `json:"block_interval"`    // The target time between blocks.
	AdjustmentWindow uint64            `json:"adjustment_window"` // Number of recent blocks the difficulty is adjusted over, 0 disables adjustment.
	MaxClockDrift    Duration          `json:"max_clock_drift"`   // How far ahead of the local clock a block may be stamped.
	MiningReward     uint64            `json:"mining_reward"`     // Reward for mining a block.
	Balances         map[string]uint64 `json:"balances"`
}

// Validate checks the genesis values can drive a chain.
func (g Genesis) Validate() error {
	if g.Difficulty == 0 {
		return errors.New("difficulty must be at least 1")
	}

	if g.TransPerBlock == 0 {
		return errors.New("trans_per_block must be at least 1")
	}

	if g.AdjustmentWindow > 0 && g.BlockInterval.Duration <= 0 {
		return errors.New("block_interval is required when adjustment is enabled")
	}

	return nil
}

// =============================================================================

// Load opens and consumes the genesis file.
func Load(path string) (Genesis, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Genesis{}, err
	}

	var genesis Genesis
	if err := json.Unmarshal(content, &genesis); err != nil {
		return Genesis{}, fmt.Errorf("decoding genesis: %w", err)
	}

	if err := genesis.Validate(); err != nil {
		return Genesis{}, fmt.Errorf("validating genesis: %w", err)
	}

	return genesis, nil
}

// =============================================================================

// Duration wraps time.Duration so it can be written as "10s" in the file.
type Duration struct {
	time.Duration
}

// MarshalJSON implements the json.Marshaler interface.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("duration should be a string: %w", err)
	}

	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}

	d.Duration = v
	return nil
}
