package config

import (
	"errors"
	"time"
)

// ProtocolConfiguration represents the protocol config.
type ProtocolConfiguration struct {
	// Magic is the network identification magic number.
	Magic uint32 `yaml:"Magic"`
	// SeedList is the list of seed nodes contacted on first start.
	SeedList []string `yaml:"SeedList"`
	// TimePerBlock is the target time interval between blocks.
	TimePerBlock time.Duration `yaml:"TimePerBlock"`
}

// Validate returns an error if ProtocolConfiguration is not valid.
func (p ProtocolConfiguration) Validate() error {
	if p.TimePerBlock < 0 {
		return errors.New("TimePerBlock can't be negative")
	}
	return nil
}
