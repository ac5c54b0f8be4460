package config

import "time"

// P2P holds P2P node settings.
type P2P struct {
	// Addresses stores the node address list in the form of "[host]:[port]".
	Addresses    []string      `yaml:"Addresses"`
	DialTimeout  time.Duration `yaml:"DialTimeout"`
	MaxPeers     int           `yaml:"MaxPeers"`
	MinPeers     int           `yaml:"MinPeers"`
	PingInterval time.Duration `yaml:"PingInterval"`
	PingTimeout  time.Duration `yaml:"PingTimeout"`
}
