package config

// ApplicationConfiguration config specific to the node.
type ApplicationConfiguration struct {
	Logger `yaml:",inline"`

	Prometheus BasicService `yaml:"Prometheus"`

	P2P  P2P               `yaml:"P2P"`
	Sync SyncConfiguration `yaml:"Sync"`
}

// Validate returns an error if ApplicationConfiguration is not valid.
func (a ApplicationConfiguration) Validate() error {
	if err := a.Logger.Validate(); err != nil {
		return err
	}
	return a.Sync.Validate()
}
