package config

// BasicService is the common shape shared by every component that binds an
// HTTP address and an optional HTTP Basic Auth pair: the Listener and the
// read-only API.
type BasicService struct {
	Host string `yaml:"Host"`
	User string `yaml:"User"`
	Pass string `yaml:"Pass"`
}
