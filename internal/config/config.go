// Package config provides configuration types for striptls-gate.
//
// A GatewayConfig holds the proxy's entire runtime configuration: the
// listen/remote addresses, the certificate/key file path, the set of
// attack vectors to enable, and verbosity. The CLI's --listen/--remote/
// --key/--vectors/--verbose flags are thin bindings over this struct,
// the same way the teacher's cobra commands bind flags over OSSConfig.
package config

import "strconv"

// GatewayConfig is the top-level configuration for striptls-gate.
type GatewayConfig struct {
	// Listen is the address the proxy accepts inbound connections on
	// (e.g., "0.0.0.0:25"). Defaults to "0.0.0.0:<remote port>" when empty.
	Listen string `yaml:"listen" mapstructure:"listen" validate:"omitempty,hostname_port"`

	// Remote is the upstream server address this proxy fronts, required.
	Remote string `yaml:"remote" mapstructure:"remote" validate:"required,hostname_port"`

	// KeyFile is the path to a PEM file containing both a certificate and
	// a private key, used to answer the TLS upgrade a vector performs.
	// Defaults to "server.pem", matching the original implementation's
	// Vectors._TLS_CERTFILE/_TLS_KEYFILE default.
	KeyFile string `yaml:"key" mapstructure:"key" validate:"required"`

	// Vectors selects which Protocol.VectorName entries the Dispatcher
	// loads, comma-separated, or "ALL" for the full catalogue.
	Vectors string `yaml:"vectors" mapstructure:"vectors" validate:"required"`

	// Verbose raises logging to slog.LevelDebug and switches to a
	// human-readable text handler, matching the teacher's DevMode field.
	Verbose bool `yaml:"verbose" mapstructure:"verbose"`
}

// SetDefaults applies sensible default values to the configuration.
// remotePort seeds the Listen default when the caller hasn't set one;
// it is the numeric port parsed from Remote.
func (c *GatewayConfig) SetDefaults(remotePort int) {
	if c.Listen == "" && remotePort > 0 {
		c.Listen = defaultListenAddr(remotePort)
	}
	if c.KeyFile == "" {
		c.KeyFile = "server.pem"
	}
	if c.Vectors == "" {
		c.Vectors = "ALL"
	}
}

func defaultListenAddr(remotePort int) string {
	return "0.0.0.0:" + strconv.Itoa(remotePort)
}
