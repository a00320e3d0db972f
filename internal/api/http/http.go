package http

type Config struct {
	Port uint `mapstructure:"port"`
	// PublicURL is the address agents should use to reach the hub; it is
	// advertised over mDNS. Derived from the port when empty.
	PublicURL      string   `mapstructure:"public_url"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}
