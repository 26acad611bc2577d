package config

// Config is the full configuration surface of the gateway. It is composed of
// small interfaces so components only depend on the part they need.
type Config interface {
	EnvConfig
	ProviderConfig
	SessionConfig
}

type EnvConfig interface {
	GetPort() string
	GetAppName() string
	GetEnv() string
}

type SessionConfig interface {
	GetRedisURL() string
	GetSessionSecret() string
}

type mainConfig struct {
	EnvVars
	Provider
	Session
}

func New() Config {
	return mainConfig{}
}
