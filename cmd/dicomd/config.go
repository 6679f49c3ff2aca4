package main

import (
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	dicomweb "gitlab.com/medical-research/dicomweb"
	"gitlab.com/medical-research/dicomweb/healthcare"
	"gitlab.com/medical-research/dicomweb/http"
	"gitlab.com/medical-research/dicomweb/stow"
)

// Storage backends.
const (
	BackendMemory = "memory"
	BackendGCS    = "gcs"
	BackendS3     = "s3"
	BackendRedis  = "redis"
)

// EnvPrefix is the prefix of environment variables overriding config keys,
// e.g. DICOMD_HTTP_ADDR for http.addr.
const EnvPrefix = "DICOMD"

// Config represents the configuration of the program.
type Config struct {
	HTTP struct {
		Addr      string `mapstructure:"addr"`
		Domain    string `mapstructure:"domain"`
		PublicURL string `mapstructure:"public_url"`

		// Largest inbound STOW-RS body, e.g. "1GiB". "0" disables the limit.
		MaxRequestSize string `mapstructure:"max_request_size"`
	} `mapstructure:"http"`

	Stow struct {
		MaxInstances int    `mapstructure:"max_instances"`
		MaxSize      string `mapstructure:"max_size"`
	} `mapstructure:"stow"`

	Store struct {
		Blobs string `mapstructure:"blobs"`
		Index string `mapstructure:"index"`
	} `mapstructure:"store"`

	GCS struct {
		Bucket          string `mapstructure:"bucket"`
		CredentialsFile string `mapstructure:"credentials_file"`
	} `mapstructure:"gcs"`

	S3 struct {
		Bucket    string `mapstructure:"bucket"`
		Region    string `mapstructure:"region"`
		Endpoint  string `mapstructure:"endpoint"`
		AccessKey string `mapstructure:"access_key"`
		SecretKey string `mapstructure:"secret_key"`
	} `mapstructure:"s3"`

	Redis struct {
		URL string `mapstructure:"url"`
	} `mapstructure:"redis"`

	Healthcare struct {
		CredentialsFile string `mapstructure:"credentials_file"`
	} `mapstructure:"healthcare"`

	Servers map[string]ServerConfig `mapstructure:"servers"`

	Rollbar struct {
		Token       string `mapstructure:"token"`
		Environment string `mapstructure:"environment"`
	} `mapstructure:"rollbar"`

	Debug struct {
		Addr string `mapstructure:"addr"`
	} `mapstructure:"debug"`
}

// ServerConfig describes one remote DICOMweb server.
type ServerConfig struct {
	URL         string            `mapstructure:"url"`
	Username    string            `mapstructure:"username"`
	Password    string            `mapstructure:"password"`
	HTTPHeaders map[string]string `mapstructure:"http_headers"`
	Transport   string            `mapstructure:"transport"`

	// Cloud Healthcare DICOM store, used instead of URL.
	Parent string `mapstructure:"parent"`
}

// BindFlags registers the command line flags of the program and binds
// them to v.
func BindFlags(v *viper.Viper, f *pflag.FlagSet) error {
	f.String("config", "", "Path to the configuration file")
	f.String("http.addr", ":8042", "Bind address of the HTTP server")
	f.String("http.domain", "", "Domain served over TLS with Let's Encrypt")
	f.String("http.public_url", "", "Externally visible base URL")
	f.String("http.max_request_size", "1GiB", "Maximum inbound STOW-RS body size, 0 for no limit")
	f.Int("stow.max_instances", stow.DefaultConfig.MaxInstances, "Maximum instances per STOW-RS request")
	f.String("stow.max_size", "10MiB", "Maximum body size per STOW-RS request")
	f.String("store.blobs", BackendMemory, "Blob backend: memory, gcs or s3")
	f.String("store.index", BackendMemory, "Index backend: memory or redis")
	f.String("debug.addr", ":6060", "Bind address of the metrics listener, empty to disable")

	return v.BindPFlags(f)
}

// LoadConfig reads the configuration from the config file named by the
// "config" key, the environment and the bound flags, in increasing order
// of precedence.
func LoadConfig(v *viper.Viper) (Config, error) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Keys without a flag need a default for the environment to reach them.
	for _, key := range []string{
		"gcs.bucket", "gcs.credentials_file",
		"s3.bucket", "s3.region", "s3.endpoint", "s3.access_key", "s3.secret_key",
		"redis.url", "healthcare.credentials_file", "rollbar.token",
	} {
		v.SetDefault(key, "")
	}
	v.SetDefault("rollbar.environment", "development")

	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, dicomweb.Errorf(dicomweb.EINVALID, "cannot read config file %s: %v", path, err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return Config{}, dicomweb.Errorf(dicomweb.EINVALID, "cannot decode config: %v", err)
	}

	// Secrets are commonly injected without the prefix.
	if config.Rollbar.Token == "" {
		config.Rollbar.Token, _ = dicomweb.GetEnvVar(RollbarTokenEnv)
	}
	return config, nil
}

// RollbarTokenEnv is read when rollbar.token is not configured.
const RollbarTokenEnv = "ROLLBAR_TOKEN"

// StowConfig returns the batching limits of the STOW-RS client.
func (c *Config) StowConfig() (stow.Config, error) {
	config := stow.DefaultConfig
	if c.Stow.MaxInstances > 0 {
		config.MaxInstances = c.Stow.MaxInstances
	}
	if c.Stow.MaxSize != "" {
		size, err := stow.ParseMaxSize(c.Stow.MaxSize)
		if err != nil {
			return stow.Config{}, err
		}
		config.MaxBytes = size
	}
	return config, nil
}

// MaxRequestSize returns the inbound body limit of the HTTP server.
func (c *Config) MaxRequestSize() (int64, error) {
	if c.HTTP.MaxRequestSize == "" {
		return http.DefaultMaxRequestSize, nil
	}
	n, err := humanize.ParseBytes(c.HTTP.MaxRequestSize)
	if err != nil {
		return 0, dicomweb.Errorf(dicomweb.EINVALID, "invalid http.max_request_size %q: %v", c.HTTP.MaxRequestSize, err)
	}
	return int64(n), nil
}

// ServerRegistry returns the configured remote servers.
func (c *Config) ServerRegistry() (dicomweb.Servers, error) {
	servers := make(dicomweb.Servers, len(c.Servers))
	for name, sc := range c.Servers {
		server := &dicomweb.Server{
			Name:        name,
			URL:         sc.URL,
			Username:    sc.Username,
			Password:    sc.Password,
			HTTPHeaders: sc.HTTPHeaders,
			Transport:   sc.Transport,
		}

		switch server.Transport {
		case "":
			server.Transport = dicomweb.TransportHTTP
		case dicomweb.TransportHTTP, dicomweb.TransportHealthcare:
		default:
			return nil, dicomweb.Errorf(dicomweb.EINVALID, "server %s: unknown transport %q", name, sc.Transport)
		}

		if server.Transport == dicomweb.TransportHealthcare && sc.Parent != "" {
			server.URL = healthcare.DicomWebURL(sc.Parent)
		}
		if server.URL == "" {
			return nil, dicomweb.Errorf(dicomweb.EINVALID, "server %s: url required", name)
		}

		servers[name] = server
	}
	return servers, nil
}

// UsesTransport reports whether any configured server uses transport.
func (c *Config) UsesTransport(transport string) bool {
	for _, sc := range c.Servers {
		if sc.Transport == transport {
			return true
		}
	}
	return false
}
