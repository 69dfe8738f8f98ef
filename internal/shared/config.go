package shared

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	tomlparser "github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

//go:embed config.example.toml
var exampleConf []byte

const (
	// envPrefix selects the credential variables (SPOTIFY_CLIENT_ID → spotify.client_id)
	envPrefix = "SPOTIFY_"
	// mcpEnvPrefix selects everything else (SPOTIFY_MCP_SERVER__PORT → server.port)
	mcpEnvPrefix = "SPOTIFY_MCP_"
)

var spotifyEnvKeys = map[string]struct{}{
	"client_id":     {},
	"client_secret": {},
	"refresh_token": {},
	"access_token":  {},
	"redirect_uri":  {},
}

// Config represents the application configuration.
type Config struct {
	Spotify SpotifyConfig `toml:"spotify"`
	API     APIConfig     `toml:"api"`
	Server  ServerConfig  `toml:"server"`
	Setup   SetupConfig   `toml:"setup"`
	HTTP    HTTPConfig    `toml:"http"`
	Log     LogConfig     `toml:"log"`
}

// SpotifyConfig contains Spotify API credentials.
type SpotifyConfig struct {
	ClientID     string   `toml:"client_id"`
	ClientSecret string   `toml:"client_secret"`
	RefreshToken string   `toml:"refresh_token"`
	AccessToken  string   `toml:"access_token"`
	RedirectURI  string   `toml:"redirect_uri" validate:"omitempty,url"`
	Scopes       []string `toml:"scopes" validate:"min=1"`
}

// APIConfig points at the upstream API and authorization server.
type APIConfig struct {
	BaseURL     string `toml:"base_url" validate:"required,url"`
	AccountsURL string `toml:"accounts_url" validate:"required,url"`
}

// ServerConfig contains the setup callback listener settings.
type ServerConfig struct {
	Host string `toml:"host" validate:"required,hostname_rfc1123|ip"`
	Port int    `toml:"port" validate:"min=1,max=65535"`
}

// SetupConfig controls the interactive credential flow.
type SetupConfig struct {
	Timeout     time.Duration `toml:"timeout" validate:"gt=0"`
	Storage     string        `toml:"storage" validate:"oneof=dotenv keyring"`
	EnvFile     string        `toml:"env_file" validate:"required"`
	Gitignore   string        `toml:"gitignore"`
	KeyringUser string        `toml:"keyring_user"`
}

// HTTPConfig applies to every outbound client.
type HTTPConfig struct {
	Timeout time.Duration `toml:"timeout" validate:"gte=0"`
}

// LogConfig sets the stderr logger level.
type LogConfig struct {
	Level string `toml:"level" validate:"oneof=debug info warn error"`
}

// LoadOptions lists the sources merged by [LoadConfig], lowest precedence first.
type LoadOptions struct {
	Path    string         // optional TOML file
	Environ func() []string // defaults to [os.Environ]
	Flags   map[string]any  // dotted keys, e.g. "log.level"
}

// LoadConfig merges the embedded defaults, the optional config file, the environment and flags,
// then applies derived defaults and validates the result.
func LoadConfig(opts LoadOptions) (*Config, error) {
	k := koanf.New(".")

	defaults, err := defaultMap()
	if err != nil {
		return nil, err
	}
	if err := k.Load(confmap.Provider(defaults, "."), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	if opts.Path != "" {
		if err := k.Load(file.Provider(opts.Path), tomlparser.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
	}

	environ := opts.Environ
	if environ == nil {
		environ = os.Environ
	}
	envProvider := env.Provider(".", env.Opt{
		Prefix:        envPrefix,
		TransformFunc: transformEnv,
		EnvironFunc:   environ,
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	if len(opts.Flags) > 0 {
		if err := k.Load(confmap.Provider(opts.Flags, "."), nil); err != nil {
			return nil, fmt.Errorf("loading CLI flags: %w", err)
		}
	}

	var config Config
	if err := k.UnmarshalWithConf("", &config, koanf.UnmarshalConf{Tag: "toml"}); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	config.ApplyDefaults()

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// transformEnv maps environment variable names onto config keys. Unknown SPOTIFY_* names are skipped.
func transformEnv(key, value string) (string, any) {
	if strings.HasPrefix(key, mcpEnvPrefix) {
		stripped := strings.TrimPrefix(key, mcpEnvPrefix)
		return strings.ToLower(strings.ReplaceAll(stripped, "__", ".")), value
	}

	name := strings.ToLower(strings.TrimPrefix(key, envPrefix))
	if _, ok := spotifyEnvKeys[name]; !ok {
		return "", nil
	}
	return "spotify." + name, value
}

func defaultMap() (map[string]any, error) {
	m := map[string]any{}
	if _, err := toml.Decode(string(exampleConf), &m); err != nil {
		return nil, fmt.Errorf("failed to parse embedded default config: %w", err)
	}
	return m, nil
}

// DefaultConfig returns a Config with the embedded defaults and no environment applied.
func DefaultConfig() *Config {
	var config Config
	if _, err := toml.Decode(string(exampleConf), &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	config.ApplyDefaults()
	return &config
}

// ApplyDefaults fills values derived from other fields.
func (c *Config) ApplyDefaults() {
	if c.Spotify.RedirectURI == "" {
		c.Spotify.RedirectURI = fmt.Sprintf("http://%s/callback", c.CallbackAddr())
	}
	if c.Setup.KeyringUser == "" {
		c.Setup.KeyringUser = "default"
	}
}

// Validate checks struct constraints.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// CallbackAddr is the host:port the setup listener binds.
func (c *Config) CallbackAddr() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}

// TokenURL is the authorization server token endpoint.
func (c *Config) TokenURL() string {
	return strings.TrimRight(c.API.AccountsURL, "/") + "/api/token"
}

// AuthURL is the authorization server consent page.
func (c *Config) AuthURL() string {
	return strings.TrimRight(c.API.AccountsURL, "/") + "/authorize"
}

// HasRefreshSecret reports whether client id, client secret and refresh token are all set.
func (s SpotifyConfig) HasRefreshSecret() bool {
	return s.ClientID != "" && s.ClientSecret != "" && s.RefreshToken != ""
}

// LoadEnvFile loads KEY=value pairs from path into the process environment.
// Variables already set are left untouched. A missing file is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}
