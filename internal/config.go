package internal

import (
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"gopkg.in/yaml.v3"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Duration wraps time.Duration for YAML values like "600ms" or "2s".
type Duration time.Duration

// UnmarshalYAML parses a Go duration string.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config represents the application configuration.
type Config struct {
	App    ApplicationConfig `yaml:"app"`
	Store  StoreConfig       `yaml:"store"`
	Save   SaveConfig        `yaml:"save"`
	Notify NotifyConfig      `yaml:"notify"`
	Frames FramesConfig      `yaml:"frames"`
	Auth   AuthConfig        `yaml:"auth"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Store.Validate(); err != nil {
		return err
	}
	if err := c.Save.Validate(); err != nil {
		return err
	}
	return c.Auth.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// StoreConfig holds storage paths.
type StoreConfig struct {
	// SQLitePath locates the document record database.
	SQLitePath string `yaml:"sqlite_path"`
	// AttachmentsPath is the root directory of the attachment store.
	AttachmentsPath string `yaml:"attachments_path"`
	// MaxConcurrentWrites bounds background attachment writes.
	MaxConcurrentWrites int64 `yaml:"max_concurrent_writes"`
}

// Validate validates the store configuration.
func (c *StoreConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.SQLitePath, validation.Required),
		validation.Field(&c.AttachmentsPath, validation.Required),
	)
}

// SaveConfig holds the persistence scheduler policy knobs.
type SaveConfig struct {
	// Debounce is how long edits must stop arriving before a save starts.
	Debounce Duration `yaml:"debounce"`
	// MinSpacing is the minimum interval between consecutive saves.
	MinSpacing Duration `yaml:"min_spacing"`
	// AttachmentScale stretches the debounce after an attachment insert.
	AttachmentScale float64 `yaml:"attachment_scale"`
	// LargeDocBytes and LargeDocScale stretch the debounce for documents
	// past the size threshold.
	LargeDocBytes int     `yaml:"large_doc_bytes"`
	LargeDocScale float64 `yaml:"large_doc_scale"`
}

// Validate validates the save configuration.
func (c *SaveConfig) Validate() error {
	if c.Debounce.Std() < 0 || c.MinSpacing.Std() < 0 {
		return fmt.Errorf("save: intervals must not be negative")
	}
	return nil
}

// NotifyConfig holds change-notification throttling.
type NotifyConfig struct {
	// Idle is the minimum gap between broadcasts for text-only changes.
	Idle Duration `yaml:"idle"`
}

// FramesConfig holds animated-attachment frame scheduling.
type FramesConfig struct {
	Enabled bool     `yaml:"enabled"`
	Tick    Duration `yaml:"tick"`
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local dev.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	// Normalise empty mode to "disabled" for backward compatibility.
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Store: StoreConfig{
			SQLitePath:          "./inkwell.db",
			AttachmentsPath:     "./attachments",
			MaxConcurrentWrites: 4,
		},
		Save: SaveConfig{
			Debounce:        Duration(600 * time.Millisecond),
			MinSpacing:      Duration(2 * time.Second),
			AttachmentScale: 2.0,
			LargeDocBytes:   256 << 10,
			LargeDocScale:   2.0,
		},
		Notify: NotifyConfig{
			Idle: Duration(5 * time.Second),
		},
		Frames: FramesConfig{
			Enabled: true,
			Tick:    Duration(100 * time.Millisecond),
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
	}
}
