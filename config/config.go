// Package config loads the YAML configuration toolfed's entry point
// needs to bootstrap: the workspace root and the list of backend
// descriptors to discover, per spec.md §4.H's "read config" step.
// Grounded on cklxx-elephant.ai's cobra_cli.go viper wiring (SetConfigName/
// SetConfigType/AddConfigPath, ReadInConfig), adapted from its JSON
// single-file layout to YAML, which viper decodes with gopkg.in/yaml.v3.
package config

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/basaltrun/toolfed"
	"github.com/basaltrun/toolfed/oauthbroker"
)

// wireBackend is the on-disk shape of one backend entry. It is kept
// separate from toolfed.BackendDescriptor so the domain type carries no
// serialization tags; ToDescriptor converts between the two.
type wireBackend struct {
	Name      string   `mapstructure:"name"`
	Transport string   `mapstructure:"transport"`
	Command   string   `mapstructure:"command"`
	Argv      []string `mapstructure:"argv"`
	URL       string   `mapstructure:"url"`

	// OAuth configures authorization for a remote backend that requires
	// it. Nil means the backend never requires authorization.
	OAuth *OAuthConfig `mapstructure:"oauth"`
}

// ToDescriptor converts a wire entry into the domain BackendDescriptor
// backend.Connector constructors and toolfed.BackendDescriptor.Validate
// operate on.
func (b wireBackend) ToDescriptor() toolfed.BackendDescriptor {
	return toolfed.BackendDescriptor{
		Name:      b.Name,
		Transport: toolfed.TransportKind(b.Transport),
		Command:   b.Command,
		Argv:      b.Argv,
		URL:       b.URL,
	}
}

// OAuthConfig is the per-backend authorization-server metadata needed by
// oauthbroker.Broker, present only for remote backends that require it.
type OAuthConfig struct {
	AuthorizationEndpoint string   `mapstructure:"authorization_endpoint"`
	TokenEndpoint         string   `mapstructure:"token_endpoint"`
	RegistrationEndpoint  string   `mapstructure:"registration_endpoint"`
	Scopes                []string `mapstructure:"scopes"`
}

func (o OAuthConfig) toMetadata() oauthbroker.ServerMetadata {
	return oauthbroker.ServerMetadata{
		AuthorizationEndpoint: o.AuthorizationEndpoint,
		TokenEndpoint:         o.TokenEndpoint,
		RegistrationEndpoint:  o.RegistrationEndpoint,
		Scopes:                o.Scopes,
	}
}

// SandboxConfig configures the sandbox manager.
type SandboxConfig struct {
	Image        string `mapstructure:"image"`
	ProxyPort    int    `mapstructure:"proxy_port"`
	RedirectPort int    `mapstructure:"redirect_port"`
}

// SelectorConfig configures the façade's LLM-assisted search_tools
// selector. Model empty means no selector is wired and the façade falls
// back to returning every candidate (facade.NoopSelector).
type SelectorConfig struct {
	Model string `mapstructure:"model"`
}

// Config is the full set of values toolfed's entry point needs to
// bootstrap a running instance.
type Config struct {
	// WorkspaceRoot is bootstrapped by package workspace before any
	// script runs (spec.md §4.G).
	WorkspaceRoot string `mapstructure:"workspace_root"`

	// ModuleRoot is the installed module tree, bind-mounted read-only
	// into the sandbox and used as its Docker build context.
	ModuleRoot string `mapstructure:"module_root"`

	// OAuthRoot is where oauthbroker persists per-backend client info,
	// tokens, and PKCE verifiers. Defaults to WorkspaceRoot if empty.
	OAuthRoot string `mapstructure:"oauth_root"`

	// BindingsOutputDir is where the generator writes typed Go stubs.
	BindingsOutputDir string `mapstructure:"bindings_output_dir"`

	Backends []wireBackend  `mapstructure:"backends"`
	Sandbox  SandboxConfig  `mapstructure:"sandbox"`
	Selector SelectorConfig `mapstructure:"selector"`
}

// Descriptors converts every configured backend entry into a
// toolfed.BackendDescriptor, in configuration order.
func (c *Config) Descriptors() []toolfed.BackendDescriptor {
	out := make([]toolfed.BackendDescriptor, len(c.Backends))
	for i, b := range c.Backends {
		out[i] = b.ToDescriptor()
	}
	return out
}

// OAuthMetadata collects the ServerMetadata for every backend that
// configured an oauth block, keyed by backend name, ready to hand to
// oauthbroker.New.
func (c *Config) OAuthMetadata() map[string]oauthbroker.ServerMetadata {
	out := make(map[string]oauthbroker.ServerMetadata)
	for _, b := range c.Backends {
		if b.OAuth != nil {
			out[b.Name] = b.OAuth.toMetadata()
		}
	}
	return out
}

// Load reads configuration from path (if non-empty) or by searching the
// working directory and $HOME for "toolfed.yaml", mirroring the
// cobra_cli.go SetConfigName/AddConfigPath convention.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("toolfed")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME")
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.OAuthRoot == "" {
		cfg.OAuthRoot = cfg.WorkspaceRoot
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.WorkspaceRoot == "" {
		return fmt.Errorf("config: workspace_root is required")
	}
	if c.ModuleRoot == "" {
		return fmt.Errorf("config: module_root is required")
	}
	seen := make(map[string]bool, len(c.Backends))
	for _, b := range c.Descriptors() {
		if seen[b.Name] {
			return fmt.Errorf("config: duplicate backend name %q", b.Name)
		}
		seen[b.Name] = true
		if err := b.Validate(); err != nil {
			return err
		}
	}
	return nil
}
