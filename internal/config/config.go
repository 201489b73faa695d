package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/tidwall/jsonc"

	"github.com/bladecode/blade/pkg/types"
)

// Load reads configuration from the standard sources, in priority order:
//
//  1. user config (~/.blade/config.json)
//  2. project config (<dir>/.blade/config.json)
//  3. environment variables
//
// Project values override user values. The environment fills a missing API
// key; a valid BLADE_PERMISSION_MODE overrides the configured mode.
// A .env file in the project directory is loaded first so *_API_KEY
// fallbacks work without exporting.
func Load(paths Paths, projectDir string) (*types.Config, error) {
	if projectDir != "" {
		godotenv.Load(filepath.Join(projectDir, ".env"))
	}

	cfg := &types.Config{Version: types.ConfigVersion}

	if err := loadFile(paths.ConfigFile, cfg); err != nil {
		return nil, err
	}
	if projectDir != "" {
		if err := loadFile(filepath.Join(projectDir, ".blade", "config.json"), cfg); err != nil {
			return nil, err
		}
	}

	applyEnv(cfg)

	if cfg.PermissionMode == "" {
		cfg.PermissionMode = types.ModeDefault
	}
	if !cfg.PermissionMode.Valid() {
		return nil, fmt.Errorf("invalid permissionMode %q", cfg.PermissionMode)
	}
	return cfg, nil
}

// loadFile merges one config file into cfg; a missing file is not an error.
// JSONC comments are stripped and old schema versions are migrated before
// unmarshaling.
func loadFile(path string, cfg *types.Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	data = jsonc.ToJSON(data)

	migrated, err := Migrate(data)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	var fileCfg types.Config
	if err := json.Unmarshal(migrated, &fileCfg); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	merge(cfg, &fileCfg)
	return nil
}

// merge overlays source onto target.
func merge(target, source *types.Config) {
	if source.Provider != "" {
		target.Provider = source.Provider
	}
	if source.BaseURL != "" {
		target.BaseURL = source.BaseURL
	}
	if source.APIKey != "" {
		target.APIKey = source.APIKey
	}
	if source.Model != "" {
		target.Model = source.Model
	}
	if source.PermissionMode != "" {
		target.PermissionMode = source.PermissionMode
	}
	if source.MaxTurns > 0 {
		target.MaxTurns = source.MaxTurns
	}
	if source.ContextTokens > 0 {
		target.ContextTokens = source.ContextTokens
	}
	if source.Permissions != nil {
		target.Permissions = source.Permissions
	}
	if source.Log.Level != "" || source.Log.File || source.Log.Pretty {
		target.Log = source.Log
	}

	if source.Providers != nil {
		if target.Providers == nil {
			target.Providers = make(map[string]types.ProviderConfig)
		}
		for k, v := range source.Providers {
			target.Providers[k] = v
		}
	}
	if source.Command != nil {
		if target.Command == nil {
			target.Command = make(map[string]types.CommandConfig)
		}
		for k, v := range source.Command {
			target.Command[k] = v
		}
	}
}

// applyEnv fills credential gaps from the environment and applies a valid
// BLADE_PERMISSION_MODE over the configured mode.
func applyEnv(cfg *types.Config) {
	if cfg.APIKey == "" {
		switch cfg.Provider {
		case "anthropic":
			cfg.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		case "openai":
			cfg.APIKey = os.Getenv("OPENAI_API_KEY")
		}
	}
	if mode := os.Getenv("BLADE_PERMISSION_MODE"); mode != "" {
		if pm := types.PermissionMode(mode); pm.Valid() {
			cfg.PermissionMode = pm
		}
	}
}

// Save writes the user config with owner-only permissions; the file holds
// credentials.
func Save(paths Paths, cfg *types.Config) error {
	if err := paths.Ensure(); err != nil {
		return err
	}
	cfg.Version = types.ConfigVersion

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	tmp := paths.ConfigFile + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return err
	}
	return os.Rename(tmp, paths.ConfigFile)
}

// LoadMCP reads the external tool server configuration.
func LoadMCP(paths Paths) (*types.MCPConfig, error) {
	data, err := os.ReadFile(paths.MCPConfigFile)
	if err != nil {
		if os.IsNotExist(err) {
			return &types.MCPConfig{Servers: map[string]types.MCPServerConfig{}}, nil
		}
		return nil, err
	}

	var cfg types.MCPConfig
	if err := json.Unmarshal(jsonc.ToJSON(data), &cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", paths.MCPConfigFile, err)
	}
	if cfg.Servers == nil {
		cfg.Servers = map[string]types.MCPServerConfig{}
	}
	return &cfg, nil
}
