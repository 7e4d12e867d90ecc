package client

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/adrg/xdg"
)

// GlobalConfig is the publisher's local configuration, kept in the XDG
// config directory. APIKeys maps project ids to their upload keys.
type GlobalConfig struct {
	ServerBaseUrl string            `json:"serverBaseUrl"`
	User          string            `json:"user"`
	Token         string            `json:"token"`
	APIKeys       map[string]string `json:"apiKeys"`
}

func globalConfigPath() (string, error) {
	path, err := xdg.ConfigFile("updepot/config.json")
	if err != nil {
		return "", fmt.Errorf("globalConfigPath: %w", err)
	}

	return path, nil
}

func ReadGlobalConfig() (GlobalConfig, error) {
	path, err := globalConfigPath()
	if err != nil {
		return GlobalConfig{}, fmt.Errorf("ReadGlobalConfig: %w", err)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return GlobalConfig{}, fmt.Errorf("ReadGlobalConfig read file: %w", err)
	}

	var config GlobalConfig
	if err := json.Unmarshal(content, &config); err != nil {
		return GlobalConfig{}, fmt.Errorf("ReadGlobalConfig unmarshal: %w", err)
	}

	if config.APIKeys == nil {
		config.APIKeys = make(map[string]string)
	}

	return config, nil
}

func WriteGlobalConfig(config GlobalConfig) error {
	path, err := globalConfigPath()
	if err != nil {
		return fmt.Errorf("WriteGlobalConfig: %w", err)
	}

	content, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return fmt.Errorf("WriteGlobalConfig marshal: %w", err)
	}

	if err := os.WriteFile(path, content, 0600); err != nil {
		return fmt.Errorf("WriteGlobalConfig write file: %w", err)
	}

	return nil
}
