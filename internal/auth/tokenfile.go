// ABOUTME: Token persistence for CLI clients in the user's config directory
// ABOUTME: AGENTCOMM_TOKEN overrides the saved ~/.config/agentcomm/token file

package auth

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// TokenEnvVar overrides the saved token when set.
const TokenEnvVar = "AGENTCOMM_TOKEN"

// ErrNoToken is returned when neither the environment nor the token file
// provide a token.
var ErrNoToken = errors.New("no token configured")

// DefaultTokenPath returns $XDG_CONFIG_HOME/agentcomm/token, falling back to
// ~/.config/agentcomm/token.
func DefaultTokenPath() (string, error) {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("locating home directory: %w", err)
		}
		configDir = filepath.Join(homeDir, ".config")
	}
	return filepath.Join(configDir, "agentcomm", "token"), nil
}

// LoadToken returns the token from AGENTCOMM_TOKEN or the file at path.
func LoadToken(path string) (string, error) {
	if token := strings.TrimSpace(os.Getenv(TokenEnvVar)); token != "" {
		return token, nil
	}
	if path == "" {
		return "", ErrNoToken
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return "", ErrNoToken
	}
	if err != nil {
		return "", fmt.Errorf("reading token file: %w", err)
	}

	token := strings.TrimSpace(string(data))
	if token == "" {
		return "", ErrNoToken
	}
	return token, nil
}

// SaveToken writes token to path with owner-only permissions.
func SaveToken(path, token string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating token directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(token+"\n"), 0o600); err != nil {
		return fmt.Errorf("writing token file: %w", err)
	}
	return nil
}
