package config

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

const (
	secretsService   = "santaline"
	accountGeminiKey = "gemini_api_key"
	accountAPIToken  = "api_token"
)

var errSecretNotFound = errors.New("secret not found")

// SecretStore reads and writes secrets kept outside the config file.
type SecretStore interface {
	Get(service, account string) (string, error)
	Set(service, account, value string) error
}

// NewKeychain returns the secrets file store under the data directory.
func NewKeychain() SecretStore {
	return fileKeychain{path: secretsFilePath()}
}

func secretsFilePath() string {
	return filepath.Join(defaultDataDir(), "secrets.json")
}

type fileKeychain struct {
	path string
}

func (k fileKeychain) read() (map[string]map[string]string, error) {
	data, err := os.ReadFile(k.path)
	if err != nil {
		return nil, err
	}
	var secrets map[string]map[string]string
	if err := json.Unmarshal(data, &secrets); err != nil {
		return nil, fmt.Errorf("parsing secrets file: %w", err)
	}
	return secrets, nil
}

func (k fileKeychain) Get(service, account string) (string, error) {
	secrets, err := k.read()
	if err != nil {
		if os.IsNotExist(err) {
			return "", errSecretNotFound
		}
		return "", err
	}
	val, ok := secrets[service][account]
	if !ok {
		return "", fmt.Errorf("%w: %s/%s", errSecretNotFound, service, account)
	}
	return val, nil
}

func (k fileKeychain) Set(service, account, value string) error {
	secrets, err := k.read()
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	if secrets == nil {
		secrets = make(map[string]map[string]string)
	}
	if secrets[service] == nil {
		secrets[service] = make(map[string]string)
	}
	secrets[service][account] = value

	if err := os.MkdirAll(filepath.Dir(k.path), 0o700); err != nil {
		return fmt.Errorf("creating secrets dir: %w", err)
	}
	out, err := json.MarshalIndent(secrets, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(k.path, out, 0o600)
}

// GetAPIToken returns the bearer token guarding the management endpoints,
// generating and storing a new one on first use.
func GetAPIToken(s SecretStore) (string, error) {
	if tok, err := s.Get(secretsService, accountAPIToken); err == nil && tok != "" {
		return tok, nil
	}
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating API token: %w", err)
	}
	tok := hex.EncodeToString(buf)
	if err := s.Set(secretsService, accountAPIToken, tok); err != nil {
		return "", fmt.Errorf("storing API token: %w", err)
	}
	return tok, nil
}

// SetAPIKey stores the Gemini API key in the secrets file.
func SetAPIKey(s SecretStore, key string) error {
	return s.Set(secretsService, accountGeminiKey, key)
}
