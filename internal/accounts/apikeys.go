package accounts

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// APIKeysFile holds per-profile API credentials, stored alongside the
// profile's session files. It never lives in the active directory; keys
// are injected into the executor's environment instead of being written
// where the CLI could sync them.
const APIKeysFile = ".api_keys.json"

// Auth methods for providers that support more than one credential shape.
const (
	AuthBearerToken = "bearer_token"
	AuthAccessKeys  = "access_keys"
)

// Known providers.
const (
	ProviderAnthropic = "anthropic"
	ProviderBedrock   = "bedrock"
)

// APIKey is one provider credential bound to a profile.
type APIKey struct {
	// Provider is "anthropic" or "bedrock".
	Provider string `json:"provider"`
	// AuthMethod selects the credential shape for providers with more
	// than one. Empty means the provider's default.
	AuthMethod string `json:"auth_method,omitempty"`
	// APIKey is the Anthropic API key.
	APIKey string `json:"api_key,omitempty"`
	// BearerToken is the Bedrock bearer token.
	BearerToken string `json:"bearer_token,omitempty"`
	// AccessKeyID, SecretAccessKey and SessionToken are AWS access keys
	// for Bedrock.
	AccessKeyID     string `json:"access_key_id,omitempty"`
	SecretAccessKey string `json:"secret_access_key,omitempty"`
	SessionToken    string `json:"session_token,omitempty"`
	// Region is the AWS region for Bedrock.
	Region string `json:"region,omitempty"`
	// Created is when the key was first saved.
	Created time.Time `json:"created"`
}

// EnvVar is a single environment binding derived from a stored key.
type EnvVar struct {
	Name  string
	Value string
}

func (s *Store) apiKeysPath(name string) string {
	return filepath.Join(s.fs.AccountPath(name), APIKeysFile)
}

func (s *Store) loadAPIKeys(name string) (map[string]APIKey, error) {
	data, err := os.ReadFile(s.apiKeysPath(name))
	if os.IsNotExist(err) {
		return map[string]APIKey{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read api keys for %s: %w", name, err)
	}
	keys := map[string]APIKey{}
	if err := json.Unmarshal(data, &keys); err != nil {
		return nil, fmt.Errorf("parse api keys for %s: %w", name, err)
	}
	return keys, nil
}

func (s *Store) saveAPIKeys(name string, keys map[string]APIKey) error {
	data, err := json.MarshalIndent(keys, "", "  ")
	if err != nil {
		return fmt.Errorf("encode api keys for %s: %w", name, err)
	}
	path := s.apiKeysPath(name)
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create profile dir for %s: %w", name, err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write api keys for %s: %w", name, err)
	}
	return nil
}

// SaveAPIKey stores a provider credential on a profile. An existing key
// for the same provider is only replaced when overwrite is set; otherwise
// ErrAccountExists is returned so callers can prompt before clobbering.
func (s *Store) SaveAPIKey(name string, key APIKey, overwrite bool) error {
	name, err := sanitizeName(name)
	if err != nil {
		return err
	}
	if err := validateAPIKey(key); err != nil {
		return err
	}
	unlock, err := s.lockRoot()
	if err != nil {
		return err
	}
	defer unlock()

	keys, err := s.loadAPIKeys(name)
	if err != nil {
		return err
	}
	if existing, ok := keys[key.Provider]; ok {
		if !overwrite {
			return fmt.Errorf("%s key on %s: %w", key.Provider, name, ErrAccountExists)
		}
		key.Created = existing.Created
	}
	if key.Created.IsZero() {
		key.Created = time.Now().UTC()
	}
	keys[key.Provider] = key
	return s.saveAPIKeys(name, keys)
}

// GetAPIKey returns the stored credential for a provider on a profile.
func (s *Store) GetAPIKey(name, provider string) (APIKey, error) {
	name, err := sanitizeName(name)
	if err != nil {
		return APIKey{}, err
	}
	keys, err := s.loadAPIKeys(name)
	if err != nil {
		return APIKey{}, err
	}
	key, ok := keys[provider]
	if !ok {
		return APIKey{}, fmt.Errorf("%s key on %s: %w", provider, name, ErrNoCredentials)
	}
	return key, nil
}

// ListAPIKeys returns the providers configured on a profile, sorted.
func (s *Store) ListAPIKeys(name string) ([]APIKey, error) {
	name, err := sanitizeName(name)
	if err != nil {
		return nil, err
	}
	keys, err := s.loadAPIKeys(name)
	if err != nil {
		return nil, err
	}
	providers := make([]string, 0, len(keys))
	for p := range keys {
		providers = append(providers, p)
	}
	sort.Strings(providers)
	out := make([]APIKey, 0, len(providers))
	for _, p := range providers {
		out = append(out, keys[p])
	}
	return out, nil
}

// DeleteAPIKey removes a provider credential from a profile.
func (s *Store) DeleteAPIKey(name, provider string) error {
	name, err := sanitizeName(name)
	if err != nil {
		return err
	}
	unlock, err := s.lockRoot()
	if err != nil {
		return err
	}
	defer unlock()

	keys, err := s.loadAPIKeys(name)
	if err != nil {
		return err
	}
	if _, ok := keys[provider]; !ok {
		return fmt.Errorf("%s key on %s: %w", provider, name, ErrNoCredentials)
	}
	delete(keys, provider)
	return s.saveAPIKeys(name, keys)
}

// EnvBindings translates a profile's stored keys into the environment
// variables the executor should set when spawning the CLI.
func (s *Store) EnvBindings(name string) ([]EnvVar, error) {
	name, err := sanitizeName(name)
	if err != nil {
		return nil, err
	}
	keys, err := s.loadAPIKeys(name)
	if err != nil {
		return nil, err
	}
	var vars []EnvVar
	if key, ok := keys[ProviderAnthropic]; ok {
		vars = append(vars, EnvVar{"ANTHROPIC_API_KEY", key.APIKey})
	}
	if key, ok := keys[ProviderBedrock]; ok {
		vars = append(vars, EnvVar{"CLAUDE_CODE_USE_BEDROCK", "1"})
		switch key.AuthMethod {
		case AuthAccessKeys:
			vars = append(vars,
				EnvVar{"AWS_ACCESS_KEY_ID", key.AccessKeyID},
				EnvVar{"AWS_SECRET_ACCESS_KEY", key.SecretAccessKey},
			)
			if key.SessionToken != "" {
				vars = append(vars, EnvVar{"AWS_SESSION_TOKEN", key.SessionToken})
			}
		default:
			vars = append(vars, EnvVar{"AWS_BEARER_TOKEN_BEDROCK", key.BearerToken})
		}
		if key.Region != "" {
			vars = append(vars,
				EnvVar{"AWS_REGION", key.Region},
				EnvVar{"ANTHROPIC_SMALL_FAST_MODEL_AWS_REGION", key.Region},
			)
		}
	}
	return vars, nil
}

// UnsetList returns every variable EnvBindings may set. The executor
// clears these before applying a profile's bindings so credentials from a
// previous profile never leak into the next spawn.
func UnsetList() []string {
	return []string{
		"ANTHROPIC_API_KEY",
		"AWS_BEARER_TOKEN_BEDROCK",
		"AWS_ACCESS_KEY_ID",
		"AWS_SECRET_ACCESS_KEY",
		"AWS_SESSION_TOKEN",
		"AWS_REGION",
		"CLAUDE_CODE_USE_BEDROCK",
		"ANTHROPIC_SMALL_FAST_MODEL_AWS_REGION",
	}
}

func validateAPIKey(key APIKey) error {
	switch key.Provider {
	case ProviderAnthropic:
		if key.APIKey == "" {
			return fmt.Errorf("anthropic key: %w", ErrNoCredentials)
		}
	case ProviderBedrock:
		switch key.AuthMethod {
		case AuthAccessKeys:
			if key.AccessKeyID == "" || key.SecretAccessKey == "" {
				return fmt.Errorf("bedrock access keys: %w", ErrNoCredentials)
			}
		case AuthBearerToken, "":
			if key.BearerToken == "" {
				return fmt.Errorf("bedrock bearer token: %w", ErrNoCredentials)
			}
		default:
			return fmt.Errorf("unknown auth method %q for bedrock", key.AuthMethod)
		}
	default:
		return fmt.Errorf("unknown provider %q", key.Provider)
	}
	return nil
}
