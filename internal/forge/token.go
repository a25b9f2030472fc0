package forge

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// ConfigReader is the subset of the store's config table, mirroring the
// teacher's `store.GetConfig` idiom. NewTokenResolver stores it, but
// Resolve's chain does not consult it.
type ConfigReader interface {
	GetConfig(key string) (string, bool)
}

// TokenResolver resolves the forge auth token from, in order: the
// environment, a cached 0600 file (cron-safe, since keychain-style
// stores are inaccessible from cron per spec §9), a gh-CLI-style
// external token provider, an encrypted secret store, and finally a
// plaintext credentials file.
type TokenResolver struct {
	EnvVar         string
	CacheFile      string
	ExternalCmd    []string // e.g. []string{"gh", "auth", "token"}
	SecretStoreCmd []string // e.g. []string{"security", "find-generic-password", ...}
	CredentialsFile string

	cfg ConfigReader
}

// NewTokenResolver builds a resolver rooted at stateDir for the token
// cache file.
func NewTokenResolver(stateDir string, cfg ConfigReader) *TokenResolver {
	return &TokenResolver{
		EnvVar:    "AIDEVOPS_FORGE_TOKEN",
		CacheFile: filepath.Join(stateDir, "forge-token.cache"),
		cfg:       cfg,
	}
}

// Resolve walks the chain and caches a freshly discovered token.
func (r *TokenResolver) Resolve() (string, error) {
	if v := os.Getenv(r.EnvVar); v != "" {
		return v, nil
	}

	if v, err := r.readCache(); err == nil && v != "" {
		return v, nil
	}

	if v, ok := r.fromExternalCmd(); ok {
		_ = r.writeCache(v)
		return v, nil
	}

	if v, ok := r.fromSecretStore(); ok {
		_ = r.writeCache(v)
		return v, nil
	}

	if v, ok := r.fromCredentialsFile(); ok {
		_ = r.writeCache(v)
		return v, nil
	}

	return "", fmt.Errorf("no forge token found in env, cache, external provider, secret store, or credentials file")
}

func (r *TokenResolver) readCache() (string, error) {
	if r.CacheFile == "" {
		return "", nil
	}
	data, err := os.ReadFile(r.CacheFile)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func (r *TokenResolver) writeCache(token string) error {
	if r.CacheFile == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(r.CacheFile), 0o750); err != nil {
		return err
	}
	return os.WriteFile(r.CacheFile, []byte(token), 0o600)
}

func (r *TokenResolver) fromExternalCmd() (string, bool) {
	if len(r.ExternalCmd) == 0 {
		return "", false
	}
	// #nosec G204 -- ExternalCmd is operator-configured, not user input
	out, err := exec.Command(r.ExternalCmd[0], r.ExternalCmd[1:]...).Output()
	if err != nil {
		return "", false
	}
	token := strings.TrimSpace(string(out))
	if token == "" {
		return "", false
	}
	return token, true
}

func (r *TokenResolver) fromSecretStore() (string, bool) {
	if len(r.SecretStoreCmd) == 0 {
		return "", false
	}
	// #nosec G204 -- SecretStoreCmd is operator-configured, not user input
	out, err := exec.Command(r.SecretStoreCmd[0], r.SecretStoreCmd[1:]...).Output()
	if err != nil {
		return "", false
	}
	token := strings.TrimSpace(string(out))
	if token == "" {
		return "", false
	}
	return token, true
}

func (r *TokenResolver) fromCredentialsFile() (string, bool) {
	if r.CredentialsFile == "" {
		return "", false
	}
	data, err := os.ReadFile(r.CredentialsFile)
	if err != nil {
		return "", false
	}
	token := strings.TrimSpace(string(data))
	if token == "" {
		return "", false
	}
	return token, true
}
