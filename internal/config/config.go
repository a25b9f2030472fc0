// Package config loads the supervisor's layered configuration via
// spf13/viper, generalizing the teacher's internal/config/config.go
// lookup order and env-prefix idiom onto this domain's settings (lock
// timeouts, retry ceilings, concurrency bands, admin-overridable CI
// checks, self-deploying-repo signals).
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/marcusquinn/aidevops-sub001/internal/debug"
)

var v *viper.Viper

// Initialize sets up the viper singleton. Precedence: project
// .aidevops/config.yaml (walked up from cwd) > user config dir >
// home dir > defaults, with AIDEVOPS_-prefixed environment variables
// overriding all file-sourced values.
func Initialize() error {
	v = viper.New()
	v.SetConfigType("yaml")

	configFileSet := false

	if cwd, err := os.Getwd(); err == nil {
		for dir := cwd; dir != filepath.Dir(dir); dir = filepath.Dir(dir) {
			configPath := filepath.Join(dir, ".aidevops", "config.yaml")
			if _, err := os.Stat(configPath); err == nil {
				v.SetConfigFile(configPath)
				configFileSet = true
				break
			}
		}
	}

	if !configFileSet {
		if configDir, err := os.UserConfigDir(); err == nil {
			configPath := filepath.Join(configDir, "aidevops", "config.yaml")
			if _, err := os.Stat(configPath); err == nil {
				v.SetConfigFile(configPath)
				configFileSet = true
			}
		}
	}

	if !configFileSet {
		if homeDir, err := os.UserHomeDir(); err == nil {
			configPath := filepath.Join(homeDir, ".aidevops", "config.yaml")
			if _, err := os.Stat(configPath); err == nil {
				v.SetConfigFile(configPath)
				configFileSet = true
			}
		}
	}

	v.SetEnvPrefix("AIDEVOPS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if configFileSet {
		if err := v.ReadInConfig(); err != nil {
			return err
		}
		debug.Logf("config: loaded from %s\n", v.ConfigFileUsed())
	} else {
		debug.Logf("config: no config.yaml found; using defaults and environment variables\n")
	}

	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("lock.pulse-timeout", "600s")
	v.SetDefault("lock.claim-retries", 3)
	v.SetDefault("lock.claim-backoff", "1s")

	v.SetDefault("retry.max-per-task", 3)
	v.SetDefault("retry.max-escalation", 2)

	v.SetDefault("concurrency.base", 2)
	v.SetDefault("concurrency.cap", 8)

	v.SetDefault("dispatch.hang-timeout", "1800s")
	v.SetDefault("lifecycle.deploy-timeout", "300s")
	v.SetDefault("lifecycle.deploy-stuck-threshold", "600s")

	v.SetDefault("ci.admin-overridable-checks", []string{"unstable_sonarcloud"})
	v.SetDefault("deploy.self-deploying-marker", "AIDEVOPS_SELF_DEPLOYING")
	v.SetDefault("deploy.self-deploying-path-suffixes", []string{})

	v.SetDefault("forge.base-url", "")
	v.SetDefault("forge.graphql-url", "")

	v.SetDefault("notify.mail-enabled", true)
	v.SetDefault("notify.chat-enabled", false)
	v.SetDefault("notify.audio-enabled", false)
}

// AdminOverridableChecks returns the configured CI check names that may
// be bypassed via an admin-override merge when otherwise green (spec
// §4.8's "unstable-but-green" rule, generalized per Open Question #2).
func AdminOverridableChecks() []string {
	return GetStringSlice("ci.admin-overridable-checks")
}

// SelfDeployingSignal returns the marker string and path suffix list
// used to detect a self-deploying repository (Open Question #1).
func SelfDeployingSignal() (marker string, pathSuffixes []string) {
	return GetString("deploy.self-deploying-marker"), GetStringSlice("deploy.self-deploying-path-suffixes")
}

func GetString(key string) string {
	if v == nil {
		return ""
	}
	return v.GetString(key)
}

func GetBool(key string) bool {
	if v == nil {
		return false
	}
	return v.GetBool(key)
}

func GetInt(key string) int {
	if v == nil {
		return 0
	}
	return v.GetInt(key)
}

func GetDuration(key string) time.Duration {
	if v == nil {
		return 0
	}
	return v.GetDuration(key)
}

func GetStringSlice(key string) []string {
	if v == nil {
		return nil
	}
	return v.GetStringSlice(key)
}

func Set(key string, value any) {
	if v != nil {
		v.Set(key, value)
	}
}
