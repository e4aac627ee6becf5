// Package config reads worker configuration from the environment.
package config

import (
	"os"
	"strconv"
)

// Config holds the scanworker environment settings. Flags override these
// per invocation.
type Config struct {
	TemplateDir string
	ImageRoot   string
	Strict      bool
	Debug       bool
	DebugDir    string
}

// Load reads the configuration, applying defaults for unset variables.
func Load() *Config {
	return &Config{
		TemplateDir: getEnv("OMR_TEMPLATE_DIR", "templates"),
		ImageRoot:   getEnv("OMR_IMAGE_ROOT", ""),
		Strict:      getBool("OMR_STRICT_QUALITY", false),
		Debug:       getBool("OMR_DEBUG", false),
		DebugDir:    getEnv("OMR_DEBUG_DIR", ""),
	}
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
