// Package config loads and holds all proxy configuration.
// Settings are layered: defaults → proxy-config.json → environment variables
// (env vars win).
package config

import (
	"encoding/json"
	"log"
	"os"
	"strconv"
)

// Config holds the full proxy configuration.
type Config struct {
	UmamiHost string `json:"umamiHost"`
	UmamiPort int    `json:"umamiPort"`
	UmamiSNI  string `json:"umamiSni"`
	UmamiPath string `json:"umamiPath"`

	ProxyListenPort      int `json:"proxyListenPort"`
	ProbeListenPort      int `json:"probeListenPort"`
	MetricsListenPort    int `json:"metricsListenPort"`
	ManagementListenPort int `json:"managementListenPort"`

	DisableK8s bool `json:"disableK8s"`

	AmplitudeAPIKeyProd string `json:"amplitudeApiKeyProd"`

	LogLevel            string `json:"logLevel"`
	ManagementToken     string `json:"managementToken"`
	IngressCacheSnapshot string `json:"ingressCacheSnapshot"`
}

// Load returns config with defaults overridden by proxy-config.json and env vars.
func Load() *Config {
	cfg := defaults()
	loadFile(cfg, "proxy-config.json")
	loadEnv(cfg)
	return cfg
}

func defaults() *Config {
	return &Config{
		UmamiHost:         "localhost",
		UmamiPort:         1234,
		ProxyListenPort:      6191,
		ProbeListenPort:      6969,
		MetricsListenPort:    9090,
		ManagementListenPort: 6192,
		LogLevel:             "info",
	}
}

// UsesTLS reports whether the Umami upstream connection should be
// negotiated over TLS — true whenever an SNI name has been configured.
func (c *Config) UsesTLS() bool {
	return c.UmamiSNI != ""
}

func loadFile(cfg *Config, path string) {
	data, err := os.ReadFile(path) //nolint:gosec // G703: path is a controlled config file path, not user input
	if err != nil {
		return // file is optional
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		log.Printf("[CONFIG] Warning: could not parse %s: %v", path, err)
	} else {
		log.Printf("[CONFIG] Loaded %s", path)
	}
}

func loadEnv(cfg *Config) {
	if v := os.Getenv("UMAMI_HOST"); v != "" {
		cfg.UmamiHost = v
	}
	if v := os.Getenv("UMAMI_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.UmamiPort = n
		}
	}
	if v := os.Getenv("UMAMI_SNI"); v != "" {
		cfg.UmamiSNI = v
	}
	if v := os.Getenv("UMAMI_PATH"); v != "" {
		cfg.UmamiPath = v
	}
	if v := os.Getenv("PROXY_LISTEN_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ProxyListenPort = n
		}
	}
	if v := os.Getenv("PROBE_LISTEN_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ProbeListenPort = n
		}
	}
	if v := os.Getenv("METRICS_LISTEN_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MetricsListenPort = n
		}
	}
	if v := os.Getenv("MANAGEMENT_LISTEN_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ManagementListenPort = n
		}
	}
	if v := os.Getenv("DISABLE_K8S"); v == "1" || v == "true" {
		cfg.DisableK8s = true
	}
	if v := os.Getenv("AMPLITUDE_API_KEY_PROD"); v != "" {
		cfg.AmplitudeAPIKeyProd = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("MANAGEMENT_TOKEN"); v != "" {
		cfg.ManagementToken = v
	}
	if v := os.Getenv("INGRESS_CACHE_SNAPSHOT"); v != "" {
		cfg.IngressCacheSnapshot = v
	}
}
