package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/nordgate/speed-daemon/internal/config"
)

type appConfig struct {
	listenAddr      string
	logFormat       string
	logLevel        string
	metricsAddr     string
	adminAddr       string
	maxClients      int
	readTimeout     time.Duration
	logMetricsEvery time.Duration
	mdnsEnable      bool
	mdnsName        string
	configFile      string
}

// parseFlags layers configuration flag > env > file > default, the same
// precedence the teacher's cmd/can-server/config.go applies, with a YAML
// file inserted beneath the environment layer.
func parseFlags() (*appConfig, bool) {
	cfg := &appConfig{}
	listen := flag.String("listen", ":1222", "TCP listen address")
	logFormat := flag.String("log-format", "text", "Log format: text|json")
	logLevel := flag.String("log-level", "info", "Log level: debug|info|warn|error")
	metricsAddr := flag.String("metrics-addr", "", "Metrics HTTP listen address (e.g., :9100); empty disables")
	adminAddr := flag.String("admin-addr", "", "Admin websocket ticket feed listen address (e.g., :9200); empty disables")
	maxClients := flag.Int("max-clients", 1500, "Maximum simultaneous TCP clients")
	readTimeout := flag.Duration("read-timeout", 120*time.Second, "Per-connection read deadline")
	logMetricsEvery := flag.Duration("log-metrics-interval", 0, "If >0, periodically log metrics counters")
	mdnsEnable := flag.Bool("mdns-enable", false, "Enable mDNS advertisement")
	mdnsName := flag.String("mdns-name", "", "mDNS instance name (default speed-daemon-<hostname>)")
	configFile := flag.String("config", "", "Path to an optional YAML config file")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	setFlags := map[string]struct{}{}
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = struct{}{} })

	cfg.listenAddr = *listen
	cfg.logFormat = *logFormat
	cfg.logLevel = *logLevel
	cfg.metricsAddr = *metricsAddr
	cfg.adminAddr = *adminAddr
	cfg.maxClients = *maxClients
	cfg.readTimeout = *readTimeout
	cfg.logMetricsEvery = *logMetricsEvery
	cfg.mdnsEnable = *mdnsEnable
	cfg.mdnsName = *mdnsName
	cfg.configFile = *configFile

	if *showVersion {
		return cfg, true
	}

	file, err := config.Load(cfg.configFile)
	if err != nil {
		fmt.Printf("config file error: %v\n", err)
		return nil, false
	}
	applyFileOverrides(cfg, file, setFlags)

	if err := applyEnvOverrides(cfg, setFlags); err != nil {
		fmt.Printf("environment override error: %v\n", err)
		return nil, false
	}
	if err := cfg.validate(); err != nil {
		fmt.Printf("configuration error: %v\n", err)
		return nil, false
	}
	return cfg, false
}

// applyFileOverrides applies the YAML file layer, weakest of the three:
// a flag that was explicitly set always wins over the file.
func applyFileOverrides(c *appConfig, f *config.File, set map[string]struct{}) {
	if _, ok := set["listen"]; !ok && f.Listen != nil {
		c.listenAddr = *f.Listen
	}
	if _, ok := set["log-format"]; !ok && f.LogFormat != nil {
		c.logFormat = *f.LogFormat
	}
	if _, ok := set["log-level"]; !ok && f.LogLevel != nil {
		c.logLevel = *f.LogLevel
	}
	if _, ok := set["metrics-addr"]; !ok && f.MetricsAddr != nil {
		c.metricsAddr = *f.MetricsAddr
	}
	if _, ok := set["admin-addr"]; !ok && f.AdminAddr != nil {
		c.adminAddr = *f.AdminAddr
	}
	if _, ok := set["max-clients"]; !ok && f.MaxClients != nil {
		c.maxClients = *f.MaxClients
	}
	if _, ok := set["read-timeout"]; !ok && f.ReadTimeout != nil {
		if d, err := time.ParseDuration(*f.ReadTimeout); err == nil {
			c.readTimeout = d
		}
	}
	if _, ok := set["log-metrics-interval"]; !ok && f.LogMetricsEvery != nil {
		if d, err := time.ParseDuration(*f.LogMetricsEvery); err == nil {
			c.logMetricsEvery = d
		}
	}
	if _, ok := set["mdns-enable"]; !ok && f.MDNSEnable != nil {
		c.mdnsEnable = *f.MDNSEnable
	}
	if _, ok := set["mdns-name"]; !ok && f.MDNSName != nil {
		c.mdnsName = *f.MDNSName
	}
}

// applyEnvOverrides maps SPEEDD_* environment variables onto the config,
// skipping any field whose flag was explicitly set. Mirrors the teacher's
// CAN_SERVER_* handling in cmd/can-server/config.go.
func applyEnvOverrides(c *appConfig, set map[string]struct{}) error {
	var firstErr error
	get := func(k string) (string, bool) { v, ok := os.LookupEnv(k); return strings.TrimSpace(v), ok }

	if _, ok := set["listen"]; !ok {
		if v, ok := get("SPEEDD_LISTEN"); ok && v != "" {
			c.listenAddr = v
		}
	}
	if _, ok := set["log-format"]; !ok {
		if v, ok := get("SPEEDD_LOG_FORMAT"); ok && v != "" {
			c.logFormat = v
		}
	}
	if _, ok := set["log-level"]; !ok {
		if v, ok := get("SPEEDD_LOG_LEVEL"); ok && v != "" {
			c.logLevel = v
		}
	}
	if _, ok := set["metrics-addr"]; !ok {
		if v, ok := get("SPEEDD_METRICS_ADDR"); ok {
			c.metricsAddr = v
		}
	}
	if _, ok := set["admin-addr"]; !ok {
		if v, ok := get("SPEEDD_ADMIN_ADDR"); ok {
			c.adminAddr = v
		}
	}
	if _, ok := set["max-clients"]; !ok {
		if v, ok := get("SPEEDD_MAX_CLIENTS"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				c.maxClients = n
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid SPEEDD_MAX_CLIENTS: %w", err)
			}
		}
	}
	if _, ok := set["read-timeout"]; !ok {
		if v, ok := get("SPEEDD_READ_TIMEOUT"); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d > 0 {
				c.readTimeout = d
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid SPEEDD_READ_TIMEOUT: %w", err)
			}
		}
	}
	if _, ok := set["log-metrics-interval"]; !ok {
		if v, ok := get("SPEEDD_LOG_METRICS_INTERVAL"); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d >= 0 {
				c.logMetricsEvery = d
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid SPEEDD_LOG_METRICS_INTERVAL: %w", err)
			}
		}
	}
	if _, ok := set["mdns-enable"]; !ok {
		if v, ok := get("SPEEDD_MDNS_ENABLE"); ok && v != "" {
			switch strings.ToLower(v) {
			case "1", "true", "yes", "on":
				c.mdnsEnable = true
			case "0", "false", "no", "off":
				c.mdnsEnable = false
			}
		}
	}
	if _, ok := set["mdns-name"]; !ok {
		if v, ok := get("SPEEDD_MDNS_NAME"); ok && v != "" {
			c.mdnsName = v
		}
	}
	return firstErr
}

func (c *appConfig) validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	switch c.logFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log-format: %s", c.logFormat)
	}
	switch c.logLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log-level: %s", c.logLevel)
	}
	if c.maxClients <= 0 {
		return fmt.Errorf("max-clients must be > 0 (got %d)", c.maxClients)
	}
	if c.readTimeout <= 0 {
		return fmt.Errorf("read-timeout must be > 0")
	}
	if c.logMetricsEvery < 0 {
		return fmt.Errorf("log-metrics-interval must be >= 0")
	}
	return nil
}
