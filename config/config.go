// Package config loads the simple key=value configuration file used to
// bootstrap channels and servers: coordination-service endpoint, session
// timeout, bind address, and logging.
package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Defaults mirror the recognized keys and their fallback values.
const (
	DefaultZookeeperIP        = "127.0.0.1"
	DefaultZookeeperPort      = 2181
	DefaultZookeeperTimeoutMs = 6000
	DefaultServerIP           = "0.0.0.0"
	DefaultServerPort         = 8080
	DefaultLogFile            = "xrpc.log"
	DefaultLogLevel           = "info"
)

// Config is a read-only key/value map loaded from a file, plus typed
// accessors for the keys XRPC recognizes. Unknown keys are kept in the raw
// map but have no dedicated accessor.
type Config struct {
	raw map[string]string
}

// Load reads path line by line: blank lines and lines starting with '#' are
// skipped, keys and values are trimmed of surrounding whitespace, and
// unrecognized keys are retained but otherwise ignored by XRPC itself.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()

	c := &Config{raw: make(map[string]string)}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		idx := strings.Index(line, "=")
		if idx < 0 {
			continue
		}
		key := strings.TrimSpace(line[:idx])
		val := strings.TrimSpace(line[idx+1:])
		if key == "" {
			continue
		}
		c.raw[key] = val
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return c, nil
}

// New builds a Config directly from a map, mostly useful for tests.
func New(kv map[string]string) *Config {
	raw := make(map[string]string, len(kv))
	for k, v := range kv {
		raw[k] = v
	}
	return &Config{raw: raw}
}

func (c *Config) String(key, def string) string {
	if v, ok := c.raw[key]; ok && v != "" {
		return v
	}
	return def
}

func (c *Config) Int(key string, def int) int {
	v, ok := c.raw[key]
	if !ok || v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func (c *Config) ZookeeperIP() string    { return c.String("zookeeper_ip", DefaultZookeeperIP) }
func (c *Config) ZookeeperPort() int     { return c.Int("zookeeper_port", DefaultZookeeperPort) }
func (c *Config) ZookeeperTimeoutMs() int {
	return c.Int("zookeeper_timeout_ms", DefaultZookeeperTimeoutMs)
}
func (c *Config) ServerIP() string   { return c.String("server_ip", DefaultServerIP) }
func (c *Config) ServerPort() int    { return c.Int("server_port", DefaultServerPort) }
func (c *Config) LogFile() string    { return c.String("log_file", DefaultLogFile) }
func (c *Config) LogLevel() string   { return c.String("log_level", DefaultLogLevel) }

// EtcdEndpoints returns the etcd endpoint list backing this deployment's
// coordination service. The "etcd_endpoints" key (comma-separated
// host:port pairs) is an implementation-specific extension; when absent,
// zookeeper_ip:zookeeper_port is used as the sole endpoint so a config file
// written against the spec's key names still works unmodified.
func (c *Config) EtcdEndpoints() []string {
	if raw, ok := c.raw["etcd_endpoints"]; ok && raw != "" {
		parts := strings.Split(raw, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				out = append(out, p)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return []string{fmt.Sprintf("%s:%d", c.ZookeeperIP(), c.ZookeeperPort())}
}
