package config

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"os"
	"strconv"
	"time"

	"github.com/ryandielhenn/zephyrlink/pkg/identity"
)

// Config holds everything a node needs at boot. Zero values are not usable;
// start from Default or FromEnv.
type Config struct {
	NodeID           string        // empty: generate one
	DiscoveryPort    int           // UDP port shared by every node on the segment
	BroadcastAddr    string        // destination of announcements
	AnnounceInterval time.Duration // time between announcements
	ListenAddr       string        // TCP address of the timestamp responder
	MeasureTimeout   time.Duration // bound on connect + read of one measurement
	SettleDelay      time.Duration // wait before connecting to a peer
	AdminAddr        string        // admin HTTP listener, empty disables it
	LogLevel         string
	LogFormat        string
}

func Default() Config {
	return Config{
		DiscoveryPort:    35498,
		BroadcastAddr:    "255.255.255.255",
		AnnounceInterval: time.Second,
		ListenAddr:       ":0",
		MeasureTimeout:   5 * time.Second,
		LogLevel:         "info",
		LogFormat:        "console",
	}
}

// FromEnv overlays ZEPHYR_* environment variables on Default. Unparsable values
// keep the default and are reported in the returned warnings.
func FromEnv() (Config, []string) {
	c := Default()
	var warns []string

	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			} else {
				warns = append(warns, fmt.Sprintf("%s=%q: %v", key, v, err))
			}
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v := os.Getenv(key); v != "" {
			if d, err := time.ParseDuration(v); err == nil {
				*dst = d
			} else {
				warns = append(warns, fmt.Sprintf("%s=%q: %v", key, v, err))
			}
		}
	}

	str("ZEPHYR_NODE_ID", &c.NodeID)
	num("ZEPHYR_DISCOVERY_PORT", &c.DiscoveryPort)
	str("ZEPHYR_BROADCAST_ADDR", &c.BroadcastAddr)
	dur("ZEPHYR_ANNOUNCE_INTERVAL", &c.AnnounceInterval)
	str("ZEPHYR_LISTEN_ADDR", &c.ListenAddr)
	dur("ZEPHYR_MEASURE_TIMEOUT", &c.MeasureTimeout)
	dur("ZEPHYR_SETTLE_DELAY", &c.SettleDelay)
	str("ZEPHYR_ADMIN_ADDR", &c.AdminAddr)
	str("ZEPHYR_LOG_LEVEL", &c.LogLevel)
	str("ZEPHYR_LOG_FORMAT", &c.LogFormat)

	return c, warns
}

// Validate reports every invalid field at once.
func (c Config) Validate() error {
	var errs []error
	if c.NodeID != "" {
		if _, err := identity.Parse(c.NodeID); err != nil {
			errs = append(errs, err)
		}
	}
	if c.DiscoveryPort < 1 || c.DiscoveryPort > 65535 {
		errs = append(errs, fmt.Errorf("discovery port %d out of range", c.DiscoveryPort))
	}
	if _, err := netip.ParseAddr(c.BroadcastAddr); err != nil {
		errs = append(errs, fmt.Errorf("broadcast addr: %w", err))
	}
	if c.AnnounceInterval <= 0 {
		errs = append(errs, fmt.Errorf("announce interval %s must be positive", c.AnnounceInterval))
	}
	if _, _, err := net.SplitHostPort(c.ListenAddr); err != nil {
		errs = append(errs, fmt.Errorf("listen addr: %w", err))
	}
	if c.MeasureTimeout <= 0 {
		errs = append(errs, fmt.Errorf("measure timeout %s must be positive", c.MeasureTimeout))
	}
	if c.SettleDelay < 0 {
		errs = append(errs, fmt.Errorf("settle delay %s must not be negative", c.SettleDelay))
	}
	if c.AdminAddr != "" {
		if _, _, err := net.SplitHostPort(c.AdminAddr); err != nil {
			errs = append(errs, fmt.Errorf("admin addr: %w", err))
		}
	}
	return errors.Join(errs...)
}
