// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package serve holds the server configuration shared by the entry points.
package serve

import (
	"encoding/json"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/antgroup/dogma/pkg/session"
	"github.com/antgroup/dogma/pkg/storage/cache"
)

type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	return d.UnmarshalText([]byte(s))
}

const (
	DefaultReadTimeout     = time.Minute
	DefaultWriteTimeout    = 5 * time.Minute // long polls answer within this window
	DefaultIdleTimeout     = 5 * time.Minute
	DefaultShutdownTimeout = time.Minute
	DefaultPurgeDelay      = 7 * 24 * time.Hour
	DefaultMaxWatchTimeout = 2 * time.Minute
)

type Cache struct {
	NumCounters       int64    `toml:"num_counters,omitempty" json:"numCounters,omitempty"`
	MaxWeight         int64    `toml:"max_weight,omitempty" json:"maxWeight,omitempty"`
	BufferItems       int64    `toml:"buffer_items,omitempty" json:"bufferItems,omitempty"`
	ExpireAfterAccess Duration `toml:"expire_after_access,omitempty" json:"expireAfterAccess,omitempty"`
}

func (c *Cache) Spec() cache.Spec {
	spec := cache.DefaultSpec()
	if c == nil {
		return spec
	}
	if c.NumCounters > 0 {
		spec.NumCounters = c.NumCounters
	}
	if c.MaxWeight > 0 {
		spec.MaxWeight = c.MaxWeight
	}
	if c.BufferItems > 0 {
		spec.BufferItems = c.BufferItems
	}
	if c.ExpireAfterAccess.Duration > 0 {
		spec.ExpireAfterAccess = c.ExpireAfterAccess.Duration
	}
	return spec
}

type Quota struct {
	WritesPerWindow int      `toml:"writes_per_window" json:"writesPerWindow"`
	Window          Duration `toml:"window" json:"window"`
}

func (q *Quota) Quota() session.Quota {
	if q == nil {
		return session.Quota{}
	}
	return session.Quota{WritesPerWindow: q.WritesPerWindow, Window: q.Window.Duration}
}

// Replication method names accepted in the config file.
const (
	ReplicationNone      = "NONE"
	ReplicationZooKeeper = "ZOOKEEPER"
)

type Replication struct {
	Method         string   `toml:"method" json:"method"`
	Servers        []string `toml:"servers,omitempty" json:"servers,omitempty"`
	Prefix         string   `toml:"prefix,omitempty" json:"prefix,omitempty"`
	NodeID         string   `toml:"node_id,omitempty" json:"nodeId,omitempty"`
	SessionTimeout Duration `toml:"session_timeout,omitempty" json:"sessionTimeout,omitempty"`
	MaxLogCount    int      `toml:"max_log_count,omitempty" json:"maxLogCount,omitempty"`
	MinLogAge      Duration `toml:"min_log_age,omitempty" json:"minLogAge,omitempty"`
}

type ServerConfig struct {
	Listen          string       `toml:"listen" json:"listen"`
	DataDir         string       `toml:"data_dir" json:"dataDir"`
	Secret          string       `toml:"secret,omitempty" json:"secret,omitempty"`
	SessionTTL      Duration     `toml:"session_ttl,omitempty" json:"sessionTtl,omitempty"`
	PurgeDelay      Duration     `toml:"purge_delay,omitempty" json:"purgeDelay,omitempty"`
	Workers         int64        `toml:"workers,omitempty" json:"workers,omitempty"`
	MaxWatchTimeout Duration     `toml:"max_watch_timeout,omitempty" json:"maxWatchTimeout,omitempty"`
	IdleTimeout     Duration     `toml:"idle_timeout,omitempty" json:"idleTimeout,omitempty"`
	ReadTimeout     Duration     `toml:"read_timeout,omitempty" json:"readTimeout,omitempty"`
	WriteTimeout    Duration     `toml:"write_timeout,omitempty" json:"writeTimeout,omitempty"`
	ShutdownTimeout Duration     `toml:"shutdown_timeout,omitempty" json:"shutdownTimeout,omitempty"`
	BannerVersion   string       `toml:"banner_version,omitempty" json:"bannerVersion,omitempty"`
	Cache           *Cache       `toml:"cache,omitempty" json:"cache,omitempty"`
	Quota           *Quota       `toml:"quota,omitempty" json:"quota,omitempty"`
	Replication     *Replication `toml:"replication,omitempty" json:"replication,omitempty"`
}

func defaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Listen:          "127.0.0.1:36462",
		IdleTimeout:     Duration{DefaultIdleTimeout},
		ReadTimeout:     Duration{DefaultReadTimeout},
		WriteTimeout:    Duration{DefaultWriteTimeout},
		ShutdownTimeout: Duration{DefaultShutdownTimeout},
		PurgeDelay:      Duration{DefaultPurgeDelay},
		MaxWatchTimeout: Duration{DefaultMaxWatchTimeout},
	}
}

// NewServerConfig loads the config file. Files ending in .json are decoded
// as JSON, everything else as TOML. With expandEnv set, ${var} references
// are substituted from the environment first.
func NewServerConfig(file string, expandEnv bool) (*ServerConfig, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, err
	}
	if expandEnv {
		data = []byte(os.ExpandEnv(string(data)))
	}
	sc := defaultServerConfig()
	if strings.HasSuffix(file, ".json") {
		if err := json.Unmarshal(data, sc); err != nil {
			return nil, err
		}
	} else if _, err := toml.NewDecoder(strings.NewReader(string(data))).Decode(sc); err != nil {
		return nil, err
	}
	if sc.Replication == nil {
		sc.Replication = &Replication{Method: ReplicationNone}
	}
	return sc, nil
}
