// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package config loads the engine's tunables (spec §6.3) via Viper,
// the same configuration library the teacher gateway uses, and
// projects them into the concrete Options structs client.New and
// server.New expect.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/ffutop/modbuscore/client"
	"github.com/ffutop/modbuscore/qos"
	"github.com/ffutop/modbuscore/server"
)

// TransportConfig selects which framer(s) an instance enables.
type TransportConfig struct {
	RTU   bool `mapstructure:"rtu"`
	ASCII bool `mapstructure:"ascii"`
	TCP   bool `mapstructure:"tcp"`
}

// RoleConfig selects which FSM(s) an instance runs.
type RoleConfig struct {
	Client bool `mapstructure:"client"`
	Server bool `mapstructure:"server"`
}

// BufferConfig sizes the RX/TX scratch buffers.
type BufferConfig struct {
	RxCapacity int `mapstructure:"rx_capacity"`
	TxCapacity int `mapstructure:"tx_capacity"`
}

// PoolConfig sizes the transaction pool and QoS queues.
type PoolConfig struct {
	TxnPoolSize         int `mapstructure:"txn_pool_size"`
	QueueHighCapacity   int `mapstructure:"queue_high_capacity"`
	QueueNormalCapacity int `mapstructure:"queue_normal_capacity"`
}

// QoSConfig selects the priority-classification policy.
type QoSConfig struct {
	Policy              string `mapstructure:"policy"` // fc_based, deadline_based, application, hybrid
	DeadlineThresholdMs uint64 `mapstructure:"deadline_threshold_ms"`
}

// TimingConfig holds the client's retry/timeout defaults.
type TimingConfig struct {
	DefaultTimeoutMs uint64 `mapstructure:"default_timeout_ms"`
	WatchdogMs       uint64 `mapstructure:"watchdog_ms"`
	RetryBackoffMs   uint64 `mapstructure:"retry_backoff_ms"`
	MaxRetries       uint32 `mapstructure:"max_retries"`
}

// DupFilterConfig sizes the server's duplicate-suppression cache.
type DupFilterConfig struct {
	WindowMs   uint64 `mapstructure:"dup_window_ms"`
	WindowSize int    `mapstructure:"dup_window_size"`
}

// ResyncConfig sizes the RTU resync ring.
type ResyncConfig struct {
	BufferSize int `mapstructure:"resync_buffer_size"`
}

// DiagConfig controls diagnostics overhead.
type DiagConfig struct {
	TraceDepth       int  `mapstructure:"diag_trace_depth"`
	EnableIovecStats bool `mapstructure:"enable_iovec_stats"`
	EnableMonitoring bool `mapstructure:"enable_monitoring"`
}

// LogConfig mirrors the teacher gateway's logging knobs.
type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

// Options is the full set of engine tunables, per spec §6.3.
type Options struct {
	Transport TransportConfig `mapstructure:"transport"`
	Role      RoleConfig      `mapstructure:"role"`
	Buffers   BufferConfig    `mapstructure:"buffers"`
	Pool      PoolConfig      `mapstructure:"pool"`
	QoS       QoSConfig       `mapstructure:"qos"`
	Timing    TimingConfig    `mapstructure:"timing"`
	DupFilter DupFilterConfig `mapstructure:"dup_filter"`
	Resync    ResyncConfig    `mapstructure:"resync"`
	Diag      DiagConfig      `mapstructure:"diag"`
	Log       LogConfig       `mapstructure:"log"`

	// ConfiguredUnit is the server role's own unit/slave address.
	ConfiguredUnit byte `mapstructure:"configured_unit"`
}

// Load reads configuration from configFile (or the standard search
// path when empty), applying the engine's defaults to any option left
// unset, following the teacher's LoadConfig/fixupSerial shape.
func Load(configFile string) (*Options, error) {
	v := viper.New()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("modbuscore")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/modbuscore/")
		v.AddConfigPath("$HOME/.modbuscore")
		v.AddConfigPath(".")
	}

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("modbuscore/config: reading config file: %w", err)
		}
	}

	var opts Options
	if err := v.Unmarshal(&opts); err != nil {
		return nil, fmt.Errorf("modbuscore/config: unmarshal: %w", err)
	}
	fixup(&opts)
	return &opts, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("buffers.rx_capacity", 256)
	v.SetDefault("buffers.tx_capacity", 256)
	v.SetDefault("pool.txn_pool_size", 16)
	v.SetDefault("pool.queue_high_capacity", 16)
	v.SetDefault("pool.queue_normal_capacity", 64)
	v.SetDefault("qos.policy", "fc_based")
	v.SetDefault("qos.deadline_threshold_ms", qos.DefaultDeadlineThresholdMs)
	v.SetDefault("timing.default_timeout_ms", 1000)
	v.SetDefault("timing.watchdog_ms", 5000)
	v.SetDefault("timing.retry_backoff_ms", 100)
	v.SetDefault("timing.max_retries", 3)
	v.SetDefault("dup_filter.dup_window_ms", 500)
	v.SetDefault("dup_filter.dup_window_size", 64)
	v.SetDefault("resync.resync_buffer_size", 256)
	v.SetDefault("diag.diag_trace_depth", 0)
	v.SetDefault("log.level", "info")
}

func fixup(o *Options) {
	o.QoS.Policy = strings.ToLower(strings.TrimSpace(o.QoS.Policy))
	if o.Buffers.RxCapacity <= 0 {
		o.Buffers.RxCapacity = 256
	}
	if o.Buffers.TxCapacity <= 0 {
		o.Buffers.TxCapacity = 256
	}
}

// ParseQoSPolicy maps the config's string policy name to a qos.Policy,
// defaulting to FCBased for an empty or unrecognized value.
func ParseQoSPolicy(name string) qos.Policy {
	switch name {
	case "deadline_based":
		return qos.DeadlineBased
	case "application":
		return qos.Application
	case "hybrid":
		return qos.Hybrid
	default:
		return qos.FCBased
	}
}

// ClientOptions projects o into a client.Options for the given
// protocol.
func (o Options) ClientOptions(protocol client.Protocol) client.Options {
	return client.Options{
		Protocol:            protocol,
		TxnPoolSize:         o.Pool.TxnPoolSize,
		QueueHighCapacity:   o.Pool.QueueHighCapacity,
		QueueNormalCapacity: o.Pool.QueueNormalCapacity,
		QoSPolicy:           ParseQoSPolicy(o.QoS.Policy),
		DeadlineThresholdMs: o.QoS.DeadlineThresholdMs,
		DefaultTimeoutMs:    o.Timing.DefaultTimeoutMs,
		WatchdogMs:          o.Timing.WatchdogMs,
		RetryBackoffMs:      o.Timing.RetryBackoffMs,
		MaxRetries:          o.Timing.MaxRetries,
		DiagTraceDepth:      o.Diag.TraceDepth,
		RecvScratchSize:     o.Buffers.RxCapacity,
	}
}

// ServerOptions projects o into a server.Options for the given
// protocol.
func (o Options) ServerOptions(protocol server.Protocol) server.Options {
	return server.Options{
		Protocol:        protocol,
		ConfiguredUnit:  o.ConfiguredUnit,
		DupWindowMs:     o.DupFilter.WindowMs,
		DupWindowSize:   o.DupFilter.WindowSize,
		RecvScratchSize: o.Buffers.RxCapacity,
		DiagTraceDepth:  o.Diag.TraceDepth,
	}
}
