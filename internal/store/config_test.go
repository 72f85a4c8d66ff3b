package store

import (
	"strings"
	"testing"
	"time"
)

func TestNewDefaultOlricConfig(t *testing.T) {
	cfg := NewDefaultOlricConfig()

	if cfg.BindAddr != DefaultBindAddr {
		t.Errorf("BindAddr = %q, want %q", cfg.BindAddr, DefaultBindAddr)
	}
	if cfg.BindPort != DefaultBindPort {
		t.Errorf("BindPort = %d, want %d", cfg.BindPort, DefaultBindPort)
	}
	if len(cfg.JoinAddrs) != 0 {
		t.Errorf("JoinAddrs = %v, want empty", cfg.JoinAddrs)
	}
	if cfg.ReplicationMode != DefaultReplicationMode {
		t.Errorf("ReplicationMode = %q, want %q", cfg.ReplicationMode, DefaultReplicationMode)
	}
	if cfg.ReplicationFactor != DefaultReplicationFactor {
		t.Errorf("ReplicationFactor = %d, want %d", cfg.ReplicationFactor, DefaultReplicationFactor)
	}
	if cfg.PartitionCount != DefaultPartitionCount {
		t.Errorf("PartitionCount = %d, want %d", cfg.PartitionCount, uint64(DefaultPartitionCount))
	}
	if cfg.MemberCountQuorum != DefaultMemberCountQuorum {
		t.Errorf("MemberCountQuorum = %d, want %d", cfg.MemberCountQuorum, DefaultMemberCountQuorum)
	}
	if cfg.JoinRetryInterval != DefaultJoinRetryInterval {
		t.Errorf("JoinRetryInterval = %v, want %v", cfg.JoinRetryInterval, DefaultJoinRetryInterval)
	}
	if cfg.MaxJoinAttempts != DefaultMaxJoinAttempts {
		t.Errorf("MaxJoinAttempts = %d, want %d", cfg.MaxJoinAttempts, DefaultMaxJoinAttempts)
	}
	if cfg.LogLevel != DefaultOlricLogLevel {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, DefaultOlricLogLevel)
	}
	if cfg.KeepAlivePeriod != DefaultKeepAlivePeriod {
		t.Errorf("KeepAlivePeriod = %v, want %v", cfg.KeepAlivePeriod, DefaultKeepAlivePeriod)
	}
	if cfg.RequestTimeout != DefaultRequestTimeout {
		t.Errorf("RequestTimeout = %v, want %v", cfg.RequestTimeout, DefaultRequestTimeout)
	}
	if cfg.DMapName != DefaultDMapName {
		t.Errorf("DMapName = %q, want %q", cfg.DMapName, DefaultDMapName)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("default config failed validation: %v", err)
	}
	if !cfg.IsSingleNode() {
		t.Error("IsSingleNode() = false, want true for the default config")
	}
}

func TestOlricConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*OlricConfig)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(c *OlricConfig) {},
		},
		{
			name:   "explicit ipv4 bind address",
			mutate: func(c *OlricConfig) { c.BindAddr = "192.168.1.10" },
		},
		{
			name:   "ipv6 any address",
			mutate: func(c *OlricConfig) { c.BindAddr = "::" },
		},
		{
			name:   "sync replication mode",
			mutate: func(c *OlricConfig) { c.ReplicationMode = "sync" },
		},
		{
			name: "multi-node with replication",
			mutate: func(c *OlricConfig) {
				c.JoinAddrs = []string{"10.0.0.2:3320", "10.0.0.3:3320"}
				c.ReplicationFactor = 2
				c.MemberCountQuorum = 2
			},
		},
		{
			name:    "empty bind address",
			mutate:  func(c *OlricConfig) { c.BindAddr = "" },
			wantErr: "bind address cannot be empty",
		},
		{
			name:    "bind address not an ip",
			mutate:  func(c *OlricConfig) { c.BindAddr = "not-an-address" },
			wantErr: "bind address must be a valid IPv4 or IPv6 address",
		},
		{
			name:    "bind port zero",
			mutate:  func(c *OlricConfig) { c.BindPort = 0 },
			wantErr: "bind port must be between 1 and 65535",
		},
		{
			name:    "bind port too high",
			mutate:  func(c *OlricConfig) { c.BindPort = 70000 },
			wantErr: "bind port must be between 1 and 65535",
		},
		{
			name:    "unknown replication mode",
			mutate:  func(c *OlricConfig) { c.ReplicationMode = "quorum" },
			wantErr: "replication mode must be sync or async",
		},
		{
			name:    "replication factor zero",
			mutate:  func(c *OlricConfig) { c.ReplicationFactor = 0 },
			wantErr: "replication factor must be at least 1",
		},
		{
			name:    "partition count zero",
			mutate:  func(c *OlricConfig) { c.PartitionCount = 0 },
			wantErr: "partition count must be at least 1",
		},
		{
			name:    "member count quorum zero",
			mutate:  func(c *OlricConfig) { c.MemberCountQuorum = 0 },
			wantErr: "member count quorum must be at least 1",
		},
		{
			name:    "non-positive join retry interval",
			mutate:  func(c *OlricConfig) { c.JoinRetryInterval = 0 },
			wantErr: "join retry interval must be positive",
		},
		{
			name:    "max join attempts zero",
			mutate:  func(c *OlricConfig) { c.MaxJoinAttempts = 0 },
			wantErr: "max join attempts must be at least 1",
		},
		{
			name:    "invalid log level",
			mutate:  func(c *OlricConfig) { c.LogLevel = "TRACE" },
			wantErr: "invalid log level",
		},
		{
			name:    "lowercase log level rejected",
			mutate:  func(c *OlricConfig) { c.LogLevel = "warn" },
			wantErr: "invalid log level",
		},
		{
			name:    "non-positive keep alive period",
			mutate:  func(c *OlricConfig) { c.KeepAlivePeriod = 0 },
			wantErr: "keep alive period must be positive",
		},
		{
			name:    "non-positive request timeout",
			mutate:  func(c *OlricConfig) { c.RequestTimeout = -time.Second },
			wantErr: "request timeout must be positive",
		},
		{
			name:    "empty dmap name",
			mutate:  func(c *OlricConfig) { c.DMapName = "" },
			wantErr: "dmap name cannot be empty",
		},
		{
			name: "quorum exceeds cluster size",
			mutate: func(c *OlricConfig) {
				c.JoinAddrs = []string{"10.0.0.2:3320"}
				c.ReplicationFactor = 2
				c.MemberCountQuorum = 5
			},
			wantErr: "member count quorum (5) cannot be greater than number of join addresses + 1 (2)",
		},
		{
			name: "multi-node without replication",
			mutate: func(c *OlricConfig) {
				c.JoinAddrs = []string{"10.0.0.2:3320", "10.0.0.3:3320"}
			},
			wantErr: "replication factor should be at least 2 in multi-node mode",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultOlricConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() error = nil, want %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %q, want it to contain %q", err.Error(), tt.wantErr)
			}
		})
	}
}
