// Package config loads the kvmesh engine's configuration surface (spec
// §6.4) using koanf/v2, in the same file+env+defaults shape the retrieval
// pack's dantte-lp-gobfd repo uses for its own daemon configuration.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/kvmesh/kvmesh/pkg/kvmesh/types"
)

// File is the on-disk/koanf-shaped configuration; Load converts it into a
// types.Config for the engine.
type File struct {
	Identifier        int        `koanf:"identifier"`
	ListenPort        int        `koanf:"listen_port"`
	Peers             []PeerFile `koanf:"peers"`
	EntryMaxSize      int        `koanf:"entry_max_size"`
	PacketSize        int        `koanf:"packet_size"`
	HeartBeatInterval string     `koanf:"heartbeat_interval"`
	UDP               *UDPFile   `koanf:"udp"`
}

// PeerFile is one outbound mesh peer entry.
type PeerFile struct {
	Host string `koanf:"host"`
	Port int    `koanf:"port"`
}

// UDPFile configures the optional datagram channel.
type UDPFile struct {
	Port          int    `koanf:"port"`
	BroadcastAddr string `koanf:"broadcast_address"`
}

// envPrefix is the environment variable prefix, e.g. KVMESH_IDENTIFIER,
// KVMESH_LISTEN_PORT.
const envPrefix = "KVMESH_"

// DefaultFile returns sane defaults applied before the YAML file and
// environment overrides are layered on.
func DefaultFile() *File {
	return &File{
		EntryMaxSize: types.DefaultEntryMaxSize,
		PacketSize:   types.DefaultPacketSize,
	}
}

// Load reads a YAML file at path, overlays KVMESH_-prefixed environment
// variables, merges on top of DefaultFile(), and converts the result into
// a types.Config. path may be empty, in which case only defaults and
// environment variables apply.
func Load(path string) (types.Config, error) {
	k := koanf.New(".")

	if err := loadDefaults(k, DefaultFile()); err != nil {
		return types.Config{}, fmt.Errorf("kvmesh config: load defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return types.Config{}, fmt.Errorf("kvmesh config: load %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKeyMapper), nil); err != nil {
		return types.Config{}, fmt.Errorf("kvmesh config: load env overrides: %w", err)
	}

	var f File
	if err := k.Unmarshal("", &f); err != nil {
		return types.Config{}, fmt.Errorf("kvmesh config: unmarshal: %w", err)
	}

	return toEngineConfig(f)
}

// envKeyMapper transforms KVMESH_LISTEN_PORT -> listen_port.
func envKeyMapper(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	return strings.ToLower(s)
}

// loadDefaults seeds koanf with the default configuration as the base
// layer, the same pattern the pack's gobfd config loader uses.
func loadDefaults(k *koanf.Koanf, defaults *File) error {
	values := map[string]any{
		"entry_max_size": defaults.EntryMaxSize,
		"packet_size":    defaults.PacketSize,
	}
	for key, val := range values {
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("set default %s: %w", key, err)
		}
	}
	return nil
}

func toEngineConfig(f File) (types.Config, error) {
	if f.Identifier < int(types.MinNodeID) || f.Identifier > int(types.MaxNodeID) {
		return types.Config{}, fmt.Errorf("%w: identifier %d", ErrInvalidIdentifier, f.Identifier)
	}

	cfg := types.Config{
		Identifier:   types.NodeID(f.Identifier),
		ListenPort:   f.ListenPort,
		EntryMaxSize: f.EntryMaxSize,
		PacketSize:   f.PacketSize,
	}

	for _, p := range f.Peers {
		cfg.Peers = append(cfg.Peers, types.PeerAddress{Host: p.Host, Port: p.Port})
	}

	if f.HeartBeatInterval != "" {
		d, err := time.ParseDuration(f.HeartBeatInterval)
		if err != nil {
			return types.Config{}, fmt.Errorf("%w: heartbeat_interval %q: %v", ErrInvalidDuration, f.HeartBeatInterval, err)
		}
		cfg.HeartBeatInterval = d
	}

	if f.UDP != nil {
		cfg.UDP = &types.UDPConfig{Port: f.UDP.Port, BroadcastAddr: f.UDP.BroadcastAddr}
	}

	return cfg, nil
}

// Validation errors.
var (
	ErrInvalidIdentifier = errors.New("identifier must be between 1 and 127")
	ErrInvalidDuration   = errors.New("invalid duration")
)
