package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like
// "500ms" or "3s".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std converts back to the standard duration type.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Peer is one statically configured cluster member.
type Peer struct {
	ID   string `yaml:"id" validate:"required"`
	Addr string `yaml:"addr" validate:"required,hostname_port"`
}

// Gossip tunes the uncoordinated dissemination path.
type Gossip struct {
	Fanout         int      `yaml:"fanout" validate:"min=0"`
	MaxHops        int      `yaml:"max_hops" validate:"min=0"`
	SeenCap        int      `yaml:"seen_cap" validate:"min=0"`
	RetryAttempts  int      `yaml:"retry_attempts" validate:"min=0"`
	RetryInterval  Duration `yaml:"retry_interval"`
	DigestInterval Duration `yaml:"digest_interval"`
}

// Consensus tunes the coordinated path.
type Consensus struct {
	VoteTimeout           Duration `yaml:"vote_timeout"`
	DecisionRetryAttempts int      `yaml:"decision_retry_attempts" validate:"min=0"`
	DecisionRetryInterval Duration `yaml:"decision_retry_interval"`
	Quorum                string   `yaml:"quorum" validate:"oneof=all majority"`
	ParticipantAbortAfter Duration `yaml:"participant_abort_after"`
}

// Transport tunes the TCP layer.
type Transport struct {
	MaxFrame         uint32   `yaml:"max_frame"`
	DialTimeout      Duration `yaml:"dial_timeout"`
	ReconnectBackoff Duration `yaml:"reconnect_backoff"`
	SendQueueLen     int      `yaml:"send_queue_len" validate:"min=0"`
}

// Membership tunes liveness probing.
type Membership struct {
	ProbeInterval    Duration `yaml:"probe_interval"`
	UnreachableAfter Duration `yaml:"unreachable_after"`
}

// Config is the node configuration as read from ucl.yml.
type Config struct {
	NodeID      string `yaml:"node_id" validate:"required"`
	ListenAddr  string `yaml:"listen_addr" validate:"required,hostname_port"`
	MetricsAddr string `yaml:"metrics_addr" validate:"omitempty,hostname_port"`
	Peers       []Peer `yaml:"peers" validate:"dive"`

	Gossip     Gossip     `yaml:"gossip"`
	Consensus  Consensus  `yaml:"consensus"`
	Transport  Transport  `yaml:"transport"`
	Membership Membership `yaml:"membership"`
}

// Default returns the configuration a node runs with when the file
// leaves a field unset. Zero-valued tuning fields defer to the
// component defaults.
func Default() Config {
	return Config{
		ListenAddr: "127.0.0.1:7400",
		Consensus: Consensus{
			Quorum: "all",
		},
	}
}

// Load reads and validates a YAML config file. Fields missing from the
// file keep their defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the structural constraints and the peer list for
// duplicates and self-references.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	seen := make(map[string]struct{}, len(c.Peers))
	for _, p := range c.Peers {
		if p.ID == c.NodeID {
			return fmt.Errorf("invalid config: peer list contains the local node %q", c.NodeID)
		}
		if _, ok := seen[p.ID]; ok {
			return fmt.Errorf("invalid config: duplicate peer id %q", p.ID)
		}
		seen[p.ID] = struct{}{}
	}
	return nil
}
