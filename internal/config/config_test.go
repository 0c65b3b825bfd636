package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ucl.yml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, `
node_id: n1
listen_addr: 127.0.0.1:7401
metrics_addr: 127.0.0.1:9401
peers:
  - id: n2
    addr: 127.0.0.1:7402
  - id: n3
    addr: 127.0.0.1:7403
gossip:
  fanout: 2
  max_hops: 4
  retry_interval: 250ms
consensus:
  vote_timeout: 2s
  quorum: majority
  participant_abort_after: 10s
transport:
  dial_timeout: 1s
membership:
  probe_interval: 500ms
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "n1", cfg.NodeID)
	assert.Len(t, cfg.Peers, 2)
	assert.Equal(t, 2, cfg.Gossip.Fanout)
	assert.Equal(t, 250*time.Millisecond, cfg.Gossip.RetryInterval.Std())
	assert.Equal(t, 2*time.Second, cfg.Consensus.VoteTimeout.Std())
	assert.Equal(t, "majority", cfg.Consensus.Quorum)
	assert.Equal(t, time.Second, cfg.Transport.DialTimeout.Std())
	assert.Equal(t, 500*time.Millisecond, cfg.Membership.ProbeInterval.Std())
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "node_id: n1\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:7400", cfg.ListenAddr)
	assert.Equal(t, "all", cfg.Consensus.Quorum)
	assert.Empty(t, cfg.Peers)
}

func TestLoadRejectsBadConfigs(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"missing node id", "listen_addr: 127.0.0.1:7400\n"},
		{"bad listen addr", "node_id: n1\nlisten_addr: not-an-addr\n"},
		{"bad quorum", "node_id: n1\nconsensus:\n  quorum: most\n"},
		{"bad duration", "node_id: n1\nconsensus:\n  vote_timeout: soon\n"},
		{"peer without addr", "node_id: n1\npeers:\n  - id: n2\n"},
		{"self in peer list", "node_id: n1\npeers:\n  - id: n1\n    addr: 127.0.0.1:7401\n"},
		{"duplicate peer", "node_id: n1\npeers:\n  - id: n2\n    addr: 127.0.0.1:7402\n  - id: n2\n    addr: 127.0.0.1:7403\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.body))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yml"))
	assert.Error(t, err)
}
