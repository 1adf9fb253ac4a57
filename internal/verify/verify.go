// Package verify cross-checks this gateway's own routing decisions
// against a real cluster's answers, using go-redis/v9's
// redis.ClusterClient as an independent ground truth. It deliberately
// never touches internal/router or internal/nodeclient — the point is
// to test the hand-built router against a second implementation, not
// to route through go-redis.
package verify

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"clustergate/internal/hashslot"
	"clustergate/internal/slotmap"
)

// Client wraps a go-redis cluster client purely as an oracle.
type Client struct {
	rdb *redis.ClusterClient
}

// Dial connects go-redis to the same seed list the gateway uses.
func Dial(seeds []string, password string) *Client {
	return &Client{rdb: redis.NewClusterClient(&redis.ClusterOptions{
		Addrs:    seeds,
		Password: password,
	})}
}

// Close releases the underlying connection pool.
func (c *Client) Close() error { return c.rdb.Close() }

// KeySlot asks the real cluster for a key's slot via CLUSTER KEYSLOT
// and reports whether it matches this repo's own hashslot.KeySlot.
func (c *Client) KeySlot(ctx context.Context, key string) (ours, reference uint16, agree bool, err error) {
	ours = hashslot.KeySlot([]byte(key))
	n, err := c.rdb.ClusterKeySlot(ctx, key).Result()
	if err != nil {
		return ours, 0, false, fmt.Errorf("verify: CLUSTER KEYSLOT failed: %w", err)
	}
	reference = uint16(n)
	return ours, reference, ours == reference, nil
}

// Topology fetches the live slot layout via CLUSTER SHARDS and
// reports whether it agrees with a candidate slotmap.Map (typically
// the gateway's currently-installed one).
func (c *Client) Topology(ctx context.Context, candidate slotmap.Map) (agree bool, mismatches []string, err error) {
	shards, err := c.rdb.ClusterShards(ctx).Result()
	if err != nil {
		return false, nil, fmt.Errorf("verify: CLUSTER SHARDS failed: %w", err)
	}

	for _, shard := range shards {
		var primary string
		for _, n := range shard.Nodes {
			if n.Role == "master" {
				primary = n.Endpoint
				break
			}
		}
		if primary == "" {
			continue
		}
		for _, sr := range shard.Slots {
			start, end := int64(sr.Start), int64(sr.End)
			for slot := start; slot <= end; slot++ {
				addr, ok := candidate.Resolve(uint16(slot))
				if !ok || string(addr) == "" {
					mismatches = append(mismatches, fmt.Sprintf("slot %d: candidate has no owner, reference says %s", slot, primary))
					continue
				}
				// Host-only comparison: go-redis's endpoint field omits the
				// port in some deployments; a stricter comparison belongs
				// to the caller once addressing conventions are pinned down.
				if !hostsLikelyMatch(string(addr), primary) {
					mismatches = append(mismatches, fmt.Sprintf("slot %d: candidate=%s reference=%s", slot, addr, primary))
				}
			}
		}
	}
	return len(mismatches) == 0, mismatches, nil
}

func hostsLikelyMatch(candidateAddr, referenceHost string) bool {
	idx := -1
	for i := len(candidateAddr) - 1; i >= 0; i-- {
		if candidateAddr[i] == ':' {
			idx = i
			break
		}
	}
	if idx == -1 {
		return candidateAddr == referenceHost
	}
	return candidateAddr[:idx] == referenceHost
}
