package store

import (
	"context"
	"fmt"
	"slices"

	"github.com/redis/go-redis/v9"
)

const (
	peerKeyPrefix = "trustnet:peers:"
	peerIndexKey  = "trustnet:peers:index"
)

// RedisPeerStore keeps one Redis set of peer ids per node.
type RedisPeerStore struct {
	client *redis.Client
}

func NewRedisPeerStore(client *redis.Client) *RedisPeerStore {
	return &RedisPeerStore{client: client}
}

func peerKey(id string) string {
	return peerKeyPrefix + id
}

func (s *RedisPeerStore) Connect(ctx context.Context, a, b string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, peerKey(a), b)
		pipe.SAdd(ctx, peerKey(b), a)
		pipe.SAdd(ctx, peerIndexKey, a, b)
		return nil
	})
	if err != nil {
		return fmt.Errorf("connect peers: %w", err)
	}
	return nil
}

func (s *RedisPeerStore) DisconnectAll(ctx context.Context, id string) ([]string, error) {
	peers, err := s.client.SMembers(ctx, peerKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("load peers: %w", err)
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, p := range peers {
			pipe.SRem(ctx, peerKey(p), id)
		}
		pipe.Del(ctx, peerKey(id))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("disconnect peers: %w", err)
	}
	slices.Sort(peers)
	return peers, nil
}

func (s *RedisPeerStore) Peers(ctx context.Context, id string) ([]string, error) {
	peers, err := s.client.SMembers(ctx, peerKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("load peers: %w", err)
	}
	slices.Sort(peers)
	return peers, nil
}

func (s *RedisPeerStore) LinkCount(ctx context.Context) (int, error) {
	ids, err := s.client.SMembers(ctx, peerIndexKey).Result()
	if err != nil {
		return 0, fmt.Errorf("load peer index: %w", err)
	}
	pipe := s.client.Pipeline()
	cmds := make([]*redis.IntCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.SCard(ctx, peerKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && len(ids) > 0 {
		return 0, fmt.Errorf("count peers: %w", err)
	}
	total := int64(0)
	for _, c := range cmds {
		total += c.Val()
	}
	return int(total / 2), nil
}
