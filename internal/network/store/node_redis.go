package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"trustnet/internal/network/models"
	"trustnet/pkg/platform/sentinel"
)

const (
	nodeKeyPrefix = "trustnet:node:"
	nodeIndexKey  = "trustnet:nodes"
)

// nodeRecord adds the fields the API representation hides.
type nodeRecord struct {
	*models.Node
	CredentialHash string `json:"credential_hash"`
}

// RedisNodeStore persists nodes as JSON documents with optimistic concurrency
// implemented by WATCH/MULTI on the node keys.
type RedisNodeStore struct {
	client *redis.Client
}

func NewRedisNodeStore(client *redis.Client) *RedisNodeStore {
	return &RedisNodeStore{client: client}
}

func nodeKey(id string) string {
	return nodeKeyPrefix + id
}

func encodeNode(n *models.Node) ([]byte, error) {
	return json.Marshal(nodeRecord{Node: n, CredentialHash: n.CredentialHash})
}

func decodeNode(raw []byte) (*models.Node, error) {
	rec := nodeRecord{Node: &models.Node{}}
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode node: %w", err)
	}
	rec.Node.CredentialHash = rec.CredentialHash
	return rec.Node, nil
}

func (s *RedisNodeStore) Create(ctx context.Context, n *models.Node) error {
	n.Version = 1
	raw, err := encodeNode(n)
	if err != nil {
		return err
	}
	ok, err := s.client.SetNX(ctx, nodeKey(n.ID), raw, 0).Result()
	if err != nil {
		return fmt.Errorf("create node: %w", err)
	}
	if !ok {
		return sentinel.ErrConflict
	}
	if err := s.client.SAdd(ctx, nodeIndexKey, n.ID).Err(); err != nil {
		return fmt.Errorf("index node: %w", err)
	}
	return nil
}

func (s *RedisNodeStore) Delete(ctx context.Context, id string) error {
	var removed *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		removed = pipe.Del(ctx, nodeKey(id))
		pipe.SRem(ctx, nodeIndexKey, id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete node: %w", err)
	}
	if removed.Val() == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *RedisNodeStore) FindByID(ctx context.Context, id string) (*models.Node, error) {
	raw, err := s.client.Get(ctx, nodeKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find node: %w", err)
	}
	return decodeNode(raw)
}

func (s *RedisNodeStore) List(ctx context.Context, filter models.Filter) ([]*models.Node, error) {
	ids, err := s.client.SMembers(ctx, nodeIndexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list node ids: %w", err)
	}
	if len(ids) == 0 {
		return []*models.Node{}, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = nodeKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load nodes: %w", err)
	}
	out := make([]*models.Node, 0, len(values))
	for _, v := range values {
		str, ok := v.(string)
		if !ok {
			continue
		}
		n, err := decodeNode([]byte(str))
		if err != nil {
			return nil, err
		}
		if filter.Matches(n) {
			out = append(out, n)
		}
	}
	SortByRegistration(out)
	return out, nil
}

func (s *RedisNodeStore) CompareAndSwap(ctx context.Context, n *models.Node) error {
	return s.CompareAndSwapAll(ctx, []*models.Node{n})
}

// CompareAndSwapAll watches every node key, checks versions, and writes all
// updates in one MULTI/EXEC. A concurrent write to any watched key aborts the batch.
func (s *RedisNodeStore) CompareAndSwapAll(ctx context.Context, nodes []*models.Node) error {
	keys := make([]string, len(nodes))
	for i, n := range nodes {
		keys[i] = nodeKey(n.ID)
	}

	txf := func(tx *redis.Tx) error {
		values, err := tx.MGet(ctx, keys...).Result()
		if err != nil {
			return err
		}
		payloads := make([][]byte, len(nodes))
		for i, v := range values {
			str, ok := v.(string)
			if !ok {
				return sentinel.ErrNotFound
			}
			current, err := decodeNode([]byte(str))
			if err != nil {
				return err
			}
			if current.Version != nodes[i].Version {
				return sentinel.ErrConflict
			}
			next := nodes[i].Clone()
			next.Version++
			if payloads[i], err = encodeNode(next); err != nil {
				return err
			}
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for i, key := range keys {
				pipe.Set(ctx, key, payloads[i], 0)
			}
			return nil
		})
		return err
	}

	err := s.client.Watch(ctx, txf, keys...)
	if errors.Is(err, redis.TxFailedErr) {
		return sentinel.ErrConflict
	}
	if err != nil {
		if errors.Is(err, sentinel.ErrConflict) || errors.Is(err, sentinel.ErrNotFound) {
			return err
		}
		return fmt.Errorf("swap nodes: %w", err)
	}
	for _, n := range nodes {
		n.Version++
	}
	return nil
}
