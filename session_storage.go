package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"go-identity-verifier/verification"
)

type InMemorySnapshotStorage struct {
	Snapshots map[string]verification.Snapshot
	mutex     sync.Mutex
}

func NewInMemorySnapshotStorage() *InMemorySnapshotStorage {
	return &InMemorySnapshotStorage{
		Snapshots: make(map[string]verification.Snapshot),
	}
}

// RedisSnapshotStorage lets every replica answer for sessions hosted elsewhere.
type RedisSnapshotStorage struct {
	client    *redis.Client
	namespace string
	ttl       time.Duration
}

func NewRedisSnapshotStorage(client *redis.Client, namespace string, ttl time.Duration) *RedisSnapshotStorage {
	return &RedisSnapshotStorage{client: client, namespace: namespace, ttl: ttl}
}

// ------------------------------------------------------------------------------

func createKey(namespace, sessionId string) string {
	return fmt.Sprintf("%s:session:%s", namespace, sessionId)
}

func (s *RedisSnapshotStorage) Save(ctx context.Context, snap verification.Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	return s.client.Set(ctx, createKey(s.namespace, snap.SessionID), payload, s.ttl).Err()
}

func (s *RedisSnapshotStorage) Load(ctx context.Context, sessionId string) (*verification.Snapshot, error) {
	payload, err := s.client.Get(ctx, createKey(s.namespace, sessionId)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var snap verification.Snapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

func (s *RedisSnapshotStorage) Delete(ctx context.Context, sessionId string) error {
	return s.client.Del(ctx, createKey(s.namespace, sessionId)).Err()
}

// ------------------------------------------------------------------------------

func (s *InMemorySnapshotStorage) Save(_ context.Context, snap verification.Snapshot) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.Snapshots[snap.SessionID] = snap
	return nil
}

func (s *InMemorySnapshotStorage) Load(_ context.Context, sessionId string) (*verification.Snapshot, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if snap, ok := s.Snapshots[sessionId]; ok {
		return &snap, nil
	}
	return nil, nil
}

func (s *InMemorySnapshotStorage) Delete(_ context.Context, sessionId string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	delete(s.Snapshots, sessionId)
	return nil
}
