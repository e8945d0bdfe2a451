// Package redis connects to the Redis deployment that holds session snapshots.
package redis

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const connectTimeout = 5 * time.Second

type RedisConfig struct {
	Host      string `json:"host" env:"HOST"`
	Port      int    `json:"port" env:"PORT"`
	Password  string `json:"password" env:"PASSWORD"`
	Namespace string `json:"namespace" env:"NAMESPACE"`
}

type RedisSentinelConfig struct {
	SentinelHost     string `json:"sentinel_host" env:"SENTINEL_HOST"`
	SentinelPort     int    `json:"sentinel_port" env:"SENTINEL_PORT"`
	Password         string `json:"password" env:"PASSWORD"`
	MasterName       string `json:"master_name" env:"MASTER_NAME"`
	SentinelUsername string `json:"sentinel_username" env:"SENTINEL_USERNAME"`
	Namespace        string `json:"namespace" env:"NAMESPACE"`
}

// NewRedisClient connects to a single Redis instance and checks it is reachable.
func NewRedisClient(config *RedisConfig) (*goredis.Client, error) {
	client := goredis.NewClient(clientOptions(config))

	if err := ping(client); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// NewRedisSentinelClient connects to the current master known to a Sentinel.
func NewRedisSentinelClient(config *RedisSentinelConfig) (*goredis.Client, error) {
	if config.MasterName == "" {
		return nil, fmt.Errorf("failed to connect to Redis through Sentinel: master name is required")
	}

	client := goredis.NewFailoverClient(failoverOptions(config))

	if err := ping(client); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis through Sentinel: %w", err)
	}
	return client, nil
}

func clientOptions(config *RedisConfig) *goredis.Options {
	return &goredis.Options{
		Addr:        net.JoinHostPort(config.Host, strconv.Itoa(config.Port)),
		Password:    config.Password,
		DB:          0,
		DialTimeout: connectTimeout,
	}
}

// failoverOptions uses the same password for the Sentinel and the master.
func failoverOptions(config *RedisSentinelConfig) *goredis.FailoverOptions {
	return &goredis.FailoverOptions{
		MasterName:       config.MasterName,
		SentinelAddrs:    []string{net.JoinHostPort(config.SentinelHost, strconv.Itoa(config.SentinelPort))},
		SentinelUsername: config.SentinelUsername,
		SentinelPassword: config.Password,
		Password:         config.Password,
		DB:               0,
		DialTimeout:      connectTimeout,
	}
}

func ping(client *goredis.Client) error {
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return err
	}
	return nil
}
