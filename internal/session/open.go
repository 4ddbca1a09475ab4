package session

import (
	"context"
	"fmt"
	"strings"
)

// Backend kinds accepted by Open
const (
	BackendFile    = "file"
	BackendKeyring = "keyring"
	BackendRedis   = "redis"
	BackendMemory  = "memory"
)

// Options selects and configures a Backend
type Options struct {
	Kind         string
	Path         string // file backend
	RedisAddress string // redis backend
	Namespace    string // redis namespace / keyring profile
}

// Open builds the backend described by opts
func Open(ctx context.Context, opts Options) (Backend, error) {
	switch strings.ToLower(opts.Kind) {
	case "", BackendFile:
		return NewFileBackend(opts.Path)
	case BackendKeyring:
		return NewKeyringBackend(opts.Namespace), nil
	case BackendRedis:
		client, err := NewRedisClient(ctx, opts.RedisAddress)
		if err != nil {
			return nil, err
		}
		return NewRedisBackend(client, opts.Namespace), nil
	case BackendMemory:
		return NewMemoryBackend(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q (use file, keyring, redis or memory)", opts.Kind)
	}
}
