package contentref

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	id "custodia/pkg/domain"
)

const keyPrefix = "contentref:"

// Redis records referenced hashes as keys so multiple engine instances
// share one reference index. Values carry no content - existence of the
// key is the whole record.
type Redis struct {
	client *redis.Client
}

func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

func (s *Redis) Register(ctx context.Context, hash id.ContentHash) error {
	if err := s.client.Set(ctx, keyPrefix+hash.String(), 1, 0).Err(); err != nil {
		return fmt.Errorf("register content ref: %w", err)
	}
	return nil
}

func (s *Redis) Exists(ctx context.Context, hash id.ContentHash) (bool, error) {
	n, err := s.client.Exists(ctx, keyPrefix+hash.String()).Result()
	if err != nil {
		return false, fmt.Errorf("check content ref: %w", err)
	}
	return n > 0, nil
}
