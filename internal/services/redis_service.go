package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"pillpal/internal/models"
)

const (
	// fireClaimTTL outlives the slot's calendar day, so a replica that boots
	// the next morning still sees yesterday's evening claims
	fireClaimTTL = 48 * time.Hour

	// NoticeChannel carries reminder notices to other replicas' feeds
	NoticeChannel = "pillpal:notices"
)

// RedisService provides Redis connection and operations
type RedisService struct {
	client   *redis.Client
	mu       sync.RWMutex
	instance string
}

// NewRedisService connects to Redis. instance identifies this replica as
// the owner of fire claims and must stay the same across restarts.
func NewRedisService(redisURL, instance string) (*RedisService, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	// Configure connection pool
	opts.PoolSize = 10
	opts.MinIdleConns = 2
	opts.MaxRetries = 3
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log.Println("✅ Redis connection established")

	return &RedisService{client: client, instance: instance}, nil
}

// Close closes the Redis connection
func (r *RedisService) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// Ping checks if Redis is healthy
func (r *RedisService) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// AcquireLock attempts to acquire a distributed lock
// Returns true if lock was acquired, false otherwise
func (r *RedisService) AcquireLock(ctx context.Context, lockKey string, lockValue string, expiration time.Duration) (bool, error) {
	return r.client.SetNX(ctx, lockKey, lockValue, expiration).Result()
}

// ReleaseLock releases a distributed lock if it's still held by the given value
func (r *RedisService) ReleaseLock(ctx context.Context, lockKey string, lockValue string) (bool, error) {
	// Lua script to atomically check and delete
	script := redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("del", KEYS[1])
		else
			return 0
		end
	`)

	result, err := script.Run(ctx, r.client, []string{lockKey}, lockValue).Int64()
	if err != nil {
		return false, err
	}

	return result == 1, nil
}

// ClaimFire takes the per-instance fire lock. Only the replica that wins
// creates and announces the dose instance.
func (r *RedisService) ClaimFire(ctx context.Context, id models.DoseInstanceID) (bool, error) {
	key := FireClaimKey(id)

	acquired, err := r.AcquireLock(ctx, key, r.instance, fireClaimTTL)
	if err != nil {
		return false, err
	}
	if acquired {
		return true, nil
	}

	// A restarted replica re-firing its own slot keeps the claim
	owner, err := r.client.Get(ctx, key).Result()
	if err != nil && err != redis.Nil {
		return false, err
	}
	return owner == r.instance, nil
}

// ReleaseFire gives up this replica's claim on an instance it failed to record
func (r *RedisService) ReleaseFire(ctx context.Context, id models.DoseInstanceID) error {
	_, err := r.ReleaseLock(ctx, FireClaimKey(id), r.instance)
	return err
}

// FireClaimKey is the Redis key guarding one dose instance
func FireClaimKey(id models.DoseInstanceID) string {
	return "dose-fire:" + id.String()
}

// Publish publishes a message to a channel
func (r *RedisService) Publish(ctx context.Context, channel string, message interface{}) error {
	return r.client.Publish(ctx, channel, message).Err()
}

// Subscribe subscribes to one or more channels
func (r *RedisService) Subscribe(ctx context.Context, channels ...string) *redis.PubSub {
	return r.client.Subscribe(ctx, channels...)
}

// NoticePublisher forwards reminder notices to other replicas over Redis pub/sub
type NoticePublisher struct {
	redis  *RedisService
	origin string
}

// NewNoticePublisher creates a publisher tagged with this replica's id
func NewNoticePublisher(r *RedisService) *NoticePublisher {
	return &NoticePublisher{redis: r, origin: r.instance}
}

type noticeEnvelope struct {
	Origin string                `json:"origin"`
	Notice models.ReminderNotice `json:"notice"`
}

// Notify publishes the notice without blocking the caller
func (p *NoticePublisher) Notify(notice models.ReminderNotice) {
	payload, err := json.Marshal(noticeEnvelope{Origin: p.origin, Notice: notice})
	if err != nil {
		log.Printf("⚠️  [REDIS] Failed to encode notice: %v", err)
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := p.redis.Publish(ctx, NoticeChannel, payload); err != nil {
			log.Printf("⚠️  [REDIS] Failed to publish notice for %s: %v", notice.InstanceID, err)
		}
	}()
}

// Relay delivers notices published by other replicas to deliver until ctx is done
func (p *NoticePublisher) Relay(ctx context.Context, deliver func(models.ReminderNotice)) {
	sub := p.redis.Subscribe(ctx, NoticeChannel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var env noticeEnvelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				log.Printf("⚠️  [REDIS] Dropping malformed notice: %v", err)
				continue
			}
			if env.Origin == p.origin {
				continue
			}
			deliver(env.Notice)
		}
	}
}
