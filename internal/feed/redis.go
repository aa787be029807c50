package feed

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const DefaultChannel = "queue:changes"

// Redis carries events between server instances over pub/sub.
type Redis struct {
	client  *redis.Client
	channel string
	logger  *zap.Logger
}

type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Channel  string
}

func NewRedis(opts RedisOptions, logger *zap.Logger) *Redis {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	return NewRedisWithClient(client, opts.Channel, logger)
}

func NewRedisWithClient(client *redis.Client, channel string, logger *zap.Logger) *Redis {
	if channel == "" {
		channel = DefaultChannel
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Redis{client: client, channel: channel, logger: logger}
}

func (r *Redis) Publish(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, r.channel, payload).Err()
}

func (r *Redis) Subscribe(ctx context.Context, handler Handler) (func(), error) {
	subCtx, cancel := context.WithCancel(ctx)
	pubsub := r.client.Subscribe(subCtx, r.channel)
	if _, err := pubsub.Receive(subCtx); err != nil {
		cancel()
		_ = pubsub.Close()
		return nil, err
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for msg := range pubsub.Channel() {
			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				r.logger.Warn("dropping malformed change event", zap.Error(err))
				continue
			}
			if err := handler(subCtx, event); err != nil {
				r.logger.Warn("change handler failed", zap.String("type", string(event.Type)), zap.Error(err))
			}
		}
	}()

	go func() {
		<-subCtx.Done()
		_ = pubsub.Close()
	}()

	return func() {
		cancel()
		<-done
	}, nil
}

// Ping verifies Redis connectivity.
func (r *Redis) Ping(ctx context.Context) error {
	if r == nil || r.client == nil {
		return errors.New("redis client not configured")
	}
	if err := r.client.Ping(ctx).Err(); err != nil {
		r.logger.Warn("unable to reach redis", zap.Error(err))
		return err
	}
	r.logger.Info("connected to redis", zap.String("channel", r.channel))
	return nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
