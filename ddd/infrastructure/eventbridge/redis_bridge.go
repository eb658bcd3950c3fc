// Package eventbridge relays bus events between processes over Redis pub/sub,
// so the API process sees job and encoder events raised by standalone workers.
package eventbridge

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"acquisition-service/ddd/domain/event"
	"acquisition-service/pkg/logger"
)

const outboxSize = 1024

// RedisBridge 把本进程发布的事件转发到 Redis，并把其他进程的事件投递给本地订阅者
type RedisBridge struct {
	client  *redis.Client
	bus     *event.Bus
	channel string
	origin  string

	outbox chan event.Event
	wg     sync.WaitGroup
}

func NewRedisBridge(client *redis.Client, bus *event.Bus, channel string) *RedisBridge {
	return &RedisBridge{
		client:  client,
		bus:     bus,
		channel: channel,
		origin:  uuid.NewString(),
		outbox:  make(chan event.Event, outboxSize),
	}
}

// Origin 本进程标识
func (b *RedisBridge) Origin() string {
	return b.origin
}

// Start 挂接总线并开始订阅，ctx 取消后退出
func (b *RedisBridge) Start(ctx context.Context) {
	b.bus.OnPublish(b.enqueue)

	pubsub := b.client.Subscribe(ctx, b.channel)
	b.wg.Add(2)
	go func() {
		defer b.wg.Done()
		b.publishLoop(ctx)
	}()
	go func() {
		defer b.wg.Done()
		defer pubsub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				b.handle(msg.Payload)
			}
		}
	}()
	logger.Infof("event bridge started channel=%s origin=%s", b.channel, b.origin)
}

// Wait 等待后台协程退出
func (b *RedisBridge) Wait() {
	b.wg.Wait()
}

func (b *RedisBridge) enqueue(e event.Event) {
	e.Origin = b.origin
	select {
	case b.outbox <- e:
	default:
		logger.Warnf("event bridge outbox full, dropping %s", e.Type)
	}
}

func (b *RedisBridge) publishLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-b.outbox:
			data, err := json.Marshal(e)
			if err != nil {
				logger.Warnf("event bridge marshal failed type=%s error=%v", e.Type, err)
				continue
			}
			if err := b.client.Publish(ctx, b.channel, data).Err(); err != nil {
				logger.Warnf("event bridge publish failed type=%s error=%v", e.Type, err)
			}
		}
	}
}

// handle 投递远端事件，忽略自己发出的
func (b *RedisBridge) handle(payload string) {
	var e event.Event
	if err := json.Unmarshal([]byte(payload), &e); err != nil {
		logger.Warnf("event bridge dropped malformed message: %v", err)
		return
	}
	if e.Origin == b.origin {
		return
	}
	b.bus.Deliver(e)
}
