package sse

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	redisclient "github.com/turbotransfer/host/internal/redis"
)

const (
	HeartbeatInterval = 30 * time.Second

	clientBufferSize = 64
)

// Topics events are published on. Session-scoped events go to SessionTopic;
// the host subscribes to TopicHost, which receives every event.
const (
	TopicHost      = "host"
	TopicBroadcast = "broadcast"
)

func SessionTopic(sessionID string) string {
	return "session:" + sessionID
}

type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func NewEvent(eventType string, data any) (Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Event{}, err
	}
	return Event{Type: eventType, Data: raw}, nil
}

type Client struct {
	Topics []string
	Events chan Event
	Done   chan struct{}
}

// Broker fans events out to subscribers. With a Redis client, events travel
// through Redis pub/sub so every process serving the same host sees them;
// without one, delivery is in-process.
type Broker struct {
	redis   *redisclient.Client
	clients map[string]map[*Client]bool // topic -> set of clients
	relays  map[string]context.CancelFunc
	mu      sync.RWMutex
	ctx     context.Context
	cancel  context.CancelFunc
}

func NewBroker(redisClient *redisclient.Client) *Broker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Broker{
		redis:   redisClient,
		clients: make(map[string]map[*Client]bool),
		relays:  make(map[string]context.CancelFunc),
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (b *Broker) Subscribe(topics ...string) *Client {
	client := &Client{
		Topics: topics,
		Events: make(chan Event, clientBufferSize),
		Done:   make(chan struct{}),
	}

	b.mu.Lock()
	for _, topic := range topics {
		if b.clients[topic] == nil {
			b.clients[topic] = make(map[*Client]bool)
			if b.redis != nil {
				relayCtx, cancel := context.WithCancel(b.ctx)
				b.relays[topic] = cancel
				go b.subscribeToRedis(relayCtx, topic)
			}
		}
		b.clients[topic][client] = true
	}
	b.mu.Unlock()

	log.Debug().
		Strs("topics", topics).
		Msg("sse client subscribed")

	return client
}

func (b *Broker) Unsubscribe(client *Client) {
	b.mu.Lock()
	defer b.mu.Unlock()

	found := false
	for _, topic := range client.Topics {
		clients, ok := b.clients[topic]
		if !ok || !clients[client] {
			continue
		}
		found = true
		delete(clients, client)
		if len(clients) == 0 {
			delete(b.clients, topic)
			if cancel, ok := b.relays[topic]; ok {
				cancel()
				delete(b.relays, topic)
			}
		}
	}

	if found {
		close(client.Done)
		log.Debug().
			Strs("topics", client.Topics).
			Msg("sse client unsubscribed")
	}
}

// Publish delivers event to subscribers of topic and of TopicHost.
func (b *Broker) Publish(ctx context.Context, topic string, event Event) error {
	topics := []string{topic}
	if topic != TopicHost {
		topics = append(topics, TopicHost)
	}

	if b.redis == nil {
		for _, t := range topics {
			b.broadcast(t, event)
		}
		return nil
	}

	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	for _, t := range topics {
		if err := b.redis.Publish(ctx, redisclient.EventChannel(t), data).Err(); err != nil {
			return err
		}
	}
	return nil
}

func (b *Broker) subscribeToRedis(ctx context.Context, topic string) {
	channel := redisclient.EventChannel(topic)
	pubsub := b.redis.Subscribe(ctx, channel)
	defer pubsub.Close()

	log.Debug().
		Str("topic", topic).
		Str("channel", channel).
		Msg("redis pubsub subscribed")

	ch := pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return

		case msg, ok := <-ch:
			if !ok {
				return
			}

			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				log.Error().Err(err).Msg("failed to unmarshal event")
				continue
			}

			b.broadcast(topic, event)
		}
	}
}

func (b *Broker) broadcast(topic string, event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for client := range b.clients[topic] {
		select {
		case client.Events <- event:
		default:
			log.Warn().
				Str("topic", topic).
				Str("type", event.Type).
				Msg("client event buffer full, dropping event")
		}
	}
}

func (b *Broker) Close() {
	b.cancel()

	b.mu.Lock()
	defer b.mu.Unlock()

	closed := make(map[*Client]bool)
	for _, clients := range b.clients {
		for client := range clients {
			if !closed[client] {
				close(client.Done)
				closed[client] = true
			}
		}
	}
	b.clients = make(map[string]map[*Client]bool)
	b.relays = make(map[string]context.CancelFunc)
}

func (b *Broker) TotalClients() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	seen := make(map[*Client]bool)
	for _, clients := range b.clients {
		for client := range clients {
			seen[client] = true
		}
	}
	return len(seen)
}
