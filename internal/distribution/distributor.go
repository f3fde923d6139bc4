package distribution

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"trade-mentor-server/config"
	"trade-mentor-server/internal/events"
)

// BroadcastMode reports which delivery path the distributor settled on
type BroadcastMode string

const (
	ModeRedis BroadcastMode = "redis"
	ModeLocal BroadcastMode = "local"
)

const probeTimeout = 5 * time.Second

// envelope is the cross-instance wire record. Origin lets an instance skip
// messages it published itself; those were already delivered locally.
type envelope struct {
	Origin string       `json:"origin"`
	Scope  string       `json:"scope"` // "user" or "all"
	UserID string       `json:"user_id,omitempty"`
	Event  events.Event `json:"event"`
}

// Distributor delivers events to connected clients through the local hub and,
// when Redis is reachable, mirrors them across instances via pub/sub.
// The mode is probed once at startup and never changes afterward.
type Distributor struct {
	hub        *Hub
	client     *redis.Client
	channel    string
	instanceID string
	mode       BroadcastMode
	cancel     context.CancelFunc
	logger     zerolog.Logger
}

// NewDistributor creates a distributor over the hub. A disabled Redis config
// pins the distributor to local mode without probing.
func NewDistributor(hub *Hub, cfg config.RedisConfig, channel string, logger zerolog.Logger) *Distributor {
	d := &Distributor{
		hub:        hub,
		channel:    channel,
		instanceID: uuid.New().String(),
		mode:       ModeLocal,
		logger:     logger.With().Str("component", "Distributor").Logger(),
	}

	if cfg.Enabled {
		d.client = redis.NewClient(&redis.Options{
			Addr:         cfg.Address,
			Password:     cfg.Password,
			DB:           cfg.DB,
			PoolSize:     cfg.PoolSize,
			MinIdleConns: 2,
			MaxRetries:   3,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		})
	}

	return d
}

// Start probes the broker once and, if reachable, begins mirroring events.
// A failed probe degrades to local-only delivery for the process lifetime.
func (d *Distributor) Start(ctx context.Context) {
	if d.client == nil {
		d.logger.Info().Msg("redis disabled, using local broadcast mode")
		return
	}

	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	if err := d.client.Ping(probeCtx).Err(); err != nil {
		d.logger.Warn().Err(err).Msg("redis unreachable, falling back to local broadcast mode")
		d.client.Close()
		d.client = nil
		return
	}

	d.mode = ModeRedis

	subCtx, subCancel := context.WithCancel(ctx)
	d.cancel = subCancel
	go d.subscribeLoop(subCtx)

	d.logger.Info().Str("channel", d.channel).Msg("redis broadcast mode active")
}

// Mode returns the broadcast mode settled at startup
func (d *Distributor) Mode() BroadcastMode {
	return d.mode
}

// SendToUser delivers an event to one user's local connections and mirrors it
// to other instances. The return value reflects local delivery only.
func (d *Distributor) SendToUser(userID string, event events.Event) bool {
	delivered := d.hub.BroadcastToUser(userID, event)
	d.mirror(envelope{Origin: d.instanceID, Scope: "user", UserID: userID, Event: event})
	return delivered
}

// SendToAll delivers an event to every local connection and mirrors it to
// other instances. Returns the local delivery count.
func (d *Distributor) SendToAll(event events.Event) int {
	count := d.hub.BroadcastToAll(event)
	d.mirror(envelope{Origin: d.instanceID, Scope: "all", Event: event})
	return count
}

// BindBus routes the globally scoped bus events through the distributor.
// Per-user events are sent directly by their producers.
func (d *Distributor) BindBus(bus *events.EventBus) {
	for _, t := range []events.EventType{
		events.EventSetupForming,
		events.EventSetupReady,
		events.EventSetupTriggered,
		events.EventAdminAlert,
	} {
		bus.Subscribe(t, func(event events.Event) {
			d.SendToAll(event)
		})
	}
}

// Close stops the subscribe loop and releases the Redis connection
func (d *Distributor) Close() {
	if d.cancel != nil {
		d.cancel()
	}
	if d.client != nil {
		d.client.Close()
	}
}

func (d *Distributor) mirror(env envelope) {
	if d.mode != ModeRedis || d.client == nil {
		return
	}

	data, err := json.Marshal(env)
	if err != nil {
		d.logger.Error().Err(err).Msg("failed to marshal envelope")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := d.client.Publish(ctx, d.channel, data).Err(); err != nil {
		d.logger.Warn().Err(err).Msg("redis publish failed")
	}
}

func (d *Distributor) subscribeLoop(ctx context.Context) {
	pubsub := d.client.Subscribe(ctx, d.channel)
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

			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				d.logger.Warn().Err(err).Msg("dropping malformed envelope")
				continue
			}
			if env.Origin == d.instanceID {
				continue
			}

			switch env.Scope {
			case "user":
				d.hub.BroadcastToUser(env.UserID, env.Event)
			case "all":
				d.hub.BroadcastToAll(env.Event)
			}
		}
	}
}
