package realtime

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/relay/go/internal/events"
)

// NATSConfig holds connection settings for the broadcast channel
type NATSConfig struct {
	URL           string
	SubjectPrefix string // subjects are <prefix>.<team id>
	MaxReconnects int
	ReconnectWait time.Duration
}

func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		SubjectPrefix: "relay.broadcast",
		MaxReconnects: -1, // Infinite
		ReconnectWait: 2 * time.Second,
	}
}

// NATSChannel publishes and subscribes to team broadcasts over core NATS
type NATSChannel struct {
	nc     *nats.Conn
	prefix string
}

var (
	_ Publisher  = (*NATSChannel)(nil)
	_ Source     = (*NATSChannel)(nil)
	_ TeamSource = (*NATSChannel)(nil)
)

// ConnectNATS dials the server described by cfg
func ConnectNATS(cfg NATSConfig) (*NATSChannel, error) {
	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return NewNATSChannel(nc, cfg.SubjectPrefix), nil
}

func NewNATSChannel(nc *nats.Conn, prefix string) *NATSChannel {
	if prefix == "" {
		prefix = DefaultNATSConfig().SubjectPrefix
	}
	return &NATSChannel{nc: nc, prefix: prefix}
}

// Subject returns the subject carrying teamID's broadcasts
func (c *NATSChannel) Subject(teamID string) string {
	return c.prefix + "." + teamID
}

func (c *NATSChannel) Publish(_ context.Context, teamID string, b events.Broadcast) error {
	data, err := Encode(b)
	if err != nil {
		return err
	}
	if err := c.nc.Publish(c.Subject(teamID), data); err != nil {
		return fmt.Errorf("publish broadcast: %w", err)
	}
	return nil
}

func (c *NATSChannel) Subscribe(ctx context.Context, teamID string, h Handler) (func(), error) {
	return c.subscribe(ctx, c.Subject(teamID), func(_ string, b events.Broadcast) { h(b) })
}

// SubscribeAll receives every team's broadcasts via a wildcard subject
func (c *NATSChannel) SubscribeAll(ctx context.Context, h TeamHandler) (func(), error) {
	return c.subscribe(ctx, c.prefix+".*", h)
}

func (c *NATSChannel) subscribe(ctx context.Context, subject string, h TeamHandler) (func(), error) {
	sub, err := c.nc.Subscribe(subject, func(msg *nats.Msg) {
		b, err := Decode(msg.Data)
		if err != nil {
			log.Warn().Err(err).Str("subject", msg.Subject).Msg("dropping malformed broadcast")
			return
		}
		h(strings.TrimPrefix(msg.Subject, c.prefix+"."), b)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", subject, err)
	}

	log.Info().Str("subject", subject).Msg("subscribed to team broadcasts")

	var once sync.Once
	done := make(chan struct{})
	stop := func() {
		once.Do(func() {
			close(done)
			if err := sub.Unsubscribe(); err != nil {
				log.Warn().Err(err).Str("subject", subject).Msg("failed to unsubscribe")
			}
		})
	}
	go func() {
		select {
		case <-ctx.Done():
			stop()
		case <-done:
		}
	}()
	return stop, nil
}

func (c *NATSChannel) IsConnected() bool {
	return c.nc.IsConnected()
}

func (c *NATSChannel) Close() {
	c.nc.Close()
}
