package events

import (
	"context"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/components/cqrs"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"go.uber.org/zap"

	"github.com/danghamo/docidentity/pkg/logger"
	"github.com/danghamo/docidentity/pkg/redisx"
)

// DefaultTopicPrefix prefixes every event topic.
const DefaultTopicPrefix = "identity-events"

// Config configures a Bus.
type Config struct {
	TopicPrefix   string
	ConsumerGroup string
	// MaxLen caps each Redis stream; 0 leaves streams unbounded.
	MaxLen int64
}

// Bus owns the publisher, subscriber, router and CQRS bus/processor pair.
type Bus struct {
	publisher  message.Publisher
	subscriber message.Subscriber
	router     *message.Router
	eventBus   *cqrs.EventBus
	processor  *cqrs.EventProcessor
	prefix     string
	logger     *logger.Logger
}

// All event types the stores publish.
var allEvents = []any{
	UserCreatedEvent{}, UserUpdatedEvent{}, UserDeletedEvent{},
	RoleCreatedEvent{}, RoleUpdatedEvent{}, RoleDeletedEvent{},
}

// NewRedisBus builds a bus over Redis streams.
func NewRedisBus(cfg Config, rdb *redisx.Client, log *logger.Logger) (*Bus, error) {
	wlog := newWatermillLogger(log)
	prefix := topicPrefix(cfg)

	maxlens := map[string]int64{}
	if cfg.MaxLen > 0 {
		for _, e := range allEvents {
			maxlens[topic(prefix, cqrs.StructName(e))] = cfg.MaxLen
		}
	}

	publisher, err := redisstream.NewPublisher(
		redisstream.PublisherConfig{
			Client:  rdb.Client,
			Maxlens: maxlens,
		},
		wlog,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create publisher: %w", err)
	}

	group := cfg.ConsumerGroup
	if group == "" {
		group = "docidentity"
	}
	subscriber, err := redisstream.NewSubscriber(
		redisstream.SubscriberConfig{
			Client:        rdb.Client,
			ConsumerGroup: group,
		},
		wlog,
	)
	if err != nil {
		_ = publisher.Close()
		return nil, fmt.Errorf("failed to create subscriber: %w", err)
	}

	return NewBus(cfg, publisher, subscriber, log)
}

// NewGoChannelBus builds an in-process bus, used with the memory backend and in tests.
// Messages are not retained: events published before Run has subscribed are dropped.
func NewGoChannelBus(cfg Config, log *logger.Logger) (*Bus, error) {
	pubSub := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: 64,
	}, newWatermillLogger(log))
	return NewBus(cfg, pubSub, pubSub, log)
}

// NewBus wires the CQRS event bus and processor over an existing publisher and subscriber.
func NewBus(cfg Config, publisher message.Publisher, subscriber message.Subscriber, log *logger.Logger) (*Bus, error) {
	if log == nil {
		log = logger.NewNop()
	}
	wlog := newWatermillLogger(log)
	prefix := topicPrefix(cfg)

	router, err := message.NewRouter(message.RouterConfig{
		CloseTimeout: 5 * time.Second,
	}, wlog)
	if err != nil {
		return nil, fmt.Errorf("failed to create router: %w", err)
	}

	marshaler := cqrs.JSONMarshaler{GenerateName: cqrs.StructName}

	eventBus, err := cqrs.NewEventBusWithConfig(
		publisher,
		cqrs.EventBusConfig{
			GeneratePublishTopic: func(params cqrs.GenerateEventPublishTopicParams) (string, error) {
				return topic(prefix, params.EventName), nil
			},
			Marshaler: marshaler,
			Logger:    wlog,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create event bus: %w", err)
	}

	processor, err := cqrs.NewEventProcessorWithConfig(
		router,
		cqrs.EventProcessorConfig{
			GenerateSubscribeTopic: func(params cqrs.EventProcessorGenerateSubscribeTopicParams) (string, error) {
				return topic(prefix, params.EventName), nil
			},
			SubscriberConstructor: func(params cqrs.EventProcessorSubscriberConstructorParams) (message.Subscriber, error) {
				return subscriber, nil
			},
			Marshaler: marshaler,
			Logger:    wlog,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create event processor: %w", err)
	}

	return &Bus{
		publisher:  publisher,
		subscriber: subscriber,
		router:     router,
		eventBus:   eventBus,
		processor:  processor,
		prefix:     prefix,
		logger:     log.WithComponent("event-bus"),
	}, nil
}

// Topic returns the topic an event name is published on.
func (b *Bus) Topic(eventName string) string {
	return topic(b.prefix, eventName)
}

// Publish implements Publisher.
func (b *Bus) Publish(ctx context.Context, event any) error {
	return b.eventBus.Publish(ctx, event)
}

// AddHandlers registers event handlers. Must be called before Run.
func (b *Bus) AddHandlers(handlers ...cqrs.EventHandler) error {
	return b.processor.AddHandlers(handlers...)
}

// Run starts the router and blocks until ctx is done or Close is called.
func (b *Bus) Run(ctx context.Context) error {
	b.logger.Info("Starting event router", zap.String("topic_prefix", b.prefix))
	return b.router.Run(ctx)
}

// Running is closed once the router is consuming.
func (b *Bus) Running() chan struct{} {
	return b.router.Running()
}

// Close stops the router and closes the publisher and subscriber.
func (b *Bus) Close() error {
	if err := b.router.Close(); err != nil {
		b.logger.Error("Failed to close router", zap.Error(err))
	}
	if err := b.publisher.Close(); err != nil {
		return err
	}
	return b.subscriber.Close()
}

func topicPrefix(cfg Config) string {
	if cfg.TopicPrefix == "" {
		return DefaultTopicPrefix
	}
	return cfg.TopicPrefix
}

func topic(prefix, eventName string) string {
	return fmt.Sprintf("%s.%s", prefix, eventName)
}

// watermillLogger routes watermill's logs through zap.
type watermillLogger struct {
	logger *logger.Logger
}

func newWatermillLogger(l *logger.Logger) watermill.LoggerAdapter {
	if l == nil {
		l = logger.NewNop()
	}
	return &watermillLogger{logger: l.WithComponent("watermill")}
}

func (w *watermillLogger) Error(msg string, err error, fields watermill.LogFields) {
	w.logger.Error(msg, append(zapFields(fields), zap.Error(err))...)
}

func (w *watermillLogger) Info(msg string, fields watermill.LogFields) {
	w.logger.Info(msg, zapFields(fields)...)
}

func (w *watermillLogger) Debug(msg string, fields watermill.LogFields) {
	w.logger.Debug(msg, zapFields(fields)...)
}

func (w *watermillLogger) Trace(msg string, fields watermill.LogFields) {
	w.logger.Debug(msg, zapFields(fields)...)
}

func (w *watermillLogger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &watermillLogger{logger: w.logger.WithFields(map[string]any(fields))}
}

func zapFields(fields watermill.LogFields) []zap.Field {
	out := make([]zap.Field, 0, len(fields))
	for k, v := range fields {
		out = append(out, zap.Any(k, v))
	}
	return out
}
