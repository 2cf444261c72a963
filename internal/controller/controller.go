package controller

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/gearbot/GearBot-2/internal/queue"
)

// CommandHandler dispatches a decoded interaction to whatever handles bot
// commands. Only invoked while the instance is Primary. Kept as a narrow
// interface so controller never imports the dispatch package directly.
type CommandHandler interface {
	HandleInteraction(ctx context.Context, token, locale string, cmd queue.InteractionCommand)
}

// ShardShutdown is implemented by the backfill scheduler so Shutdown can
// cancel outstanding member requests without controller importing backfill.
type ShardShutdown interface {
	Terminate()
}

const (
	lonelinessPollPeriod = 10 * time.Second
	takeoverGrace        = 30 * time.Second
)

// Controller runs the one-of-N leader election for a single cluster: it
// owns the cluster's queue producer/consumer, the lifecycle Status, and
// the handlers that implement the loneliness check and takeover schedule
// described in communication/mod.rs and events/guild.rs of the instance
// this cluster was modeled on.
type Controller struct {
	log     zerolog.Logger
	metrics MetricsSink
	self    uuid.UUID

	status statusBox

	producer *queue.Producer
	consumer *queue.Consumer

	commandHandler CommandHandler
	backfill       ShardShutdown

	shutdownOnce sync.Once
	lonelyOnce   sync.Once
}

// New builds a Controller bound to the given producer. The consumer is
// built afterwards with Handler() as NewConsumer's handler argument and
// then bound with AttachConsumer; see cmd/gearbot for the wiring order.
func New(log zerolog.Logger, metrics MetricsSink, self uuid.UUID, producer *queue.Producer, backfill ShardShutdown, commandHandler CommandHandler) *Controller {
	if metrics == nil {
		metrics = noopMetricsSink{}
	}
	return &Controller{
		log:            log,
		metrics:        metrics,
		self:           self,
		producer:       producer,
		backfill:       backfill,
		commandHandler: commandHandler,
	}
}

// AttachConsumer binds the consumer this controller will poll for group
// membership and receive messages from. Must be called once before Start.
func (c *Controller) AttachConsumer(consumer *queue.Consumer) {
	c.consumer = consumer
}

// Status reports the current lifecycle state.
func (c *Controller) Status() Status {
	return c.status.load()
}

// Handler returns the queue.Handler this controller processes incoming
// messages with. Pass it to queue.NewConsumer when building the consumer
// this controller will attach to.
func (c *Controller) Handler() queue.Handler {
	return c.handle
}

// Start publishes the Hello marker, starts the attached consumer, and
// begins the loneliness check. Consumer must already be attached.
func (c *Controller) Start(ctx context.Context) {
	c.producer.Publish(queue.Message{Kind: queue.KindGeneral, General: queue.Hello()})
	c.consumer.Start()
	go c.lonelinessCheck(ctx)
}

// lonelinessCheck polls the broker's consumer-group membership for our
// topic. Our own attached consumer is itself a group member, so a count
// of 1 (or 0, before the group has fully formed) means nobody else is
// handling the queue and we can promote immediately. It stops as soon as
// Starting is left, whether by this check, by handle reacting to a message
// received while Starting, or by OnAllShardsBackfilled moving to Standby.
func (c *Controller) lonelinessCheck(ctx context.Context) {
	ticker := time.NewTicker(lonelinessPollPeriod)
	defer ticker.Stop()
	for {
		if c.status.load() != StatusStarting {
			return
		}
		count, err := c.consumer.GroupMemberCount(ctx)
		if err != nil {
			c.log.Warn().Err(err).Msg("failed to fetch consumer group metadata, assuming not alone")
		} else if count <= 1 {
			c.promoteToPrimary()
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (c *Controller) promoteToPrimary() {
	if !c.status.compareAndSwap(StatusStarting, StatusPrimary) {
		return
	}
	c.metrics.SetStatus(StatusStarting, StatusPrimary)
	c.log.Info().Msg("no other instance listening on the queue, promoted to primary")
}

// handle is the queue.Handler this controller installs on its consumer.
// Offsets are already committed by the time this runs (queue.Consumer's
// contract), so a panic or slow handler here never causes redelivery.
func (c *Controller) handle(ctx context.Context, m queue.Message) {
	if c.status.compareAndSwap(StatusStarting, StatusPrimary) {
		c.metrics.SetStatus(StatusStarting, StatusPrimary)
		c.log.Info().Msg("queue traffic observed while starting, promoted to primary")
	}

	switch m.Kind {
	case queue.KindGeneral:
		c.handleGeneral(ctx, m.General)
	case queue.KindInteraction:
		if c.status.load() != StatusPrimary {
			return
		}
		go c.commandHandler.HandleInteraction(ctx, m.Interaction.Token, m.Interaction.Locale, m.Interaction.Command)
	}
}

func (c *Controller) handleGeneral(ctx context.Context, g queue.General) {
	if g.Kind != queue.GeneralShutdownAt {
		return
	}
	if g.UUID == c.self {
		return
	}
	go c.awaitIncomingShutdown(ctx, g.Time)
}

// awaitIncomingShutdown implements shutdown_at.rs's handler: another
// instance has scheduled its own takeover at g.Time, so once that time
// arrives we yield the queue by shutting down, unless we have already
// begun terminating for some other reason.
func (c *Controller) awaitIncomingShutdown(ctx context.Context, at time.Time) {
	wait := time.Until(at)
	if wait < 0 {
		wait = 0
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}
	if c.status.load() == StatusTerminating {
		return
	}
	c.log.Info().Msg("scheduled shutdown time reached, yielding the queue")
	c.Shutdown()
}

// OnAllShardsBackfilled implements the backfill.ReadinessGate interface.
// Once every shard finishes its initial member backfill, a Starting
// instance announces a takeover goal 30 seconds out and waits to claim
// Primary, giving whatever instance currently holds the queue time to
// notice and step aside gracefully.
func (c *Controller) OnAllShardsBackfilled() {
	if !c.status.compareAndSwap(StatusStarting, StatusStandby) {
		// Already Primary, either via the loneliness check or via queue
		// traffic observed in handle. Nothing left to schedule.
		return
	}
	c.metrics.SetStatus(StatusStarting, StatusStandby)

	goal := time.Now().Add(takeoverGrace)
	c.producer.Publish(queue.Message{
		Kind:    queue.KindGeneral,
		General: queue.NewShutdownAt(goal, c.self),
	})
	c.log.Info().Time("goal", goal).Msg("all shards backfilled, scheduled takeover")
	go c.awaitTakeover(goal)
}

func (c *Controller) awaitTakeover(goal time.Time) {
	wait := time.Until(goal)
	if wait < 0 {
		wait = 0
	}
	time.Sleep(wait)
	if c.status.compareAndSwap(StatusStandby, StatusPrimary) {
		c.metrics.SetStatus(StatusStandby, StatusPrimary)
		c.log.Info().Msg("takeover time reached, now primary")
		return
	}
	c.log.Info().Msg("takeover time reached but no longer standby")
}

// Shutdown transitions to Terminating and tears down the backfill
// scheduler and queue consumer. Idempotent.
func (c *Controller) Shutdown() {
	c.shutdownOnce.Do(func() {
		old := c.status.load()
		c.status.store(StatusTerminating)
		c.metrics.SetStatus(old, StatusTerminating)
		c.log.Info().Msg("shutdown initiated")
		if c.backfill != nil {
			c.backfill.Terminate()
		}
		if c.consumer != nil {
			c.consumer.Stop()
		}
	})
}
