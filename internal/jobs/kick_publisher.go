package jobs

import (
    "context"
    "encoding/json"
    "sync"
    "time"

    amqp "github.com/rabbitmq/amqp091-go"
    "go.uber.org/zap"
)

const workQueueName = "work.available"

// publishTimeout bounds how long a single kick may spend dialing and
// publishing before it is abandoned.
const publishTimeout = 5 * time.Second

// kickMessage is the tiny payload published when new work items exist.
// Consumers only care that a message arrived; the timestamp helps when
// reading the queue by hand.
type kickMessage struct {
    EnqueuedAt string `json:"enqueued_at"`
}

// KickPublisher publishes a best-effort "work available" signal to the
// broker after payment confirmation.  Errors are logged and swallowed:
// the runner's periodic sweep is the durable path, the kick only trims
// latency.
//
// The connection is dialed lazily on first use and kept open across
// kicks; a publish failure tears it down so the next kick redials.
// Kick itself returns immediately — the publish runs on its own
// goroutine with a bounded timeout, keeping the broker off the webhook
// latency path entirely.
type KickPublisher struct {
    url string
    log *zap.Logger

    mu   sync.Mutex
    conn *amqp.Connection
    ch   *amqp.Channel
}

// NewKickPublisher returns a KickPublisher for the given broker URL.
func NewKickPublisher(url string, log *zap.Logger) *KickPublisher {
    return &KickPublisher{url: url, log: log}
}

// Kick schedules one message for the work.available queue and returns
// without waiting on the broker.
func (p *KickPublisher) Kick(context.Context) {
    go func() {
        ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
        defer cancel()
        if err := p.publish(ctx); err != nil {
            p.log.Warn("kick:publish-failed", zap.Error(err))
        }
    }()
}

// Close shuts the cached connection down.  Kicks issued afterwards will
// simply redial.
func (p *KickPublisher) Close() {
    p.mu.Lock()
    p.reset()
    p.mu.Unlock()
}

func (p *KickPublisher) publish(ctx context.Context) error {
    p.mu.Lock()
    defer p.mu.Unlock()

    ch, err := p.channel()
    if err != nil {
        return err
    }
    body, _ := json.Marshal(kickMessage{EnqueuedAt: time.Now().UTC().Format(time.RFC3339)})
    pub := amqp.Publishing{
        ContentType:  "application/json",
        DeliveryMode: amqp.Persistent,
        Timestamp:    time.Now().UTC(),
        Body:         body,
    }
    if err := ch.PublishWithContext(ctx, "", workQueueName, false, false, pub); err != nil {
        p.reset()
        return err
    }
    return nil
}

// channel returns the cached channel, dialing and declaring the durable
// queue on first use or after a failure tore the connection down.
// Callers hold p.mu.
func (p *KickPublisher) channel() (*amqp.Channel, error) {
    if p.ch != nil && !p.conn.IsClosed() {
        return p.ch, nil
    }
    p.reset()

    conn, err := amqp.Dial(p.url)
    if err != nil {
        return nil, err
    }
    ch, err := conn.Channel()
    if err != nil {
        _ = conn.Close()
        return nil, err
    }
    if _, err := ch.QueueDeclare(workQueueName, true, false, false, false, nil); err != nil {
        _ = ch.Close()
        _ = conn.Close()
        return nil, err
    }
    p.conn, p.ch = conn, ch
    return ch, nil
}

// reset drops the cached connection and channel.  Callers hold p.mu.
func (p *KickPublisher) reset() {
    if p.ch != nil {
        _ = p.ch.Close()
        p.ch = nil
    }
    if p.conn != nil {
        _ = p.conn.Close()
        p.conn = nil
    }
}
