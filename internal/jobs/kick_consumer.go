package jobs

import (
    "errors"
    "fmt"
    "time"

    amqp "github.com/rabbitmq/amqp091-go"
    "go.uber.org/zap"
)

// StartKickConsumer connects to the broker, declares the work.available
// queue (durable) and turns every message into a runner kick.  It runs a
// reconnect loop with exponential backoff and never returns under normal
// operation; call it in its own goroutine.  Losing the broker only costs
// latency — the runner's sweep keeps draining the table regardless.
func StartKickConsumer(url string, runner *Runner, log *zap.Logger) {
    backoff := time.Second
    for {
        conn, err := amqp.Dial(url)
        if err != nil {
            log.Warn("kick-consumer:dial-failed", zap.Error(err), zap.Duration("retry_in", backoff))
            time.Sleep(backoff)
            if backoff < 30*time.Second {
                backoff *= 2
            }
            continue
        }
        backoff = time.Second // reset after successful connect

        if err := consumeKicks(conn, runner); err != nil {
            log.Warn("kick-consumer:loop-ended", zap.Error(err))
            time.Sleep(2 * time.Second)
        }
    }
}

func consumeKicks(conn *amqp.Connection, runner *Runner) error {
    defer func() { _ = conn.Close() }()

    ch, err := conn.Channel()
    if err != nil {
        return fmt.Errorf("channel open: %w", err)
    }
    defer func() { _ = ch.Close() }()

    if _, err := ch.QueueDeclare(workQueueName, true, false, false, false, nil); err != nil {
        return fmt.Errorf("queue declare: %w", err)
    }

    msgs, err := ch.Consume(workQueueName, "", false, false, false, false, nil)
    if err != nil {
        return fmt.Errorf("queue consume: %w", err)
    }

    for d := range msgs {
        runner.Kick()
        _ = d.Ack(false)
    }
    return errors.New("deliveries channel closed")
}
