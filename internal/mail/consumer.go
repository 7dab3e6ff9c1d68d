package mail

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	initialBackoff = time.Second
	maxBackoff     = 30 * time.Second
	prefetchCount  = 10
)

// FailureRecorder はメール配送失敗を記録する。
type FailureRecorder interface {
	RecordMailFailure()
}

// Consumer はメールキューを購読し、受信したメールを配送する。
type Consumer struct {
	url      string
	queue    string
	delivery Mailer
	metrics  FailureRecorder
}

// NewConsumer はConsumerを生成する。metricsはnilでもよい。
func NewConsumer(url, queue string, delivery Mailer, metrics FailureRecorder) *Consumer {
	return &Consumer{
		url:      url,
		queue:    queue,
		delivery: delivery,
		metrics:  metrics,
	}
}

// Run はctxがキャンセルされるまでキューを購読する。
// 接続が切れた場合は指数バックオフで再接続する。
func (c *Consumer) Run(ctx context.Context) error {
	backoff := initialBackoff
	for {
		conn, err := amqp.Dial(c.url)
		if err != nil {
			slog.Warn("メールキューへの接続に失敗しました",
				slog.String("error", err.Error()),
				slog.Duration("retry_in", backoff),
			)
			if !sleep(ctx, backoff) {
				return ctx.Err()
			}
			backoff = min(backoff*2, maxBackoff)
			continue
		}
		backoff = initialBackoff

		err = c.consume(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		slog.Warn("メールキューの購読が終了しました。再接続します",
			slog.String("error", err.Error()),
		)
		if !sleep(ctx, 2*time.Second) {
			return ctx.Err()
		}
	}
}

func (c *Consumer) consume(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open channel: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(prefetchCount, 0, false); err != nil {
		slog.Warn("QoSの設定に失敗しました", slog.String("error", err.Error()))
	}
	if err := declareQueue(ch, c.queue); err != nil {
		return err
	}

	deliveries, err := ch.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to consume queue: %w", err)
	}

	slog.Info("メールキューの購読を開始しました", slog.String("queue", c.queue))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			c.handle(ctx, d)
		}
	}
}

// handle は1件のメールを配送し、結果に応じてAck/Nackする。
// 不正なメッセージは再投入しない。配送失敗は1回だけ再投入する。
func (c *Consumer) handle(ctx context.Context, d amqp.Delivery) {
	var msg Message
	if err := json.Unmarshal(d.Body, &msg); err != nil {
		slog.Error("メールメッセージの解析に失敗しました", slog.String("error", err.Error()))
		_ = d.Nack(false, false)
		return
	}

	if err := c.delivery.Send(ctx, msg); err != nil {
		slog.Error("メールの配送に失敗しました",
			slog.String("subject", msg.Subject),
			slog.String("error", err.Error()),
		)
		if c.metrics != nil {
			c.metrics.RecordMailFailure()
		}
		_ = d.Nack(false, !d.Redelivered)
		return
	}
	_ = d.Ack(false)
}

// sleep はdだけ待機する。ctxがキャンセルされた場合はfalseを返す。
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
