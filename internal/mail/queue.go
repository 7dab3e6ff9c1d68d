package mail

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// publisher はamqp.Channelのうち送信に使用するメソッド。
type publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// dialFunc はブローカーへ接続し、送信用チャネルと接続を返す。
type dialFunc func() (publisher, io.Closer, error)

// QueueMailer はメールをAMQPの永続キューに投入する。
// 実際の配送はConsumerが行う。
// 接続が閉じられていた場合は送信時に再接続する。再接続の失敗が続く間は
// Consumerと同じ指数バックオフで再試行を控える。
type QueueMailer struct {
	queue string
	dial  dialFunc
	now   func() time.Time

	mu      sync.Mutex
	ch      publisher
	conn    io.Closer
	backoff time.Duration
	retryAt time.Time
}

// NewQueueMailer はブローカーに接続し、キューを宣言してQueueMailerを生成する。
func NewQueueMailer(url, queue string) (*QueueMailer, error) {
	dial := func() (publisher, io.Closer, error) {
		ch, conn, err := dialQueue(url, queue)
		if err != nil {
			return nil, nil, err
		}
		return ch, conn, nil
	}
	ch, conn, err := dial()
	if err != nil {
		return nil, err
	}
	m := newQueueMailer(ch, queue)
	m.conn = conn
	m.dial = dial
	return m, nil
}

// newQueueMailer はテスト用に送信先を差し替えたQueueMailerを生成する。
func newQueueMailer(ch publisher, queue string) *QueueMailer {
	return &QueueMailer{queue: queue, ch: ch, now: time.Now, backoff: initialBackoff}
}

// dialQueue はブローカーに接続し、チャネルを開いてキューを宣言する。
func dialQueue(url, queue string) (*amqp.Channel, *amqp.Connection, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to dial broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("failed to open channel: %w", err)
	}
	if err := declareQueue(ch, queue); err != nil {
		_ = conn.Close()
		return nil, nil, err
	}
	return ch, conn, nil
}

// declareQueue はメールキューを永続キューとして宣言する。宣言は冪等。
func declareQueue(ch *amqp.Channel, queue string) error {
	_, err := ch.QueueDeclare(
		queue,
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", queue, err)
	}
	return nil
}

// Send はメールをJSONとしてキューに投入する。メッセージは永続化される。
func (m *QueueMailer) Send(ctx context.Context, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal mail: %w", err)
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ch == nil {
		if err := m.reconnect(); err != nil {
			return fmt.Errorf("failed to publish mail: %w", err)
		}
	}
	err = m.ch.PublishWithContext(ctx, "", m.queue, false, false, pub)
	if errors.Is(err, amqp.ErrClosed) && m.dial != nil {
		slog.Warn("メールキューとの接続が切れています。再接続します")
		if rerr := m.reconnect(); rerr != nil {
			return fmt.Errorf("failed to publish mail: %w", errors.Join(err, rerr))
		}
		err = m.ch.PublishWithContext(ctx, "", m.queue, false, false, pub)
	}
	if err != nil {
		return fmt.Errorf("failed to publish mail: %w", err)
	}
	return nil
}

// reconnect は古い接続を破棄して再接続する。m.muを保持して呼び出すこと。
func (m *QueueMailer) reconnect() error {
	if m.dial == nil {
		return errors.New("mail queue is not connected")
	}
	if m.now().Before(m.retryAt) {
		return fmt.Errorf("mail queue reconnect deferred until %s", m.retryAt.Format(time.RFC3339))
	}
	if m.conn != nil {
		_ = m.conn.Close()
	}
	m.ch, m.conn = nil, nil

	ch, conn, err := m.dial()
	if err != nil {
		m.retryAt = m.now().Add(m.backoff)
		m.backoff = min(m.backoff*2, maxBackoff)
		return fmt.Errorf("failed to reconnect mail queue: %w", err)
	}
	m.ch, m.conn = ch, conn
	m.backoff = initialBackoff
	m.retryAt = time.Time{}
	return nil
}

// Close はブローカーとの接続を閉じる。
func (m *QueueMailer) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn == nil {
		return nil
	}
	err := m.conn.Close()
	m.ch, m.conn = nil, nil
	return err
}
