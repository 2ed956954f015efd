// Package kafka 提供了与 Kafka 消息队列交互的功能。
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"ai-chat-go/internal/config"
	"ai-chat-go/pkg/log"
	"ai-chat-go/pkg/tasks"

	"github.com/segmentio/kafka-go"
)

// maxAttempts 是单个事件允许的最大处理次数，超过后提交 offset 放弃重试。
const maxAttempts = 3

// TaskProcessor 是消费者回调的任务处理接口，具体实现位于 pipeline。
type TaskProcessor interface {
	Process(ctx context.Context, task tasks.MessageExchangedTask) error
}

// AttemptCounter 统计失败次数，nil 表示不限制重试。
type AttemptCounter interface {
	Incr(ctx context.Context, key string) (int64, error)
	Reset(ctx context.Context, key string) error
}

// Producer 将聊天事件写入 Kafka。
type Producer struct {
	writer *kafka.Writer
}

func brokers(cfg config.KafkaConfig) []string {
	var out []string
	for _, b := range strings.Split(cfg.Brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// NewProducer 初始化 Kafka 生产者。
func NewProducer(cfg config.KafkaConfig) *Producer {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers(cfg)...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}
	log.Info("Kafka 生产者初始化成功")
	return &Producer{writer: w}
}

// Publish 发送一个消息事件到 Kafka，key 相同的事件落在同一分区。
func (p *Producer) Publish(ctx context.Context, task tasks.MessageExchangedTask) error {
	taskBytes, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(task.ConversationID),
		Value: taskBytes,
	})
}

// Close 刷新并关闭生产者。
func (p *Producer) Close() error {
	return p.writer.Close()
}

// StartConsumer 启动一个 Kafka 消费者来处理聊天事件，ctx 取消后返回。
func StartConsumer(ctx context.Context, cfg config.KafkaConfig, processor TaskProcessor, counter AttemptCounter) {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers(cfg),
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
	})
	defer func() {
		if err := r.Close(); err != nil {
			log.Errorf("关闭 Kafka 消费者失败: %v", err)
		}
	}()

	log.Infof("Kafka 消费者已启动，正在监听主题 '%s'", cfg.Topic)
	for {
		m, err := r.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				log.Info("Kafka 消费者已停止")
				return
			}
			log.Error("从 Kafka 读取消息失败", err)
			return
		}
		handleMessage(ctx, m, processor, counter, func() error { return r.CommitMessages(ctx, m) })
	}
}

// handleMessage 处理单条消息并决定是否提交 offset。
func handleMessage(ctx context.Context, m kafka.Message, processor TaskProcessor, counter AttemptCounter, commit func() error) {
	var task tasks.MessageExchangedTask
	if err := json.Unmarshal(m.Value, &task); err != nil {
		log.Errorf("无法解析 Kafka 消息: %v, value: %s", err, string(m.Value))
		// 消息格式错误，直接提交，避免阻塞队列
		if err := commit(); err != nil {
			log.Errorf("提交错误消息失败: %v", err)
		}
		return
	}

	if err := processor.Process(ctx, task); err != nil {
		log.Errorw("处理消息事件失败", "key", task.Key(), "error", err)
		if counter == nil {
			return
		}
		attempts, incErr := counter.Incr(ctx, task.Key())
		if incErr != nil {
			// Redis 异常时保守处理：不提交 offset，让 Kafka 重试
			return
		}
		if attempts >= maxAttempts {
			log.Errorw("消息事件多次失败，提交 offset 终止重试", "key", task.Key(), "attempts", attempts)
			if err := commit(); err != nil {
				log.Errorf("提交 Kafka 消息 offset 失败: %v", err)
			}
		}
		return
	}

	if counter != nil {
		_ = counter.Reset(ctx, task.Key())
	}
	if err := commit(); err != nil {
		log.Errorf("提交 Kafka 消息 offset 失败: %v", err)
	}
}
