package kafka

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/EthanQC/imsync/internal/ports/out"
	"github.com/EthanQC/imsync/pkg/errs"
)

const DefaultTopic = "imsync.events"

// StreamKey 订阅路径对应的消息 key；同一个 key 经哈希分区落在同一个分区，保证流内有序
func StreamKey(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	return path
}

// NewConfig 订阅端和发布端共用的 sarama 配置
func NewConfig() *sarama.Config {
	config := sarama.NewConfig()
	config.Version = sarama.V2_8_0_0
	config.Consumer.Return.Errors = true
	config.Consumer.Offsets.Initial = sarama.OffsetOldest
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Partitioner = sarama.NewHashPartitioner
	return config
}

// Subscriber 每个订阅直接消费 key 所在的分区，过滤出属于自己的消息
// 不使用消费组：每个客户端都要读到完整的流
type Subscriber struct {
	consumer sarama.Consumer
	topic    string
	logger   *zap.Logger
}

func NewSubscriber(consumer sarama.Consumer, topic string, logger *zap.Logger) *Subscriber {
	if topic == "" {
		topic = DefaultTopic
	}
	if logger == nil {
		logger = zap.L()
	}
	return &Subscriber{consumer: consumer, topic: topic, logger: logger.With(zap.String("transport", "kafka"))}
}

// Dial 连接 broker 创建 Subscriber，Close 时一并关闭底层 consumer
func Dial(brokers []string, topic string, logger *zap.Logger) (*Subscriber, error) {
	consumer, err := sarama.NewConsumer(brokers, NewConfig())
	if err != nil {
		return nil, fmt.Errorf("create kafka consumer failed: %w", err)
	}
	return NewSubscriber(consumer, topic, logger), nil
}

func (s *Subscriber) Close() error {
	return s.consumer.Close()
}

var _ out.Subscriber = (*Subscriber)(nil)

func (s *Subscriber) partitionFor(key string) (int32, error) {
	partitions, err := s.consumer.Partitions(s.topic)
	if err != nil {
		return 0, err
	}
	if len(partitions) == 0 {
		return 0, fmt.Errorf("topic %s has no partitions", s.topic)
	}
	p := sarama.NewHashPartitioner(s.topic)
	idx, err := p.Partition(&sarama.ProducerMessage{Topic: s.topic, Key: sarama.StringEncoder(key)}, int32(len(partitions)))
	if err != nil {
		return 0, err
	}
	return partitions[idx], nil
}

type subscription struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func (s *subscription) Close() error {
	s.once.Do(s.cancel)
	return nil
}

func (s *Subscriber) Subscribe(ctx context.Context, path string, onEvent out.EventHandler, onError out.ErrorHandler) (out.Subscription, error) {
	if onEvent == nil || onError == nil {
		return nil, errors.New("subscribe needs both handlers")
	}
	key := StreamKey(path)
	partition, err := s.partitionFor(key)
	if err != nil {
		return nil, errs.Transport("kafka partitions", err)
	}
	pc, err := s.consumer.ConsumePartition(s.topic, partition, sarama.OffsetOldest)
	if err != nil {
		return nil, errs.Transport("kafka consume", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	sub := &subscription{cancel: cancel, done: make(chan struct{})}
	r := &reader{
		s:         s,
		key:       key,
		partition: partition,
		onEvent:   onEvent,
		onError:   onError,
		logger:    s.logger.With(zap.String("key", key), zap.Int32("partition", partition)),
	}
	go r.run(ctx, pc, sub.done)
	return sub, nil
}

type reader struct {
	s         *Subscriber
	key       string
	partition int32
	onEvent   out.EventHandler
	onError   out.ErrorHandler
	logger    *zap.Logger
	next      int64
}

// run 分区消费意外结束时从下一个 offset 重新打开
func (r *reader) run(ctx context.Context, pc sarama.PartitionConsumer, done chan struct{}) {
	defer close(done)
	for {
		interrupted := r.consume(ctx, pc)
		pc.AsyncClose()
		if !interrupted || ctx.Err() != nil {
			return
		}

		select {
		case <-time.After(500 * time.Millisecond):
		case <-ctx.Done():
			return
		}
		var err error
		pc, err = r.s.consumer.ConsumePartition(r.s.topic, r.partition, r.next)
		if err != nil {
			r.logger.Error("reopen partition failed", zap.Int64("offset", r.next), zap.Error(err))
			r.onError(errs.Transport("kafka consume", err))
			return
		}
		r.logger.Info("partition reopened", zap.Int64("offset", r.next))
	}
}

// consume 返回 true 表示消息通道意外关闭
func (r *reader) consume(ctx context.Context, pc sarama.PartitionConsumer) bool {
	for {
		select {
		case msg, ok := <-pc.Messages():
			if !ok {
				return true
			}
			r.next = msg.Offset + 1
			if string(msg.Key) != r.key {
				continue
			}
			r.onEvent(toEvent(msg))
		case cerr, ok := <-pc.Errors():
			if !ok {
				return true
			}
			r.logger.Warn("partition consumer error", zap.Error(cerr))
		case <-ctx.Done():
			return false
		}
	}
}

func toEvent(msg *sarama.ConsumerMessage) out.Event {
	ev := out.Event{
		ID:   fmt.Sprintf("%d-%d", msg.Partition, msg.Offset),
		Body: msg.Value,
	}
	if len(msg.Headers) > 0 {
		ev.Headers = make(map[string]string, len(msg.Headers))
		for _, h := range msg.Headers {
			if h != nil {
				ev.Headers[string(h.Key)] = string(h.Value)
			}
		}
	}
	return ev
}

// Publisher 往主题里写事件，key 是订阅路径
type Publisher struct {
	producer sarama.SyncProducer
	topic    string
}

func NewPublisher(producer sarama.SyncProducer, topic string) *Publisher {
	if topic == "" {
		topic = DefaultTopic
	}
	return &Publisher{producer: producer, topic: topic}
}

// Publish 返回写入的分区和 offset
func (p *Publisher) Publish(path string, headers map[string]string, body []byte) (int32, int64, error) {
	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(StreamKey(path)),
		Value: sarama.ByteEncoder(body),
	}
	for k, v := range headers {
		msg.Headers = append(msg.Headers, sarama.RecordHeader{Key: []byte(k), Value: []byte(v)})
	}
	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		return 0, 0, fmt.Errorf("publish to kafka failed: %w", err)
	}
	return partition, offset, nil
}
