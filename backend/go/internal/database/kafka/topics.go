package kafka

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
)

const dialTimeout = 10 * time.Second

// EnsureTopics 连接到 brokers，并创建 topics 中尚不存在的主题。
// 返回本次新建的主题名称。
func EnsureTopics(ctx context.Context, brokers []string, topics ...string) ([]string, error) {
	if len(brokers) == 0 {
		return nil, errors.New("未配置 Kafka brokers")
	}
	if len(topics) == 0 {
		return nil, nil
	}

	dialer := &kafka.Dialer{Timeout: dialTimeout}

	// 1. 建立管理连接
	conn, err := dialer.DialContext(ctx, "tcp", brokers[0])
	if err != nil {
		return nil, fmt.Errorf("kafka 初始化连接失败: %w", err)
	}
	defer conn.Close()

	// 2. 获取已存在的主题
	partitions, err := conn.ReadPartitions()
	if err != nil {
		return nil, fmt.Errorf("无法读取 Kafka 分区信息: %w", err)
	}
	toCreate := missingTopics(partitions, topics)
	if len(toCreate) == 0 {
		return nil, nil
	}

	// 3. 主题只能在 controller 上创建
	controller, err := conn.Controller()
	if err != nil {
		return nil, fmt.Errorf("无法获取 Kafka controller: %w", err)
	}
	ctrlConn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	if err != nil {
		return nil, fmt.Errorf("连接 Kafka controller 失败: %w", err)
	}
	defer ctrlConn.Close()

	if err := ctrlConn.CreateTopics(toCreate...); err != nil {
		return nil, fmt.Errorf("自动创建 Kafka 主题失败: %w", err)
	}

	created := make([]string, 0, len(toCreate))
	for _, tc := range toCreate {
		created = append(created, tc.Topic)
	}
	return created, nil
}

// missingTopics 返回 wanted 中不存在于 partitions 的主题配置，按 wanted 的顺序去重。
func missingTopics(partitions []kafka.Partition, wanted []string) []kafka.TopicConfig {
	existing := make(map[string]struct{}, len(partitions))
	for _, p := range partitions {
		existing[p.Topic] = struct{}{}
	}

	var out []kafka.TopicConfig
	for _, name := range wanted {
		if name == "" {
			continue
		}
		if _, ok := existing[name]; ok {
			continue
		}
		existing[name] = struct{}{}
		out = append(out, kafka.TopicConfig{
			Topic:             name,
			NumPartitions:     1, // 使用默认值
			ReplicationFactor: 1, // 使用默认值
		})
	}
	return out
}
