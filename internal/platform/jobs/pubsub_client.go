package jobs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"cloud.google.com/go/pubsub"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/hanko-field/ordercore/internal/platform/config"
)

const envPubSubEmulatorHost = "PUBSUB_EMULATOR_HOST"

// NewPubSubClient connects to Pub/Sub, or to the emulator when one is configured.
func NewPubSubClient(ctx context.Context, cfg config.PubSubConfig, opts ...option.ClientOption) (*pubsub.Client, error) {
	projectID := strings.TrimSpace(cfg.ProjectID)
	if projectID == "" {
		return nil, errors.New("pubsub: project id is required")
	}
	host := strings.TrimSpace(cfg.EmulatorHost)
	if host == "" {
		host = strings.TrimSpace(os.Getenv(envPubSubEmulatorHost))
	}
	if host != "" {
		opts = append(opts,
			option.WithoutAuthentication(),
			option.WithEndpoint(host),
			option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		)
	}
	client, err := pubsub.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("pubsub: create client: %w", err)
	}
	return client, nil
}

// NotificationTopic returns the topic notifications are published to, with publish settings tuned for
// one message per call.
func NotificationTopic(client *pubsub.Client, topicID string) (*pubsub.Topic, error) {
	if client == nil {
		return nil, errors.New("pubsub: client is required")
	}
	topicID = strings.TrimSpace(topicID)
	if topicID == "" {
		return nil, errors.New("pubsub: topic is required")
	}
	topic := client.Topic(topicID)
	topic.PublishSettings.CountThreshold = 1
	return topic, nil
}

// TopicProbe returns a readiness check that fails when the topic is unreachable or deleted.
func TopicProbe(topic *pubsub.Topic) func(context.Context) error {
	return func(ctx context.Context) error {
		exists, err := topic.Exists(ctx)
		if err != nil {
			return fmt.Errorf("pubsub: topic %s: %w", topic.ID(), err)
		}
		if !exists {
			return fmt.Errorf("pubsub: topic %s not found", topic.ID())
		}
		return nil
	}
}
