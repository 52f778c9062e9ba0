package pubsub

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/angelmondragon/todolimpio-backend/pkg/config"
	"github.com/angelmondragon/todolimpio-backend/pkg/logger"
)

// Client wraps the Pub/Sub v2 client with the change-feed topic and the
// per-instance subscription.
type Client struct {
	client    *pubsub.Client
	projectID string
	cfg       config.PubSubConfig

	pubOnce   sync.Once
	publisher *pubsub.Publisher
}

var (
	errProjectIDRequired = errors.New("gcp project id is required")
	errTopicRequired     = errors.New("pubsub change feed topic is required")
)

// NewClient creates a Pub/Sub client and checks the configured topic and,
// when set, the subscription exist.
func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.PubSubConfig, logg *logger.Logger) (*Client, error) {
	if strings.TrimSpace(gcp.ProjectID) == "" {
		return nil, errProjectIDRequired
	}
	if strings.TrimSpace(cfg.ChangeFeedTopic) == "" {
		return nil, errTopicRequired
	}

	psClient, err := pubsub.NewClient(ctx, gcp.ProjectID, clientOptions(gcp)...)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}

	c := &Client{client: psClient, projectID: gcp.ProjectID, cfg: cfg}
	if err := c.Ping(ctx); err != nil {
		_ = psClient.Close()
		return nil, err
	}

	if logg != nil {
		logg.Info(logg.WithField(ctx, "topic", cfg.ChangeFeedTopic), "pubsub client initialized")
	}
	return c, nil
}

func clientOptions(gcp config.GCPConfig) []option.ClientOption {
	switch {
	case strings.TrimSpace(gcp.CredentialsJSON) != "":
		return []option.ClientOption{option.WithCredentialsJSON([]byte(gcp.CredentialsJSON))}
	case strings.TrimSpace(gcp.ApplicationCredentials) != "":
		return []option.ClientOption{option.WithCredentialsFile(gcp.ApplicationCredentials)}
	default:
		return nil
	}
}

// ChangeFeedPublisher returns the shared, ordering-enabled publisher for the
// change-feed topic.
func (c *Client) ChangeFeedPublisher() *pubsub.Publisher {
	if c == nil || c.client == nil {
		return nil
	}
	c.pubOnce.Do(func() {
		p := c.client.Publisher(topicResourceName(c.projectID, c.cfg.ChangeFeedTopic))
		p.EnableMessageOrdering = true
		c.publisher = p
	})
	return c.publisher
}

// ChangeFeedSubscription returns the subscriber for this instance, or nil
// when no subscription is configured.
func (c *Client) ChangeFeedSubscription() *pubsub.Subscriber {
	if c == nil || c.client == nil {
		return nil
	}
	name := subscriptionResourceName(c.projectID, c.cfg.ChangeFeedSubscription)
	if name == "" {
		return nil
	}
	return c.client.Subscriber(name)
}

// Ping verifies the topic and optional subscription exist.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.client == nil {
		return errors.New("pubsub client not initialized")
	}
	topic := topicResourceName(c.projectID, c.cfg.ChangeFeedTopic)
	if _, err := c.client.TopicAdminClient.GetTopic(ctx, &pubsubpb.GetTopicRequest{Topic: topic}); err != nil {
		return notFoundOr(err, "topic", c.cfg.ChangeFeedTopic)
	}

	sub := subscriptionResourceName(c.projectID, c.cfg.ChangeFeedSubscription)
	if sub == "" {
		return nil
	}
	if _, err := c.client.SubscriptionAdminClient.GetSubscription(ctx, &pubsubpb.GetSubscriptionRequest{Subscription: sub}); err != nil {
		return notFoundOr(err, "subscription", c.cfg.ChangeFeedSubscription)
	}
	return nil
}

// Close flushes the publisher and releases client resources.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	if c.publisher != nil {
		c.publisher.Stop()
	}
	return c.client.Close()
}

func notFoundOr(err error, kind, name string) error {
	if status.Code(err) == codes.NotFound {
		return fmt.Errorf("%s %q does not exist", kind, name)
	}
	return fmt.Errorf("checking %s %q: %w", kind, name, err)
}

func subscriptionResourceName(projectID, name string) string {
	return resourceName(projectID, "subscriptions", name)
}

func topicResourceName(projectID, name string) string {
	return resourceName(projectID, "topics", name)
}

// resourceName expands a short id into projects/<p>/<kind>/<id>; full
// resource names pass through.
func resourceName(projectID, kind, name string) string {
	n := strings.TrimSpace(name)
	if n == "" {
		return ""
	}
	if strings.HasPrefix(n, "projects/") && strings.Contains(n, "/"+kind+"/") {
		return n
	}
	p := strings.TrimSpace(projectID)
	if p == "" {
		return ""
	}
	return fmt.Sprintf("projects/%s/%s/%s", p, kind, n)
}
