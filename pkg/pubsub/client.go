package pubsub

import (
	"context"
	"errors"
	"fmt"
	"strings"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/angelmondragon/servicehub-backend/pkg/config"
	"github.com/angelmondragon/servicehub-backend/pkg/logger"
)

// Client wraps the Pub/Sub v2 client used to fan payment notifications out.
type Client struct {
	client    *pubsub.Client
	projectID string
	cfg       config.PubSubConfig
}

var (
	errProjectIDRequired = errors.New("gcp project id is required")
	errTopicRequired     = errors.New("pubsub notification topic is required")
)

// NewClient creates a Pub/Sub v2 client and ensures the notification topic exists.
func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.PubSubConfig, logg *logger.Logger) (*Client, error) {
	if strings.TrimSpace(gcp.ProjectID) == "" {
		return nil, errProjectIDRequired
	}
	if strings.TrimSpace(cfg.NotificationTopic) == "" {
		return nil, errTopicRequired
	}

	psClient, err := pubsub.NewClient(ctx, gcp.ProjectID, clientOptions(gcp)...)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}

	c := &Client{
		client:    psClient,
		projectID: gcp.ProjectID,
		cfg:       cfg,
	}

	if err := c.Ping(ctx); err != nil {
		_ = psClient.Close()
		return nil, err
	}

	if logg != nil {
		logg.Info(ctx, "pubsub client initialized")
	}
	return c, nil
}

func clientOptions(gcp config.GCPConfig) []option.ClientOption {
	var opts []option.ClientOption
	if raw := strings.TrimSpace(gcp.CredentialsJSON); raw != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(raw)))
	} else if path := strings.TrimSpace(gcp.ApplicationCredentials); path != "" {
		opts = append(opts, option.WithCredentialsFile(path))
	}
	return opts
}

// lookup fetches one admin resource and normalises NotFound into a readable error.
func lookup[T any](ctx context.Context, kind, name string, get func(context.Context, string) (T, error), projectID string) (T, error) {
	var zero T
	fullName := resourceName(projectID, kind, name)
	if fullName == "" {
		return zero, fmt.Errorf("%s %q not configured", strings.TrimSuffix(kind, "s"), name)
	}
	res, err := get(ctx, fullName)
	switch {
	case status.Code(err) == codes.NotFound:
		return zero, fmt.Errorf("%s %q does not exist", strings.TrimSuffix(kind, "s"), name)
	case err != nil:
		return zero, fmt.Errorf("checking %s %q: %w", strings.TrimSuffix(kind, "s"), name, err)
	}
	return res, nil
}

func (c *Client) topic(ctx context.Context, name string) (*pubsubpb.Topic, error) {
	return lookup(ctx, "topics", name, func(ctx context.Context, full string) (*pubsubpb.Topic, error) {
		return c.client.TopicAdminClient.GetTopic(ctx, &pubsubpb.GetTopicRequest{Topic: full})
	}, c.projectID)
}

func (c *Client) subscription(ctx context.Context, name string) (*pubsubpb.Subscription, error) {
	return lookup(ctx, "subscriptions", name, func(ctx context.Context, full string) (*pubsubpb.Subscription, error) {
		return c.client.SubscriptionAdminClient.GetSubscription(ctx, &pubsubpb.GetSubscriptionRequest{Subscription: full})
	}, c.projectID)
}

// Subscription returns a subscriber handle for the given subscription ID/resource name.
func (c *Client) Subscription(name string) *pubsub.Subscriber {
	if c == nil || c.client == nil {
		return nil
	}
	fullName := resourceName(c.projectID, "subscriptions", name)
	if fullName == "" {
		return nil
	}
	return c.client.Subscriber(fullName)
}

// NotificationSubscription returns the subscriber feeding the in-app inbox,
// with flow control taken from config.
func (c *Client) NotificationSubscription() *pubsub.Subscriber {
	sub := c.Subscription(c.cfg.NotificationSubscription)
	if sub == nil {
		return nil
	}
	if c.cfg.MaxOutstandingMessages > 0 {
		sub.ReceiveSettings.MaxOutstandingMessages = c.cfg.MaxOutstandingMessages
	}
	if c.cfg.NumGoroutines > 0 {
		sub.ReceiveSettings.NumGoroutines = c.cfg.NumGoroutines
	}
	return sub
}

// Publisher returns a publisher handle for the given topic ID/resource name.
func (c *Client) Publisher(name string) *pubsub.Publisher {
	if c == nil || c.client == nil {
		return nil
	}
	fullName := resourceName(c.projectID, "topics", name)
	if fullName == "" {
		return nil
	}
	return c.client.Publisher(fullName)
}

// Ping verifies the notification topic exists and, when a subscription is
// configured, that it exists and delivers in ordering-key order.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.client == nil {
		return errors.New("pubsub client not initialized")
	}
	if _, err := c.topic(ctx, c.cfg.NotificationTopic); err != nil {
		return err
	}
	name := strings.TrimSpace(c.cfg.NotificationSubscription)
	if name == "" {
		return nil
	}
	sub, err := c.subscription(ctx, name)
	if err != nil {
		return err
	}
	if !sub.GetEnableMessageOrdering() {
		return fmt.Errorf("subscription %q must enable message ordering", name)
	}
	return nil
}

// Close releases the Pub/Sub client resources.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// resourceName expands a short ID into projects/<p>/<kind>/<id>; full names pass through.
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
