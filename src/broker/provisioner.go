package broker

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"topicbus/src/logger"
)

// Provisioner makes sure topics exist before anything is published to them.
type Provisioner struct {
	connector *Connector
	clientID  string
	policy    TopicPolicy
	logger    logger.Logger
}

// NewProvisioner creates a Provisioner that dials admin connections as clientID.
func NewProvisioner(c *Connector, clientID string, policy TopicPolicy, log logger.Logger) *Provisioner {
	if log == nil {
		log = logger.NewSilentLogger()
	}
	return &Provisioner{connector: c, clientID: clientID, policy: policy, logger: log}
}

// EnsureTopics creates every missing topic with the provisioner's policy.
// Topics that already exist count as success, so repeated calls are safe.
func (p *Provisioner) EnsureTopics(ctx context.Context, topics ...string) error {
	topics = uniqueTopics(topics)
	if len(topics) == 0 {
		return nil
	}
	if p.policy.Partitions <= 0 || p.policy.ReplicationFactor <= 0 {
		return &ProvisioningError{
			Topics: topics,
			Err:    fmt.Errorf("invalid topic policy %d/%d", p.policy.Partitions, p.policy.ReplicationFactor),
		}
	}

	h, err := p.connector.Connect(ctx, DialSpec{Role: RoleAdmin, ClientID: p.clientID})
	if err != nil {
		return &ProvisioningError{Topics: topics, Err: err}
	}
	defer h.Close()

	results, err := h.Conn().CreateTopics(ctx, p.policy, topics...)
	if err != nil {
		return &ProvisioningError{Topics: topics, Err: err}
	}

	var (
		failed []string
		errs   []error
	)
	for _, topic := range topics {
		result, ok := results[topic]
		switch {
		case !ok:
			failed = append(failed, topic)
			errs = append(errs, fmt.Errorf("%s: no result from broker", topic))
		case result == nil:
			p.logger.Info("[Provisioner] Created topic '%s' (partitions=%d, replication=%d)",
				topic, p.policy.Partitions, p.policy.ReplicationFactor)
		case errors.Is(result, ErrTopicExists):
			p.logger.Debug("[Provisioner] Topic '%s' already exists", topic)
		default:
			failed = append(failed, topic)
			errs = append(errs, fmt.Errorf("%s: %w", topic, result))
		}
	}

	if len(failed) > 0 {
		err := &ProvisioningError{Topics: failed, Err: errors.Join(errs...)}
		p.logger.Error("[Provisioner] %v", err)
		return err
	}
	return nil
}

func uniqueTopics(topics []string) []string {
	seen := make(map[string]struct{}, len(topics))
	out := make([]string, 0, len(topics))
	for _, t := range topics {
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
