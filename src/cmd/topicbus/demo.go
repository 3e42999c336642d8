package main

import (
	"context"
	"math/rand"
	"time"

	"topicbus/src/broker"
)

// demoDocument builds the n-th sample document for a topic.
type demoDocument func(n int, r *rand.Rand) any

var demoTopics = map[string]demoDocument{
	"orders": func(n int, r *rand.Rand) any {
		return map[string]any{
			"order_id": 1000 + n,
			"customer": []string{"acme", "globex", "initech", "umbrella"}[r.Intn(4)],
			"items":    1 + r.Intn(5),
			"total":    float64(r.Intn(50000)) / 100,
			"status":   []string{"placed", "paid", "shipped"}[r.Intn(3)],
		}
	},
	"prices.fx": func(n int, r *rand.Rand) any {
		return map[string]any{
			"pair": "EUR/USD",
			"bid":  1.08 + r.Float64()/100,
			"ask":  1.09 + r.Float64()/100,
			"seq":  n,
		}
	},
	"news.summaries": func(n int, r *rand.Rand) any {
		headlines := []string{
			"Central bank holds rates steady",
			"Chipmaker beats quarterly estimates",
			"Storm delays shipping in the North Sea",
			"Retail sales rise for third month",
		}
		return map[string]any{
			"headline": headlines[r.Intn(len(headlines))],
			"source":   "wire",
			"tags":     []string{"markets", "summary"},
			"revision": n,
		}
	},
}

// demoTopicNames returns the sample topics in a fixed order.
func demoTopicNames() []string {
	return []string{"orders", "prices.fx", "news.summaries"}
}

// runDemoFeed publishes a sample document to one of the demo topics every
// interval until ctx is done.
func runDemoFeed(ctx context.Context, bus *broker.Bus, clientID string, interval time.Duration) error {
	r := rand.New(rand.NewSource(time.Now().UnixNano()))

	var pubs []*broker.Publisher
	defer func() {
		for _, p := range pubs {
			_ = p.Shutdown()
		}
	}()
	for _, topic := range demoTopicNames() {
		pub, err := bus.NewPublisher(ctx, topic, clientID+"-demo")
		if err != nil {
			return err
		}
		pubs = append(pubs, pub)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for n := 0; ; n++ {
		pub := pubs[r.Intn(len(pubs))]
		if err := pub.Publish(ctx, demoTopics[pub.Topic()](n, r)); err != nil && ctx.Err() == nil {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
