package main

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/spf13/cobra"

	"topicbus/src/broker"
	"topicbus/src/store"
)

var subscribeGroup string

// subscribeCmd prints every delivery and journals it.
var subscribeCmd = &cobra.Command{
	Use:   "subscribe TOPIC...",
	Short: "Consume topics as a group member and print each message",
	Long: `Joins the consumer group (GROUP_ID or --group), reads the topics from the
earliest uncommitted offset and prints one line per message until interrupted.

Deliveries are journaled to Postgres when POSTGRES_DSN is set.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		log := consoleLogger(appConfig)
		rt := newRuntime(appConfig, useLocal, log)
		defer rt.Close()

		group := subscribeGroup
		if group == "" {
			group = appConfig.GroupID
		}

		journal, err := rt.openJournal(ctx)
		if err != nil {
			return err
		}
		defer journal.Close()

		handler := broker.Chain(
			printHandler(cmd.OutOrStdout()),
			store.Handler(journal, group),
		)
		sub, err := rt.bus.NewSubscriber(ctx,
			broker.GroupIdentity{ClientID: appConfig.ClientID, GroupID: group},
			args, handler)
		if err != nil {
			return err
		}
		defer broker.ShutdownAll(sub)

		log.Info("Subscribed to %v as group %s", args, group)
		select {
		case <-ctx.Done():
			log.Info("Shutdown signal received, stopping subscriber...")
		case <-sub.Done():
		}
		return nil
	},
}

func init() {
	subscribeCmd.Flags().StringVar(&subscribeGroup, "group", "", "consumer group (default from GROUP_ID)")
}

// printHandler writes one line per message: topic[partition]@offset key value.
func printHandler(w io.Writer) broker.Handler {
	var mu sync.Mutex
	return broker.HandlerFunc(func(ctx context.Context, msg broker.Message) error {
		mu.Lock()
		defer mu.Unlock()
		_, err := fmt.Fprintln(w, formatDelivery(msg))
		return err
	})
}

func formatDelivery(msg broker.Message) string {
	if len(msg.Key) == 0 {
		return fmt.Sprintf("%s[%d]@%d %s", msg.Topic, msg.Partition, msg.Offset, msg.Value)
	}
	return fmt.Sprintf("%s[%d]@%d key=%s %s", msg.Topic, msg.Partition, msg.Offset, msg.Key, msg.Value)
}
