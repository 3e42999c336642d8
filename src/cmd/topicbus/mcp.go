package main

import (
	"github.com/spf13/cobra"

	"topicbus/src/broker"
	"topicbus/src/logger"
	"topicbus/src/mcp"
	"topicbus/src/store"
)

// mcpCmd serves the cache and publishers to an MCP client over stdio.
var mcpCmd = &cobra.Command{
	Use:   "mcp [TOPIC...]",
	Short: "Serve topics over the Model Context Protocol (stdio)",
	Long: `Starts an MCP server on stdin/stdout with the tools list_topics,
get_latest, publish and recent_deliveries. The named topics are consumed into
the last-value cache so get_latest can answer for them.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		// stdout is the MCP transport
		log := logger.NewStderrLogger(appConfig.Level())
		rt := newRuntime(appConfig, useLocal, log)
		defer rt.Close()

		journal, err := rt.openJournal(ctx)
		if err != nil {
			return err
		}
		defer journal.Close()

		group := appConfig.GroupID + "-mcp"
		cache := broker.NewCache(log, rt.metrics)
		pool := mcp.NewPublisherPool(rt.bus, appConfig.ClientID+"-mcp")
		server := mcp.NewServer(cache, pool, mcp.WithJournal(journal), mcp.WithLogger(log))

		var sub *broker.Subscriber
		if len(args) > 0 {
			sub, err = rt.bus.NewSubscriber(ctx,
				broker.GroupIdentity{ClientID: appConfig.ClientID + "-mcp", GroupID: group},
				args, broker.Chain(cache, store.Handler(journal, group)))
			if err != nil {
				return err
			}
		}
		defer broker.ShutdownAll(sub, server)

		log.Info("MCP server ready on stdio")
		return server.Run()
	},
}
