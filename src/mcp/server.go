package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"topicbus/src/broker"
	"topicbus/src/logger"
	"topicbus/src/store"
)

// Server is the MCP server for topicbus.
type Server struct {
	mcpServer *server.MCPServer
	cache     *broker.Cache
	pool      *PublisherPool
	journal   store.Journal
	logger    logger.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithJournal enables the recent_deliveries tool.
func WithJournal(j store.Journal) Option {
	return func(s *Server) { s.journal = j }
}

// WithLogger sets the server logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// NewServer creates a new MCP server reading from cache and publishing
// through pool. pool may be nil for a read-only server.
func NewServer(cache *broker.Cache, pool *PublisherPool, opts ...Option) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer(
			"topicbus",
			"1.0.0",
			server.WithToolCapabilities(true),
		),
		cache:  cache,
		pool:   pool,
		logger: logger.NewSilentLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registerTools()
	return s
}

// registerTools registers all available tools.
func (s *Server) registerTools() {
	listTool := mcp.NewTool("list_topics",
		mcp.WithDescription("List the topics that have received at least one message, with the partition and offset of the latest one."),
	)

	latestTool := mcp.NewTool("get_latest",
		mcp.WithDescription("Get the most recent JSON value published on a topic."),
		mcp.WithString("topic",
			mcp.Required(),
			mcp.Description("Topic name, e.g. news.summaries"),
		),
	)

	s.mcpServer.AddTool(listTool, s.handleListTopics)
	s.mcpServer.AddTool(latestTool, s.handleGetLatest)

	if s.pool != nil {
		publishTool := mcp.NewTool("publish",
			mcp.WithDescription("Publish a JSON document to a topic. The topic is created if it does not exist."),
			mcp.WithString("topic",
				mcp.Required(),
				mcp.Description("Topic name"),
			),
			mcp.WithString("payload",
				mcp.Required(),
				mcp.Description("JSON document to publish"),
			),
		)
		s.mcpServer.AddTool(publishTool, s.handlePublish)
	}

	if s.journal != nil {
		recentTool := mcp.NewTool("recent_deliveries",
			mcp.WithDescription("List recently consumed messages from the delivery journal, newest first."),
			mcp.WithString("topic",
				mcp.Description("Only deliveries for this topic (default: all topics)"),
			),
			mcp.WithNumber("limit",
				mcp.Description("Max deliveries to return (default: 20)"),
			),
		)
		s.mcpServer.AddTool(recentTool, s.handleRecentDeliveries)
	}
}

// Run starts the MCP server on stdio.
func (s *Server) Run() error {
	return server.ServeStdio(s.mcpServer)
}

// Shutdown closes the publishers the server opened.
func (s *Server) Shutdown() error {
	return s.pool.Shutdown()
}

func (s *Server) handleListTopics(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	topics := s.cache.Topics()
	summaries := make([]TopicSummary, 0, len(topics))
	for _, topic := range topics {
		e, ok := s.cache.Entry(topic)
		if !ok {
			continue
		}
		summaries = append(summaries, summaryOf(e))
	}
	return jsonResult(summaries)
}

func (s *Server) handleGetLatest(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	topic := request.GetString("topic", "")
	if topic == "" {
		return mcp.NewToolResultError("topic parameter is required"), nil
	}

	e, ok := s.cache.Entry(topic)
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("no value received on topic %q", topic)), nil
	}
	return jsonResult(LatestValue{TopicSummary: summaryOf(e), Value: e.Raw})
}

func (s *Server) handlePublish(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	topic := request.GetString("topic", "")
	if topic == "" {
		return mcp.NewToolResultError("topic parameter is required"), nil
	}
	payload := request.GetString("payload", "")
	if !json.Valid([]byte(payload)) {
		return mcp.NewToolResultError("payload must be a JSON document"), nil
	}

	pub, err := s.pool.Get(ctx, topic)
	if err != nil {
		s.logger.Error("[MCP] Failed to open publisher for %s: %v", topic, err)
		return mcp.NewToolResultError(fmt.Sprintf("failed to connect publisher: %v", err)), nil
	}
	// The payload is already JSON; send it as is rather than re-encoding a string.
	if err := pub.PublishRaw(ctx, nil, []byte(payload)); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("publish failed: %v", err)), nil
	}

	s.logger.Info("[MCP] Published to %s", topic)
	return jsonResult(PublishResult{Topic: topic, Published: true})
}

func (s *Server) handleRecentDeliveries(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	topic := request.GetString("topic", "")
	limit := request.GetInt("limit", 20)

	deliveries, err := s.journal.Recent(ctx, topic, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to read journal: %v", err)), nil
	}

	items := make([]DeliveryItem, len(deliveries))
	for i, d := range deliveries {
		items[i] = DeliveryItem{
			GroupID:    d.GroupID,
			Partition:  d.Partition,
			Offset:     d.Offset,
			Key:        d.Key,
			Value:      d.Value,
			ReceivedAt: d.ReceivedAt,
		}
	}
	return jsonResult(items)
}

func summaryOf(e broker.Entry) TopicSummary {
	return TopicSummary{
		Topic:     e.Topic,
		Partition: e.Partition,
		Offset:    e.Offset,
		UpdatedAt: e.UpdatedAt,
	}
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	jsonBytes, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal response: %v", err)), nil
	}
	return mcp.NewToolResultText(string(jsonBytes)), nil
}
