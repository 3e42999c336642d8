package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"topicbus/src/broker"
)

// maxDocumentSize bounds one newline-delimited document read from stdin.
const maxDocumentSize = 4 << 20

var publishKey string

// provisionCmd creates topics with the configured partition and replication counts.
var provisionCmd = &cobra.Command{
	Use:   "provision TOPIC...",
	Short: "Create topics if they do not exist",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		log := consoleLogger(appConfig)
		rt := newRuntime(appConfig, useLocal, log)
		defer rt.Close()

		policy := appConfig.TopicPolicy()
		if err := rt.bus.Provisioner(appConfig.ClientID+"-admin").EnsureTopics(cmd.Context(), args...); err != nil {
			return err
		}
		for _, topic := range args {
			fmt.Fprintf(cmd.OutOrStdout(), "%s (partitions=%d, replication=%d)\n",
				topic, policy.Partitions, policy.ReplicationFactor)
		}
		return nil
	},
}

// publishCmd sends one JSON document, or one per stdin line.
var publishCmd = &cobra.Command{
	Use:   "publish TOPIC [JSON]",
	Short: "Publish JSON documents to a topic",
	Long: `Publishes the JSON document given as the second argument. Without it,
every non-empty line read from stdin is published as a separate document.

Example:
  topicbus publish orders '{"id":1,"total":9.99}'
  cat events.jsonl | topicbus publish events`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		topic := args[0]

		var docs [][]byte
		var err error
		if len(args) == 2 {
			docs, err = readDocuments(bytes.NewReader([]byte(args[1])))
		} else {
			if stdinIsTerminal() {
				fmt.Fprintln(cmd.ErrOrStderr(), "Reading JSON documents from stdin, one per line (Ctrl+D to finish)")
			}
			docs, err = readDocuments(cmd.InOrStdin())
		}
		if err != nil {
			return err
		}
		if len(docs) == 0 {
			return fmt.Errorf("nothing to publish")
		}

		log := consoleLogger(appConfig)
		rt := newRuntime(appConfig, useLocal, log)
		defer rt.Close()

		pub, err := rt.bus.NewPublisher(cmd.Context(), topic, appConfig.ClientID)
		if err != nil {
			return err
		}
		defer broker.ShutdownAll(pub)

		var key []byte
		if publishKey != "" {
			key = []byte(publishKey)
		}
		for i, doc := range docs {
			if err := pub.PublishRaw(cmd.Context(), key, doc); err != nil {
				return fmt.Errorf("document %d: %w", i+1, err)
			}
		}
		log.Info("Published %d document(s) to %s", len(docs), topic)
		return nil
	},
}

func init() {
	publishCmd.Flags().StringVar(&publishKey, "key", "", "partition key for every document")
}

// readDocuments splits r into newline-delimited JSON documents, skipping
// blank lines. A document that is not valid JSON fails the whole read.
func readDocuments(r io.Reader) ([][]byte, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxDocumentSize)

	var docs [][]byte
	line := 0
	for scanner.Scan() {
		line++
		doc := bytes.TrimSpace(scanner.Bytes())
		if len(doc) == 0 {
			continue
		}
		if !json.Valid(doc) {
			return nil, fmt.Errorf("line %d is not valid JSON", line)
		}
		docs = append(docs, bytes.Clone(doc))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read input: %w", err)
	}
	return docs, nil
}

// stdinIsTerminal reports whether stdin is interactive.
func stdinIsTerminal() bool {
	info, err := os.Stdin.Stat()
	return err == nil && info.Mode()&os.ModeCharDevice != 0
}
