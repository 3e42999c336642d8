package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"topicbus/src/broker"
	"topicbus/src/logger"
	"topicbus/src/tui"
)

var watchDemo bool

type subscribeResult struct {
	sub *broker.Subscriber
	err error
}

// watchCmd shows the latest value of each topic in a TUI.
var watchCmd = &cobra.Command{
	Use:   "watch TOPIC...",
	Short: "Show the latest value of each topic in an interactive table",
	Long: `Consumes the topics into a last-value cache and shows one row per topic.

With --demo, an in-process broker is fed sample documents on the topics
orders, prices.fx and news.summaries; TOPIC arguments are optional.`,
	Args: func(cmd *cobra.Command, args []string) error {
		if watchDemo {
			return nil
		}
		return cobra.MinimumNArgs(1)(cmd, args)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		if watchDemo && len(args) == 0 {
			args = demoTopicNames()
		}

		// TUI mode needs a quiet bus so logs don't corrupt the display
		rt := newRuntime(appConfig, useLocal || watchDemo, logger.NewSilentLogger())
		defer rt.Close()

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		cache := broker.NewCache(logger.NewSilentLogger(), rt.metrics)
		updates, stopWatch := cache.Watch(args...)
		defer stopWatch()

		model := tui.NewWatchModel(rt.source, updates)
		p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))

		results := make(chan subscribeResult, 1)
		go func() {
			p.Send(tui.ProgressMsg{Stage: "Connecting", Current: 0, Total: 1})
			sub, err := rt.bus.NewSubscriber(ctx,
				broker.GroupIdentity{ClientID: appConfig.ClientID, GroupID: appConfig.GroupID + "-watch"},
				args, cache)
			results <- subscribeResult{sub: sub, err: err}
			if err != nil {
				p.Quit()
				return
			}
			p.Send(tui.ProgressMsg{Stage: "complete", Current: 1, Total: 1})
		}()

		if watchDemo {
			go func() {
				if err := runDemoFeed(ctx, rt.bus, appConfig.ClientID, 400*time.Millisecond); err != nil {
					p.Quit()
				}
			}()
		}

		_, runErr := p.Run()
		cancel()
		res := <-results

		if err := broker.ShutdownAll(res.sub); err != nil {
			return err
		}
		if res.err != nil && !errors.Is(res.err, context.Canceled) {
			return fmt.Errorf("subscribe failed: %w", res.err)
		}
		if runErr != nil && !errors.Is(runErr, tea.ErrProgramKilled) {
			return fmt.Errorf("TUI error: %w", runErr)
		}
		return nil
	},
}

func init() {
	watchCmd.Flags().BoolVar(&watchDemo, "demo", false, "feed sample documents through an in-process broker")
}
