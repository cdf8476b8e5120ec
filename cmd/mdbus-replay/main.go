// Command mdbus-replay replays a recorded event log onto a fresh bus,
// either as fast as possible or paced to the recording's original timing.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/quantbus/mdbus/bus"
	"github.com/quantbus/mdbus/client/replay"
	"github.com/quantbus/mdbus/client/strategy"
)

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mdbus-replay [path]",
		Short: "Replay a recorded event log onto a fresh event bus",
		Args:  cobra.ExactArgs(1),
		RunE:  runReplay,
	}
	cmd.Flags().Bool("realtime", false, "pace replay to the recording's original timing")
	cmd.Flags().String("topic", "", "only replay this topic (e.g. MD_TICK)")
	cmd.Flags().String("symbol", "", "only replay this symbol")

	viper.SetEnvPrefix("MDBUS")
	viper.AutomaticEnv()
	_ = viper.BindPFlags(cmd.Flags())

	return cmd
}

func runReplay(cmd *cobra.Command, args []string) error {
	zl, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("mdbus-replay: building logger: %w", err)
	}
	defer zl.Sync()
	logger := bus.NewZapLogger(zl)

	b := bus.NewEventBus(bus.Config{IngressCapacity: 4096, SubscriberCapacity: 4096, Logger: logger})
	defer b.Stop()

	mgr := strategy.NewManager(b, logger)
	mgr.Start()
	defer mgr.Stop()

	r := replay.Open(args[0])
	var f replay.Filter
	if topic := viper.GetString("topic"); topic != "" {
		t, ok := topicByName(topic)
		if !ok {
			return fmt.Errorf("mdbus-replay: unknown topic %q", topic)
		}
		f.FilterByTopic = true
		f.Topic = t
	}
	if symbol := viper.GetString("symbol"); symbol != "" {
		f.FilterBySymbol = true
		f.Symbol = symbol
	}
	r.SetFilter(f)

	var n int
	if viper.GetBool("realtime") {
		n, err = r.ReplayRealtime(b)
	} else {
		n, err = r.ReplayFast(b)
	}
	if err != nil {
		return fmt.Errorf("mdbus-replay: %w", err)
	}

	time.Sleep(100 * time.Millisecond)
	logger.Info("mdbus-replay: done", "events", n)
	b.PrintStats()
	return nil
}

func topicByName(name string) (bus.Topic, bool) {
	for t := bus.Topic(0); t.Valid(); t++ {
		if t.String() == name {
			return t, true
		}
	}
	return 0, false
}
