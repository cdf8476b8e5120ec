// Command mdbus-demo drives a small in-process scenario against the bus:
// a handful of ticks and orders flow through an order router while
// subscribers log trades and rejects as they arrive.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/quantbus/mdbus/bus"
	"github.com/quantbus/mdbus/client/orderrouter"
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
		Use:   "mdbus-demo",
		Short: "Run a small order-flow scenario against the event bus",
		RunE:  runDemo,
	}
	cmd.Flags().Int("ingress-capacity", 1024, "ingress queue capacity")
	cmd.Flags().Int("sub-capacity", 1024, "per-subscriber queue capacity")
	cmd.Flags().Bool("trace", true, "trace the order router's decisions")
	cmd.Flags().Bool("debug", false, "enable debug-level logging")

	viper.SetEnvPrefix("MDBUS")
	viper.AutomaticEnv()
	_ = viper.BindPFlags(cmd.Flags())

	return cmd
}

func runDemo(cmd *cobra.Command, _ []string) error {
	var zapCfg zap.Config
	if viper.GetBool("debug") {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}
	zl, err := zapCfg.Build()
	if err != nil {
		return fmt.Errorf("mdbus-demo: building logger: %w", err)
	}
	defer zl.Sync()
	logger := bus.NewZapLogger(zl)

	b := bus.NewEventBus(bus.Config{
		IngressCapacity:    viper.GetInt("ingress-capacity"),
		SubscriberCapacity: viper.GetInt("sub-capacity"),
		Logger:             logger,
		PerfEnabled:        true,
	})
	defer b.Stop()

	subTr, _ := b.Subscribe(bus.Trade, func(e *bus.Event) {
		tr := e.Payload.(bus.TradeMsg)
		logger.Info("trade", "order_id", tr.OrderID, "trade_id", tr.TradeID,
			"symbol", tr.Symbol, "side", tr.Side.String(), "qty", tr.Qty, "price", tr.Price)
	})
	subRj, _ := b.Subscribe(bus.Reject, func(e *bus.Event) {
		r := e.Payload.(bus.RejectMsg)
		logger.Info("reject", "order_id", r.OrderID, "symbol", r.Symbol, "code", r.Code, "reason", r.Reason)
	})
	defer b.Unsubscribe(subTr)
	defer b.Unsubscribe(subRj)

	router := orderrouter.New(b, viper.GetBool("trace"), logger)
	defer router.Stop()

	b.Publish(bus.MakeEvent(bus.MDTick, bus.Tick{Symbol: "NIFTY", Price: 22500.0}))
	b.Publish(bus.MakeEvent(bus.Order, bus.OrderMsg{OrderID: 1, Symbol: "NIFTY", Side: bus.Buy, Type: bus.Market, Qty: 10}))
	b.Publish(bus.MakeEvent(bus.Order, bus.OrderMsg{OrderID: 2, Symbol: "NIFTY", Side: bus.Buy, Type: bus.Limit, Qty: 10, Price: 22400.0}))
	b.Publish(bus.MakeEvent(bus.Order, bus.OrderMsg{OrderID: 3, Symbol: "NIFTY", Side: bus.Buy, Type: bus.Limit, Qty: 10, Price: 22600.0}))
	b.Publish(bus.MakeEvent(bus.MDTick, bus.Tick{Symbol: "NIFTY", Price: 22520.0}))
	b.Publish(bus.MakeEvent(bus.Order, bus.OrderMsg{OrderID: 4, Symbol: "NIFTY", Side: bus.Sell, Type: bus.Limit, Qty: 5, Price: 22550.0}))
	b.Publish(bus.MakeEvent(bus.Order, bus.OrderMsg{OrderID: 5, Symbol: "NIFTY", Side: bus.Sell, Type: bus.Limit, Qty: 5, Price: 22500.0}))

	time.Sleep(200 * time.Millisecond)

	b.PrintStats()
	return nil
}
