package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/motovia/dispatch/config"
	"github.com/motovia/dispatch/infra/bus"
	"github.com/motovia/dispatch/infra/logger"
)

var (
	orderLat  float64
	orderLon  float64
	orderTags []string
)

var orderCmd = &cobra.Command{
	Use:   "order",
	Short: "Inject a test order on the broker",
	RunE:  injectOrder,
}

func init() {
	orderCmd.Flags().Float64Var(&orderLat, "lat", 48.8675, "pickup latitude")
	orderCmd.Flags().Float64Var(&orderLon, "lon", 2.3639, "pickup longitude")
	orderCmd.Flags().StringSliceVar(&orderTags, "tag", nil, "required capability tags")
	rootCmd.AddCommand(orderCmd)
}

func injectOrder(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logg := logger.New("order-command")
	client, err := bus.Dial(cfg.Bus, logg)
	if err != nil {
		return fmt.Errorf("broker: %w", err)
	}
	defer func() {
		if err := client.Close(); err != nil {
			logg.Errorf("broker close: %v", err)
		}
	}()

	msg := bus.OrderCreatedMessage{
		OrderID:   uuid.NewString(),
		Pickup:    bus.PointDTO{Lat: orderLat, Lon: orderLon},
		Tags:      orderTags,
		CreatedAt: time.Now(),
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal order: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.Publish(ctx, bus.KeyOrderCreated, body); err != nil {
		return fmt.Errorf("publish order: %w", err)
	}
	logg.Infof("order %s published", msg.OrderID)
	return nil
}
