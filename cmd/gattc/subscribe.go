package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/srg/gattc/internal/gatt"
	"github.com/srg/gattc/internal/groutine"
)

// subscribeCmd represents the subscribe command
var subscribeCmd = &cobra.Command{
	Use:   "subscribe <device-address> <uuid-or-name>[,...]",
	Short: "Stream characteristic notifications",
	Long: fmt.Sprintf(`Enables notifications (or indications) and prints every value received.

Values are decoded when the characteristic is known. The stream ends on
Ctrl+C, after --count values per characteristic, or after --duration.

Examples:
  # Heart rate measurements until Ctrl+C
  gattc subscribe %s heart_rate_measurement

  # Cycling power measurement and vector, 10 values each
  gattc subscribe %s 2a63,2a64 --count 10

  # Raw hex for one minute
  gattc subscribe %s 2a37 --hex --duration 1m`,
		exampleDeviceAddress, exampleDeviceAddress, exampleDeviceAddress),
	Args: cobra.ExactArgs(2),
	RunE: runSubscribe,
}

var (
	subscribeServiceUUID string
	subscribeHex         bool
	subscribeCount       int
	subscribeDuration    time.Duration
)

func init() {
	subscribeCmd.Flags().StringVar(&subscribeServiceUUID, "service", "", "Service UUID or name (required if a characteristic is ambiguous)")
	subscribeCmd.Flags().BoolVar(&subscribeHex, "hex", false, "Print raw bytes as hex instead of decoding")
	subscribeCmd.Flags().IntVar(&subscribeCount, "count", 0, "Stop after N values per characteristic; 0 means no limit")
	subscribeCmd.Flags().DurationVar(&subscribeDuration, "duration", 0, "Stop after this long; 0 means no limit")
}

func runSubscribe(cmd *cobra.Command, args []string) error {
	address := args[0]
	keys := splitKeys(args[1])
	if len(keys) == 0 {
		return fmt.Errorf("no characteristic given")
	}
	if subscribeCount < 0 {
		return fmt.Errorf("--count must not be negative")
	}

	env, err := loadEnv(cmd)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	progress := NewProgressPrinter(fmt.Sprintf("Subscribing to %s on %s", args[1], address), "Connecting")
	progress.Start()
	defer progress.Stop()

	return withDevice(cmd, env, address, progress, func(ctx context.Context, dev *gatt.Device) error {
		chars := make([]gatt.Characteristic, 0, len(keys))
		for _, k := range keys {
			c, err := findCharacteristic(dev, subscribeServiceUUID, k)
			if err != nil {
				return err
			}
			if err := c.SetNotifying(true); err != nil {
				return err
			}
			chars = append(chars, c)
		}

		if subscribeDuration > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, subscribeDuration)
			defer cancel()
		}
		return stream(ctx, env, dev, chars, subscribeCount)
	})
}

// stream prints values from every characteristic until ctx ends, each has
// delivered count values, one of them fails, or dev loses its link.
func stream(ctx context.Context, env *runEnv, dev *gatt.Device, chars []gatt.Characteristic, count int) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		once     sync.Once
		firstErr error
	)
	for _, c := range chars {
		c := c
		groutine.GoWait(ctx, &wg, "cli-stream-"+c.UUID().Short(), func(ctx context.Context) {
			if err := streamOne(ctx, env, dev, c, count); err != nil {
				once.Do(func() {
					firstErr = err
					cancel()
				})
			}
		})
	}
	wg.Wait()
	return firstErr
}

// streamPoll bounds each wait for a value so Ctrl+C is noticed promptly.
const streamPoll = 500 * time.Millisecond

func streamOne(ctx context.Context, env *runEnv, dev *gatt.Device, c gatt.Characteristic, count int) error {
	if c.NotifyTimeout() > streamPoll {
		c.SetNotifyTimeout(streamPoll)
	}
	for n := 0; count == 0 || n < count; {
		if ctx.Err() != nil {
			return nil
		}
		var (
			v   any
			err error
		)
		if subscribeHex {
			v, err = c.Raw()
		} else {
			v, err = c.Value()
		}
		switch {
		case err == nil:
			if err := env.out.Value(c, v); err != nil {
				return err
			}
			n++
		case errors.Is(err, gatt.ErrNotifyTimeout):
			// Quiet peripheral; keep waiting while the link is up.
			if dev.State() != gatt.StateConnected {
				return ErrConnectionLost
			}
		case errors.Is(err, gatt.ErrNotConnected):
			return ErrConnectionLost
		default:
			return fmt.Errorf("%s: %w", c, err)
		}
	}
	return nil
}
