package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// FulfillmentConfig holds shipment-dispatch policy that operators may tune
// without a redeploy: the gateway pickup location and the retry budget for
// transient gateway failures.
type FulfillmentConfig struct {
	PickupLocation string        `mapstructure:"pickupLocation"`
	MaxAttempts    int           `mapstructure:"maxAttempts"`
	BackoffBase    time.Duration `mapstructure:"backoffBase"`
	BackoffMax     time.Duration `mapstructure:"backoffMax"`
}

func DefaultFulfillmentConfig() FulfillmentConfig {
	return FulfillmentConfig{
		PickupLocation: "Primary Pickup Location",
		MaxAttempts:    3,
		BackoffBase:    500 * time.Millisecond,
		BackoffMax:     10 * time.Second,
	}
}

// FulfillmentConfigHolder serves the current policy and hot-reloads it when
// the backing file changes.
type FulfillmentConfigHolder struct {
	current atomic.Value // holds FulfillmentConfig
}

func NewFulfillmentConfigHolder() (*FulfillmentConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("fulfillment")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/boxkite/config") // Volume-mounted config
	v.AddConfigPath("/etc/boxkite")            // System config
	v.AddConfigPath(".")                       // Current directory (dev mode)

	v.SetEnvPrefix("BOXKITE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		defaults := DefaultFulfillmentConfig()
		v.SetDefault("fulfillment.pickupLocation", defaults.PickupLocation)
		v.SetDefault("fulfillment.maxAttempts", defaults.MaxAttempts)
		v.SetDefault("fulfillment.backoffBase", defaults.BackoffBase)
		v.SetDefault("fulfillment.backoffMax", defaults.BackoffMax)
	}

	var cfg FulfillmentConfig
	if err := v.UnmarshalKey("fulfillment", &cfg); err != nil {
		return nil, err
	}
	if err := validateFulfillmentConfig(cfg); err != nil {
		return nil, err
	}

	holder := &FulfillmentConfigHolder{}
	holder.current.Store(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated FulfillmentConfig
		if err := v.UnmarshalKey("fulfillment", &updated); err != nil {
			log.Printf("[fulfillment-config] reload failed: %v", err)
			return
		}
		if err := validateFulfillmentConfig(updated); err != nil {
			log.Printf("[fulfillment-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[fulfillment-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

func (h *FulfillmentConfigHolder) Get() FulfillmentConfig {
	return h.current.Load().(FulfillmentConfig)
}

// NewStaticFulfillmentConfigHolder wraps a fixed policy, for tests and for
// deployments that do not mount a config file.
func NewStaticFulfillmentConfigHolder(cfg FulfillmentConfig) *FulfillmentConfigHolder {
	holder := &FulfillmentConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func validateFulfillmentConfig(cfg FulfillmentConfig) error {
	if strings.TrimSpace(cfg.PickupLocation) == "" {
		return errors.New("fulfillment.pickupLocation cannot be empty")
	}
	if cfg.MaxAttempts <= 0 {
		return errors.New("fulfillment.maxAttempts must be positive")
	}
	if cfg.BackoffBase <= 0 {
		return errors.New("fulfillment.backoffBase must be positive")
	}
	return nil
}
