package tuning

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version"`

	ViewRadius    int   `yaml:"view_radius"`
	ProximityD    int   `yaml:"proximity_d"`
	ParcelSize    int   `yaml:"parcel_size"`
	ParcelPrice   int64 `yaml:"parcel_price"`
	StartingCoins int64 `yaml:"starting_coins"`

	GraceWindowSec int `yaml:"grace_window_sec"`
	ClientQueueMax int `yaml:"client_queue_max"`

	RateLimits RateLimits `yaml:"rate_limits"`
}

type RateLimits struct {
	Enabled         bool `yaml:"enabled"`
	BuyCapacity     int  `yaml:"buy_capacity"`
	BuyRefillTokens int  `yaml:"buy_refill_tokens"`
	BuyRefillMs     int  `yaml:"buy_refill_ms"`
	KeyTTLSec       int  `yaml:"key_ttl_sec"`
}

func (t Tuning) GraceWindow() time.Duration {
	return time.Duration(t.GraceWindowSec) * time.Second
}

func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if t.ViewRadius < 0 || t.ParcelSize <= 0 || t.ParcelPrice < 0 || t.ProximityD < 0 {
		return t, fmt.Errorf("tuning.yaml: invalid values")
	}
	return t, nil
}

func Defaults() Tuning {
	return Tuning{
		ProtocolVersion: "1.0",
		ViewRadius:      2,
		ProximityD:      20,
		ParcelSize:      16,
		ParcelPrice:     100,
		StartingCoins:   500,
		GraceWindowSec:  30,
		ClientQueueMax:  32,
		RateLimits: RateLimits{
			Enabled:         false,
			BuyCapacity:     5,
			BuyRefillTokens: 1,
			BuyRefillMs:     1000,
			KeyTTLSec:       120,
		},
	}
}
