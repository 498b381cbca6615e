package feed

import (
	"encoding/json"

	"github.com/stormfeed/stormfeed/internal/config"
	"github.com/stormfeed/stormfeed/internal/decode"
)

// LightningOptions builds the connector options for the lightning feed.
// The handshake is the upstream's subscribe control frame.
func LightningOptions(cfg config.FeedConfig) Options {
	return Options{
		Name:      "lightning",
		Endpoints: cfg.Endpoints,
		Handshake: []byte(`{"a":111}`),
		Reconnect: cfg.Reconnect(),
		Decode:    decode.Lightning,
	}
}

// VesselOptions builds the connector options for the vessel feed. The
// handshake carries the credential and a world-spanning bounding box.
func VesselOptions(cfg config.FeedConfig) Options {
	handshake, _ := json.Marshal(struct {
		APIKey        string         `json:"APIKey"`
		BoundingBoxes [][][2]float64 `json:"BoundingBoxes"`
	}{
		APIKey:        cfg.APIKey,
		BoundingBoxes: [][][2]float64{{{-90, -180}, {90, 180}}},
	})

	return Options{
		Name:      "vessel",
		Endpoints: cfg.Endpoints,
		Handshake: handshake,
		Reconnect: cfg.Reconnect(),
		Decode:    decode.Vessel,
	}
}
