// Package engine defines the boundary to the simulation computation and
// owns the configuration schema. The queue layer treats job configs as
// opaque blobs; only code in this package looks inside them.
package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"dronesim/internal/store"
)

// ProgressFunc receives progress percentages in [0, 100] as a run
// advances. Implementations of Engine call it at most once per step and
// never out of order.
type ProgressFunc func(percent int)

// Engine turns a job's config into a result document or a failure. Run
// blocks for the full duration of the simulation.
type Engine interface {
	Run(ctx context.Context, config store.Document, onProgress ProgressFunc) (store.Document, error)
}

// RadioConfig mirrors the radio settings block of a simulation config.
type RadioConfig struct {
	Frequency float64 `json:"frequency"`
	Bandwidth float64 `json:"bandwidth"`
}

// AntennaConfig mirrors the antenna array block of a simulation config.
type AntennaConfig struct {
	NumRows           int     `json:"num_rows"`
	NumCols           int     `json:"num_cols"`
	VerticalSpacing   float64 `json:"vertical_spacing"`
	HorizontalSpacing float64 `json:"horizontal_spacing"`
	Pattern           string  `json:"pattern"`
	Polarization      string  `json:"polarization"`
}

// Motion describes how a drone moves across simulation steps.
type Motion struct {
	MotionType  string    `json:"motion_type"`
	Radius      float64   `json:"radius"`
	EndPosition []float64 `json:"end_position,omitempty"`
}

// Drone is one transmitter/receiver platform in the scene.
type Drone struct {
	Location  []float64 `json:"location"`
	HasMotion bool      `json:"has_motion"`
	Motion    *Motion   `json:"motion,omitempty"`
}

// Config is the parsed form of a job's configuration document.
type Config struct {
	JobID           string        `json:"job_id"`
	SceneName       string        `json:"scene_name"`
	SimulationSteps int           `json:"simulation_steps"`
	MoveTogether    bool          `json:"move_together"`
	AntennaConfigs  AntennaConfig `json:"antenna_configs"`
	RadioConfigs    RadioConfig   `json:"radio_configs"`
	Drones          []Drone       `json:"drones"`
}

const defaultSimulationSteps = 5

// ParseConfig decodes and validates a config document.
func ParseConfig(doc store.Document) (*Config, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("config is not serializable: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("malformed config: %w", err)
	}

	if cfg.SceneName == "" {
		return nil, fmt.Errorf("config missing scene_name")
	}
	if len(cfg.Drones) == 0 {
		return nil, fmt.Errorf("config has no drones")
	}
	if cfg.SimulationSteps <= 0 {
		cfg.SimulationSteps = defaultSimulationSteps
	}

	for i, drone := range cfg.Drones {
		if len(drone.Location) != 3 {
			return nil, fmt.Errorf("drone %d: location must have 3 coordinates", i)
		}
		if !drone.HasMotion {
			continue
		}
		if drone.Motion == nil {
			return nil, fmt.Errorf("drone %d: has_motion set but no motion block", i)
		}
		switch drone.Motion.MotionType {
		case "line":
			if len(drone.Motion.EndPosition) != 3 {
				return nil, fmt.Errorf("drone %d: line motion requires a 3D end_position", i)
			}
		case "circle":
			if drone.Motion.Radius <= 0 {
				return nil, fmt.Errorf("drone %d: circle motion requires a positive radius", i)
			}
		default:
			return nil, fmt.Errorf("drone %d: unknown motion_type %q", i, drone.Motion.MotionType)
		}
	}

	return &cfg, nil
}
