package engine

import (
	"context"
	"fmt"
	"math"

	"dronesim/internal/store"
)

// Trajectory is the sequence of positions one drone occupies, one per
// simulation step.
type Trajectory [][]float64

// polarToCartesian converts a radius and angle in degrees to x/y offsets,
// rounded to centimeters to match the scene coordinate precision.
func polarToCartesian(radius, degree float64) (float64, float64) {
	rad := degree * math.Pi / 180
	x := math.Round(radius*math.Cos(rad)*100) / 100
	y := math.Round(radius*math.Sin(rad)*100) / 100
	return x, y
}

// CalculateTrajectories expands each drone's motion profile into per-step
// positions. Line motion interpolates linearly from the start location to
// end_position. Circle motion walks the circle whose center sits one
// radius along +x from the drone, starting at the leftmost point (180
// degrees) so step 0 is the drone's own location. Static drones repeat
// their location.
func CalculateTrajectories(drones []Drone, steps int) []Trajectory {
	trajectories := make([]Trajectory, 0, len(drones))
	for _, drone := range drones {
		trajectories = append(trajectories, droneTrajectory(drone, steps))
	}
	return trajectories
}

func droneTrajectory(drone Drone, steps int) Trajectory {
	if !drone.HasMotion || drone.Motion == nil {
		path := make(Trajectory, steps)
		for i := range path {
			path[i] = append([]float64(nil), drone.Location...)
		}
		return path
	}

	switch drone.Motion.MotionType {
	case "line":
		return linePath(drone.Location, drone.Motion.EndPosition, steps)
	case "circle":
		return circlePath(drone.Location, drone.Motion.Radius, steps)
	default:
		// ParseConfig rejects unknown motion types before runs start.
		path := make(Trajectory, steps)
		for i := range path {
			path[i] = append([]float64(nil), drone.Location...)
		}
		return path
	}
}

func linePath(start, end []float64, steps int) Trajectory {
	path := make(Trajectory, 0, steps)
	if steps == 1 {
		return append(path, append([]float64(nil), start...))
	}
	for i := 0; i < steps; i++ {
		t := float64(i) / float64(steps-1)
		point := make([]float64, len(start))
		for axis := range start {
			point[axis] = start[axis] + t*(end[axis]-start[axis])
		}
		path = append(path, point)
	}
	return path
}

func circlePath(location []float64, radius float64, steps int) Trajectory {
	x, y, z := location[0], location[1], location[2]
	centerX := x + radius
	centerY := y
	angleStep := 360.0 / float64(steps)

	path := make(Trajectory, 0, steps)
	for i := 0; i < steps; i++ {
		angle := 180 + float64(i)*angleStep
		dx, dy := polarToCartesian(radius, angle)
		path = append(path, []float64{centerX + dx, centerY + dy, z})
	}
	return path
}

// Local is the built-in engine. It expands motion profiles into per-step
// drone positions and returns them as the result document, reporting
// progress after each step. The RF solver itself runs out of process; this
// engine covers development, tests and deployments that only need
// placement playback.
type Local struct{}

// NewLocal creates the built-in trajectory engine.
func NewLocal() *Local {
	return &Local{}
}

func (l *Local) Run(ctx context.Context, config store.Document, onProgress ProgressFunc) (store.Document, error) {
	cfg, err := ParseConfig(config)
	if err != nil {
		return nil, err
	}

	steps := cfg.SimulationSteps
	trajectories := CalculateTrajectories(cfg.Drones, steps)

	stepResults := make([]store.Document, 0, steps)
	for step := 0; step < steps; step++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("simulation aborted at step %d: %w", step, err)
		}

		positions := make([][]float64, 0, len(trajectories))
		for _, path := range trajectories {
			positions = append(positions, path[step])
		}
		stepResults = append(stepResults, store.Document{
			"step":   step,
			"drones": positions,
		})

		if onProgress != nil {
			onProgress((step + 1) * 100 / steps)
		}
	}

	return store.Document{
		"job_id":     cfg.JobID,
		"scene_name": cfg.SceneName,
		"steps":      stepResults,
	}, nil
}
