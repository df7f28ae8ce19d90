package main

import (
	"context"
	"flag"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
	goutils "go.viam.com/utils"

	"dualarm"
)

func main() {
	if err := realMain(); err != nil {
		panic(err)
	}
}

func realMain() error {
	var (
		configPath      = flag.String("config", "workspace.json", "workspace configuration file")
		calibrationPath = flag.String("calibration", "calibration.json", "camera calibration file")
		port            = flag.String("port", "", "serial port (empty = discover)")
		targetX         = flag.Float64("x", 500, "target X on the normalized 0-1000 vision grid")
		targetY         = flag.Float64("y", 500, "target Y on the normalized 0-1000 vision grid")
		targetZ         = flag.Float64("z", 20, "target height above the workspace plane, mm")
		orientation     = flag.Float64("orientation", 0, "gripper roll in degrees")
		duration        = flag.Duration("duration", 2*time.Second, "motion duration")
		dryRun          = flag.Bool("dry-run", false, "solve and print, do not actuate")
	)
	flag.Parse()

	ctx := context.Background()
	logger := logging.NewLogger("armctl")

	cache := dualarm.NewConfigCache(*configPath)
	cfg, err := cache.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load workspace configuration")
	}

	// Dispatch on the normalized grid, then map the target into the chosen
	// arm's frame via its camera calibration.
	role := dualarm.ArmForTarget(*targetX)
	logger.Infof("target (%.0f, %.0f) dispatched to %s", *targetX, *targetY, role)

	arm, err := cfg.Arm(role)
	if err != nil {
		return err
	}

	store := dualarm.NewCalibrationStore(*calibrationPath, cfg, logger)
	cal, err := store.GetForRole(role)
	if err != nil {
		return errors.Wrapf(err, "no usable calibration for %s", role)
	}

	robotPt, err := dualarm.GeminiToRobot(*targetX, *targetY, cal.HomographyMatrix,
		cal.Resolution.Width, cal.Resolution.Height)
	if err != nil {
		return errors.Wrap(err, "target projection failed")
	}
	logger.Infof("robot-frame target: (%.1f, %.1f, %.1f) mm", robotPt.X, robotPt.Y, *targetZ)

	solver := dualarm.NewKinematicsSolver(role, arm, logger)
	targets, err := solver.ComputeIKForMotion(robotPt.X, robotPt.Y, *targetZ, orientation)
	if err != nil {
		return errors.Wrap(err, "target unreachable")
	}
	if err := dualarm.CheckJointLimits(targets); err != nil {
		return err
	}
	for _, tgt := range targets {
		logger.Infof("  %-12s ch=%d  %.1f deg", tgt.Joint, tgt.Channel, tgt.Angle)
	}
	if *dryRun {
		logger.Info("dry run, not actuating")
		return nil
	}

	portPath := *port
	if portPath == "" {
		found, err := dualarm.DiscoverControllers(ctx, logger)
		if err != nil {
			return err
		}
		if len(found) == 0 {
			return errors.New("no servo controller found; pass -port explicitly")
		}
		portPath = found[0]
	}

	registry := dualarm.NewLinkRegistry(logger)
	link, err := registry.Acquire(portPath)
	if err != nil {
		return err
	}
	defer registry.Release(portPath)

	pumpCtx, stopPump := context.WithCancel(ctx)
	defer stopPump()
	goutils.PanicCapturingGo(func() {
		if err := link.Protocol.RunPump(pumpCtx, link.State, dualarm.DefaultDrainInterval); err != nil && pumpCtx.Err() == nil {
			logger.Errorf("actuation pump failed: %v", err)
		}
	})

	angles := make(map[int]float64, len(targets))
	for _, tgt := range targets {
		angles[tgt.Channel] = tgt.Angle
	}

	planner := dualarm.NewMotionPlanner(link.State, logger)
	done := make(chan struct{})
	planner.MoveAll(angles, *duration, func() { close(done) })

	select {
	case <-done:
		logger.Info("motion complete")
	case <-time.After(*duration + 2*time.Second):
		logger.Warn("motion did not complete in time")
	}
	// Let the pump flush the final step before tearing down.
	time.Sleep(2 * dualarm.DefaultDrainInterval)
	planner.Stop()

	return nil
}
