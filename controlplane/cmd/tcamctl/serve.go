package main

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/yanet-platform/tcam/common/go/xcmd"
	"github.com/yanet-platform/tcam/controlplane/yntcam"
)

func runServe(ctx context.Context, cmd Cmd, path string) error {
	cfg, director, log, err := setup(cmd)
	if err != nil {
		return err
	}
	defer log.Sync()

	if path != "" {
		script, err := yntcam.LoadScript(path, cfg.ScriptSizeLimit)
		if err != nil {
			return err
		}
		if _, err := director.Replay(ctx, script); err != nil {
			return err
		}
		log.Infof("replayed %d steps from %q", len(script.Steps), path)
	}

	wg, ctx := errgroup.WithContext(ctx)
	wg.Go(func() error {
		return director.Serve(ctx)
	})
	wg.Go(func() error {
		err := xcmd.WaitInterrupted(ctx)
		log.Infof("caught signal: %v", err)
		return err
	})

	if err := wg.Wait(); err != nil && !xcmd.IsInterrupted(err) {
		return err
	}

	return nil
}
