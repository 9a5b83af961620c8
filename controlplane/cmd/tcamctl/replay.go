package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/gobwas/glob"

	"github.com/yanet-platform/tcam/controlplane/yntcam"
)

var (
	okColor   = color.New(color.FgGreen)
	failColor = color.New(color.FgRed)
	noteColor = color.New(color.FgYellow)
)

func runReplay(ctx context.Context, cmd Cmd, path string) error {
	users, err := glob.Compile(cmd.Users)
	if err != nil {
		return fmt.Errorf("invalid user pattern %q: %w", cmd.Users, err)
	}

	cfg, director, log, err := setup(cmd)
	if err != nil {
		return err
	}
	defer log.Sync()

	script, err := yntcam.LoadScript(path, cfg.ScriptSizeLimit)
	if err != nil {
		return err
	}

	results, replayErr := director.Replay(ctx, script)
	for idx, result := range results {
		fmt.Println(formatResult(director, idx, &result))
	}

	for _, name := range director.Registry().Tables() {
		if err := printTable(director, name, users, cmd.Journal); err != nil {
			return err
		}
	}

	return replayErr
}

func formatResult(director *yntcam.Director, idx int, result *yntcam.Result) string {
	step := result.Step

	b := strings.Builder{}
	fmt.Fprintf(&b, "%3d %-6s %s %s", idx, step.Op, step.Table, step.Identity())
	switch {
	case result.Err == nil:
		b.WriteString(" " + okColor.Sprint("ok"))
	case step.Expect != "":
		b.WriteString(" " + noteColor.Sprintf("failed as expected: %v", result.Err))
	default:
		b.WriteString(" " + failColor.Sprintf("failed: %v", result.Err))
	}

	if result.Rule != nil {
		fmt.Fprintf(&b, " %s", director.Describe(step.Table, *result.Rule))
	}
	if result.Counter != nil {
		fmt.Fprintf(&b, " counter=%d", *result.Counter)
	}

	return b.String()
}

func printTable(director *yntcam.Director, name string, users glob.Glob, journal bool) error {
	table, err := director.Registry().Table(name)
	if err != nil {
		return err
	}

	fmt.Printf("\ntable %s: %d free slots, free boundary %d\n", name, table.FreeSlots(), table.FreeBoundary())
	for _, p := range table.Placements() {
		if !users.Match(p.User.String()) {
			continue
		}
		fmt.Printf("  [%4d..%4d] %s\n", p.Base, p.Top(), p.Identity)
	}

	if !journal {
		return nil
	}

	dev, err := director.Device(name)
	if err != nil {
		return err
	}
	for _, c := range dev.Mutations() {
		fmt.Printf("  %s\n", noteColor.Sprint(c))
	}

	return nil
}
