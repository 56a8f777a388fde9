// Copyright 2024 Gustavo C. Viegas. All rights reserved.

// Framesim runs simulated frame loops and reports what
// they presented.
//
// Usage:
//
//	framesim run [--config file.toml] [--env .env] [--frames N] [--chains K] [--type virtual|surface|xr]
//
// Settings not given as flags come from the config file
// and from FRAME_* environment variables.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"text/tabwriter"

	"github.com/gogpu/gputypes"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/gviegas/frame/driver"
	"github.com/gviegas/frame/driver/dx12"
	"github.com/gviegas/frame/driver/soft"
	"github.com/gviegas/frame/internal/config"
	"github.com/gviegas/frame/internal/frameloop"
	"github.com/gviegas/frame/swapchain"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "framesim",
		Short:        "Simulate frame acquisition and presentation",
		SilenceUsage: true,
	}
	root.AddCommand(newRunCmd())
	return root
}

// runFlags holds the flags of the run command.
type runFlags struct {
	config string
	env    []string
	frames int
	chains int
	typ    string
}

func newRunCmd() *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run frame loops concurrently, one swapchain each",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(f.config, f.env...)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("frames") {
				cfg.Frames = f.frames
			}
			if cmd.Flags().Changed("type") {
				cfg.Swapchain.Type = f.typ
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if f.chains <= 0 {
				return fmt.Errorf("framesim: --chains must be positive (got %d)", f.chains)
			}
			return run(cmd, cfg, f.chains)
		},
	}
	fl := cmd.Flags()
	fl.StringVarP(&f.config, "config", "c", "", "TOML configuration file")
	fl.StringSliceVar(&f.env, "env", []string{".env"}, ".env files to load")
	fl.IntVarP(&f.frames, "frames", "n", 0, "number of frames per chain")
	fl.IntVarP(&f.chains, "chains", "k", 1, "number of concurrent swapchains")
	fl.StringVarP(&f.typ, "type", "t", "", "swapchain type (virtual, surface or xr)")
	return cmd
}

func newLogger(cfg *config.Config, cmd *cobra.Command) (*logrus.Logger, error) {
	lvl, err := cfg.Level()
	if err != nil {
		return nil, err
	}
	l := logrus.New()
	l.SetOutput(cmd.ErrOrStderr())
	l.SetLevel(lvl)
	return l, nil
}

// run opens the configured driver and runs the frame
// loops.
func run(cmd *cobra.Command, cfg *config.Config, chains int) error {
	log, err := newLogger(cfg, cmd)
	if err != nil {
		return err
	}
	driver.SetLogger(log)
	defer driver.SetLogger(nil)

	gpu, err := driver.Open(cfg.Driver)
	if err != nil {
		return fmt.Errorf("framesim: %w", err)
	}
	defer gpu.Driver().Close()
	native, ok := gpu.Device().(dx12.NativeDevice)
	if !ok {
		return fmt.Errorf("framesim: driver %s has no dx12 native device: %w", gpu.Driver().Name(), driver.ErrUnsupported)
	}
	que, err := gpu.Queue(driver.CGraphics)
	if err != nil {
		return fmt.Errorf("framesim: %w", err)
	}
	info, err := cfg.SwapchainInfo()
	if err != nil {
		return err
	}
	p := frameloop.Params{
		Device:             gpu.Device(),
		Native:             native,
		Queue:              que,
		Info:               *info,
		Frames:             cfg.Frames,
		GeneralDescriptors: cfg.Heap.General,
		SamplerDescriptors: cfg.Heap.Sampler,
	}
	if dev, ok := gpu.Device().(*soft.Device); ok {
		if err := softSetup(dev, &p); err != nil {
			return err
		}
	}

	stats, err := frameloop.RunMany(cmd.Context(), chains, p)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "CHAIN\tTYPE\tIMAGES\tPRESENTED\tSKIPPED")
	for i, st := range stats {
		fmt.Fprintf(w, "%d\t%s\t%d\t%d\t%d\n", i, info.Type, st.Images, st.Presented, st.Skipped)
	}
	return w.Flush()
}

// softSetup provides the surface or compositor that the
// swapchain type requires, along with a pipeline to draw
// with.
func softSetup(dev *soft.Device, p *frameloop.Params) error {
	switch p.Info.Type {
	case swapchain.TSurface:
		p.Info.Surface = soft.NewSurface(soft.DefaultCaps())
	case swapchain.TXR:
		p.Info.Compositor = soft.NewCompositor(p.Info.ImageCount)
	}
	pi := &soft.PipelineInterface{
		Name:      "framesim",
		Params:    map[[2]int]uint32{},
		PushParam: 0,
		PushCount: 2,
		HasPush:   true,
	}
	var binds []dx12.Binding
	if p.GeneralDescriptors > 0 {
		binds = append(binds, dx12.Binding{Nr: 0, Type: dx12.DConstant, Count: 1})
		pi.Params[[2]int{0, 0}] = 1
	}
	if p.SamplerDescriptors > 0 {
		binds = append(binds, dx12.Binding{Nr: 1, Type: dx12.DSampler, Count: 1})
		pi.Params[[2]int{0, 1}] = 2
	}
	if len(binds) > 0 {
		set, err := dev.NewDescriptorSet(0, binds...)
		if err != nil {
			return err
		}
		for _, b := range binds {
			set.Write(b.Nr, 0, fmt.Sprintf("framesim %d", b.Nr))
		}
		p.Sets = []dx12.DescriptorSet{set}
	}
	p.Pipeline = &soft.Pipeline{PI: pi, Name: "framesim", Prim: gputypes.PrimitiveTopologyTriangleList}
	return nil
}
