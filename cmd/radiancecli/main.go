// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/devblok/radiance/core"
	"github.com/devblok/radiance/gfx"
	"github.com/devblok/radiance/gfx/headless"
	"github.com/devblok/radiance/gfx/vkr"
)

var (
	configFile = flag.String("config", "", "Configuration file, defaults when empty")
	frames     = flag.Uint64("frames", 3, "Number of frames to run")
	devices    = flag.Bool("devices", false, "Print the Vulkan physical devices and exit")
	offscreen  = flag.Bool("offscreen", false, "Render without a swapchain")
)

func main() {
	flag.Parse()

	var out interface{}
	var err error
	if *devices {
		out, err = physicalDevices()
	} else {
		out, err = run()
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if bytes, err := json.MarshalIndent(out, "", "  "); err == nil {
		fmt.Printf("%s\n", bytes)
	} else {
		panic(err)
	}
}

func physicalDevices() ([]vkr.PhysicalDeviceInfo, error) {
	instance, err := vkr.NewInstance(vkr.DefaultApplicationInfo, nil, vkr.InstanceConfiguration{})
	if err != nil {
		return nil, err
	}
	defer instance.Release()
	return instance.PhysicalDevicesInfo(), nil
}

// run renders the stock passes on the recording device and reports
// the engine state afterwards.
func run() (core.Diagnostics, error) {
	cfg := core.DefaultConfiguration()
	if *configFile != "" {
		var err error
		if cfg, err = core.LoadConfiguration(*configFile); err != nil {
			return core.Diagnostics{}, err
		}
	}
	cfg.Time.FramesPerSecond = 0
	cfg.Shaders.Watch = false

	logger, err := core.NewLogger(cfg.Log)
	if err != nil {
		return core.Diagnostics{}, err
	}

	var opts []headless.Option
	if !*offscreen {
		opts = append(opts, headless.WithSwapchain(int(cfg.Renderer.SwapchainSize), cfg.Renderer.Extent()))
	}
	var device gfx.Device = headless.New(opts...)
	defer device.Release()

	engine, err := core.NewEngine(cfg, device, logger)
	if err != nil {
		return core.Diagnostics{}, err
	}
	defer engine.Close()

	runErr := engine.Run(context.Background(), *frames)
	diag := engine.Diagnostics()
	return diag, runErr
}
