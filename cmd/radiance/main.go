// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package main

import (
	"context"
	"flag"
	"os"
	"runtime"
	"runtime/pprof"
	"runtime/trace"
	"sync"

	"github.com/devblok/radiance/core"
	"github.com/devblok/radiance/frame"
	"github.com/devblok/radiance/gfx/vkr"
	"github.com/gobuffalo/packr"
	log "github.com/sirupsen/logrus"
	"github.com/veandco/go-sdl2/sdl"
)

func init() {
	runtime.LockOSThread()
}

// Profiling
var (
	cpuProfile   = flag.String("cpuprof", "", "Profile CPU usage to file")
	memProfile   = flag.String("memprof", "", "Profile memory usage into a file")
	traceProfile = flag.String("trace", "", "Trace output for profiling")
	debug        = flag.Bool("vkdbg", false, "Load Vulkan validation layers")
	configFile   = flag.String("config", "", "Configuration file, the bundled one when empty")
)

// passKeys toggles the stock passes with the number keys.
var passKeys = map[sdl.Keycode]string{
	sdl.K_1: "voxel-clear",
	sdl.K_2: "prefix-sum",
	sdl.K_3: "lighting",
}

func loadConfiguration() (core.Configuration, error) {
	if *configFile != "" {
		return core.LoadConfiguration(*configFile)
	}
	box := packr.NewBox("./resources")
	data, err := box.Find("radiance.toml")
	if err != nil {
		return core.Configuration{}, err
	}
	return core.ParseConfiguration(data)
}

func newWindow(cfg core.RendererConfiguration) *sdl.Window {
	window, err := sdl.CreateWindow("Radiance",
		sdl.WINDOWPOS_UNDEFINED,
		sdl.WINDOWPOS_UNDEFINED,
		int32(cfg.ScreenWidth),
		int32(cfg.ScreenHeight),
		sdl.WINDOW_VULKAN)
	if err != nil {
		panic(err)
	}
	return window
}

func main() {
	flag.Parse()
	if err := run(); err != nil {
		log.WithError(err).Fatal("radiance stopped")
	}
}

// run returns the error that stopped the render loop once every deferred
// release has run.
func run() error {
	configuration, err := loadConfiguration()
	if err != nil {
		panic(err)
	}
	logger, err := core.NewLogger(configuration.Log)
	if err != nil {
		panic(err)
	}

	if *cpuProfile != "" {
		f, err := os.Create(*cpuProfile)
		if err != nil {
			panic(err)
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			panic(err)
		}
		defer pprof.StopCPUProfile()
	}

	if *traceProfile != "" {
		f, err := os.Create(*traceProfile)
		if err != nil {
			panic(err)
		}
		if err := trace.Start(f); err != nil {
			panic(err)
		}
		defer trace.Stop()
	}

	if err := sdl.Init(sdl.INIT_VIDEO | sdl.INIT_EVENTS); err != nil {
		panic(err)
	}
	defer sdl.Quit()

	if err := sdl.VulkanLoadLibrary(""); err != nil {
		panic(err)
	}
	defer sdl.VulkanUnloadLibrary()

	window := newWindow(configuration.Renderer)
	defer window.Destroy()

	instance, err := vkr.NewInstance(vkr.DefaultApplicationInfo, sdl.VulkanGetVkGetInstanceProcAddr(), vkr.InstanceConfiguration{
		DebugMode:  *debug || configuration.Renderer.Debug,
		Extensions: window.VulkanGetInstanceExtensions(),
	})
	if err != nil {
		panic(err)
	}
	defer instance.Release()

	surface, err := window.VulkanCreateSurface(instance.Inner())
	if err != nil {
		panic(err)
	}
	instance.SetSurface(surface)

	device, err := vkr.NewDevice(instance, vkr.DeviceConfiguration{
		SwapchainSize: configuration.Renderer.SwapchainSize,
		Extent:        configuration.Renderer.Extent(),
		Extensions:    configuration.Renderer.DeviceExtensions,
	})
	if err != nil {
		panic(err)
	}
	defer device.Release()

	engine, err := core.NewEngine(configuration, device, logger)
	if err != nil {
		panic(err)
	}
	defer engine.Close()

	ctx, cancel := context.WithCancel(context.Background())
	programSync := sync.WaitGroup{}
	var runErr error

	/* Renderer loop */
	programSync.Add(1)
	go func() {
		defer programSync.Done()
		if runErr = engine.Run(ctx, 0); runErr != nil {
			logger.WithError(runErr).Error("render loop stopped")
		}
		cancel()
	}()

	timeService := core.NewTime(configuration.Time)
	defer timeService.Stop()

	/* Event loop */
EventLoop:
	for {
		select {
		case <-ctx.Done():
			break EventLoop
		case <-timeService.EventTicker().C:
			for event := sdl.PollEvent(); event != nil; event = sdl.PollEvent() {
				switch et := event.(type) {
				case *sdl.KeyboardEvent:
					if et.Type != sdl.KEYDOWN {
						continue
					}
					handleKey(engine, et.Keysym.Sym, cancel)
				case *sdl.QuitEvent:
					cancel()
				}
			}
		}
	}

	programSync.Wait()
	device.WaitIdle()

	diag := engine.Diagnostics()
	logger.WithFields(log.Fields{
		"frames":    diag.Frames,
		"submitted": diag.Submitted,
	}).Info("exiting")

	if *memProfile != "" {
		f, err := os.Create(*memProfile)
		if err != nil {
			panic(err)
		}
		if err := pprof.WriteHeapProfile(f); err != nil {
			panic(err)
		}
	}
	return runErr
}

func handleKey(engine *core.Engine, key sdl.Keycode, quit func()) {
	switch key {
	case sdl.K_ESCAPE:
		quit()
	case sdl.K_r:
		for _, pass := range passKeys {
			engine.Control(frame.Control{Command: frame.Rerecord, Pass: pass})
		}
	default:
		if pass, ok := passKeys[key]; ok {
			engine.Control(frame.Control{Command: frame.Toggle, Pass: pass})
		}
	}
}
