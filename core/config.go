// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core

import (
	"fmt"
	"io/ioutil"
	"strconv"
	"time"

	"github.com/devblok/radiance/gfx"
	"github.com/devblok/radiance/passes"
	"github.com/gobuffalo/envy"
	"github.com/pelletier/go-toml/v2"
)

// Configuration defines a global engine configuration setting
type Configuration struct {
	Time     TimeConfiguration     `toml:"time"`
	Renderer RendererConfiguration `toml:"renderer"`
	Shaders  ShaderConfiguration   `toml:"shaders"`
	Log      LogConfiguration      `toml:"log"`
	Passes   passes.Config         `toml:"passes"`
}

// TimeConfiguration is used to configure time services
type TimeConfiguration struct {
	// FramesPerSecond caps frames per second that is put out
	// To unlimit, set to 0
	FramesPerSecond int `toml:"frames_per_second"`

	// EventPollDelay is the window event polling interval in milliseconds
	EventPollDelay int `toml:"event_poll_delay"`
}

// RendererConfiguration is used to configure the renderer
type RendererConfiguration struct {
	SwapchainSize    uint32   `toml:"swapchain_size"`
	DeviceExtensions []string `toml:"device_extensions"`

	ScreenWidth  uint32 `toml:"screen_width"`
	ScreenHeight uint32 `toml:"screen_height"`

	// Debug loads the validation layers
	Debug bool `toml:"debug"`

	// FenceTimeout bounds host waits, in milliseconds
	FenceTimeout int `toml:"fence_timeout"`
}

// Extent returns the screen size.
func (r RendererConfiguration) Extent() gfx.Extent3D {
	return gfx.Extent3D{Width: int(r.ScreenWidth), Height: int(r.ScreenHeight), Depth: 1}
}

// FenceWait returns FenceTimeout as a duration.
func (r RendererConfiguration) FenceWait() time.Duration {
	return time.Duration(r.FenceTimeout) * time.Millisecond
}

// ShaderConfiguration tells where shaders are loaded from.
type ShaderConfiguration struct {
	// Location is a directory or a kar archive
	Location string `toml:"location"`

	// Watch reloads changed shaders, only for directories
	Watch bool `toml:"watch"`
}

// LogConfiguration configures the logger.
type LogConfiguration struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// DefaultConfiguration returns a configuration that runs the stock passes.
func DefaultConfiguration() Configuration {
	return Configuration{
		Time: TimeConfiguration{
			FramesPerSecond: 60,
			EventPollDelay:  50,
		},
		Renderer: RendererConfiguration{
			SwapchainSize: 3,
			DeviceExtensions: []string{
				"VK_KHR_swapchain",
			},
			ScreenWidth:  800,
			ScreenHeight: 600,
			FenceTimeout: 1000,
		},
		Shaders: ShaderConfiguration{
			Location: "./shaders",
		},
		Log: LogConfiguration{
			Level:  "info",
			Format: "text",
		},
		Passes: passes.DefaultConfig(),
	}
}

// ParseConfiguration reads TOML on top of the defaults, then applies
// environment overrides.
func ParseConfiguration(data []byte) (Configuration, error) {
	cfg := DefaultConfiguration()
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Configuration{}, fmt.Errorf("configuration: %w", err)
	}
	if err := cfg.applyEnvironment(); err != nil {
		return Configuration{}, err
	}
	return cfg, cfg.Validate()
}

// LoadConfiguration reads a TOML file, see ParseConfiguration.
func LoadConfiguration(file string) (Configuration, error) {
	data, err := ioutil.ReadFile(file)
	if err != nil {
		return Configuration{}, err
	}
	return ParseConfiguration(data)
}

// Validate checks values that would otherwise fail deep inside the renderer.
func (c Configuration) Validate() error {
	switch {
	case c.Renderer.ScreenWidth == 0 || c.Renderer.ScreenHeight == 0:
		return fmt.Errorf("configuration: screen size %dx%d", c.Renderer.ScreenWidth, c.Renderer.ScreenHeight)
	case c.Renderer.SwapchainSize == 0:
		return fmt.Errorf("configuration: swapchain size must be positive")
	case c.Time.FramesPerSecond < 0:
		return fmt.Errorf("configuration: negative frames per second")
	case c.Passes.VoxelResolution <= 0 || c.Passes.MaxElements == 0:
		return fmt.Errorf("configuration: empty voxel volume")
	case c.Shaders.Location == "":
		return fmt.Errorf("configuration: no shader location")
	}
	return nil
}

// environment overrides, read through envy so a .env file works as well
const (
	envShaders = "RADIANCE_SHADERS"
	envLevel   = "RADIANCE_LOG_LEVEL"
	envFormat  = "RADIANCE_LOG_FORMAT"
	envFps     = "RADIANCE_FPS"
	envDebug   = "RADIANCE_DEBUG"
)

func (c *Configuration) applyEnvironment() error {
	c.Shaders.Location = envy.Get(envShaders, c.Shaders.Location)
	c.Log.Level = envy.Get(envLevel, c.Log.Level)
	c.Log.Format = envy.Get(envFormat, c.Log.Format)

	if v := envy.Get(envFps, ""); v != "" {
		fps, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", envFps, err)
		}
		c.Time.FramesPerSecond = fps
	}
	if v := envy.Get(envDebug, ""); v != "" {
		debug, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", envDebug, err)
		}
		c.Renderer.Debug = debug
	}
	return nil
}
