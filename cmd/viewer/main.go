package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"realism-viewer/assets"
	"realism-viewer/config"
	"realism-viewer/core"
	"realism-viewer/internal/logger"
	"realism-viewer/renderer"
	"realism-viewer/viewer"
)

type options struct {
	configPath string
	model      string
	env        string
	gi         bool
	shadows    bool
	noComposer bool
	logLevel   string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:          "viewer [model]",
		Short:        "Real-time glTF viewer with SSAO, SSGI, TRAA and progressive shadows",
		Args:         cobra.MaximumNArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				opts.model = args[0]
			}
			return run(cmd.Context(), cmd, opts)
		},
	}
	f := cmd.PersistentFlags()
	f.StringVar(&opts.configPath, "config", "", "TOML config file, watched for live changes")
	f.StringVar(&opts.model, "model", "", "glTF/GLB file or URL to load")
	f.StringVar(&opts.env, "env", "", "Radiance .hdr environment map")
	f.BoolVar(&opts.gi, "gi", false, "use the global illumination pipeline instead of SSAO")
	f.BoolVar(&opts.shadows, "shadows", false, "accumulate progressive shadows on the Plane node")
	f.BoolVar(&opts.noComposer, "no-composer", false, "start with the effect pipeline bypassed")
	f.StringVar(&opts.logLevel, "log-level", "info", "debug, info, warn or error")

	cmd.AddCommand(newConfigCmd(opts))
	return cmd
}

// newConfigCmd prints the effective option table as TOML.
func newConfigCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			out, err := config.Encode(cfg)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
}

// loadConfig reads the config file, if any, and applies explicitly set flags
// on top of it.
func loadConfig(cmd *cobra.Command, opts *options) (config.Config, error) {
	cfg := config.Default()
	if opts.configPath != "" {
		var err error
		if cfg, err = config.Load(opts.configPath); err != nil {
			return cfg, err
		}
	}
	flags := cmd.Flags()
	if flags.Changed("gi") {
		cfg.Features.UseGI = opts.gi
	}
	if flags.Changed("shadows") {
		cfg.Features.UseProgressiveShadows = opts.shadows
	}
	if flags.Changed("no-composer") {
		cfg.Features.UseComposer = !opts.noComposer
	}
	if opts.env != "" {
		env, err := config.ExpandPath(opts.env)
		if err != nil {
			return cfg, err
		}
		cfg.EnvMap = env
	}
	return cfg, nil
}

func run(ctx context.Context, cmd *cobra.Command, opts *options) error {
	if err := logger.Init(opts.logLevel); err != nil {
		return err
	}
	defer logger.Sync()

	cfg, err := loadConfig(cmd, opts)
	if err != nil {
		return err
	}
	model := opts.model
	if model == "" && cfg.TestModel.Load {
		model = cfg.TestModel.URL
	}
	if model, err = config.ExpandPath(model); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	wc := core.DefaultWindowConfig()
	wc.Antialias = cfg.Renderer.Antialias
	wc.Alpha = cfg.Renderer.Alpha
	wc.Depth = cfg.Renderer.Depth
	wc.Stencil = cfg.Renderer.Stencil
	window, err := core.NewWindow(wc)
	if err != nil {
		return fmt.Errorf("window: %w", err)
	}
	defer window.Destroy()

	width, height := window.FramebufferSize()
	engine, err := renderer.NewRenderEngine(cfg, width, height)
	if err != nil {
		return err
	}
	defer engine.Dispose()

	settings := config.NewSettings(cfg)
	v, err := viewer.New(cfg, window, engine, viewer.WithSettings(settings))
	if err != nil {
		return err
	}
	defer v.Close()
	v.Bind(window)

	if opts.configPath != "" {
		err := config.Watch(ctx, opts.configPath, func(c config.Config) {
			v.Queue().Post(ctx, func() {
				if settings.SetUseComposer(c.Features.UseComposer) {
					logger.Log.Info("render path changed by config", zap.Stringer("path", settings.Path()))
				}
			})
		})
		if err != nil {
			logger.Log.Warn("config watch disabled", zap.Error(err))
		}
	}

	if cfg.EnvMap != "" {
		v.LoadEnvironment(assets.SourceFor(cfg.EnvMap))
	}
	if model != "" {
		v.LoadModel(assets.SourceFor(model))
	}

	logger.Log.Info("press C to toggle the effect pipeline, Esc to quit",
		zap.Stringer("path", settings.Path()))
	return v.Run(ctx)
}
