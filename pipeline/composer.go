package pipeline

import (
	"fmt"

	"go.uber.org/zap"

	"realism-viewer/config"
	"realism-viewer/internal/logger"
)

// Branch identifies which of the two mutually exclusive chains was built.
type Branch int

const (
	// BranchAO is render followed by screen-space ambient occlusion.
	BranchAO Branch = iota
	// BranchGI is velocity-depth-normal, SSGI, then optional TRAA and vignette.
	BranchGI
)

func (b Branch) String() string {
	if b == BranchGI {
		return "gi"
	}
	return "ao"
}

// Composer runs a fixed list of passes over ping-pong targets. The list is
// decided by Assemble and never changes afterwards.
type Composer struct {
	branch  Branch
	passes  []Pass
	targets Targets
	width   int
	height  int
}

// Assemble builds the chain selected by cfg.Features. Switching branch means
// disposing this composer and assembling a new one.
func Assemble(cfg config.Config, f Factory, width, height int) (*Composer, error) {
	c := &Composer{width: width, height: height}

	var err error
	c.targets, err = f.Targets(width, height)
	if err != nil {
		return nil, fmt.Errorf("composer targets: %w", err)
	}

	add := func(p Pass, err error) error {
		if err != nil {
			return err
		}
		c.passes = append(c.passes, p)
		return nil
	}

	if cfg.Features.UseGI {
		c.branch = BranchGI
		err = c.assembleGI(cfg, f, add)
	} else {
		c.branch = BranchAO
		err = c.assembleAO(cfg, f, add)
	}
	if err != nil {
		c.Dispose()
		return nil, fmt.Errorf("assemble %s pipeline: %w", c.branch, err)
	}

	logger.Log.Info("effect pipeline assembled",
		zap.Stringer("branch", c.branch),
		zap.Strings("passes", c.Passes()),
		zap.Int("width", width),
		zap.Int("height", height))
	return c, nil
}

func (c *Composer) assembleAO(cfg config.Config, f Factory, add func(Pass, error) error) error {
	if err := add(f.RenderPass()); err != nil {
		return err
	}
	return add(f.AmbientOcclusionPass(cfg.SSAO))
}

func (c *Composer) assembleGI(cfg config.Config, f Factory, add func(Pass, error) error) error {
	vdn, err := f.VelocityDepthNormalPass()
	if err := add(vdn, err); err != nil {
		return err
	}
	if err := add(f.GlobalIlluminationPass(cfg.SSGI, vdn)); err != nil {
		return err
	}
	if cfg.Features.UseTRAA {
		if err := add(f.TemporalResolvePass(cfg.TRAA, vdn)); err != nil {
			return err
		}
	}
	if cfg.Features.UseVignette {
		if err := add(f.VignettePass(cfg.Vignette)); err != nil {
			return err
		}
	}
	return nil
}

// Render runs every pass in order and presents the last written buffer.
func (c *Composer) Render(f *Frame) error {
	for _, p := range c.passes {
		if err := p.Render(f, c.targets.Read(), c.targets.Write()); err != nil {
			return fmt.Errorf("pass %s: %w", p.Name(), err)
		}
		if p.NeedsSwap() {
			c.targets.Swap()
		}
	}
	return c.targets.Present(c.targets.Read())
}

// SetSize resizes the targets and every pass.
func (c *Composer) SetSize(width, height int) {
	if width == c.width && height == c.height {
		return
	}
	c.width, c.height = width, height
	c.targets.Resize(width, height)
	for _, p := range c.passes {
		p.SetSize(width, height)
	}
}

// Size returns the current target size.
func (c *Composer) Size() (int, int) { return c.width, c.height }

func (c *Composer) Branch() Branch { return c.branch }

// Passes lists pass names in execution order.
func (c *Composer) Passes() []string {
	names := make([]string, len(c.passes))
	for i, p := range c.passes {
		names[i] = p.Name()
	}
	return names
}

// Dispose releases every pass and the targets. The composer is unusable afterwards.
func (c *Composer) Dispose() {
	for i := len(c.passes) - 1; i >= 0; i-- {
		c.passes[i].Dispose()
	}
	c.passes = nil
	if c.targets != nil {
		c.targets.Dispose()
		c.targets = nil
	}
}
