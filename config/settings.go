package config

// RenderPath selects how a frame reaches the screen.
type RenderPath int

const (
	// PathComposer routes the frame through the assembled effect pipeline.
	PathComposer RenderPath = iota
	// PathDirect draws the scene straight to the default framebuffer.
	PathDirect
)

func (p RenderPath) String() string {
	switch p {
	case PathComposer:
		return "composer"
	case PathDirect:
		return "direct"
	default:
		return "unknown"
	}
}

// Settings is the live, versioned part of the configuration. It is owned by
// the main thread: the render loop samples Path once at the top of every
// frame, and input handlers mutate it between frames.
type Settings struct {
	path    RenderPath
	version uint64
}

// NewSettings seeds the live state from the static table.
func NewSettings(cfg Config) *Settings {
	s := &Settings{path: PathDirect}
	if cfg.Features.UseComposer {
		s.path = PathComposer
	}
	return s
}

func (s *Settings) Path() RenderPath { return s.path }

// Version increases by one on every effective change.
func (s *Settings) Version() uint64 { return s.version }

// SetPath switches the render path. It reports whether anything changed.
func (s *Settings) SetPath(p RenderPath) bool {
	if s.path == p {
		return false
	}
	s.path = p
	s.version++
	return true
}

// SetUseComposer mirrors the "use composer" checkbox.
func (s *Settings) SetUseComposer(on bool) bool {
	if on {
		return s.SetPath(PathComposer)
	}
	return s.SetPath(PathDirect)
}

// Toggle flips between the composer and direct paths and returns the new one.
func (s *Settings) Toggle() RenderPath {
	if s.path == PathComposer {
		s.SetPath(PathDirect)
	} else {
		s.SetPath(PathComposer)
	}
	return s.path
}
