package scene

import (
	"github.com/go-gl/mathgl/mgl32"

	"realism-viewer/core"
)

// Scene owns the node graph, the camera, the key light and the image-based
// environment. At most one model subtree hangs off Root at any time.
type Scene struct {
	Root        *Node
	Camera      *Camera
	Light       DirectionalLight
	Background  core.Color
	Environment *Environment

	model *Node
}

// DirectionalLight is the key light used for direct shading and for the
// progressive shadow accumulator.
type DirectionalLight struct {
	Direction mgl32.Vec3
	Color     core.Color
	Intensity float32
}

func NewScene() *Scene {
	return &Scene{
		Root:       NewNode("Root"),
		Background: core.ColorWhite,
		Light: DirectionalLight{
			Direction: mgl32.Vec3{-0.5, -1, -0.3}.Normalize(),
			Color:     core.ColorWhite,
			Intensity: 1,
		},
	}
}

func (s *Scene) SetCamera(camera *Camera) {
	s.Camera = camera
}

// Model returns the currently attached model subtree, or nil.
func (s *Scene) Model() *Node {
	return s.model
}

// SetModel detaches the current model (if any), attaches m in its place and
// returns the detached subtree so the caller can free its GPU resources.
// A nil m just clears the slot.
func (s *Scene) SetModel(m *Node) *Node {
	prev := s.model
	if prev != nil {
		s.Root.RemoveChild(prev)
	}
	s.model = m
	if m != nil {
		s.Root.AddChild(m)
	}
	return prev
}

// SetEnvironment installs env and returns the one it replaced.
func (s *Scene) SetEnvironment(env *Environment) *Environment {
	prev := s.Environment
	s.Environment = env
	return prev
}

// VisibleNodes returns all nodes with meshes that are visible
func (s *Scene) VisibleNodes() []*Node {
	var visible []*Node
	s.Root.Traverse(func(node *Node) {
		if node.Visible && node.Mesh != nil {
			visible = append(visible, node)
		}
	})
	return visible
}
