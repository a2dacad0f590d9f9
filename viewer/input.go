package viewer

import (
	"go.uber.org/zap"

	"realism-viewer/assets"
	"realism-viewer/core"
	"realism-viewer/internal/logger"
)

// Bind installs the viewer's handlers on a GLFW window.
func (v *Viewer) Bind(w *core.Window) {
	w.OnFramebufferResize(v.Resize)
	w.OnDrop(v.HandleDrop)
	w.OnKeyPress(v.HandleKey)
	w.OnMouseButton(v.Controls.MouseButton)
	w.OnCursorMove(v.Controls.CursorMove)
	w.OnScroll(v.Controls.Scroll)
}

// HandleKey maps key presses: C toggles the render path, R restarts the
// progressive shadows, Esc closes.
func (v *Viewer) HandleKey(key int) {
	switch key {
	case core.KeyC:
		v.TogglePath()
	case core.KeyR:
		if v.shadows != nil {
			v.shadows.Reset()
		}
	case core.KeyEscape:
		v.surface.Close()
	}
}

// HandleDrop loads the last dropped file as the new model.
func (v *Viewer) HandleDrop(paths []string) {
	if len(paths) == 0 {
		return
	}
	if len(paths) > 1 {
		logger.Log.Info("several files dropped, loading the last", zap.Strings("paths", paths))
	}
	v.LoadModel(assets.FileSource{Path: paths[len(paths)-1]})
}
