package viewer

import (
	"fmt"

	"go.uber.org/zap"

	"realism-viewer/assets"
	"realism-viewer/core"
	"realism-viewer/internal/logger"
	"realism-viewer/scene"
)

// modelPlacementSize is the largest dimension a model is scaled to when
// progressive shadows are off.
const modelPlacementSize = 2

// LoadModel starts decoding src in the background and returns its request
// token. The result replaces the current model on the main thread unless a
// newer request has been made in the meantime. Must be called on the main
// thread.
func (v *Viewer) LoadModel(src assets.Source) uint64 {
	v.modelToken++
	token := v.modelToken
	logger.Log.Info("loading model", zap.String("source", src.Name()), zap.Uint64("token", token))

	v.loads.Add(1)
	go func() {
		defer v.loads.Done()
		res, err := v.models.Load(v.ctx, src)
		v.queue.Post(v.ctx, func() { v.applyModel(token, src, res, err) })
	}()
	return token
}

// applyModel installs a finished load. Runs on the main thread.
func (v *Viewer) applyModel(token uint64, src assets.Source, res *scene.GLTFResult, err error) {
	if token != v.modelToken {
		logger.Log.Debug("dropping stale model load",
			zap.String("source", src.Name()),
			zap.Uint64("token", token),
			zap.Uint64("current", v.modelToken))
		return
	}
	if err != nil {
		v.notifier.Notify(fmt.Sprintf("Error loading GLTF - %v", err))
		return
	}
	root := res.Root

	if v.shadows != nil {
		sc := v.cfg.ShadowCatcher
		catcher := scene.NewShadowCatcherMaterial(core.ColorFromHex(sc.Color), sc.Opacity, sc.AlphaTest)
		catchers := scene.PrepareShadows(root, catcher)
		logger.Log.Debug("shadow catchers", zap.Int("count", len(catchers)))
	} else if !scene.NormalizePlacement(root, modelPlacementSize) {
		logger.Log.Warn("model has no measurable geometry", zap.String("source", src.Name()))
	}

	if err := v.backend.UploadModel(root); err != nil {
		v.backend.ReleaseModel(root)
		v.notifier.Notify(fmt.Sprintf("Error loading GLTF - %v", err))
		return
	}

	if prev := v.Scene.SetModel(root); prev != nil {
		v.backend.ReleaseModel(prev)
	}
	if v.shadows != nil {
		v.shadows.Reset()
	}
	logger.Log.Info("model loaded", zap.String("source", src.Name()), zap.Uint64("token", token))
}

// LoadEnvironment starts decoding an HDR panorama in the background. The
// result replaces the scene environment unless a newer request has been
// made. Failures are logged and leave the current environment in place.
func (v *Viewer) LoadEnvironment(src assets.Source) uint64 {
	v.envToken++
	token := v.envToken

	v.loads.Add(1)
	go func() {
		defer v.loads.Done()
		env, err := v.envs.Load(v.ctx, src)
		v.queue.Post(v.ctx, func() { v.applyEnvironment(token, src, env, err) })
	}()
	return token
}

func (v *Viewer) applyEnvironment(token uint64, src assets.Source, env *scene.Environment, err error) {
	if token != v.envToken {
		return
	}
	if err != nil {
		logger.Log.Warn("environment load failed", zap.String("source", src.Name()), zap.Error(err))
		return
	}
	if err := v.backend.UploadEnvironment(env); err != nil {
		v.backend.ReleaseEnvironment(env)
		logger.Log.Warn("environment upload failed", zap.String("source", src.Name()), zap.Error(err))
		return
	}
	if prev := v.Scene.SetEnvironment(env); prev != nil {
		v.backend.ReleaseEnvironment(prev)
	}
	logger.Log.Info("environment loaded",
		zap.String("source", src.Name()),
		zap.Int("width", env.Width),
		zap.Int("height", env.Height))
}
