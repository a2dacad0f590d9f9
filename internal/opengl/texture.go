package opengl

import (
	"fmt"
	"unsafe"

	gl "github.com/go-gl/gl/v4.1-core/gl"

	"realism-viewer/scene"
)

// UploadTexture uploads a scene.Texture to the GPU and sets its GLID field.
// The OpenGL context must be current. Already uploaded textures are skipped.
func UploadTexture(tex *scene.Texture) error {
	if tex == nil {
		return fmt.Errorf("nil texture")
	}
	if tex.GLID != 0 {
		return nil
	}
	if len(tex.Pixels) == 0 {
		return fmt.Errorf("texture %q has no pixel data", tex.Name)
	}

	var id uint32
	gl.GenTextures(1, &id)
	gl.BindTexture(gl.TEXTURE_2D, id)

	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_WRAP_S, gl.REPEAT)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_WRAP_T, gl.REPEAT)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_MIN_FILTER, gl.LINEAR_MIPMAP_LINEAR)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_MAG_FILTER, gl.LINEAR)

	gl.TexImage2D(gl.TEXTURE_2D, 0, gl.RGBA8,
		int32(tex.Width), int32(tex.Height), 0,
		gl.RGBA, gl.UNSIGNED_BYTE, unsafe.Pointer(&tex.Pixels[0]))
	gl.GenerateMipmap(gl.TEXTURE_2D)
	gl.BindTexture(gl.TEXTURE_2D, 0)

	tex.GLID = id
	return nil
}

// DeleteTexture frees a previously uploaded GPU texture and zeroes its GLID.
func DeleteTexture(tex *scene.Texture) {
	if tex == nil || tex.GLID == 0 {
		return
	}
	gl.DeleteTextures(1, &tex.GLID)
	tex.GLID = 0
}

// UploadEnvironment uploads an equirectangular radiance map as a mipmapped
// RGB32F texture. Mip levels stand in for prefiltered roughness lobes.
func UploadEnvironment(env *scene.Environment) error {
	if env == nil {
		return fmt.Errorf("nil environment")
	}
	if env.GLID != 0 {
		return nil
	}
	if len(env.Pixels) < env.Width*env.Height*3 || env.Width == 0 || env.Height == 0 {
		return fmt.Errorf("environment %q has no pixel data", env.Name)
	}

	var id uint32
	gl.GenTextures(1, &id)
	gl.BindTexture(gl.TEXTURE_2D, id)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_WRAP_S, gl.REPEAT)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_WRAP_T, gl.CLAMP_TO_EDGE)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_MIN_FILTER, gl.LINEAR_MIPMAP_LINEAR)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_MAG_FILTER, gl.LINEAR)
	gl.PixelStorei(gl.UNPACK_ALIGNMENT, 1)
	gl.TexImage2D(gl.TEXTURE_2D, 0, gl.RGB32F,
		int32(env.Width), int32(env.Height), 0,
		gl.RGB, gl.FLOAT, gl.Ptr(env.Pixels))
	gl.PixelStorei(gl.UNPACK_ALIGNMENT, 4)
	gl.GenerateMipmap(gl.TEXTURE_2D)
	gl.BindTexture(gl.TEXTURE_2D, 0)

	env.GLID = id
	return nil
}

// DeleteEnvironment frees the environment texture.
func DeleteEnvironment(env *scene.Environment) {
	if env == nil || env.GLID == 0 {
		return
	}
	gl.DeleteTextures(1, &env.GLID)
	env.GLID = 0
}

// mipLevels is the number of mip levels of a width×height texture.
func mipLevels(width, height int) int {
	n := 1
	for width > 1 || height > 1 {
		width /= 2
		height /= 2
		n++
	}
	return n
}
