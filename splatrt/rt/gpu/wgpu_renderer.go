package gpu

import (
	"fmt"

	"github.com/cogentcore/webgpu/wgpu"
)

func wgpuFormat(f Format) wgpu.TextureFormat {
	switch f {
	case FormatRGBA8Unorm:
		return wgpu.TextureFormatRGBA8Unorm
	case FormatRGBA32Uint:
		return wgpu.TextureFormatRGBA32Uint
	case FormatRGBA16Float:
		return wgpu.TextureFormatRGBA16Float
	}
	return wgpu.TextureFormatR32Uint
}

type wgpuTexture struct {
	texture *wgpu.Texture
	view    *wgpu.TextureView
	format  Format
	width   uint32
	height  uint32
}

// WgpuRenderer keeps each slot buffer in a 2-D texture. Generation changes
// whenever a texture is recreated, so bind groups built from View need to be
// rebuilt.
type WgpuRenderer struct {
	Device *wgpu.Device
	Queue  *wgpu.Queue

	textures   [bufferCount]*wgpuTexture
	Generation uint64
}

func NewWgpuRenderer(device *wgpu.Device) *WgpuRenderer {
	return &WgpuRenderer{
		Device: device,
		Queue:  device.GetQueue(),
	}
}

func (r *WgpuRenderer) Bind(id BufferID, format Format, width, height int, data []byte) error {
	t := r.textures[id]
	if t == nil || t.format != format || t.width != uint32(width) || t.height != uint32(height) {
		r.Release(id)

		tex, err := r.Device.CreateTexture(&wgpu.TextureDescriptor{
			Label:         "Splat " + id.String(),
			Size:          wgpu.Extent3D{Width: uint32(width), Height: uint32(height), DepthOrArrayLayers: 1},
			MipLevelCount: 1,
			SampleCount:   1,
			Dimension:     wgpu.TextureDimension2D,
			Format:        wgpuFormat(format),
			Usage:         wgpu.TextureUsageTextureBinding | wgpu.TextureUsageCopyDst,
		})
		if err != nil {
			return fmt.Errorf("create texture %s: %w", id, err)
		}
		view, err := tex.CreateView(nil)
		if err != nil {
			tex.Release()
			return fmt.Errorf("create view %s: %w", id, err)
		}
		t = &wgpuTexture{texture: tex, view: view, format: format, width: uint32(width), height: uint32(height)}
		r.textures[id] = t
		r.Generation++
	}
	return r.Update(id, Rect{W: width, H: height}, data)
}

func (r *WgpuRenderer) Update(id BufferID, region Rect, data []byte) error {
	t := r.textures[id]
	if t == nil {
		return fmt.Errorf("update %s: not bound", id)
	}
	if len(data) == 0 || region.Area() == 0 {
		return nil
	}
	bpp := uint32(t.format.BytesPerTexel())
	r.Queue.WriteTexture(
		&wgpu.ImageCopyTexture{
			Texture:  t.texture,
			MipLevel: 0,
			Origin:   wgpu.Origin3D{X: uint32(region.X), Y: uint32(region.Y), Z: 0},
			Aspect:   wgpu.TextureAspectAll,
		},
		data,
		&wgpu.TextureDataLayout{
			Offset:       0,
			BytesPerRow:  uint32(region.W) * bpp,
			RowsPerImage: uint32(region.H),
		},
		&wgpu.Extent3D{Width: uint32(region.W), Height: uint32(region.H), DepthOrArrayLayers: 1},
	)
	return nil
}

// View returns the texture view of a bound buffer, or nil.
func (r *WgpuRenderer) View(id BufferID) *wgpu.TextureView {
	if t := r.textures[id]; t != nil {
		return t.view
	}
	return nil
}

// Ready reports whether every slot buffer is bound.
func (r *WgpuRenderer) Ready() bool {
	for _, t := range r.textures {
		if t == nil {
			return false
		}
	}
	return true
}

func (r *WgpuRenderer) Release(id BufferID) {
	t := r.textures[id]
	if t == nil {
		return
	}
	t.view.Release()
	t.texture.Release()
	r.textures[id] = nil
	r.Generation++
}
