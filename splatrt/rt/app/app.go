package app

import (
	"fmt"
	"math"
	"os"
	"time"
	"unsafe"

	"github.com/gekko3d/gsplat"
	"github.com/gekko3d/gsplat/splatrt/rt/core"
	"github.com/gekko3d/gsplat/splatrt/rt/gpu"
	"github.com/gekko3d/gsplat/splatrt/rt/shaders"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/cogentcore/webgpu/wgpuglfw"
	"github.com/go-gl/glfw/v3.3/glfw"
	"github.com/go-gl/mathgl/mgl32"
)

type cameraUniform struct {
	ViewProj mgl32.Mat4
	View     mgl32.Mat4
	Viewport [2]float32
	Focal    [2]float32
}

// Options configure the viewer and the splat surface it drives.
type Options struct {
	Capacity     int
	ChunkSize    int
	BatchSize    int
	AdaptiveSort bool
	FontPath     string
	DebugMode    bool
}

type App struct {
	Window   *glfw.Window
	Instance *wgpu.Instance
	Adapter  *wgpu.Adapter
	Device   *wgpu.Device
	Queue    *wgpu.Queue
	Surface  *wgpu.Surface
	Config   *wgpu.SurfaceConfiguration

	SplatPipeline  *wgpu.RenderPipeline
	CameraBuffer   *wgpu.Buffer
	SplatBindGroup *wgpu.BindGroup
	bindGeneration uint64

	Renderer *gpu.WgpuRenderer
	Splats   *gsplat.Surface
	Logger   gsplat.Logger
	Camera   *core.CameraState
	Options  Options

	load     *gsplat.Load
	loadFile *os.File

	TextRenderer     *TextRenderer
	TextPipeline     *wgpu.RenderPipeline
	TextBindGroup    *wgpu.BindGroup
	TextVertexBuffer *wgpu.Buffer
	TextItems        []TextItem
	TextVertexCount  uint32
	Sampler          *wgpu.Sampler

	LastTime       float64
	LastRenderTime float64
	MouseCaptured  bool

	FrameCount int
	FPS        float64
	FPSTime    float64
}

func NewApp(window *glfw.Window, opts Options) *App {
	return &App{
		Window:  window,
		Camera:  core.NewCameraState(),
		Options: opts,
		Logger:  gsplat.NewDefaultLogger("splatrt", opts.DebugMode),
	}
}

func (a *App) Init() error {
	a.Instance = wgpu.CreateInstance(nil)
	a.Surface = a.Instance.CreateSurface(wgpuglfw.GetSurfaceDescriptor(a.Window))

	adapter, err := a.Instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		CompatibleSurface: a.Surface,
		PowerPreference:   wgpu.PowerPreferenceHighPerformance,
	})
	if err != nil {
		return err
	}
	a.Adapter = adapter

	a.Device, err = adapter.RequestDevice(nil)
	if err != nil {
		return err
	}
	a.Queue = a.Device.GetQueue()

	width, height := a.Window.GetFramebufferSize()
	caps := a.Surface.GetCapabilities(adapter)
	a.Config = &wgpu.SurfaceConfiguration{
		Usage:       wgpu.TextureUsageRenderAttachment,
		Format:      caps.Formats[0],
		Width:       uint32(width),
		Height:      uint32(height),
		PresentMode: wgpu.PresentModeFifo,
		AlphaMode:   caps.AlphaModes[0],
	}
	a.Surface.Configure(adapter, a.Device, a.Config)

	if err := a.setupSplatPipeline(); err != nil {
		return err
	}

	a.Sampler, err = a.Device.CreateSampler(&wgpu.SamplerDescriptor{
		MinFilter:     wgpu.FilterModeLinear,
		MagFilter:     wgpu.FilterModeLinear,
		MaxAnisotropy: 1,
	})
	if err != nil {
		return err
	}
	a.TextRenderer, err = NewTextRenderer(a.Options.FontPath, 20)
	if err != nil {
		a.Logger.Warnf("text renderer: %v, using the built-in face", err)
		a.TextRenderer, _ = NewTextRenderer("", 0)
	}
	if err := a.setupTextResources(); err != nil {
		a.Logger.Warnf("HUD disabled: %v", err)
	}

	a.Renderer = gpu.NewWgpuRenderer(a.Device)
	b := gsplat.NewSurfaceBuilder(a.Renderer).
		WithLogger(a.Logger).
		WithAdaptiveSort(a.Options.AdaptiveSort)
	if a.Options.Capacity > 0 {
		b.WithCapacity(a.Options.Capacity)
	}
	if a.Options.ChunkSize > 0 {
		b.WithChunkSize(a.Options.ChunkSize)
	}
	if a.Options.BatchSize > 0 {
		b.WithBatchSize(a.Options.BatchSize)
	}
	a.Splats, err = b.Build()
	if err != nil {
		return err
	}

	a.LastTime = glfw.GetTime()
	return nil
}

func (a *App) setupSplatPipeline() error {
	mod, err := a.Device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label:          "Splat Shader",
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{Code: shaders.SplatWGSL},
	})
	if err != nil {
		return err
	}

	premultiplied := wgpu.BlendComponent{
		SrcFactor: wgpu.BlendFactorOne,
		DstFactor: wgpu.BlendFactorOneMinusSrcAlpha,
		Operation: wgpu.BlendOperationAdd,
	}
	a.SplatPipeline, err = a.Device.CreateRenderPipeline(&wgpu.RenderPipelineDescriptor{
		Label: "Splat Pipeline",
		Vertex: wgpu.VertexState{
			Module:     mod,
			EntryPoint: "vs_main",
		},
		Fragment: &wgpu.FragmentState{
			Module:     mod,
			EntryPoint: "fs_main",
			Targets: []wgpu.ColorTargetState{{
				Format:    a.Config.Format,
				Blend:     &wgpu.BlendState{Color: premultiplied, Alpha: premultiplied},
				WriteMask: wgpu.ColorWriteMaskAll,
			}},
		},
		Primitive: wgpu.PrimitiveState{
			Topology: wgpu.PrimitiveTopologyTriangleList,
		},
		Multisample: wgpu.MultisampleState{
			Count: 1,
			Mask:  0xFFFFFFFF,
		},
	})
	if err != nil {
		return err
	}

	a.CameraBuffer, err = a.Device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: "Splat Camera",
		Size:  uint64(unsafe.Sizeof(cameraUniform{})),
		Usage: wgpu.BufferUsageUniform | wgpu.BufferUsageCopyDst,
	})
	return err
}

// ensureBindGroup rebuilds the splat bind group after the renderer has
// recreated any of its textures.
func (a *App) ensureBindGroup() {
	if !a.Renderer.Ready() {
		return
	}
	if a.SplatBindGroup != nil && a.bindGeneration == a.Renderer.Generation {
		return
	}
	if a.SplatBindGroup != nil {
		a.SplatBindGroup.Release()
		a.SplatBindGroup = nil
	}
	bg, err := a.Device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:  "Splat BG",
		Layout: a.SplatPipeline.GetBindGroupLayout(0),
		Entries: []wgpu.BindGroupEntry{
			{Binding: 0, Buffer: a.CameraBuffer, Size: wgpu.WholeSize},
			{Binding: 1, TextureView: a.Renderer.View(gpu.BufferColor)},
			{Binding: 2, TextureView: a.Renderer.View(gpu.BufferTransformA)},
			{Binding: 3, TextureView: a.Renderer.View(gpu.BufferTransformB)},
			{Binding: 4, TextureView: a.Renderer.View(gpu.BufferOrder)},
		},
	})
	if err != nil {
		a.Logger.Errorf("splat bind group: %v", err)
		return
	}
	a.SplatBindGroup = bg
	a.bindGeneration = a.Renderer.Generation
}

// Open streams a file from disk into the splat surface.
func (a *App) Open(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	l, err := a.Splats.Load(path, f)
	if err != nil {
		f.Close()
		return err
	}
	a.load, a.loadFile = l, f
	return nil
}

func (a *App) Resize(w, h int) {
	if w > 0 && h > 0 {
		a.Config.Width = uint32(w)
		a.Config.Height = uint32(h)
		a.Surface.Configure(a.Adapter, a.Device, a.Config)
	}
}

func (a *App) Update() {
	now := glfw.GetTime()
	dt := float32(now - a.LastTime)
	a.LastTime = now

	var move mgl32.Vec3
	keys := []struct {
		key glfw.Key
		dir mgl32.Vec3
	}{
		{glfw.KeyW, mgl32.Vec3{0, 0, 1}},
		{glfw.KeyS, mgl32.Vec3{0, 0, -1}},
		{glfw.KeyD, mgl32.Vec3{1, 0, 0}},
		{glfw.KeyA, mgl32.Vec3{-1, 0, 0}},
		{glfw.KeySpace, mgl32.Vec3{0, 1, 0}},
		{glfw.KeyLeftShift, mgl32.Vec3{0, -1, 0}},
	}
	for _, k := range keys {
		if a.Window.GetKey(k.key) == glfw.Press {
			move = move.Add(k.dir)
		}
	}
	a.Camera.Move(move, dt)

	if err := a.Splats.Tick(time.Now(), a.Camera.Pose()); err != nil {
		a.Logger.Errorf("tick: %v", err)
	}
	a.settleLoad()

	aspect := float32(a.Config.Width) / float32(a.Config.Height)
	view := a.Camera.GetViewMatrix()
	proj := a.Camera.GetProjectionMatrix(aspect)
	focal := float32(a.Config.Height) / (2 * float32(math.Tan(float64(a.Camera.FovY)/2)))
	u := cameraUniform{
		ViewProj: proj.Mul4(view),
		View:     view,
		Viewport: [2]float32{float32(a.Config.Width), float32(a.Config.Height)},
		Focal:    [2]float32{focal, focal},
	}
	a.Queue.WriteBuffer(a.CameraBuffer, 0, unsafe.Slice((*byte)(unsafe.Pointer(&u)), unsafe.Sizeof(u)))
	a.ensureBindGroup()

	a.ClearText()
	stats := a.Splats.Stats()
	state := "idle"
	if a.load != nil {
		emitted, total := a.load.Progress()
		state = fmt.Sprintf("%s %d/%d", a.load.State(), emitted, total)
	}
	lines := HUDLines(a.FPS, stats.ValidCount, stats.Capacity, a.Splats.DrawCount(), stats.ProgressPercent, state)
	if a.Options.DebugMode {
		lines = append(lines, a.Splats.Profiler().GetStatsString())
	}
	y := float32(10)
	for _, line := range lines {
		a.DrawText(line, 10, y, 1.0, [4]float32{1, 1, 0, 1})
		y += a.TextRenderer.LineHeight(1.0)
	}
	a.uploadText()
}

// settleLoad closes the source file once the load has ended.
func (a *App) settleLoad() {
	if a.load == nil || a.loadFile == nil || a.load.State() == gsplat.LoadRunning {
		return
	}
	if err := a.load.Err(); err != nil {
		a.Logger.Errorf("load %s: %v", a.load.Name, err)
	}
	a.loadFile.Close()
	a.loadFile = nil
}

func (a *App) ClearText() {
	a.TextItems = a.TextItems[:0]
	a.TextVertexCount = 0
}

func (a *App) DrawText(text string, x, y float32, scale float32, color [4]float32) {
	a.TextItems = append(a.TextItems, TextItem{
		Text:     text,
		Position: [2]float32{x, y},
		Scale:    scale,
		Color:    color,
	})
}

func (a *App) uploadText() {
	if len(a.TextItems) == 0 || a.TextPipeline == nil {
		return
	}
	vertices := a.TextRenderer.BuildVertices(a.TextItems, int(a.Config.Width), int(a.Config.Height))
	if len(vertices) == 0 {
		return
	}
	vSize := uint64(len(vertices) * int(unsafe.Sizeof(TextVertex{})))
	if a.TextVertexBuffer == nil || a.TextVertexBuffer.GetSize() < vSize {
		if a.TextVertexBuffer != nil {
			a.TextVertexBuffer.Release()
		}
		a.TextVertexBuffer, _ = a.Device.CreateBuffer(&wgpu.BufferDescriptor{
			Label: "Text VB",
			Size:  vSize,
			Usage: wgpu.BufferUsageVertex | wgpu.BufferUsageCopyDst,
		})
	}
	a.Queue.WriteBuffer(a.TextVertexBuffer, 0, unsafe.Slice((*byte)(unsafe.Pointer(&vertices[0])), vSize))
	a.TextVertexCount = uint32(len(vertices))
}

func (a *App) Render() {
	nextTexture, err := a.Surface.GetCurrentTexture()
	if err != nil {
		a.Logger.Errorf("GetCurrentTexture failed: %v", err)
		return
	}
	defer nextTexture.Release()

	view, err := nextTexture.CreateView(nil)
	if err != nil {
		a.Logger.Errorf("CreateView failed: %v", err)
		return
	}
	defer view.Release()

	encoder, err := a.Device.CreateCommandEncoder(nil)
	if err != nil {
		a.Logger.Errorf("CreateCommandEncoder failed: %v", err)
		return
	}

	rPass := encoder.BeginRenderPass(&wgpu.RenderPassDescriptor{
		ColorAttachments: []wgpu.RenderPassColorAttachment{{
			View:       view,
			LoadOp:     wgpu.LoadOpClear,
			StoreOp:    wgpu.StoreOpStore,
			ClearValue: wgpu.Color{0, 0, 0, 1},
		}},
	})

	if n := a.Splats.DrawCount(); n > 0 && a.SplatBindGroup != nil {
		rPass.SetPipeline(a.SplatPipeline)
		rPass.SetBindGroup(0, a.SplatBindGroup, nil)
		rPass.Draw(6, uint32(n), 0, 0)
	}

	if a.TextVertexCount > 0 && a.TextVertexBuffer != nil && a.TextPipeline != nil {
		rPass.SetPipeline(a.TextPipeline)
		rPass.SetBindGroup(0, a.TextBindGroup, nil)
		rPass.SetVertexBuffer(0, a.TextVertexBuffer, 0, a.TextVertexBuffer.GetSize())
		rPass.Draw(a.TextVertexCount, 1, 0, 0)
	}

	if err := rPass.End(); err != nil {
		a.Logger.Errorf("render pass End failed: %v", err)
	}

	cmd, err := encoder.Finish(nil)
	if err != nil {
		a.Logger.Errorf("encoder Finish failed: %v", err)
		return
	}
	a.Queue.Submit(cmd)
	a.Surface.Present()

	now := glfw.GetTime()
	if a.LastRenderTime > 0 {
		a.FrameCount++
		a.FPSTime += now - a.LastRenderTime
		if a.FPSTime >= 1.0 {
			a.FPS = float64(a.FrameCount) / a.FPSTime
			a.FrameCount = 0
			a.FPSTime = 0
		}
	}
	a.LastRenderTime = now
}

func (a *App) setupTextResources() error {
	tr := a.TextRenderer
	w, h := tr.AtlasImage.Bounds().Dx(), tr.AtlasImage.Bounds().Dy()
	tex, err := a.Device.CreateTexture(&wgpu.TextureDescriptor{
		Label:         "Text Atlas",
		Size:          wgpu.Extent3D{Width: uint32(w), Height: uint32(h), DepthOrArrayLayers: 1},
		Format:        wgpu.TextureFormatR8Unorm,
		Usage:         wgpu.TextureUsageTextureBinding | wgpu.TextureUsageCopyDst,
		Dimension:     wgpu.TextureDimension2D,
		MipLevelCount: 1,
		SampleCount:   1,
	})
	if err != nil {
		return err
	}
	a.Queue.WriteTexture(tex.AsImageCopy(), tr.AtlasImage.Pix, &wgpu.TextureDataLayout{
		Offset:       0,
		BytesPerRow:  uint32(w),
		RowsPerImage: uint32(h),
	}, &wgpu.Extent3D{Width: uint32(w), Height: uint32(h), DepthOrArrayLayers: 1})

	atlasView, err := tex.CreateView(nil)
	if err != nil {
		return err
	}

	textMod, err := a.Device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label:          "Text Shader",
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{Code: shaders.TextWGSL},
	})
	if err != nil {
		return err
	}

	a.TextPipeline, err = a.Device.CreateRenderPipeline(&wgpu.RenderPipelineDescriptor{
		Label: "Text Pipeline",
		Vertex: wgpu.VertexState{
			Module:     textMod,
			EntryPoint: "vs_main",
			Buffers: []wgpu.VertexBufferLayout{{
				ArrayStride: uint64(unsafe.Sizeof(TextVertex{})),
				StepMode:    wgpu.VertexStepModeVertex,
				Attributes: []wgpu.VertexAttribute{
					{Format: wgpu.VertexFormatFloat32x2, Offset: 0, ShaderLocation: 0},
					{Format: wgpu.VertexFormatFloat32x2, Offset: 8, ShaderLocation: 1},
					{Format: wgpu.VertexFormatFloat32x4, Offset: 16, ShaderLocation: 2},
				},
			}},
		},
		Fragment: &wgpu.FragmentState{
			Module:     textMod,
			EntryPoint: "fs_main",
			Targets: []wgpu.ColorTargetState{{
				Format: a.Config.Format,
				Blend: &wgpu.BlendState{
					Color: wgpu.BlendComponent{
						SrcFactor: wgpu.BlendFactorSrcAlpha,
						DstFactor: wgpu.BlendFactorOneMinusSrcAlpha,
						Operation: wgpu.BlendOperationAdd,
					},
					Alpha: wgpu.BlendComponent{
						SrcFactor: wgpu.BlendFactorOne,
						DstFactor: wgpu.BlendFactorOne,
						Operation: wgpu.BlendOperationAdd,
					},
				},
				WriteMask: wgpu.ColorWriteMaskAll,
			}},
		},
		Primitive: wgpu.PrimitiveState{
			Topology: wgpu.PrimitiveTopologyTriangleList,
		},
		Multisample: wgpu.MultisampleState{
			Count: 1,
			Mask:  0xFFFFFFFF,
		},
	})
	if err != nil {
		a.TextPipeline = nil
		return err
	}

	a.TextBindGroup, err = a.Device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Layout: a.TextPipeline.GetBindGroupLayout(0),
		Entries: []wgpu.BindGroupEntry{
			{Binding: 0, TextureView: atlasView},
			{Binding: 1, Sampler: a.Sampler},
		},
	})
	if err != nil {
		a.TextPipeline = nil
		return err
	}
	return nil
}

// Destroy tears down the splat surface before the GPU device goes away.
func (a *App) Destroy() {
	if a.Splats != nil {
		a.Splats.Destroy()
	}
	if a.loadFile != nil {
		a.loadFile.Close()
		a.loadFile = nil
	}
	if a.SplatBindGroup != nil {
		a.SplatBindGroup.Release()
	}
}
