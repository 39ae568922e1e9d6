package main

import (
	"flag"
	"runtime"

	"github.com/gekko3d/gsplat/splatrt/rt/app"

	"github.com/go-gl/glfw/v3.3/glfw"
	"github.com/go-gl/mathgl/mgl32"
)

func init() {
	runtime.LockOSThread()
}

func main() {
	file := flag.String("file", "", "Path of the .ply splat file to stream")
	capacity := flag.Int("capacity", 0, "Slot capacity (0 sizes from the file header)")
	chunk := flag.Int("chunk", 64*1024, "Read chunk size in bytes")
	batch := flag.Int("batch", 4096, "Records decoded per frame")
	adaptive := flag.Bool("adaptive", true, "Shorten the sort interval while the camera moves fast")
	font := flag.String("font", "", "TTF/OTF font for the HUD (default built-in)")
	debug := flag.Bool("debug", false, "Enable debug logging and profiler overlay")
	flag.Parse()

	if err := glfw.Init(); err != nil {
		panic(err)
	}
	defer glfw.Terminate()

	glfw.WindowHint(glfw.ClientAPI, glfw.NoAPI)
	window, err := glfw.CreateWindow(1280, 720, "SplatRT Go", nil, nil)
	if err != nil {
		panic(err)
	}
	defer window.Destroy()

	application := app.NewApp(window, app.Options{
		Capacity:     *capacity,
		ChunkSize:    *chunk,
		BatchSize:    *batch,
		AdaptiveSort: *adaptive,
		FontPath:     *font,
		DebugMode:    *debug,
	})
	if err := application.Init(); err != nil {
		panic(err)
	}
	defer application.Destroy()

	if *file != "" {
		if err := application.Open(*file); err != nil {
			panic(err)
		}
	}
	application.Camera.LookAt(mgl32.Vec3{0, 0, 0})

	window.SetFramebufferSizeCallback(func(w *glfw.Window, width, height int) {
		application.Resize(width, height)
	})

	var lastX, lastY float64
	window.SetCursorPosCallback(func(w *glfw.Window, xpos, ypos float64) {
		if application.MouseCaptured {
			application.Camera.Look(float32(xpos-lastX), float32(ypos-lastY))
		}
		lastX, lastY = xpos, ypos
	})

	window.SetKeyCallback(func(w *glfw.Window, key glfw.Key, scancode int, action glfw.Action, mods glfw.ModifierKey) {
		if key == glfw.KeyTab && action == glfw.Press {
			application.MouseCaptured = !application.MouseCaptured
			if application.MouseCaptured {
				w.SetInputMode(glfw.CursorMode, glfw.CursorDisabled)
			} else {
				w.SetInputMode(glfw.CursorMode, glfw.CursorNormal)
			}
		}
		if key == glfw.KeyEscape && action == glfw.Press {
			w.SetShouldClose(true)
		}
		if action == glfw.Press || action == glfw.Repeat {
			if key == glfw.KeyEqual || key == glfw.KeyKPAdd {
				application.Camera.Speed *= 1.5
			}
			if key == glfw.KeyMinus || key == glfw.KeyKPSubtract {
				application.Camera.Speed /= 1.5
			}
		}
	})

	for !window.ShouldClose() {
		glfw.PollEvents()
		application.Update()
		application.Render()
	}
}
