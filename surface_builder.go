package gsplat

import (
	"errors"
	"time"

	"github.com/gekko3d/gsplat/splatrt/rt/gpu"
	"github.com/gekko3d/gsplat/splatrt/rt/order"
	"github.com/gekko3d/gsplat/splatrt/rt/stream"
)

const (
	DefaultChunkSize     = 64 * 1024
	DefaultEpochInterval = 100 * time.Millisecond
)

type config struct {
	capacity         int
	logger           Logger
	flush            gpu.FlushPolicy
	sortInterval     time.Duration
	adaptiveSort     bool
	batchSize        int
	chunkSize        int
	alignment        int
	partialThreshold float64
	epochInterval    time.Duration
}

type SurfaceBuilder struct {
	renderer gpu.Renderer
	cfg      config
}

func NewSurfaceBuilder(renderer gpu.Renderer) *SurfaceBuilder {
	return &SurfaceBuilder{
		renderer: renderer,
		cfg: config{
			flush:            gpu.DefaultFlushPolicy(),
			sortInterval:     order.DefaultInterval,
			batchSize:        stream.DefaultBatchSize,
			chunkSize:        DefaultChunkSize,
			alignment:        gpu.DefaultAlignment,
			partialThreshold: gpu.DefaultPartialThreshold,
			epochInterval:    DefaultEpochInterval,
		},
	}
}

// WithCapacity fixes the slot count up front. Without it the surface sizes
// itself from the first header it decodes.
func (b *SurfaceBuilder) WithCapacity(n int) *SurfaceBuilder {
	b.cfg.capacity = n
	return b
}

func (b *SurfaceBuilder) WithLogger(l Logger) *SurfaceBuilder {
	b.cfg.logger = l
	return b
}

func (b *SurfaceBuilder) WithFlushPolicy(p gpu.FlushPolicy) *SurfaceBuilder {
	b.cfg.flush = p
	return b
}

func (b *SurfaceBuilder) WithSortInterval(d time.Duration) *SurfaceBuilder {
	b.cfg.sortInterval = d
	return b
}

func (b *SurfaceBuilder) WithAdaptiveSort(enabled bool) *SurfaceBuilder {
	b.cfg.adaptiveSort = enabled
	return b
}

func (b *SurfaceBuilder) WithBatchSize(n int) *SurfaceBuilder {
	b.cfg.batchSize = n
	return b
}

func (b *SurfaceBuilder) WithChunkSize(n int) *SurfaceBuilder {
	b.cfg.chunkSize = n
	return b
}

func (b *SurfaceBuilder) WithGridAlignment(n int) *SurfaceBuilder {
	b.cfg.alignment = n
	return b
}

func (b *SurfaceBuilder) WithPartialThreshold(ratio float64) *SurfaceBuilder {
	b.cfg.partialThreshold = ratio
	return b
}

func (b *SurfaceBuilder) WithEpochInterval(d time.Duration) *SurfaceBuilder {
	b.cfg.epochInterval = d
	return b
}

func (b *SurfaceBuilder) validate() error {
	c := b.cfg
	var errs []error
	if b.renderer == nil {
		errs = append(errs, errors.New("renderer is required"))
	}
	if c.capacity < 0 {
		errs = append(errs, errors.New("capacity must not be negative"))
	}
	if c.batchSize <= 0 {
		errs = append(errs, errors.New("batch size must be positive"))
	}
	if c.chunkSize <= 0 {
		errs = append(errs, errors.New("chunk size must be positive"))
	}
	if c.alignment <= 0 {
		errs = append(errs, errors.New("grid alignment must be positive"))
	}
	if c.partialThreshold <= 0 || c.partialThreshold > 1 {
		errs = append(errs, errors.New("partial threshold must be in (0, 1]"))
	}
	if c.sortInterval <= 0 {
		errs = append(errs, errors.New("sort interval must be positive"))
	}
	if c.epochInterval < 0 {
		errs = append(errs, errors.New("epoch interval must not be negative"))
	}
	if len(errs) > 0 {
		return errors.Join(append([]error{errors.New("gsplat: invalid surface config")}, errs...)...)
	}
	return nil
}

// Build validates the configuration and returns a surface. With a fixed
// capacity the GPU buffers are bound right away.
func (b *SurfaceBuilder) Build() (*Surface, error) {
	if err := b.validate(); err != nil {
		return nil, err
	}
	s := newSurface(b.renderer, b.cfg)
	if b.cfg.capacity > 0 {
		if err := s.allocate(b.cfg.capacity); err != nil {
			s.Destroy()
			return nil, err
		}
	}
	return s, nil
}
