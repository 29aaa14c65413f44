package speech

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/voxlink-ai/voxlink/pkg/langtag"
)

// Timeouts holds the per-capability call deadlines applied by [PooledVendor].
// Zero fields fall back to the defaults below.
type Timeouts struct {
	Transcribe time.Duration
	Translate  time.Duration
	Synthesize time.Duration
}

const (
	defaultTranscribeTimeout = 20 * time.Second
	defaultTranslateTimeout  = 5 * time.Second
	defaultSynthesizeTimeout = 10 * time.Second

	// DefaultPoolSize bounds concurrent blocking vendor calls so they cannot
	// starve the connection fabric.
	DefaultPoolSize = 16
)

// PooledVendor wraps a [Vendor] with a weighted semaphore bounding concurrent
// calls, per-capability deadlines, and the same-language translation
// short-circuit. Streaming sessions are not pooled: they are long-lived and
// the recogniser paces itself on its own socket.
//
// PooledVendor is safe for concurrent use.
type PooledVendor struct {
	inner    Vendor
	sem      *semaphore.Weighted
	timeouts Timeouts
}

// PoolOption configures a [PooledVendor].
type PoolOption func(*PooledVendor)

// WithPoolSize sets the maximum number of concurrent blocking vendor calls.
// Default is [DefaultPoolSize].
func WithPoolSize(n int) PoolOption {
	return func(p *PooledVendor) {
		if n > 0 {
			p.sem = semaphore.NewWeighted(int64(n))
		}
	}
}

// WithTimeouts overrides the per-capability deadlines. Zero fields keep the
// defaults.
func WithTimeouts(t Timeouts) PoolOption {
	return func(p *PooledVendor) {
		if t.Transcribe > 0 {
			p.timeouts.Transcribe = t.Transcribe
		}
		if t.Translate > 0 {
			p.timeouts.Translate = t.Translate
		}
		if t.Synthesize > 0 {
			p.timeouts.Synthesize = t.Synthesize
		}
	}
}

// NewPooled wraps inner with the bounded worker pool and default deadlines.
func NewPooled(inner Vendor, opts ...PoolOption) *PooledVendor {
	p := &PooledVendor{
		inner: inner,
		sem:   semaphore.NewWeighted(DefaultPoolSize),
		timeouts: Timeouts{
			Transcribe: defaultTranscribeTimeout,
			Translate:  defaultTranslateTimeout,
			Synthesize: defaultSynthesizeTimeout,
		},
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Compile-time assertion that PooledVendor satisfies Vendor.
var _ Vendor = (*PooledVendor)(nil)

// acquire takes one pool slot, respecting ctx.
func (p *PooledVendor) acquire(ctx context.Context) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("speech: acquire pool slot: %w", err)
	}
	return nil
}

// Transcribe runs the batch STT call on the pool with the transcribe deadline.
func (p *PooledVendor) Transcribe(ctx context.Context, pcm []byte, lang string) (string, error) {
	if err := p.acquire(ctx); err != nil {
		return "", err
	}
	defer p.sem.Release(1)

	ctx, cancel := context.WithTimeout(ctx, p.timeouts.Transcribe)
	defer cancel()
	return p.inner.Transcribe(ctx, pcm, lang)
}

// StartStream opens a streaming session on the wrapped vendor. The session
// itself is not subject to the pool.
func (p *PooledVendor) StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error) {
	return p.inner.StartStream(ctx, cfg)
}

// Translate runs the translation call on the pool with the translate
// deadline. When source and target denote the same language the input is
// returned verbatim without consuming a pool slot.
func (p *PooledVendor) Translate(ctx context.Context, req TranslateRequest) (string, error) {
	if langtag.Same(req.SourceLang, req.TargetLang) {
		return req.Text, nil
	}

	if err := p.acquire(ctx); err != nil {
		return "", err
	}
	defer p.sem.Release(1)

	ctx, cancel := context.WithTimeout(ctx, p.timeouts.Translate)
	defer cancel()
	return p.inner.Translate(ctx, req)
}

// Synthesize runs the TTS call on the pool with the synthesize deadline.
func (p *PooledVendor) Synthesize(ctx context.Context, text, lang, voice string) ([]byte, error) {
	if err := p.acquire(ctx); err != nil {
		return nil, err
	}
	defer p.sem.Release(1)

	ctx, cancel := context.WithTimeout(ctx, p.timeouts.Synthesize)
	defer cancel()
	return p.inner.Synthesize(ctx, text, lang, voice)
}
