// Package structural implements the non-decoding sources: Trimmer
// (range restriction), Null (silence fill), Composite (concatenation of
// same-format sources) and ChannelMapper (channel permutation). None of
// these decode anything; they compose other Sources the way io.Readers
// wrap io.Readers.
package structural

import (
	"fmt"
	"math"

	"github.com/farcloser/waveforge/internal/errs"
	"github.com/farcloser/waveforge/internal/format"
)

// Source is the minimal contract this package depends on (a narrowed
// copy of the root waveforge.Source interface, to avoid an import cycle
// with the root package).
type Source interface {
	Format() format.StreamFormat
	Length() (frames int64, known bool)
	Seekable() bool
	Seek(frame int64) error
	ReadFrames(buf []byte, n int) (int, error)
	Tags() map[string]string
	Chapters() []Chapter
	Close() error
}

// Chapter is an alias of format.Chapter: every source adapter package
// aliases the same underlying type so each one's Chapters() method
// satisfies this package's Source interface without an import cycle
// back to the root package.
type Chapter = format.Chapter

// Infinite marks a Trimmer duration that runs "until EOF".
const Infinite = int64(math.MaxInt64)

// Trimmer restricts an upstream source to [start, start+duration).
type Trimmer struct {
	upstream      Source
	start, length int64 // length == Infinite means "until EOF"
	pos           int64 // frames read so far, relative to start
}

// NewTrimmer builds a Trimmer over upstream. length == Infinite means
// "until EOF". Fails construction if start exceeds the upstream's known
// length.
func NewTrimmer(upstream Source, start, length int64) (*Trimmer, error) {
	if total, known := upstream.Length(); known && start > total {
		return nil, fmt.Errorf("%w: trim start %d exceeds source length %d", errs.ErrRangeError, start, total)
	}

	if upstream.Seekable() {
		if err := upstream.Seek(start); err != nil {
			return nil, err
		}
	} else if start != 0 {
		return nil, fmt.Errorf("%w: non-zero trim start on non-seekable source", errs.ErrSeekUnsupported)
	}

	return &Trimmer{upstream: upstream, start: start, length: length}, nil
}

func (t *Trimmer) Format() format.StreamFormat { return t.upstream.Format() }

func (t *Trimmer) Length() (int64, bool) {
	if t.length != Infinite {
		return t.length, true
	}

	if total, known := t.upstream.Length(); known {
		return total - t.start, true
	}

	return 0, false
}

func (t *Trimmer) Seekable() bool { return t.upstream.Seekable() }

func (t *Trimmer) Seek(frame int64) error {
	if err := t.upstream.Seek(t.start + frame); err != nil {
		return err
	}

	t.pos = frame

	return nil
}

func (t *Trimmer) ReadFrames(buf []byte, n int) (int, error) {
	if t.length != Infinite {
		remaining := t.length - t.pos
		if remaining <= 0 {
			return 0, nil
		}

		if int64(n) > remaining {
			n = int(remaining)
		}
	}

	m, err := t.upstream.ReadFrames(buf, n)
	t.pos += int64(m)

	return m, err
}

func (t *Trimmer) Tags() map[string]string { return t.upstream.Tags() }
func (t *Trimmer) Chapters() []Chapter     { return t.upstream.Chapters() }
func (t *Trimmer) Close() error            { return t.upstream.Close() }
func (t *Trimmer) Upstream() Source        { return t.upstream }

// Null emits silence in a given StreamFormat, bounded by an optional
// frame range (length == Infinite means unbounded, i.e. the caller must
// stop pulling).
type Null struct {
	f      format.StreamFormat
	length int64
	pos    int64
}

// NewNull returns a Null source of the given format and length
// (Infinite for unbounded).
func NewNull(f format.StreamFormat, length int64) *Null {
	return &Null{f: f, length: length}
}

func (n *Null) Format() format.StreamFormat { return n.f }

func (n *Null) Length() (int64, bool) {
	if n.length == Infinite {
		return 0, false
	}

	return n.length, true
}

func (n *Null) Seekable() bool { return true }

func (n *Null) Seek(frame int64) error {
	n.pos = frame

	return nil
}

func (n *Null) ReadFrames(buf []byte, want int) (int, error) {
	if n.length != Infinite {
		remaining := n.length - n.pos
		if remaining <= 0 {
			return 0, nil
		}

		if int64(want) > remaining {
			want = int(remaining)
		}
	}

	frameBytes := n.f.BytesPerFrame()
	need := want * frameBytes

	if need > len(buf) {
		want = len(buf) / frameBytes
		need = want * frameBytes
	}

	for i := range need {
		buf[i] = 0
	}

	n.pos += int64(want)

	return want, nil
}

func (n *Null) Tags() map[string]string { return nil }
func (n *Null) Chapters() []Chapter     { return nil }
func (n *Null) Close() error            { return nil }

// Composite concatenates sub-sources sharing an identical StreamFormat.
// Reads drain each sub-source in turn; seeking rewinds predecessors to
// zero and repositions the target sub-source.
type Composite struct {
	f        format.StreamFormat
	subs     []Source
	offsets  []int64 // cumulative frame offset where sub[i] starts
	idx      int     // currently-draining sub-source
	totalLen int64
	lenKnown bool
}

// NewComposite builds a Composite over subs, which must all share f.
func NewComposite(f format.StreamFormat, subs []Source) (*Composite, error) {
	offsets := make([]int64, len(subs))

	var total int64

	known := true

	for i, s := range subs {
		if !s.Format().Equal(f) {
			return nil, fmt.Errorf("%w: composite sub-source %d format mismatch", errs.ErrMalformedContainer, i)
		}

		offsets[i] = total

		if l, ok := s.Length(); ok {
			total += l
		} else {
			known = false
		}
	}

	return &Composite{f: f, subs: subs, offsets: offsets, totalLen: total, lenKnown: known}, nil
}

func (c *Composite) Format() format.StreamFormat { return c.f }

func (c *Composite) Length() (int64, bool) {
	return c.totalLen, c.lenKnown
}

func (c *Composite) Seekable() bool {
	for _, s := range c.subs {
		if !s.Seekable() {
			return false
		}
	}

	return len(c.subs) > 0
}

// Seek rewinds every sub-source other than the target to zero and
// positions the target sub-source at its local offset: both
// predecessors (so a later backward seek into them starts fresh) and
// successors (so forward draining into them after this seek starts
// from their own beginning rather than wherever a prior drain pass
// left them) must land on zero.
func (c *Composite) Seek(frame int64) error {
	target := 0
	local := frame

	for i, off := range c.offsets {
		var subLen int64

		if l, ok := c.subs[i].Length(); ok {
			subLen = l
		} else {
			subLen = math.MaxInt64 - off
		}

		if frame < off+subLen || i == len(c.subs)-1 {
			target = i
			local = frame - off

			break
		}
	}

	for i, s := range c.subs {
		if i == target {
			if err := s.Seek(local); err != nil {
				return err
			}
		} else {
			if err := s.Seek(0); err != nil {
				return err
			}
		}
	}

	c.idx = target

	return nil
}

func (c *Composite) ReadFrames(buf []byte, n int) (int, error) {
	total := 0
	frameBytes := c.f.BytesPerFrame()

	for total < n && c.idx < len(c.subs) {
		m, err := c.subs[c.idx].ReadFrames(buf[total*frameBytes:], n-total)
		if err != nil {
			return total, err
		}

		if m == 0 {
			c.idx++

			continue
		}

		total += m
	}

	return total, nil
}

// Tags aggregates first-source-wins per key across sub-sources.
func (c *Composite) Tags() map[string]string {
	out := make(map[string]string)

	for _, s := range c.subs {
		for k, v := range s.Tags() {
			if _, exists := out[k]; !exists {
				out[k] = v
			}
		}
	}

	return out
}

// Chapters concatenates sub-source chapter lists, or synthesizes one
// chapter per sub-source (named from its index) when none carry any.
func (c *Composite) Chapters() []Chapter {
	var out []Chapter

	anyChapters := false

	for _, s := range c.subs {
		if ch := s.Chapters(); len(ch) > 0 {
			anyChapters = true

			out = append(out, ch...)
		}
	}

	if anyChapters {
		return out
	}

	synthesized := make([]Chapter, 0, len(c.subs))

	for i, s := range c.subs {
		dur := 0.0

		if l, ok := s.Length(); ok {
			dur = float64(l) / float64(c.f.SampleRate)
		}

		synthesized = append(synthesized, Chapter{Title: fmt.Sprintf("Track %d", i+1), Duration: dur})
	}

	return synthesized
}

func (c *Composite) Close() error {
	var first error

	for _, s := range c.subs {
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
	}

	return first
}

// Subs exposes the sub-source list, used by the cue package's tag
// collector which shares ownership of each segment.
func (c *Composite) Subs() []Source { return c.subs }

// ChannelMapper permutes interleaved samples by a user-supplied
// permutation vector: output channel i takes input channel perm[i]
// (0-based). Every input index must appear; the mapper does not change
// channel count semantics beyond reordering the same count.
type ChannelMapper struct {
	upstream Source
	perm     []int
	f        format.StreamFormat
}

// NewChannelMapper validates perm (one entry per upstream channel, every
// value in [0, upstream channel count), each appearing exactly once) and
// returns a mapper emitting len(perm) channels.
func NewChannelMapper(upstream Source, perm []int) (*ChannelMapper, error) {
	in := upstream.Format()

	if len(perm) != in.Channels {
		return nil, fmt.Errorf("%w: channel map has %d entries for %d channels", errs.ErrInvalidMatrix, len(perm), in.Channels)
	}

	seen := make([]bool, in.Channels)

	for _, p := range perm {
		if p < 0 || p >= in.Channels {
			return nil, fmt.Errorf("%w: channel map index %d out of range [0,%d)", errs.ErrInvalidMatrix, p, in.Channels)
		}

		if seen[p] {
			return nil, fmt.Errorf("%w: channel map index %d repeated", errs.ErrInvalidMatrix, p)
		}

		seen[p] = true
	}

	out := in
	out.Channels = len(perm)

	return &ChannelMapper{upstream: upstream, perm: perm, f: out}, nil
}

func (cm *ChannelMapper) Format() format.StreamFormat { return cm.f }
func (cm *ChannelMapper) Length() (int64, bool)       { return cm.upstream.Length() }
func (cm *ChannelMapper) Seekable() bool              { return cm.upstream.Seekable() }
func (cm *ChannelMapper) Seek(frame int64) error      { return cm.upstream.Seek(frame) }
func (cm *ChannelMapper) Tags() map[string]string     { return cm.upstream.Tags() }
func (cm *ChannelMapper) Chapters() []Chapter         { return cm.upstream.Chapters() }
func (cm *ChannelMapper) Close() error                { return cm.upstream.Close() }
func (cm *ChannelMapper) Upstream() Source             { return cm.upstream }

func (cm *ChannelMapper) ReadFrames(buf []byte, n int) (int, error) {
	in := cm.upstream.Format()
	bps := in.BytesPerSample()
	inFrameBytes := in.Channels * bps

	scratch := make([]byte, n*inFrameBytes)

	m, err := cm.upstream.ReadFrames(scratch, n)
	if err != nil {
		return 0, err
	}

	for i := range m {
		inBase := i * inFrameBytes
		outBase := i * len(cm.perm) * bps

		for outCh, inCh := range cm.perm {
			copy(buf[outBase+outCh*bps:outBase+(outCh+1)*bps], scratch[inBase+inCh*bps:inBase+(inCh+1)*bps])
		}
	}

	return m, nil
}
