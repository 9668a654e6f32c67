package status

import (
	"encoding/binary"
	"time"
)

// visitor walks the fields of a record in their fixed on-disk order. The
// same walk drives sizing, encoding and decoding, so the three can never
// disagree about the layout.
type visitor interface {
	str(p *string, n int)
	u16(p *int)
	i32(p *int)
	u32(p *uint32)
	i64(p *int64)
	u64(p *uint64)
	dur(p *time.Duration)
	ts(p *time.Time)
	flags(ps ...*bool)
}

type sizer struct{ n int }

func (s *sizer) str(_ *string, n int)  { s.n += n }
func (s *sizer) u16(*int)              { s.n += 2 }
func (s *sizer) i32(*int)              { s.n += 4 }
func (s *sizer) u32(*uint32)           { s.n += 4 }
func (s *sizer) i64(*int64)            { s.n += 8 }
func (s *sizer) u64(*uint64)           { s.n += 8 }
func (s *sizer) dur(*time.Duration)    { s.n += 8 }
func (s *sizer) ts(*time.Time)         { s.n += 8 }
func (s *sizer) flags(...*bool)        { s.n += 4 }

type encoder struct {
	b   []byte
	off int
}

func (e *encoder) next(n int) []byte {
	b := e.b[e.off : e.off+n]
	e.off += n
	return b
}

func (e *encoder) str(p *string, n int) {
	b := e.next(n)
	k := copy(b, *p)
	clear(b[k:])
}

func (e *encoder) u16(p *int)    { binary.LittleEndian.PutUint16(e.next(2), uint16(*p)) }
func (e *encoder) i32(p *int)    { binary.LittleEndian.PutUint32(e.next(4), uint32(int32(*p))) }
func (e *encoder) u32(p *uint32) { binary.LittleEndian.PutUint32(e.next(4), *p) }
func (e *encoder) i64(p *int64)  { binary.LittleEndian.PutUint64(e.next(8), uint64(*p)) }
func (e *encoder) u64(p *uint64) { binary.LittleEndian.PutUint64(e.next(8), *p) }

func (e *encoder) dur(p *time.Duration) {
	binary.LittleEndian.PutUint64(e.next(8), uint64(*p))
}

func (e *encoder) ts(p *time.Time) {
	var v int64
	if !p.IsZero() {
		v = p.UnixNano()
	}
	binary.LittleEndian.PutUint64(e.next(8), uint64(v))
}

func (e *encoder) flags(ps ...*bool) {
	var v uint32
	for i, p := range ps {
		if *p {
			v |= 1 << i
		}
	}
	binary.LittleEndian.PutUint32(e.next(4), v)
}

type decoder struct {
	b   []byte
	off int
}

func (d *decoder) next(n int) []byte {
	b := d.b[d.off : d.off+n]
	d.off += n
	return b
}

func (d *decoder) str(p *string, n int) {
	b := d.next(n)
	end := 0
	for end < len(b) && b[end] != 0 {
		end++
	}
	*p = string(b[:end])
}

func (d *decoder) u16(p *int)    { *p = int(binary.LittleEndian.Uint16(d.next(2))) }
func (d *decoder) i32(p *int)    { *p = int(int32(binary.LittleEndian.Uint32(d.next(4)))) }
func (d *decoder) u32(p *uint32) { *p = binary.LittleEndian.Uint32(d.next(4)) }
func (d *decoder) i64(p *int64)  { *p = int64(binary.LittleEndian.Uint64(d.next(8))) }
func (d *decoder) u64(p *uint64) { *p = binary.LittleEndian.Uint64(d.next(8)) }

func (d *decoder) dur(p *time.Duration) {
	*p = time.Duration(binary.LittleEndian.Uint64(d.next(8)))
}

func (d *decoder) ts(p *time.Time) {
	v := int64(binary.LittleEndian.Uint64(d.next(8)))
	if v == 0 {
		*p = time.Time{}
		return
	}
	*p = time.Unix(0, v)
}

func (d *decoder) flags(ps ...*bool) {
	v := binary.LittleEndian.Uint32(d.next(4))
	for i, p := range ps {
		*p = v&(1<<i) != 0
	}
}
