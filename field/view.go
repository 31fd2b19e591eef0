package field

// View exposes a contiguous logical byte range layered over a sequence of
// fields, skipping header bytes transparently. It never copies data
// unless the caller asks it to (CopyToSlice) or the logical range happens
// to straddle more than one field (RawSlice returns false in that case).
type View struct {
	data          []byte
	fieldBodySize int
	offset        int
	len           int
}

// NewView creates a View spanning the entirety of data, treated as a
// packed sequence of fields of the given body size.
func NewView(data []byte, fieldBodySize int) View {
	if fieldBodySize <= 0 {
		panic("field: field body size can't be zero")
	}

	return View{
		data:          data,
		fieldBodySize: fieldBodySize,
		offset:        0,
		len:           len(data) * fieldBodySize / Size(fieldBodySize),
	}
}

// WithOptions creates a View with an explicit logical offset and length,
// used when slicing out a record's key or value body.
func WithOptions(data []byte, fieldBodySize, offset, length int) View {
	return View{data: data, fieldBodySize: fieldBodySize, offset: offset, len: length}
}

// Len returns the logical byte length of the view.
func (v View) Len() int { return v.len }

// forEachChunk walks the on-disk runs backing the logical range
// [0, v.len), invoking fn once per contiguous in-field run with the
// physical start offset into v.data, the logical start within the view,
// and the run length.
func (v View) forEachChunk(fn func(physStart, logStart, n int)) {
	fieldBodySize := v.fieldBodySize
	ours := v.offset + HeaderSize*v.offset/fieldBodySize
	theirs := 0

	if v.offset%fieldBodySize != 0 {
		rem := v.len
		if avail := fieldBodySize - (v.offset % fieldBodySize); avail < rem {
			rem = avail
		}
		ours += HeaderSize
		fn(ours, theirs, rem)
		theirs += rem
		ours += rem
	}

	fields := (v.len - theirs) / fieldBodySize
	for i := 0; i < fields; i++ {
		ours += HeaderSize
		fn(ours, theirs, fieldBodySize)
		theirs += fieldBodySize
		ours += fieldBodySize
	}

	if theirs != v.len {
		rem := v.len - theirs
		ours += HeaderSize
		fn(ours, theirs, rem)
	}
}

// CopyToSlice copies this view's logical bytes into dst. Panics if the
// lengths don't match.
func (v View) CopyToSlice(dst []byte) {
	if len(dst) != v.len {
		panic("field: slice must have the same size")
	}

	v.forEachChunk(func(physStart, logStart, n int) {
		copy(dst[logStart:logStart+n], v.data[physStart:physStart+n])
	})
}

// Equal reports whether this view's logical bytes equal slice.
func (v View) Equal(slice []byte) bool {
	if len(slice) != v.len {
		return false
	}

	equal := true
	v.forEachChunk(func(physStart, logStart, n int) {
		if !equal {
			return
		}
		if string(v.data[physStart:physStart+n]) != string(slice[logStart:logStart+n]) {
			equal = false
		}
	})
	return equal
}

// EqualView reports whether two views carry the same logical bytes,
// regardless of field body size or backing storage.
func (v View) EqualView(other View) bool {
	if v.len != other.len {
		return false
	}

	it1 := v.Iter()
	it2 := other.Iter()
	for {
		b1, ok1 := it1.Next()
		b2, ok2 := it2.Next()
		if ok1 != ok2 {
			return false
		}
		if !ok1 {
			return true
		}
		if b1 != b2 {
			return false
		}
	}
}

// Compare orders this view's logical bytes against slice, byte by byte.
// ok is false when the lengths differ (no ordering is defined then).
func (v View) Compare(slice []byte) (cmp int, ok bool) {
	if len(slice) != v.len {
		return 0, false
	}

	result := 0
	v.forEachChunk(func(physStart, logStart, n int) {
		if result != 0 {
			return
		}
		a := v.data[physStart : physStart+n]
		b := slice[logStart : logStart+n]
		for i := 0; i < n; i++ {
			if a[i] < b[i] {
				result = -1
				return
			} else if a[i] > b[i] {
				result = 1
				return
			}
		}
	})
	return result, true
}

// Iter returns a byte-wise iterator over the view's logical range.
func (v View) Iter() *Bytes {
	return &Bytes{data: v.data, fieldBodySize: v.fieldBodySize, offset: v.offset, len: v.len}
}

// RawSlice returns the underlying bytes directly when the logical range
// is wholly contained in a single field body (the zero-copy fast path),
// and ok=false otherwise.
func (v View) RawSlice() (slice []byte, ok bool) {
	if v.len == 0 {
		return []byte{}, true
	}

	fieldSize := Size(v.fieldBodySize)
	start := v.offset + HeaderSize*v.offset/v.fieldBodySize + HeaderSize
	end := start + v.len
	startPage := start / fieldSize
	endPage := (end - 1) / fieldSize

	if startPage == endPage {
		return v.data[start:end], true
	}
	return nil, false
}

// SplitAt splits the view into two at logical position pos: [0,pos) and
// [pos,len).
func (v View) SplitAt(pos int) (left, right View) {
	if v.len < pos {
		panic("field: cannot split beyond length")
	}
	if len(v.data) < v.offset+pos {
		panic("field: cannot split beyond data length")
	}

	left = WithOptions(v.data, v.fieldBodySize, v.offset, pos)
	right = WithOptions(v.data, v.fieldBodySize, v.offset+pos, v.len-pos)
	return left, right
}

// Bytes is a byte-wise iterator over a View's logical range, transparently
// skipping header bytes at field boundaries.
type Bytes struct {
	data          []byte
	fieldBodySize int
	offset        int
	len           int
}

// Next returns the next logical byte, or ok=false when exhausted.
func (b *Bytes) Next() (byte, bool) {
	if b.len == 0 {
		return 0, false
	}

	if (b.offset-HeaderSize*b.offset/b.fieldBodySize)%b.fieldBodySize == 0 {
		b.offset += HeaderSize
	}

	byt := b.data[b.offset]
	b.offset++
	b.len--

	return byt, true
}
