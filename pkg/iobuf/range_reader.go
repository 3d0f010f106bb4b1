package iobuf

import "io"

// rangeReader slices a single byte range out of a stream that starts at
// absolute offset newStart, delivering only [rawStart, rawEnd] and
// discarding (not seeking past) everything outside it. Used by DELIVER
// to serve a Range request against a fully-resident object without a
// second read of the backing file: newStart/newEnd track where the
// wrapped reader actually begins/ends; rawStart/rawEnd are the bytes the
// client asked for.
type rangeReader struct {
	R        io.ReadCloser
	newStart int
	newEnd   int
	rawStart int
	rawEnd   int
	offset   int
}

// RangeReader wraps r, itself positioned at absolute byte newStart of
// the underlying object (through newEnd), so that Read only yields
// bytes [rawStart, rawEnd] and Close still releases r.
func RangeReader(r io.ReadCloser, newStart int, newEnd int, rawStart int, rawEnd int) io.ReadCloser {
	return &rangeReader{
		R:        r,
		newStart: newStart,
		newEnd:   newEnd,
		rawStart: rawStart,
		rawEnd:   rawEnd,
		offset:   newStart,
	}
}

// Read discards everything before rawStart on the first call, then
// returns bytes until rawEnd, trimming the final read and reporting
// io.EOF once the range boundary is crossed.
func (r *rangeReader) Read(p []byte) (int, error) {
	if r.offset < r.rawStart {
		skipN, err := io.CopyN(io.Discard, r.R, int64(r.rawStart-r.offset))
		if err != nil {
			return 0, err
		}
		r.offset += int(skipN)
	}

	n, err := r.R.Read(p)

	cur := r.offset + n
	if cur > r.rawEnd {
		// remaining is how many of the n bytes just read still belong
		// to the requested range; the rest must be trimmed from n.
		remaining := r.rawEnd - r.offset + 1
		discardSize := min(r.newEnd, r.newEnd-cur+1)
		if discardSize > 0 {
			skipN, _ := io.CopyN(io.Discard, r.R, int64(discardSize))
			r.offset += int(skipN)
		} else {
			n += discardSize
		}
		r.offset += n
		return remaining, io.EOF
	}

	r.offset += n
	return n, err
}

// Close releases the wrapped reader.
func (r *rangeReader) Close() error {
	return r.R.Close()
}
