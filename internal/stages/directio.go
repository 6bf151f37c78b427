package stages

import (
	"errors"
	"io"
	"os"
	"syscall"

	"github.com/pgkeep/pgkeep/internal/pgerrors"
)

// DirectIOMode selects how ResolveMode and OpenDirectOrBuffered pick
// between O_DIRECT and buffered I/O, per the direct-I/O policy.
type DirectIOMode int

const (
	// DirectIOAuto probes once per destination (via ProbeDirectIO) and then
	// behaves as DirectIOOn or DirectIOOff for the rest of the run.
	DirectIOAuto DirectIOMode = iota
	DirectIOOn
	DirectIOOff
)

// BlockAlignment is the required read/write granularity under
// O_DIRECT (the design: "require block-aligned, block-sized reads and
// writes"). At 4096 bytes it is half the 8192-byte WAL page size.
const BlockAlignment = 4096

// OpenDirectOrBuffered opens path for writing with O_DIRECT when mode
// requests it, falling back to buffered I/O on EINVAL at open time —
// the design: "fall back to buffered I/O on EINVAL at open or write,
// or on detected non-alignment at EOF". It reports whether O_DIRECT is
// actually in effect for the returned file.
func OpenDirectOrBuffered(path string, mode DirectIOMode) (*os.File, bool, error) {
	if mode == DirectIOOff {
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o640)
		if err != nil {
			return nil, false, pgerrors.Wrap(pgerrors.IOError, "opening for buffered write", err).WithPath(path)
		}
		return f, false, nil
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC|syscall.O_DIRECT, 0o640)
	if err != nil {
		if errors.Is(err, syscall.EINVAL) {
			f, err = os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o640)
			if err != nil {
				return nil, false, pgerrors.Wrap(pgerrors.IOError, "opening for buffered write (direct fallback)", err).WithPath(path)
			}
			return f, false, nil
		}
		return nil, false, pgerrors.Wrap(pgerrors.IOError, "opening for direct write", err).WithPath(path)
	}
	return f, true, nil
}

// WriteAligned writes buf to f, which must be BlockAlignment-sized
// except possibly the final write at EOF. When direct is true and buf
// is not a multiple of BlockAlignment, it pads to the next boundary
// with zero bytes, per the "block-aligned, block-sized"
// requirement, and truncates the file back down to the true length
// afterward so on-disk size matches the source. On any misalignment
// error from the kernel (rather than a length check we could make
// ourselves) the caller should reopen via OpenDirectOrBuffered with
// DirectIOOff and retry buffered — that fallback is the caller's
// responsibility since only it knows whether more data follows.
func WriteAligned(f *os.File, buf []byte, direct bool) (int, error) {
	if !direct || len(buf)%BlockAlignment == 0 {
		n, err := f.Write(buf)
		if err != nil {
			return n, pgerrors.Wrap(pgerrors.IOError, "direct-I/O write", err)
		}
		return n, nil
	}

	off, err := f.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, pgerrors.Wrap(pgerrors.IOError, "locating padded direct write", err)
	}
	padded := make([]byte, alignUp(len(buf), BlockAlignment))
	copy(padded, buf)
	if _, err := f.Write(padded); err != nil {
		return 0, pgerrors.Wrap(pgerrors.IOError, "direct-I/O padded write", err)
	}
	if err := f.Truncate(off + int64(len(buf))); err != nil {
		return 0, pgerrors.Wrap(pgerrors.IOError, "truncating after padded direct write", err)
	}
	return len(buf), nil
}

func alignUp(n, align int) int {
	if n%align == 0 {
		return n
	}
	return (n/align + 1) * align
}

// ProbeDirectIO implements the "auto mode probes a temp file once per
// destination" rule: it attempts a single aligned O_DIRECT write to a
// throwaway file inside dir and reports whether it succeeded.
func ProbeDirectIO(dir string) bool {
	f, err := os.CreateTemp(dir, ".pgkeep-directio-probe-*")
	if err != nil {
		return false
	}
	name := f.Name()
	f.Close()
	defer os.Remove(name)

	probe, err := os.OpenFile(name, os.O_WRONLY|syscall.O_DIRECT, 0o640)
	if err != nil {
		return false
	}
	defer probe.Close()
	buf := make([]byte, BlockAlignment)
	_, err = probe.Write(buf)
	return err == nil
}

// ResolveMode turns DirectIOAuto into a concrete on/off decision for
// dir, probing once; DirectIOOn/DirectIOOff pass through unchanged.
func ResolveMode(mode DirectIOMode, dir string) DirectIOMode {
	if mode != DirectIOAuto {
		return mode
	}
	if ProbeDirectIO(dir) {
		return DirectIOOn
	}
	return DirectIOOff
}
