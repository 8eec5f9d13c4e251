package simplefs

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
)

// SnapCodec selects the compression applied to an image snapshot.
// Snapshots are byte-level backups of the image file; blocks inside the
// filesystem itself are never compressed.
type SnapCodec uint16

const (
	SnapZstd SnapCodec = 1
	SnapXz   SnapCodec = 2
)

func (c SnapCodec) String() string {
	switch c {
	case SnapZstd:
		return "zstd"
	case SnapXz:
		return "xz"
	}
	return fmt.Sprintf("SnapCodec(%d)", c)
}

// ParseSnapCodec resolves a codec name from the CLI.
func ParseSnapCodec(name string) (SnapCodec, error) {
	switch name {
	case "zstd":
		return SnapZstd, nil
	case "xz":
		return SnapXz, nil
	}
	return 0, fmt.Errorf("unknown snapshot codec %q", name)
}

// SnapHandler bundles the two stream directions of one codec.
type SnapHandler struct {
	Compress   func(w io.Writer) (io.WriteCloser, error)
	Decompress func(r io.Reader) (io.Reader, error)
}

var snapHandlers = map[SnapCodec]*SnapHandler{}

// RegisterSnapHandler adds or replaces the handler for a codec.
func RegisterSnapHandler(c SnapCodec, h *SnapHandler) {
	snapHandlers[c] = h
}

func init() {
	RegisterSnapHandler(SnapZstd, &SnapHandler{
		Compress: func(w io.Writer) (io.WriteCloser, error) {
			return zstd.NewWriter(w)
		},
		Decompress: func(r io.Reader) (io.Reader, error) {
			zr, err := zstd.NewReader(r)
			if err != nil {
				return nil, err
			}
			return zr.IOReadCloser(), nil
		},
	})
	RegisterSnapHandler(SnapXz, &SnapHandler{
		Compress: func(w io.Writer) (io.WriteCloser, error) {
			xw, err := xz.NewWriter(w)
			if err != nil {
				return nil, err
			}
			return xw, nil
		},
		Decompress: func(r io.Reader) (io.Reader, error) {
			return xz.NewReader(r)
		},
	})
}

// snapMagic heads every snapshot stream, followed by the codec id.
var snapMagic = [6]byte{'e', 'x', 'f', 's', 's', 'n'}

// Snapshot streams a compressed copy of the raw image into out.
func Snapshot(img io.Reader, out io.Writer, codec SnapCodec) error {
	h, ok := snapHandlers[codec]
	if !ok {
		return fmt.Errorf("snapshot codec %s not registered", codec)
	}
	header := make([]byte, 8)
	copy(header, snapMagic[:])
	binary.LittleEndian.PutUint16(header[6:], uint16(codec))
	if _, err := out.Write(header); err != nil {
		return err
	}
	w, err := h.Compress(out)
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, img); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

// Restore decodes a snapshot stream back into a raw image.
func Restore(in io.Reader, img io.Writer) error {
	header := make([]byte, 8)
	if _, err := io.ReadFull(in, header); err != nil {
		return err
	}
	if [6]byte(header[:6]) != snapMagic {
		return fmt.Errorf("not an exfs snapshot")
	}
	codec := SnapCodec(binary.LittleEndian.Uint16(header[6:]))
	h, ok := snapHandlers[codec]
	if !ok {
		return fmt.Errorf("snapshot codec %s not registered", codec)
	}
	r, err := h.Decompress(in)
	if err != nil {
		return err
	}
	_, err = io.Copy(img, r)
	return err
}
