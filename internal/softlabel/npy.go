package softlabel

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/x448/float16"
)

var npyMagic = []byte("\x93NUMPY")

var (
	descrRe   = regexp.MustCompile(`'descr':\s*'([^']+)'`)
	fortranRe = regexp.MustCompile(`'fortran_order':\s*(True|False)`)
	shapeRe   = regexp.MustCompile(`'shape':\s*\(([^)]*)\)`)
)

// WriteNPY encodes seq as a version 1.0 NPY array of little-endian float16
// values with shape (Rows, Cols). Values are rounded to the nearest float16.
func WriteNPY(w io.Writer, seq *Sequence) error {
	header := fmt.Sprintf("{'descr': '<f2', 'fortran_order': False, 'shape': (%d, %d), }", seq.Rows, seq.Cols)
	// magic(6) + version(2) + header length(2) + header, padded to 64 bytes
	// and terminated by a newline.
	total := len(npyMagic) + 4 + len(header) + 1
	if pad := total % 64; pad != 0 {
		header += strings.Repeat(" ", 64-pad)
	}
	header += "\n"

	bw := bufio.NewWriter(w)
	bw.Write(npyMagic)
	bw.Write([]byte{1, 0})
	binary.Write(bw, binary.LittleEndian, uint16(len(header)))
	bw.WriteString(header)

	buf := make([]byte, 2)
	for _, v := range seq.Data {
		binary.LittleEndian.PutUint16(buf, float16.Fromfloat32(v).Bits())
		if _, err := bw.Write(buf); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// ReadNPY decodes a 2-D C-ordered NPY array of little-endian float16,
// float32 or float64 values.
func ReadNPY(r io.Reader) (*Sequence, error) {
	br := bufio.NewReader(r)

	prefix := make([]byte, len(npyMagic)+2)
	if _, err := io.ReadFull(br, prefix); err != nil {
		return nil, fmt.Errorf("reading npy preamble: %w", err)
	}
	if !bytes.Equal(prefix[:len(npyMagic)], npyMagic) {
		return nil, fmt.Errorf("not an npy file")
	}

	var headerLen int
	switch major := prefix[len(npyMagic)]; major {
	case 1:
		var n uint16
		if err := binary.Read(br, binary.LittleEndian, &n); err != nil {
			return nil, fmt.Errorf("reading npy header length: %w", err)
		}
		headerLen = int(n)
	case 2, 3:
		var n uint32
		if err := binary.Read(br, binary.LittleEndian, &n); err != nil {
			return nil, fmt.Errorf("reading npy header length: %w", err)
		}
		headerLen = int(n)
	default:
		return nil, fmt.Errorf("unsupported npy version %d", major)
	}

	header := make([]byte, headerLen)
	if _, err := io.ReadFull(br, header); err != nil {
		return nil, fmt.Errorf("reading npy header: %w", err)
	}

	descr, rows, cols, err := parseHeader(string(header))
	if err != nil {
		return nil, err
	}

	seq := NewSequence(rows, cols)
	var decode func([]byte) float32
	var size int
	switch descr {
	case "<f2":
		size = 2
		decode = func(b []byte) float32 { return float16.Frombits(binary.LittleEndian.Uint16(b)).Float32() }
	case "<f4":
		size = 4
		decode = func(b []byte) float32 { return math.Float32frombits(binary.LittleEndian.Uint32(b)) }
	case "<f8":
		size = 8
		decode = func(b []byte) float32 { return float32(math.Float64frombits(binary.LittleEndian.Uint64(b))) }
	default:
		return nil, fmt.Errorf("unsupported npy dtype %q", descr)
	}

	buf := make([]byte, size)
	for i := range seq.Data {
		if _, err := io.ReadFull(br, buf); err != nil {
			return nil, fmt.Errorf("reading npy data at element %d: %w", i, err)
		}
		seq.Data[i] = decode(buf)
	}
	return seq, nil
}

func parseHeader(header string) (descr string, rows, cols int, err error) {
	m := descrRe.FindStringSubmatch(header)
	if m == nil {
		return "", 0, 0, fmt.Errorf("npy header has no descr: %q", header)
	}
	descr = m[1]

	if m := fortranRe.FindStringSubmatch(header); m != nil && m[1] == "True" {
		return "", 0, 0, fmt.Errorf("fortran-ordered npy arrays are not supported")
	}

	m = shapeRe.FindStringSubmatch(header)
	if m == nil {
		return "", 0, 0, fmt.Errorf("npy header has no shape: %q", header)
	}
	var dims []int
	for part := range strings.SplitSeq(m[1], ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		d, convErr := strconv.Atoi(part)
		if convErr != nil || d < 0 {
			return "", 0, 0, fmt.Errorf("invalid npy shape %q", m[1])
		}
		dims = append(dims, d)
	}
	if len(dims) != 2 {
		return "", 0, 0, fmt.Errorf("expected 2-D npy array, got shape (%s)", m[1])
	}
	return descr, dims[0], dims[1], nil
}
