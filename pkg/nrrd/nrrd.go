// Package nrrd reads and writes the subset of the NRRD format used for 3D
// volumes and masks: a single attached data block, raw or gzip encoded.
package nrrd

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"
	"gonum.org/v1/gonum/mat"
)

// DataType is the normalized NRRD element type.
type DataType string

const (
	Int8    DataType = "int8"
	Uint8   DataType = "uint8"
	Int16   DataType = "int16"
	Uint16  DataType = "uint16"
	Int32   DataType = "int32"
	Uint32  DataType = "uint32"
	Float32 DataType = "float"
	Float64 DataType = "double"
)

var typeAliases = map[string]DataType{
	"signed char": Int8, "int8": Int8, "int8_t": Int8,
	"uchar": Uint8, "unsigned char": Uint8, "uint8": Uint8, "uint8_t": Uint8,
	"short": Int16, "short int": Int16, "signed short": Int16, "signed short int": Int16, "int16": Int16, "int16_t": Int16,
	"ushort": Uint16, "unsigned short": Uint16, "unsigned short int": Uint16, "uint16": Uint16, "uint16_t": Uint16,
	"int": Int32, "signed int": Int32, "int32": Int32, "int32_t": Int32,
	"uint": Uint32, "unsigned int": Uint32, "uint32": Uint32, "uint32_t": Uint32,
	"float": Float32, "double": Float64,
}

// Size returns the element size in bytes.
func (t DataType) Size() int {
	switch t {
	case Int8, Uint8:
		return 1
	case Int16, Uint16:
		return 2
	case Int32, Uint32, Float32:
		return 4
	case Float64:
		return 8
	}
	return 0
}

// MaxVoxels bounds the grid a header may declare; larger sizes are rejected
// before any data is allocated.
const MaxVoxels = 1 << 30

// Header holds the NRRD fields this package understands.
type Header struct {
	Type     DataType
	Sizes    [3]int
	Encoding string
	Endian   binary.ByteOrder

	// Space is the world coordinate system, e.g. "left-posterior-superior"
	Space string

	// Directions[i] is the world vector of one step along voxel axis i
	Directions [3][3]float64

	// Origin is the world position of voxel (0,0,0)
	Origin [3]float64

	Kinds []string
}

// NewHeader returns a header for a volume of the given type and shape with
// identity directions in left-posterior-superior space.
func NewHeader(t DataType, shape [3]int) Header {
	return Header{
		Type:       t,
		Sizes:      shape,
		Encoding:   "gzip",
		Endian:     binary.LittleEndian,
		Space:      "left-posterior-superior",
		Directions: [3][3]float64{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}},
		Kinds:      []string{"domain", "domain", "domain"},
	}
}

// NumVoxels returns the number of elements in the data block.
func (h *Header) NumVoxels() int {
	return h.Sizes[0] * h.Sizes[1] * h.Sizes[2]
}

// Spacing returns the length of each direction vector.
func (h *Header) Spacing() [3]float64 {
	var s [3]float64
	for i, d := range h.Directions {
		s[i] = math.Sqrt(d[0]*d[0] + d[1]*d[1] + d[2]*d[2])
	}
	return s
}

// RASAffine returns the 4x4 voxel-to-world transform in RAS coordinates.
func (h *Header) RASAffine() *mat.Dense {
	flip := [3]float64{1, 1, 1}
	switch strings.ToLower(h.Space) {
	case "left-posterior-superior", "lps":
		flip = [3]float64{-1, -1, 1}
	case "left-anterior-superior", "las":
		flip = [3]float64{-1, 1, 1}
	}
	a := mat.NewDense(4, 4, nil)
	for col := 0; col < 3; col++ {
		for row := 0; row < 3; row++ {
			a.Set(row, col, flip[row]*h.Directions[col][row])
		}
	}
	for row := 0; row < 3; row++ {
		a.Set(row, 3, flip[row]*h.Origin[row])
	}
	a.Set(3, 3, 1)
	return a
}

// Image is a decoded NRRD file. Data is in the file's byte order.
type Image struct {
	Header Header
	Data   []byte
}

// ReadFile reads an NRRD file from disk.
func ReadFile(path string) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return img, nil
}

// Decode parses an NRRD blob held in memory.
func Decode(raw []byte) (*Image, error) {
	return Read(bytes.NewReader(raw))
}

// Read parses a header and its attached data block.
func Read(r io.Reader) (*Image, error) {
	br := bufio.NewReader(r)
	h, err := ReadHeader(br)
	if err != nil {
		return nil, err
	}
	data, err := ReadData(br, h)
	if err != nil {
		return nil, err
	}
	return &Image{Header: *h, Data: data}, nil
}

// ReadData reads the data block that follows a header parsed from br.
func ReadData(br *bufio.Reader, h *Header) ([]byte, error) {
	var src io.Reader = br
	switch h.Encoding {
	case "raw":
	case "gzip", "gz":
		zr, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("can't uncompress gzip data: %w", err)
		}
		defer zr.Close()
		src = zr
	default:
		return nil, fmt.Errorf("unsupported nrrd encoding %q", h.Encoding)
	}

	data := make([]byte, h.NumVoxels()*h.Type.Size())
	if _, err := io.ReadFull(src, data); err != nil {
		return nil, fmt.Errorf("can't read nrrd data: %w", err)
	}
	return data, nil
}

// ReadHeader parses the text header up to and including the blank separator line.
func ReadHeader(br *bufio.Reader) (*Header, error) {
	magic, err := br.ReadString('\n')
	if err != nil {
		return nil, fmt.Errorf("can't read nrrd magic: %w", err)
	}
	if !strings.HasPrefix(magic, "NRRD000") {
		return nil, fmt.Errorf("not an nrrd file")
	}

	h := &Header{Encoding: "raw", Endian: binary.LittleEndian, Directions: [3][3]float64{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}}
	dimension := 0
	haveSizes := false
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			return nil, fmt.Errorf("unterminated nrrd header: %w", err)
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}
		if strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, fmt.Errorf("bad nrrd header line %q", line)
		}
		if strings.HasPrefix(value, "=") {
			// key/value pair, not a field
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)

		switch key {
		case "type":
			t, ok := typeAliases[strings.ToLower(value)]
			if !ok {
				return nil, fmt.Errorf("unsupported nrrd type %q", value)
			}
			h.Type = t
		case "dimension":
			dimension, err = strconv.Atoi(value)
			if err != nil {
				return nil, fmt.Errorf("bad dimension %q", value)
			}
		case "sizes":
			fields := strings.Fields(value)
			if len(fields) != 3 {
				return nil, fmt.Errorf("only 3D volumes are supported, got sizes %q", value)
			}
			for i, f := range fields {
				if h.Sizes[i], err = strconv.Atoi(f); err != nil || h.Sizes[i] <= 0 {
					return nil, fmt.Errorf("bad sizes %q", value)
				}
			}
			haveSizes = true
		case "encoding":
			h.Encoding = strings.ToLower(value)
		case "endian":
			if strings.ToLower(value) == "big" {
				h.Endian = binary.BigEndian
			}
		case "space":
			h.Space = value
		case "space directions":
			if h.Directions, err = parseVectors(value); err != nil {
				return nil, err
			}
		case "spacings":
			fields := strings.Fields(value)
			if len(fields) == 3 {
				for i, f := range fields {
					s, err := strconv.ParseFloat(f, 64)
					if err != nil {
						return nil, fmt.Errorf("bad spacings %q", value)
					}
					h.Directions[i] = [3]float64{}
					h.Directions[i][i] = s
				}
			}
		case "space origin":
			v, err := parseVector(value)
			if err != nil {
				return nil, err
			}
			h.Origin = v
		case "kinds":
			h.Kinds = strings.Fields(value)
		case "data file", "datafile":
			return nil, fmt.Errorf("detached nrrd data is not supported")
		}
	}

	if dimension != 3 || !haveSizes {
		return nil, fmt.Errorf("only 3D volumes are supported (dimension %d)", dimension)
	}
	voxels := 1
	for _, n := range h.Sizes {
		if n > MaxVoxels/voxels {
			return nil, fmt.Errorf("sizes %v exceed %d voxels", h.Sizes, MaxVoxels)
		}
		voxels *= n
	}
	if h.Type == "" {
		return nil, fmt.Errorf("nrrd header is missing type")
	}
	return h, nil
}

var vectorPattern = regexp.MustCompile(`\([^)]*\)`)

func parseVectors(s string) ([3][3]float64, error) {
	var out [3][3]float64
	fields := vectorPattern.FindAllString(s, -1)
	if len(fields) != 3 {
		return out, fmt.Errorf("expected 3 space directions, got %q", s)
	}
	for i, f := range fields {
		v, err := parseVector(f)
		if err != nil {
			return out, err
		}
		out[i] = v
	}
	return out, nil
}

func parseVector(s string) ([3]float64, error) {
	var v [3]float64
	parts := strings.Split(strings.Trim(strings.TrimSpace(s), "()"), ",")
	if len(parts) != 3 {
		return v, fmt.Errorf("bad vector %q", s)
	}
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return v, fmt.Errorf("bad vector %q", s)
		}
		v[i] = f
	}
	return v, nil
}

func formatVector(v [3]float64) string {
	return fmt.Sprintf("(%s,%s,%s)", formatFloat(v[0]), formatFloat(v[1]), formatFloat(v[2]))
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', 17, 64)
}

// Write encodes h and data (already in h.Endian order) as an NRRD0004 file.
func Write(w io.Writer, h Header, data []byte) error {
	if len(data) != h.NumVoxels()*h.Type.Size() {
		return fmt.Errorf("data has %d bytes, header expects %d", len(data), h.NumVoxels()*h.Type.Size())
	}
	if h.Encoding == "" {
		h.Encoding = "gzip"
	}
	endian := "little"
	if h.Endian == binary.BigEndian {
		endian = "big"
	}
	kinds := h.Kinds
	if len(kinds) != 3 {
		kinds = []string{"domain", "domain", "domain"}
	}

	bw := bufio.NewWriter(w)
	fmt.Fprintln(bw, "NRRD0004")
	fmt.Fprintln(bw, "# Complete NRRD file format specification at:")
	fmt.Fprintln(bw, "# http://teem.sourceforge.net/nrrd/format.html")
	fmt.Fprintf(bw, "type: %s\n", typeName(h.Type))
	fmt.Fprintln(bw, "dimension: 3")
	if h.Space != "" {
		fmt.Fprintf(bw, "space: %s\n", h.Space)
	}
	fmt.Fprintf(bw, "sizes: %d %d %d\n", h.Sizes[0], h.Sizes[1], h.Sizes[2])
	fmt.Fprintf(bw, "space directions: %s %s %s\n", formatVector(h.Directions[0]), formatVector(h.Directions[1]), formatVector(h.Directions[2]))
	fmt.Fprintf(bw, "kinds: %s\n", strings.Join(kinds, " "))
	if h.Type.Size() > 1 {
		fmt.Fprintf(bw, "endian: %s\n", endian)
	}
	fmt.Fprintf(bw, "encoding: %s\n", h.Encoding)
	fmt.Fprintf(bw, "space origin: %s\n\n", formatVector(h.Origin))

	switch h.Encoding {
	case "raw":
		if _, err := bw.Write(data); err != nil {
			return err
		}
	case "gzip", "gz":
		zw := gzip.NewWriter(bw)
		if _, err := zw.Write(data); err != nil {
			return err
		}
		if err := zw.Close(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unsupported nrrd encoding %q", h.Encoding)
	}
	return bw.Flush()
}

// WriteFile writes an NRRD file to disk.
func WriteFile(path string, h Header, data []byte) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := Write(f, h, data); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	return f.Close()
}

func typeName(t DataType) string {
	switch t {
	case Int8:
		return "signed char"
	case Uint8:
		return "unsigned char"
	case Int16:
		return "short"
	case Uint16:
		return "unsigned short"
	case Int32:
		return "int"
	case Uint32:
		return "unsigned int"
	}
	return string(t)
}

// Nonzero returns a boolean mask of the elements that are not zero.
func (img *Image) Nonzero() []bool {
	size := img.Header.Type.Size()
	n := img.Header.NumVoxels()
	mask := make([]bool, n)
	for i := 0; i < n; i++ {
		elem := img.Data[i*size : (i+1)*size]
		switch img.Header.Type {
		case Float32:
			mask[i] = math.Float32frombits(img.Header.Endian.Uint32(elem)) != 0
		case Float64:
			mask[i] = math.Float64frombits(img.Header.Endian.Uint64(elem)) != 0
		default:
			for _, b := range elem {
				if b != 0 {
					mask[i] = true
					break
				}
			}
		}
	}
	return mask
}

// LittleEndianData returns the data block with elements in little-endian order.
func (img *Image) LittleEndianData() []byte {
	size := img.Header.Type.Size()
	if size == 1 || img.Header.Endian == binary.LittleEndian {
		return img.Data
	}
	out := make([]byte, len(img.Data))
	for i := 0; i < len(img.Data); i += size {
		for j := 0; j < size; j++ {
			out[i+j] = img.Data[i+size-1-j]
		}
	}
	return out
}
