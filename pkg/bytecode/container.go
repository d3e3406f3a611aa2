package bytecode

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Format identification.
const (
	ContainerTag = "FORM"
	FormatID     = "TERN"
	MajorVersion = 1
	MinorVersion = 0
)

// Chunk tags.
const (
	TagCode  = "code"
	TagLink  = "link"
	TagInit  = "init"
	TagGlob  = "glob"
	TagDebug = "dbug"
)

var (
	ErrInvalidMagic    = errors.New("invalid container: expected FORM/TERN")
	ErrVersionMismatch = errors.New("image version mismatch")
	ErrCorruptChunk    = errors.New("corrupt chunk")
	ErrUnexpectedEOF   = errors.New("unexpected end of image data")
	ErrMissingChunk    = errors.New("missing required chunk")
)

// InternalError reports a disagreement between the code generator and the
// encoder. It is raised with panic and indicates a compiler bug.
type InternalError struct {
	Msg string
}

func (e *InternalError) Error() string {
	return "bytecode: internal error: " + e.Msg
}

func internalf(format string, args ...interface{}) {
	panic(&InternalError{Msg: fmt.Sprintf(format, args...)})
}

// Chunk is one tagged section of an image.
type Chunk struct {
	Tag  string
	Data []byte
}

// ---------------------------------------------------------------------------
// Writing
// ---------------------------------------------------------------------------

// appendChunk appends tag, big-endian length and the body, padded to an
// even length.
func appendChunk(buf []byte, tag string, data []byte) []byte {
	if len(tag) != 4 {
		internalf("chunk tag %q is not 4 bytes", tag)
	}
	buf = append(buf, tag...)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(data)))
	buf = append(buf, data...)
	if len(data)%2 != 0 {
		buf = append(buf, 0)
	}
	return buf
}

// WriteContainer serializes chunks into a FORM container.
func WriteContainer(chunks []Chunk) []byte {
	body := make([]byte, 0, 64)
	body = append(body, FormatID...)
	body = append(body, MajorVersion, MinorVersion)
	for _, c := range chunks {
		body = appendChunk(body, c.Tag, c.Data)
	}
	return appendChunk(make([]byte, 0, len(body)+8), ContainerTag, body)
}

// ---------------------------------------------------------------------------
// Reading
// ---------------------------------------------------------------------------

// Container is a parsed image. Chunk bodies alias the input buffer.
type Container struct {
	Major  byte
	Minor  byte
	Chunks []Chunk
}

// ReadContainer validates the header and splits the image into chunks.
// Chunks with unknown tags are retained but otherwise ignored.
func ReadContainer(data []byte) (*Container, error) {
	if len(data) < 8 {
		return nil, ErrUnexpectedEOF
	}
	if string(data[:4]) != ContainerTag {
		return nil, ErrInvalidMagic
	}
	size := binary.BigEndian.Uint32(data[4:8])
	if uint64(size) > uint64(len(data)-8) {
		return nil, fmt.Errorf("%w: FORM length %d exceeds image size %d", ErrUnexpectedEOF, size, len(data)-8)
	}
	body := data[8 : 8+size]
	if len(body) < 6 {
		return nil, ErrUnexpectedEOF
	}
	if string(body[:4]) != FormatID {
		return nil, ErrInvalidMagic
	}
	c := &Container{Major: body[4], Minor: body[5]}
	if c.Major != MajorVersion {
		return nil, fmt.Errorf("%w: got %d.%d, want %d.x", ErrVersionMismatch, c.Major, c.Minor, MajorVersion)
	}

	off := 6
	for off < len(body) {
		if off+8 > len(body) {
			return nil, fmt.Errorf("%w: truncated chunk header at offset %d", ErrCorruptChunk, off)
		}
		tag := string(body[off : off+4])
		n := int(binary.BigEndian.Uint32(body[off+4 : off+8]))
		start := off + 8
		if n < 0 || start+n > len(body) {
			return nil, fmt.Errorf("%w: chunk %q length %d overruns container", ErrCorruptChunk, tag, n)
		}
		c.Chunks = append(c.Chunks, Chunk{Tag: tag, Data: body[start : start+n]})
		off = start + n
		if n%2 != 0 {
			off++
		}
	}
	return c, nil
}

// Chunk returns the body of the first chunk with the given tag.
func (c *Container) Chunk(tag string) ([]byte, bool) {
	for _, ch := range c.Chunks {
		if ch.Tag == tag {
			return ch.Data, true
		}
	}
	return nil, false
}

// u32Chunk returns a single big-endian u32 chunk body.
func (c *Container) u32Chunk(tag string) (uint32, bool, error) {
	data, ok := c.Chunk(tag)
	if !ok {
		return 0, false, nil
	}
	if len(data) < 4 {
		return 0, true, fmt.Errorf("%w: %q chunk is %d bytes", ErrCorruptChunk, tag, len(data))
	}
	return binary.BigEndian.Uint32(data), true, nil
}

// ---------------------------------------------------------------------------
// Image
// ---------------------------------------------------------------------------

// Image is a decoded program: code, link table and optional metadata.
type Image struct {
	Code    []byte
	Link    *LinkTable
	HasInit bool
	InitEnd int
	Globals int
	Debug   *DebugInfo
}

// Decode reads a container and decodes its well-known chunks.
func Decode(data []byte) (*Image, error) {
	c, err := ReadContainer(data)
	if err != nil {
		return nil, err
	}
	code, ok := c.Chunk(TagCode)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrMissingChunk, TagCode)
	}
	linkData, ok := c.Chunk(TagLink)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrMissingChunk, TagLink)
	}
	link, err := UnmarshalLink(linkData)
	if err != nil {
		return nil, err
	}
	img := &Image{Code: code, Link: link}

	stop, ok, err := c.u32Chunk(TagInit)
	if err != nil {
		return nil, err
	}
	if ok {
		if int(stop) > len(code) {
			return nil, fmt.Errorf("%w: init stop %d beyond code size %d", ErrCorruptChunk, stop, len(code))
		}
		img.HasInit = true
		img.InitEnd = int(stop)
	}
	globals, _, err := c.u32Chunk(TagGlob)
	if err != nil {
		return nil, err
	}
	img.Globals = int(globals)

	if dbg, ok := c.Chunk(TagDebug); ok {
		info, err := UnmarshalDebugInfo(dbg)
		if err != nil {
			return nil, err
		}
		img.Debug = info
	}
	return img, nil
}

// Encode serializes the image into a container.
func (img *Image) Encode() ([]byte, error) {
	chunks := []Chunk{
		{Tag: TagCode, Data: img.Code},
		{Tag: TagLink, Data: img.Link.Marshal()},
	}
	if img.HasInit {
		chunks = append(chunks, Chunk{Tag: TagInit, Data: binary.BigEndian.AppendUint32(nil, uint32(img.InitEnd))})
	}
	if img.Globals > 0 {
		chunks = append(chunks, Chunk{Tag: TagGlob, Data: binary.BigEndian.AppendUint32(nil, uint32(img.Globals))})
	}
	if img.Debug != nil {
		data, err := MarshalDebugInfo(img.Debug)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, Chunk{Tag: TagDebug, Data: data})
	}
	return WriteContainer(chunks), nil
}
