package media

import "fmt"

// MbusCode identifies a media bus pixel encoding on a subdevice pad.
// Values match the kernel's MEDIA_BUS_FMT_* constants so a real backend can
// pass them through to ioctls unchanged.
type MbusCode uint32

const (
	MbusSBGGR8  MbusCode = 0x3001
	MbusSGRBG8  MbusCode = 0x3002
	MbusSGBRG8  MbusCode = 0x3013
	MbusSRGGB8  MbusCode = 0x3014
	MbusSBGGR10 MbusCode = 0x3007
	MbusSGBRG10 MbusCode = 0x300e
	MbusSGRBG10 MbusCode = 0x300a
	MbusSRGGB10 MbusCode = 0x300f
	MbusSBGGR12 MbusCode = 0x3008
	MbusSGBRG12 MbusCode = 0x3010
	MbusSGRBG12 MbusCode = 0x3011
	MbusSRGGB12 MbusCode = 0x3012
)

var mbusNames = map[MbusCode]string{
	MbusSBGGR8:  "SBGGR8_1X8",
	MbusSGRBG8:  "SGRBG8_1X8",
	MbusSGBRG8:  "SGBRG8_1X8",
	MbusSRGGB8:  "SRGGB8_1X8",
	MbusSBGGR10: "SBGGR10_1X10",
	MbusSGBRG10: "SGBRG10_1X10",
	MbusSGRBG10: "SGRBG10_1X10",
	MbusSRGGB10: "SRGGB10_1X10",
	MbusSBGGR12: "SBGGR12_1X12",
	MbusSGBRG12: "SGBRG12_1X12",
	MbusSGRBG12: "SGRBG12_1X12",
	MbusSRGGB12: "SRGGB12_1X12",
}

func (c MbusCode) String() string {
	if name, ok := mbusNames[c]; ok {
		return name
	}
	return fmt.Sprintf("0x%04x", uint32(c))
}

// FourCC is a V4L2 pixel format identifier for a video capture node.
type FourCC uint32

// MakeFourCC packs four characters into a FourCC the way the kernel does.
func MakeFourCC(a, b, c, d byte) FourCC {
	return FourCC(uint32(a) | uint32(b)<<8 | uint32(c)<<16 | uint32(d)<<24)
}

var (
	FourCCNV12 = MakeFourCC('N', 'V', '1', '2')
	FourCCNV21 = MakeFourCC('N', 'V', '2', '1')
	FourCCYUYV = MakeFourCC('Y', 'U', 'Y', 'V')
)

func (f FourCC) String() string {
	return string([]byte{byte(f), byte(f >> 8), byte(f >> 16), byte(f >> 24)})
}

// ParseFourCC converts a four character string like "NV12" to a FourCC.
func ParseFourCC(s string) (FourCC, error) {
	if len(s) != 4 {
		return 0, fmt.Errorf("pixel format must be four characters, got %q", s)
	}
	return MakeFourCC(s[0], s[1], s[2], s[3]), nil
}

// Size is a frame size in pixels.
type Size struct {
	Width  uint32
	Height uint32
}

func (s Size) String() string {
	return fmt.Sprintf("%dx%d", s.Width, s.Height)
}

// FitsWithin reports whether s is no larger than limit in either dimension.
func (s Size) FitsWithin(limit Size) bool {
	return s.Width <= limit.Width && s.Height <= limit.Height
}

// Format is a media bus format on a subdevice pad.
type Format struct {
	Code MbusCode
	Size Size
}

func (f Format) String() string {
	return fmt.Sprintf("%s/%s", f.Code, f.Size)
}

// CaptureFormat is a pixel format on a video capture node. Unlike a pad
// Format it names a memory layout, not a bus encoding.
type CaptureFormat struct {
	PixelFormat FourCC
	Size        Size
	Planes      int
}

func (f CaptureFormat) String() string {
	return fmt.Sprintf("%s/%s (%d planes)", f.PixelFormat, f.Size, f.Planes)
}
