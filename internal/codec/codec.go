// Package codec holds the payload helpers shared by the streaming and
// snapshot paths: ring-buffer extraction, start-code stripping and
// random-access detection for H.264/H.265 access units.
package codec

import (
	"fmt"
	"strings"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h265"

	"github.com/ipcam/streamworker/internal/errors"
)

// Codec identifies the video coding standard of an encoder channel.
type Codec int

const (
	H264 Codec = iota
	H265
	JPEG
)

// String returns the lower-case codec name used in configuration.
func (c Codec) String() string {
	switch c {
	case H264:
		return "h264"
	case H265:
		return "h265"
	case JPEG:
		return "jpeg"
	default:
		return fmt.Sprintf("codec(%d)", int(c))
	}
}

// Parse maps a configuration value onto a Codec.
func Parse(name string) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "h264", "avc":
		return H264, nil
	case "h265", "hevc":
		return H265, nil
	case "jpeg", "mjpeg":
		return JPEG, nil
	}
	return 0, errors.Newf("unsupported codec %q", name).
		Component("codec").
		Category(errors.CategoryValidation).
		Build()
}

// IsRandomAccess reports whether a NAL unit of type nalType lets a decoder
// start: parameter sets or an IDR picture.
func IsRandomAccess(c Codec, nalType uint8) bool {
	switch c {
	case H264:
		switch h264.NALUType(nalType) {
		case h264.NALUTypeIDR, h264.NALUTypeSPS, h264.NALUTypePPS:
			return true
		}
	case H265:
		switch h265.NALUType(nalType) {
		case h265.NALUType_VPS_NUT, h265.NALUType_SPS_NUT, h265.NALUType_PPS_NUT,
			h265.NALUType_IDR_W_RADL, h265.NALUType_IDR_N_LP:
			return true
		}
	case JPEG:
		return true
	}
	return false
}

// NALType reads the unit type from the first header byte of a payload
// without start code.
func NALType(c Codec, payload []byte) (uint8, bool) {
	if len(payload) == 0 {
		return 0, false
	}
	switch c {
	case H264:
		return payload[0] & 0x1F, true
	case H265:
		return (payload[0] >> 1) & 0x3F, true
	}
	return 0, false
}
