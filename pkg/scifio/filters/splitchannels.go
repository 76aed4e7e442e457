package filters

import "github.com/RayPlante/scifio/pkg/scifio"

// SplitChannels extracts one separated-channel plane from a parent plane
// buffer. pos and lens locate the channel among the separated axes;
// channelBytes is the byte size of one output channel. With reverse set,
// the copy runs the other way, merging a channel plane back into an
// interleaved buffer.
func SplitChannels(in, out []byte, pos, lens []int64, bpp int64, reverse, interleaved bool, channelBytes int64) {
	c := scifio.PositionToRaster(lens, pos)
	nChannels := int64(1)
	for _, l := range lens {
		nChannels *= l
	}
	if nChannels <= 1 {
		// nothing separated; straight copy
		if reverse {
			copy(in[:channelBytes], out[:channelBytes])
		} else {
			copy(out[:channelBytes], in[:channelBytes])
		}
		return
	}

	if !interleaved {
		if reverse {
			copy(in[c*channelBytes:(c+1)*channelBytes], out[:channelBytes])
		} else {
			copy(out[:channelBytes], in[c*channelBytes:(c+1)*channelBytes])
		}
		return
	}

	samples := channelBytes / bpp
	for i := int64(0); i < samples; i++ {
		src := (i*nChannels + c) * bpp
		dst := i * bpp
		if reverse {
			copy(in[src:src+bpp], out[dst:dst+bpp])
		} else {
			copy(out[dst:dst+bpp], in[src:src+bpp])
		}
	}
}
