package audio

// StereoToMono averages L+R per stereo frame (4 bytes) to produce mono
// output. Uses int32 arithmetic to prevent overflow and clamps to int16
// range.
func StereoToMono(pcm []byte) []byte {
	frames := len(pcm) / 4
	out := make([]byte, frames*2)
	for i := range frames {
		l := int32(int16(pcm[i*4]) | int16(pcm[i*4+1])<<8)
		r := int32(int16(pcm[i*4+2]) | int16(pcm[i*4+3])<<8)
		avg := (l + r) / 2

		if avg > 32767 {
			avg = 32767
		} else if avg < -32768 {
			avg = -32768
		}

		out[i*2] = byte(avg)
		out[i*2+1] = byte(avg >> 8)
	}
	return out
}

// ResampleMono16 resamples 16-bit mono PCM from srcRate to dstRate using
// linear interpolation. The input must be little-endian int16 samples. If
// srcRate == dstRate, the input is returned unchanged.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 {
		return pcm
	}
	if srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}
	srcSamples := len(pcm) / 2
	dstSamples := int(int64(srcSamples) * int64(dstRate) / int64(srcRate))
	if dstSamples == 0 {
		return nil
	}

	out := make([]byte, dstSamples*2)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstSamples {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		s0 := int16(pcm[srcIdx*2]) | int16(pcm[srcIdx*2+1])<<8
		var s1 int16
		if srcIdx+1 < srcSamples {
			s1 = int16(pcm[(srcIdx+1)*2]) | int16(pcm[(srcIdx+1)*2+1])<<8
		} else {
			s1 = s0
		}

		interpolated := int16(float64(s0)*(1-frac) + float64(s1)*frac)
		out[i*2] = byte(interpolated)
		out[i*2+1] = byte(interpolated >> 8)
	}
	return out
}

// Normalize converts PCM from an arbitrary device format to mono at dstRate.
// Stereo input is downmixed before resampling so the interpolation runs on
// half the samples.
func Normalize(pcm []byte, srcRate, srcChannels, dstRate int) []byte {
	if srcChannels == 2 {
		pcm = StereoToMono(pcm)
	}
	return ResampleMono16(pcm, srcRate, dstRate)
}

// MixGain sums two equal-length mono PCM buffers, applying gain to the first
// buffer before summing. Results are clamped to int16 range. If the buffers
// differ in length the shorter one is zero-padded.
func MixGain(a, b []byte, gain float64) []byte {
	n := len(a)
	if len(b) > n {
		n = len(b)
	}
	n -= n % 2

	out := make([]byte, n)
	for i := 0; i+1 < n; i += 2 {
		var sa, sb int16
		if i+1 < len(a) {
			sa = int16(a[i]) | int16(a[i+1])<<8
		}
		if i+1 < len(b) {
			sb = int16(b[i]) | int16(b[i+1])<<8
		}
		sum := int32(float64(sa)*gain) + int32(sb)
		if sum > 32767 {
			sum = 32767
		} else if sum < -32768 {
			sum = -32768
		}
		out[i] = byte(sum)
		out[i+1] = byte(sum >> 8)
	}
	return out
}
