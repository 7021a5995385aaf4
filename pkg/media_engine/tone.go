package media_engine

import "math"

// toneSource генерирует синусоидальный тон, закодированный G.711.
// Используется для ringback и тестовых сигналов.
type toneSource struct {
	freq   float64
	rate   float64
	phase  float64
	encode func(sample int16) byte

	// Каденция: tone период включения, silence период паузы, в сэмплах
	onSamples  int
	offSamples int
	pos        int
}

// newRingbackTone стандартный тон посылки вызова: 425 Гц, 1 с тон / 4 с пауза
func newRingbackTone(clockRate int, alaw bool) *toneSource {
	enc := muLawEncode
	if alaw {
		enc = aLawEncode
	}
	return &toneSource{
		freq:       425,
		rate:       float64(clockRate),
		encode:     enc,
		onSamples:  clockRate,
		offSamples: clockRate * 4,
	}
}

// NextPayload возвращает очередные samples сэмплов тона с учетом каденции
func (t *toneSource) NextPayload(samples int) []byte {
	out := make([]byte, samples)
	period := t.onSamples + t.offSamples
	for i := 0; i < samples; i++ {
		var sample int16
		if period == 0 || t.pos < t.onSamples {
			sample = int16(8000 * math.Sin(2*math.Pi*t.freq*t.phase/t.rate))
		}
		t.phase++
		if period > 0 {
			t.pos = (t.pos + 1) % period
		}
		out[i] = t.encode(sample)
	}
	return out
}

// silenceSource выдает закодированную тишину (комфортный шум не генерируется)
type silenceSource struct {
	fill byte
}

func newSilenceSource(alaw bool) *silenceSource {
	// 0xFF для µ-law, 0xD5 для A-law — закодированный ноль
	if alaw {
		return &silenceSource{fill: 0xD5}
	}
	return &silenceSource{fill: 0xFF}
}

func (s *silenceSource) NextPayload(samples int) []byte {
	out := make([]byte, samples)
	for i := range out {
		out[i] = s.fill
	}
	return out
}

// muLawEncode кодирует линейный сэмпл в µ-law (G.711)
func muLawEncode(sample int16) byte {
	const bias = 0x84
	const clip = 32635

	sign := byte(0)
	if sample < 0 {
		sign = 0x80
		sample = -sample
	}
	if sample > clip {
		sample = clip
	}
	sample += bias

	exponent := byte(7)
	for mask := int16(0x4000); exponent > 0 && sample&mask == 0; mask >>= 1 {
		exponent--
	}
	mantissa := byte(sample>>(exponent+3)) & 0x0F
	return ^(sign | exponent<<4 | mantissa)
}

// aLawEncode кодирует линейный сэмпл в A-law (G.711)
func aLawEncode(sample int16) byte {
	sign := byte(0xD5)
	if sample < 0 {
		sign = 0x55
		sample = -sample
	}
	if sample > 32635 {
		sample = 32635
	}

	var compressed byte
	if sample >= 256 {
		exponent := byte(7)
		for mask := int16(0x4000); exponent > 1 && sample&mask == 0; mask >>= 1 {
			exponent--
		}
		mantissa := byte(sample>>(exponent+3)) & 0x0F
		compressed = exponent<<4 | mantissa
	} else {
		compressed = byte(sample >> 4)
	}
	return compressed ^ sign
}
