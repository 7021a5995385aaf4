package media_engine

import (
	"crypto/rand"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/soft_call/pkg/media_desc"
)

func TestDTMFEventCodes(t *testing.T) {
	cases := []struct {
		digit rune
		code  byte
	}{
		{'0', 0}, {'5', 5}, {'9', 9},
		{'*', 10}, {'#', 11},
		{'A', 12}, {'D', 15},
	}
	for _, tc := range cases {
		code, err := dtmfEventCode(tc.digit)
		require.NoError(t, err, "digit %q", tc.digit)
		assert.Equal(t, tc.code, code, "digit %q", tc.digit)
	}

	_, err := dtmfEventCode('x')
	assert.Error(t, err)
}

func TestProtectionProfiles(t *testing.T) {
	for _, suite := range []string{
		"AES_CM_128_HMAC_SHA1_80",
		"AES_CM_128_HMAC_SHA1_32",
		"AEAD_AES_128_GCM",
		"AEAD_AES_256_GCM",
	} {
		_, err := protectionProfile(suite)
		assert.NoError(t, err, suite)
	}

	_, err := protectionProfile("F8_128_HMAC_SHA1_80")
	assert.Error(t, err)
}

func inlineKey(t *testing.T, n int) string {
	t.Helper()
	key := make([]byte, n)
	_, err := rand.Read(key)
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(key)
}

func TestNewSRTPContext(t *testing.T) {
	// AES_CM_128: 16 байт ключа + 14 байт соли
	ctx, err := newSRTPContext("AES_CM_128_HMAC_SHA1_80", inlineKey(t, 30))
	require.NoError(t, err)
	assert.NotNil(t, ctx)
}

func TestNewSRTPContextBadKey(t *testing.T) {
	// Неверная длина ключа
	_, err := newSRTPContext("AES_CM_128_HMAC_SHA1_80", inlineKey(t, 16))
	assert.Error(t, err)

	// Невалидный base64
	_, err = newSRTPContext("AES_CM_128_HMAC_SHA1_80", "не base64!")
	assert.Error(t, err)

	_, err = newSRTPContext("NO_SUCH_SUITE", inlineKey(t, 30))
	assert.Error(t, err)
}

func cryptoDesc(key string) *media_desc.MediaDescription {
	return &media_desc.MediaDescription{
		Streams: []media_desc.StreamDescription{{
			Type:    media_desc.MediaTypeAudio,
			Proto:   media_desc.ProtoRTPSAVP,
			RTPPort: 7078,
			Crypto: []media_desc.CryptoSuiteProposal{
				{Tag: 1, Algo: "AES_CM_128_HMAC_SHA1_80", MasterKey: key},
			},
		}},
	}
}

func TestSRTPKeyDirections(t *testing.T) {
	local := cryptoDesc("bG9jYWw=")
	remote := cryptoDesc("cmVtb3Rl")
	rs := &remote.Streams[0]

	// Ключ из crypto-атрибута защищает поток его автора: исходящий контекст
	// работает по нашему ключу, входящий — по ключу удаленной стороны
	sendKey, recvKey := srtpKeys(local, remote, 0, rs)
	assert.Equal(t, "bG9jYWw=", sendKey)
	assert.Equal(t, "cmVtb3Rl", recvKey)
}

func TestSRTPKeyFallbackToNegotiated(t *testing.T) {
	remote := cryptoDesc("cmVtb3Rl")
	rs := &remote.Streams[0]

	// Без ключа сьюта в локальном описании обе стороны работают по
	// согласованному ключу
	sendKey, recvKey := srtpKeys(&media_desc.MediaDescription{}, remote, 0, rs)
	assert.Equal(t, "cmVtb3Rl", sendKey)
	assert.Equal(t, "cmVtb3Rl", recvKey)
}

func TestSilenceSource(t *testing.T) {
	mu := newSilenceSource(false)
	payload := mu.NextPayload(160)
	require.Len(t, payload, 160)
	for _, b := range payload {
		assert.Equal(t, byte(0xFF), b)
	}

	al := newSilenceSource(true)
	payload = al.NextPayload(10)
	for _, b := range payload {
		assert.Equal(t, byte(0xD5), b)
	}
}

func TestRingbackToneCadence(t *testing.T) {
	tone := newRingbackTone(8000, false)

	// Первая секунда: тон, не тишина
	active := tone.NextPayload(8000)
	silent := newSilenceSource(false).NextPayload(8000)
	assert.NotEqual(t, silent, active)

	// Следующие четыре секунды: пауза
	pause := tone.NextPayload(4 * 8000)
	for _, b := range pause {
		assert.Equal(t, byte(0xFF), b)
	}

	// Каденция повторяется
	again := tone.NextPayload(100)
	assert.NotEqual(t, newSilenceSource(false).NextPayload(100), again)
}

func TestG711EncodeZeroAndSign(t *testing.T) {
	// Ноль кодируется известными константами
	assert.Equal(t, byte(0xFF), muLawEncode(0))
	assert.Equal(t, byte(0xD5), aLawEncode(0))

	// Знак различим
	assert.NotEqual(t, muLawEncode(8000), muLawEncode(-8000))
	assert.NotEqual(t, aLawEncode(8000), aLawEncode(-8000))
}

func TestPayloaderSelection(t *testing.T) {
	assert.NotNil(t, payloaderFor("PCMU"))
	assert.NotNil(t, payloaderFor("opus"))
	assert.NotNil(t, payloaderFor("H264"))
	assert.NotNil(t, payloaderFor("VP8"))
	// Неизвестный кодек получает безопасный запасной вариант
	assert.NotNil(t, payloaderFor("iLBC"))
}
