package media_desc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDesc() *MediaDescription {
	return &MediaDescription{
		Username:       "alice",
		Addr:           "10.0.0.1",
		SessionID:      1000,
		SessionVersion: 1,
		Streams: []StreamDescription{{
			Type:      MediaTypeAudio,
			Proto:     ProtoRTPAVP,
			RTPPort:   7078,
			RTCPPort:  7079,
			Direction: DirectionSendRecv,
			Payloads: []PayloadType{
				{MimeType: "PCMU", ClockRate: 8000, Number: 0},
				{MimeType: "telephone-event", ClockRate: 8000, Number: 101},
			},
		}},
	}
}

func TestEmpty(t *testing.T) {
	md := testDesc()
	assert.False(t, md.Empty())

	declined := testDesc()
	declined.Streams[0].Decline()
	assert.True(t, declined.Empty())

	// Поток только с telephone-event тоже пуст
	dtmf := testDesc()
	dtmf.Streams[0].Payloads = dtmf.Streams[0].Payloads[1:]
	assert.True(t, dtmf.Empty())
}

func TestHasDir(t *testing.T) {
	md := testDesc()
	assert.False(t, md.HasDir(DirectionSendOnly))

	md.Streams[0].Direction = DirectionSendOnly
	assert.True(t, md.HasDir(DirectionSendOnly))

	// Отклоненные потоки не учитываются
	md.Streams = append(md.Streams, StreamDescription{Type: MediaTypeVideo, Direction: DirectionSendRecv})
	assert.True(t, md.HasDir(DirectionSendOnly))

	// Пустое описание удержанием не считается
	empty := &MediaDescription{}
	assert.False(t, empty.HasDir(DirectionSendOnly))
}

func TestAllStreamsSecure(t *testing.T) {
	md := testDesc()
	assert.False(t, md.AllStreamsSecure())

	md.Streams[0].Proto = ProtoRTPSAVP
	assert.True(t, md.AllStreamsSecure())
}

func TestStreamAddrFallsBackToSession(t *testing.T) {
	md := testDesc()
	assert.Equal(t, "10.0.0.1", md.StreamAddr(0))

	md.Streams[0].Addr = "192.168.1.5"
	assert.Equal(t, "192.168.1.5", md.StreamAddr(0))
}

func TestCloneIndependence(t *testing.T) {
	md := testDesc()
	clone := md.Clone()
	clone.Streams[0].Payloads[0].MimeType = "PCMA"
	clone.Streams[0].RTPPort = 9999

	assert.Equal(t, "PCMU", md.Streams[0].Payloads[0].MimeType)
	assert.Equal(t, 7078, md.Streams[0].RTPPort)
}

func TestChangedNetworkOnly(t *testing.T) {
	oldMD := testDesc()
	newMD := testDesc()
	newMD.Addr = "10.0.0.9"
	newMD.Streams[0].RTPPort = 9078

	flags := Changed(oldMD, newMD)
	assert.True(t, flags.NetworkChangedOnly())
}

func TestChangedCodecsBreaksNetworkOnly(t *testing.T) {
	oldMD := testDesc()
	newMD := testDesc()
	newMD.Addr = "10.0.0.9"
	newMD.Streams[0].Payloads[0].Number = 8
	newMD.Streams[0].Payloads[0].MimeType = "PCMA"

	flags := Changed(oldMD, newMD)
	assert.False(t, flags.NetworkChangedOnly())
	assert.NotZero(t, flags&CodecChanged)
}

func TestChangedDirection(t *testing.T) {
	oldMD := testDesc()
	newMD := testDesc()
	newMD.Streams[0].Direction = DirectionSendOnly

	flags := Changed(oldMD, newMD)
	assert.NotZero(t, flags&DirectionChanged)
	assert.Zero(t, flags&NetworkChanged)
}

func TestChangedNil(t *testing.T) {
	md := testDesc()
	assert.Zero(t, Changed(nil, nil))
	assert.NotZero(t, Changed(nil, md))
	assert.NotZero(t, Changed(md, nil))
}

func TestSDPRoundTrip(t *testing.T) {
	md := testDesc()
	md.Streams[0].Ptime = 20
	md.Streams[0].Payloads[1].SendFmtp = "0-16"
	md.RTCPXR = RTCPXRConfig{Signaled: true, Enabled: true, VoIPMetrics: true}

	sd := md.ToSDP()
	_, err := sd.Marshal()
	require.NoError(t, err)

	parsed, err := FromSDP(sd)
	require.NoError(t, err)

	assert.Equal(t, md.Addr, parsed.Addr)
	require.Len(t, parsed.Streams, 1)
	got := parsed.Streams[0]
	assert.Equal(t, MediaTypeAudio, got.Type)
	assert.Equal(t, ProtoRTPAVP, got.Proto)
	assert.Equal(t, 7078, got.RTPPort)
	assert.Equal(t, 20, got.Ptime)
	require.Len(t, got.Payloads, 2)
	assert.Equal(t, "PCMU", got.Payloads[0].MimeType)
	assert.Equal(t, "telephone-event", got.Payloads[1].MimeType)
	assert.Equal(t, "0-16", got.Payloads[1].SendFmtp)
	assert.True(t, parsed.RTCPXR.Signaled)
	assert.True(t, parsed.RTCPXR.VoIPMetrics)
}

func TestSDPDeclinedStreamKeepsMLine(t *testing.T) {
	md := testDesc()
	md.Streams = append(md.Streams, StreamDescription{
		Type:      MediaTypeVideo,
		Proto:     ProtoRTPAVP,
		Direction: DirectionInactive,
		Payloads:  []PayloadType{{MimeType: "VP8", ClockRate: 90000, Number: 96}},
	})

	back, err := FromSDP(md.ToSDP())
	require.NoError(t, err)
	require.Len(t, back.Streams, 2)
	assert.False(t, back.Streams[1].Enabled())
	assert.Equal(t, MediaTypeVideo, back.Streams[1].Type)
}

func TestSDPCryptoAttribute(t *testing.T) {
	md := testDesc()
	md.Streams[0].Proto = ProtoRTPSAVP
	md.Streams[0].Crypto = []CryptoSuiteProposal{
		{Tag: 1, Algo: "AES_CM_128_HMAC_SHA1_80", MasterKey: "ZHVtbXlrZXlkdW1teWtleWR1bW15a2V5ZHVtbXk="},
	}

	back, err := FromSDP(md.ToSDP())
	require.NoError(t, err)
	require.Len(t, back.Streams[0].Crypto, 1)
	got := back.Streams[0].Crypto[0]
	assert.Equal(t, 1, got.Tag)
	assert.Equal(t, "AES_CM_128_HMAC_SHA1_80", got.Algo)
	assert.Equal(t, "ZHVtbXlrZXlkdW1teWtleWR1bW15a2V5ZHVtbXk=", got.MasterKey)
	assert.Equal(t, ProtoRTPSAVP, back.Streams[0].Proto)
}

func TestSDPStaticPayloadsWithoutRtpmap(t *testing.T) {
	md := testDesc()
	// PCMU под номером 0 известен и без rtpmap
	sd := md.ToSDP()
	sd.MediaDescriptions[0].Attributes = nil

	back, err := FromSDP(sd)
	require.NoError(t, err)
	require.NotEmpty(t, back.Streams[0].Payloads)
	assert.Equal(t, "PCMU", back.Streams[0].Payloads[0].MimeType)
	assert.Equal(t, 8000, back.Streams[0].Payloads[0].ClockRate)
}

func TestFmtpValue(t *testing.T) {
	fmtp := "packetization-mode=1;profile-level-id=42801F"
	assert.Equal(t, "1", FmtpValue(fmtp, "packetization-mode"))
	assert.Equal(t, "42801F", FmtpValue(fmtp, "profile-level-id"))
	assert.Equal(t, "", FmtpValue(fmtp, "max-fs"))
}

func TestDirectionStrings(t *testing.T) {
	assert.Equal(t, "sendrecv", DirectionSendRecv.String())
	assert.Equal(t, "sendonly", DirectionSendOnly.String())
	assert.Equal(t, "recvonly", DirectionRecvOnly.String())
	assert.Equal(t, "inactive", DirectionInactive.String())
}

func TestProtoParsing(t *testing.T) {
	assert.Equal(t, ProtoRTPSAVPF, ParseTransportProto("RTP/SAVPF"))
	assert.Equal(t, ProtoOther, ParseTransportProto("UDP/BFCP"))
	assert.True(t, ProtoRTPSAVPF.IsSecure())
	assert.True(t, ProtoRTPSAVPF.HasAVPF())
	assert.False(t, ProtoRTPAVP.IsSecure())
}
