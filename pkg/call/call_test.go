package call

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/soft_call/pkg/media_desc"
	"github.com/arzzra/soft_call/pkg/signaling"
)

// fakeOperation управляемая сигнальная операция для тестов: описания
// задаются тестом, вызовы методов записываются.
type fakeOperation struct {
	binding signaling.Binding

	remoteMD *media_desc.MediaDescription
	finalMD  *media_desc.MediaDescription
	localMD  *media_desc.MediaDescription

	busy     bool
	released bool

	startCalls     int
	acceptCalls    int
	declineCalls   int
	updateCalls    int
	updateSubjects []string
	terminateCalls int
	declineReason  signaling.Reason
}

func (o *fakeOperation) RemoteMediaDescription() *media_desc.MediaDescription { return o.remoteMD }
func (o *fakeOperation) FinalMediaDescription() *media_desc.MediaDescription  { return o.finalMD }
func (o *fakeOperation) SetLocalMediaDescription(md *media_desc.MediaDescription) error {
	o.localMD = md
	return nil
}
func (o *fakeOperation) IsOfferer() bool { return true }
func (o *fakeOperation) Start() error {
	o.startCalls++
	return nil
}
func (o *fakeOperation) Accept() error {
	o.acceptCalls++
	return nil
}
func (o *fakeOperation) Decline(reason signaling.Reason, redirectAddr string) error {
	o.declineCalls++
	o.declineReason = reason
	return nil
}
func (o *fakeOperation) Update(subject string) error {
	o.updateCalls++
	o.updateSubjects = append(o.updateSubjects, subject)
	return nil
}
func (o *fakeOperation) Terminate() error {
	o.terminateCalls++
	return nil
}
func (o *fakeOperation) Busy() bool                 { return o.busy }
func (o *fakeOperation) Release()                   { o.released = true }
func (o *fakeOperation) Binding() *signaling.Binding { return &o.binding }
func (o *fakeOperation) From() string               { return "sip:alice@test" }
func (o *fakeOperation) To() string                 { return "sip:bob@test" }

// fakeMedia записывает команды медиа движку
type fakeMedia struct {
	initCalls   int
	startCalls  int
	stopCalls   int
	lastMuted   bool
	ringbackOn  int
	ringbackOff int
	forks       []int
	destUpdates int
}

func (m *fakeMedia) InitStreams(c *Call) error { m.initCalls++; return nil }
func (m *fakeMedia) StartStreams(c *Call, allMuted, sendRingback bool) error {
	m.startCalls++
	m.lastMuted = allMuted
	return nil
}
func (m *fakeMedia) StopStreams(c *Call) { m.stopCalls++ }
func (m *fakeMedia) UpdateDestinations(c *Call, oldMD, newMD *media_desc.MediaDescription) error {
	m.destUpdates++
	return nil
}
func (m *fakeMedia) AddForkDestination(c *Call, streamIndex int, addr string, rtpPort int) {
	m.forks = append(m.forks, streamIndex)
}
func (m *fakeMedia) StartRingback(c *Call) { m.ringbackOn++ }
func (m *fakeMedia) StopRingback(c *Call)  { m.ringbackOff++ }

// fakeNotifier записывает историю состояний
type fakeNotifier struct {
	states         []State
	messages       []string
	transferStates []State
}

func (n *fakeNotifier) CallStateChanged(c *Call, st State, message string) {
	n.states = append(n.states, st)
	n.messages = append(n.messages, message)
}
func (n *fakeNotifier) TransferStateChanged(original *Call, newCallState State) {
	n.transferStates = append(n.transferStates, newCallState)
}

type fakePlacer struct {
	placed  *Call
	targets []string
}

func (p *fakePlacer) PlaceTransferCall(original *Call, target string) (*Call, error) {
	p.targets = append(p.targets, target)
	return p.placed, nil
}

type deferredTask struct {
	ready func() bool
	task  func()
}

type testEnv struct {
	op       *fakeOperation
	media    *fakeMedia
	notify   *fakeNotifier
	placer   *fakePlacer
	deferred []deferredTask
}

func newEnv() *testEnv {
	return &testEnv{op: &fakeOperation{}, media: &fakeMedia{}, notify: &fakeNotifier{}, placer: &fakePlacer{}}
}

func (e *testEnv) deps() Deps {
	return Deps{
		Media:  e.media,
		Notify: e.notify,
		Placer: e.placer,
		Defer: func(ready func() bool, task func()) {
			e.deferred = append(e.deferred, deferredTask{ready: ready, task: task})
		},
	}
}

func localAudioDesc(params MediaParams) *media_desc.MediaDescription {
	return BuildLocalDescription(params, "alice", "10.0.0.1",
		[]StreamPorts{{RTP: 7078, RTCP: 7079}})
}

func remoteAudioDesc(dir media_desc.Direction) *media_desc.MediaDescription {
	return &media_desc.MediaDescription{
		Username: "bob",
		Addr:     "10.0.0.2",
		Streams: []media_desc.StreamDescription{{
			Type:      media_desc.MediaTypeAudio,
			Proto:     media_desc.ProtoRTPAVP,
			RTPPort:   9078,
			Direction: dir,
			Payloads: []media_desc.PayloadType{
				{MimeType: "PCMU", ClockRate: 8000, Number: 0, CanSend: true, CanRecv: true},
			},
		}},
	}
}

func newOutgoing(t *testing.T, e *testEnv, params MediaParams) *Call {
	t.Helper()
	c := New(DirectionOutgoing, e.op, params, localAudioDesc(params), e.deps(), nil)
	require.NoError(t, c.StartOutgoing())
	require.Equal(t, StateOutgoingProgress, c.State())
	require.Equal(t, 1, e.op.startCalls)
	return c
}

// connect доводит исходящий вызов до StreamsRunning
func connect(t *testing.T, e *testEnv, c *Call) {
	t.Helper()
	e.op.remoteMD = remoteAudioDesc(media_desc.DirectionSendRecv)
	e.op.finalMD = remoteAudioDesc(media_desc.DirectionSendRecv)
	c.RemoteAccepted()
	require.Equal(t, StateStreamsRunning, c.State())
}

func TestOutgoingHappyPath(t *testing.T) {
	e := newEnv()
	c := newOutgoing(t, e, DefaultMediaParams())

	// 180 без SDP: локальный ringback
	c.RemoteRinging()
	assert.Equal(t, StateOutgoingRinging, c.State())
	assert.Equal(t, 1, e.media.ringbackOn)

	connect(t, e, c)
	assert.Equal(t, 1, e.media.ringbackOff)
	assert.Equal(t, 1, e.media.startCalls)
	assert.False(t, e.media.lastMuted)
	// Connected виден приложению до StreamsRunning
	assert.Contains(t, e.notify.states, StateConnected)

	require.NoError(t, c.Terminate())
	assert.Equal(t, StateEnd, c.State())
	assert.Equal(t, 1, e.media.stopCalls)

	c.Released()
	assert.Equal(t, StateReleased, c.State())
	assert.True(t, e.op.released)
}

func TestEarlyMediaMutedByDefault(t *testing.T) {
	e := newEnv()
	c := newOutgoing(t, e, DefaultMediaParams())

	e.op.remoteMD = remoteAudioDesc(media_desc.DirectionSendRecv)
	e.op.finalMD = remoteAudioDesc(media_desc.DirectionSendRecv)
	c.RemoteRinging()

	assert.Equal(t, StateOutgoingEarlyMedia, c.State())
	assert.Equal(t, 1, e.media.startCalls)
	// Без запроса настоящего early media потоки заглушены
	assert.True(t, e.media.lastMuted)

	connect(t, e, c)
	assert.False(t, e.media.lastMuted)
}

func TestEarlyMediaRealWhenRequested(t *testing.T) {
	e := newEnv()
	params := DefaultMediaParams()
	params.RealEarlyMedia = true
	c := newOutgoing(t, e, params)

	e.op.remoteMD = remoteAudioDesc(media_desc.DirectionSendRecv)
	e.op.finalMD = remoteAudioDesc(media_desc.DirectionSendRecv)
	c.RemoteRinging()

	assert.Equal(t, StateOutgoingEarlyMedia, c.State())
	assert.False(t, e.media.lastMuted)
}

func TestEarlyMediaForkAddsDestination(t *testing.T) {
	e := newEnv()
	c := newOutgoing(t, e, DefaultMediaParams())

	e.op.remoteMD = remoteAudioDesc(media_desc.DirectionSendRecv)
	e.op.finalMD = remoteAudioDesc(media_desc.DirectionSendRecv)
	c.RemoteRinging()
	require.Equal(t, StateOutgoingEarlyMedia, c.State())
	require.Equal(t, 1, e.media.startCalls)

	// Вторая ветвь с другим адресом: потоки не перезапускаются
	forked := remoteAudioDesc(media_desc.DirectionSendRecv)
	forked.Addr = "10.0.0.3"
	e.op.remoteMD = forked
	e.op.finalMD = forked
	c.RemoteRinging()

	assert.Equal(t, StateOutgoingEarlyMedia, c.State())
	assert.Equal(t, 1, e.media.startCalls)
	assert.Equal(t, []int{0}, e.media.forks)
}

func TestAnswerInAck(t *testing.T) {
	e := newEnv()
	c := newOutgoing(t, e, DefaultMediaParams())

	// 200 без answer: медиа параметры придут в ACK
	e.op.finalMD = nil
	c.RemoteAccepted()
	require.Equal(t, StateConnected, c.State())
	assert.Zero(t, e.media.startCalls)

	e.op.finalMD = remoteAudioDesc(media_desc.DirectionSendRecv)
	c.AckReceived()
	assert.Equal(t, StateStreamsRunning, c.State())
	assert.Equal(t, 1, e.media.startCalls)
}

func TestAnswerInAckMissingTerminates(t *testing.T) {
	e := newEnv()
	c := newOutgoing(t, e, DefaultMediaParams())

	e.op.finalMD = nil
	c.RemoteAccepted()
	require.Equal(t, StateConnected, c.State())

	c.AckReceived()
	assert.Equal(t, StateError, c.State())
	assert.Equal(t, 1, e.op.terminateCalls)
}

func TestIncomingAcceptAndDecline(t *testing.T) {
	e := newEnv()
	params := DefaultMediaParams()
	e.op.remoteMD = remoteAudioDesc(media_desc.DirectionSendRecv)
	c := New(DirectionIncoming, e.op, params, localAudioDesc(params), e.deps(), nil)

	require.NoError(t, c.StartIncoming())
	assert.Equal(t, StateIncomingReceived, c.State())

	e.op.finalMD = remoteAudioDesc(media_desc.DirectionSendRecv)
	require.NoError(t, c.Accept())
	assert.Equal(t, StateStreamsRunning, c.State())
	assert.Equal(t, 1, e.op.acceptCalls)

	// Отклонить уже отвеченный вызов нельзя
	err := c.Decline(signaling.ReasonBusy, "")
	var ce *CallError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, ErrorCategoryState, ce.Category)
}

func TestDecline(t *testing.T) {
	e := newEnv()
	params := DefaultMediaParams()
	e.op.remoteMD = remoteAudioDesc(media_desc.DirectionSendRecv)
	c := New(DirectionIncoming, e.op, params, localAudioDesc(params), e.deps(), nil)
	require.NoError(t, c.StartIncoming())

	require.NoError(t, c.Decline(signaling.ReasonBusy, ""))
	assert.Equal(t, StateEnd, c.State())
	assert.Equal(t, 1, e.op.declineCalls)
	assert.Equal(t, signaling.ReasonBusy, e.op.declineReason)
}

func TestPauseResume(t *testing.T) {
	e := newEnv()
	c := newOutgoing(t, e, DefaultMediaParams())
	connect(t, e, c)
	version := c.LocalDescription().SessionVersion

	require.NoError(t, c.Pause())
	assert.Equal(t, StatePausing, c.State())
	assert.Equal(t, media_desc.DirectionSendOnly, c.LocalDescription().Streams[0].Direction)
	assert.Greater(t, c.LocalDescription().SessionVersion, version)

	e.op.finalMD = remoteAudioDesc(media_desc.DirectionRecvOnly)
	c.RemoteAccepted()
	assert.Equal(t, StatePaused, c.State())

	require.NoError(t, c.Resume())
	assert.Equal(t, StateResuming, c.State())
	assert.Equal(t, media_desc.DirectionSendRecv, c.LocalDescription().Streams[0].Direction)

	e.op.finalMD = remoteAudioDesc(media_desc.DirectionSendRecv)
	c.RemoteAccepted()
	assert.Equal(t, StateStreamsRunning, c.State())
	assert.Contains(t, e.notify.messages, "Вызов возобновлен")
}

func TestRemoteHoldByReinvite(t *testing.T) {
	e := newEnv()
	c := newOutgoing(t, e, DefaultMediaParams())
	connect(t, e, c)
	version := c.LocalDescription().SessionVersion

	e.op.remoteMD = remoteAudioDesc(media_desc.DirectionSendOnly)
	e.op.finalMD = remoteAudioDesc(media_desc.DirectionRecvOnly)
	c.RemoteUpdating()

	assert.Equal(t, StatePausedByRemote, c.State())
	assert.Equal(t, 1, e.op.acceptCalls)
	// Версия поднята, чтобы наш следующий re-offer был содержательно новым
	assert.Greater(t, c.LocalDescription().SessionVersion, version)

	// Снятие с удержания удаленной стороной
	e.op.remoteMD = remoteAudioDesc(media_desc.DirectionSendRecv)
	e.op.finalMD = remoteAudioDesc(media_desc.DirectionSendRecv)
	c.RemoteUpdating()
	assert.Equal(t, StateStreamsRunning, c.State())
}

func TestDeferredRemoteUpdate(t *testing.T) {
	e := newEnv()
	params := DefaultMediaParams()
	params.DeferUpdates = true
	c := newOutgoing(t, e, params)
	connect(t, e, c)

	e.op.remoteMD = remoteAudioDesc(media_desc.DirectionSendRecv)
	c.RemoteUpdating()
	assert.Equal(t, StateUpdatedByRemote, c.State())
	// Автоответа не было
	assert.Equal(t, 0, e.op.acceptCalls)

	e.op.finalMD = remoteAudioDesc(media_desc.DirectionSendRecv)
	require.NoError(t, c.AcceptUpdate())
	assert.Equal(t, StateStreamsRunning, c.State())
	assert.Equal(t, 1, e.op.acceptCalls)
}

func TestNetworkOnlyUpdateKeepsStreams(t *testing.T) {
	e := newEnv()
	c := newOutgoing(t, e, DefaultMediaParams())
	connect(t, e, c)
	startsBefore := e.media.startCalls

	// reINVITE, меняющий только адрес
	moved := remoteAudioDesc(media_desc.DirectionSendRecv)
	moved.Addr = "10.0.0.7"
	e.op.remoteMD = moved
	e.op.finalMD = moved
	c.RemoteUpdating()

	assert.Equal(t, StateStreamsRunning, c.State())
	assert.Equal(t, 1, e.media.destUpdates)
	assert.Equal(t, startsBefore, e.media.startCalls)
	assert.Equal(t, "10.0.0.7", c.ResultDescription().Addr)
}

func TestRequestPendingKeepsState(t *testing.T) {
	e := newEnv()
	c := newOutgoing(t, e, DefaultMediaParams())
	connect(t, e, c)

	require.NoError(t, c.Pause())
	require.Equal(t, StatePausing, c.State())

	c.SignalingFailure(signaling.Failure{Reason: signaling.ReasonRequestPending, Code: 491})
	// Откат в состояние до ре-согласования, никогда не Error
	assert.Equal(t, StateStreamsRunning, c.State())
}

func TestMidCallFailureRollsBack(t *testing.T) {
	e := newEnv()
	c := newOutgoing(t, e, DefaultMediaParams())
	connect(t, e, c)

	require.NoError(t, c.Pause())
	c.SignalingFailure(signaling.Failure{Reason: signaling.ReasonNotAcceptable, Code: 488})

	// Провал ре-согласования не убивает установленный вызов
	assert.Equal(t, StateStreamsRunning, c.State())
}

func TestEmptyRenegotiationRollsBack(t *testing.T) {
	e := newEnv()
	c := newOutgoing(t, e, DefaultMediaParams())
	connect(t, e, c)

	md := c.Params()
	require.NoError(t, c.Update(md, localAudioDesc(md)))
	require.Equal(t, StateUpdating, c.State())

	declined := remoteAudioDesc(media_desc.DirectionSendRecv)
	declined.Streams[0].Decline()
	e.op.finalMD = declined
	c.RemoteAccepted()

	assert.Equal(t, StateStreamsRunning, c.State())
	assert.Zero(t, e.op.terminateCalls)
}

func TestRemoteUpdateIncompatibleKeepsCall(t *testing.T) {
	e := newEnv()
	c := newOutgoing(t, e, DefaultMediaParams())
	connect(t, e, c)

	// Чужой re-offer, согласованный в пустой результат: answer ушел с
	// отклоненными потоками, вызов остается на прежних параметрах
	declined := remoteAudioDesc(media_desc.DirectionSendRecv)
	declined.Streams[0].Decline()
	e.op.remoteMD = remoteAudioDesc(media_desc.DirectionSendRecv)
	e.op.finalMD = declined
	c.RemoteUpdating()

	assert.Equal(t, StateStreamsRunning, c.State())
	assert.Zero(t, e.op.terminateCalls)
	assert.Equal(t, 1, e.op.acceptCalls)
	assert.True(t, c.ResultDescription().Streams[0].Enabled())
}

func TestDeferredUpdateIncompatibleKeepsCall(t *testing.T) {
	e := newEnv()
	params := DefaultMediaParams()
	params.DeferUpdates = true
	c := newOutgoing(t, e, params)
	connect(t, e, c)

	e.op.remoteMD = remoteAudioDesc(media_desc.DirectionSendRecv)
	c.RemoteUpdating()
	require.Equal(t, StateUpdatedByRemote, c.State())

	declined := remoteAudioDesc(media_desc.DirectionSendRecv)
	declined.Streams[0].Decline()
	e.op.finalMD = declined
	require.NoError(t, c.AcceptUpdate())

	assert.Equal(t, StateStreamsRunning, c.State())
	assert.Zero(t, e.op.terminateCalls)
}

func TestDowngradeRetryAVPFThenCrypto(t *testing.T) {
	e := newEnv()
	params := DefaultMediaParams()
	params.SRTPEnabled = true
	params.AVPFEnabled = true
	c := newOutgoing(t, e, params)
	require.Equal(t, media_desc.ProtoRTPSAVPF, c.LocalDescription().Streams[0].Proto)

	// Первый отказ: убирается AVPF, SRTP сохраняется
	c.SignalingFailure(signaling.Failure{Reason: signaling.ReasonNotAcceptable, Code: 488})
	assert.Equal(t, StateOutgoingProgress, c.State())
	assert.Equal(t, media_desc.ProtoRTPSAVP, c.LocalDescription().Streams[0].Proto)
	assert.NotEmpty(t, c.LocalDescription().Streams[0].Crypto)
	assert.Equal(t, 1, e.op.updateCalls)

	// Второй отказ: убирается шифрование
	c.SignalingFailure(signaling.Failure{Reason: signaling.ReasonNotAcceptable, Code: 488})
	assert.Equal(t, StateOutgoingProgress, c.State())
	assert.Equal(t, media_desc.ProtoRTPAVP, c.LocalDescription().Streams[0].Proto)
	assert.Empty(t, c.LocalDescription().Streams[0].Crypto)
	assert.Equal(t, 2, e.op.updateCalls)

	// Понижать больше нечего
	c.SignalingFailure(signaling.Failure{Reason: signaling.ReasonNotAcceptable, Code: 488})
	assert.Equal(t, StateError, c.State())
}

func TestDowngradeRetryAfterRinging(t *testing.T) {
	e := newEnv()
	params := DefaultMediaParams()
	params.AVPFEnabled = true
	c := newOutgoing(t, e, params)

	c.RemoteRinging()
	require.Equal(t, StateOutgoingRinging, c.State())

	// 488 после 180: повтор выполняется и виден приложению
	c.SignalingFailure(signaling.Failure{Reason: signaling.ReasonNotAcceptable, Code: 488})
	assert.Equal(t, StateOutgoingProgress, c.State())
	assert.Equal(t, media_desc.ProtoRTPAVP, c.LocalDescription().Streams[0].Proto)
	assert.Equal(t, 1, e.op.updateCalls)
	assert.Contains(t, e.notify.messages, "Повтор вызова без AVPF")
}

func TestDowngradeRetryKeepsMandatoryEncryption(t *testing.T) {
	e := newEnv()
	params := DefaultMediaParams()
	params.SRTPEnabled = true
	params.EncryptionMandatory = true
	c := newOutgoing(t, e, params)
	require.Equal(t, media_desc.ProtoRTPSAVP, c.LocalDescription().Streams[0].Proto)

	// Понижение до нешифрованного запрещено
	c.SignalingFailure(signaling.Failure{Reason: signaling.ReasonNotAcceptable, Code: 488})
	assert.Equal(t, StateError, c.State())
	assert.Zero(t, e.op.updateCalls)
}

func TestEncryptionMandatoryRejectsInsecureResult(t *testing.T) {
	e := newEnv()
	params := DefaultMediaParams()
	params.SRTPEnabled = true
	params.EncryptionMandatory = true
	c := newOutgoing(t, e, params)

	// Согласованный результат без SRTP неприемлем
	e.op.remoteMD = remoteAudioDesc(media_desc.DirectionSendRecv)
	e.op.finalMD = remoteAudioDesc(media_desc.DirectionSendRecv)
	c.RemoteAccepted()

	assert.Equal(t, StateError, c.State())
	assert.Equal(t, 1, e.op.terminateCalls)
}

func TestSignalingFailureMessages(t *testing.T) {
	e := newEnv()
	c := newOutgoing(t, e, DefaultMediaParams())

	c.SignalingFailure(signaling.Failure{Reason: signaling.ReasonBusy, Code: 486})
	assert.Equal(t, StateError, c.State())
	assert.Equal(t, signaling.ReasonBusy, c.LastFailure().Reason)
	assert.Contains(t, e.notify.messages, "Занято")
}

func TestTransferSuccessTerminatesOriginal(t *testing.T) {
	e := newEnv()
	c := newOutgoing(t, e, DefaultMediaParams())
	connect(t, e, c)

	// Вызов перевода на собственной операции
	te := newEnv()
	params := DefaultMediaParams()
	e.placer.placed = New(DirectionOutgoing, te.op, params, localAudioDesc(params), Deps{
		Media:  te.media,
		Notify: te.notify,
	}, nil)

	c.TransferRequested("sip:carol@test")
	assert.Equal(t, []string{"sip:carol@test"}, e.placer.targets)
	newCall := e.placer.placed
	require.Equal(t, StateOutgoingProgress, newCall.State())
	assert.Same(t, c, newCall.Referer())
	// Исходный вызов автоматически удерживается
	assert.Equal(t, StatePausing, c.State())

	// Соединение нового вызова завершает исходный
	te.op.remoteMD = remoteAudioDesc(media_desc.DirectionSendRecv)
	te.op.finalMD = remoteAudioDesc(media_desc.DirectionSendRecv)
	newCall.RemoteAccepted()

	assert.Equal(t, StateEnd, c.State())
	assert.Equal(t, 1, e.op.terminateCalls)
	// Прогресс перевода виден приложению
	assert.Contains(t, te.notify.transferStates, StateConnected)
}

func TestTransferFailureResumesOriginal(t *testing.T) {
	e := newEnv()
	c := newOutgoing(t, e, DefaultMediaParams())
	connect(t, e, c)

	te := newEnv()
	params := DefaultMediaParams()
	e.placer.placed = New(DirectionOutgoing, te.op, params, localAudioDesc(params), Deps{
		Media:  te.media,
		Notify: te.notify,
	}, nil)

	c.TransferRequested("sip:carol@test")
	require.Equal(t, StatePausing, c.State())

	// Удержание завершилось до провала перевода
	e.op.finalMD = remoteAudioDesc(media_desc.DirectionRecvOnly)
	c.RemoteAccepted()
	require.Equal(t, StatePaused, c.State())

	// Новый вызов провалился, не успев соединиться
	e.placer.placed.SignalingFailure(signaling.Failure{Reason: signaling.ReasonBusy, Code: 486})
	require.Equal(t, StateError, e.placer.placed.State())

	// Возобновление отложено до освобождения операции
	require.Len(t, e.deferred, 1)
	e.op.busy = true
	assert.False(t, e.deferred[0].ready())
	e.op.busy = false
	require.True(t, e.deferred[0].ready())

	e.op.finalMD = remoteAudioDesc(media_desc.DirectionSendRecv)
	e.deferred[0].task()
	assert.Equal(t, StateResuming, c.State())
}

func TestUserTransfer(t *testing.T) {
	e := newEnv()
	c := newOutgoing(t, e, DefaultMediaParams())
	connect(t, e, c)

	require.NoError(t, c.Transfer("sip:carol@test"))
	assert.Equal(t, StateRefered, c.State())
	assert.Equal(t, "sip:carol@test", c.TransferTarget())
}

func TestRemoteTerminated(t *testing.T) {
	e := newEnv()
	c := newOutgoing(t, e, DefaultMediaParams())
	connect(t, e, c)

	c.RemoteTerminated()
	assert.Equal(t, StateEnd, c.State())
	assert.Equal(t, 1, e.media.stopCalls)
}

func TestDoubleReleasePanics(t *testing.T) {
	e := newEnv()
	c := newOutgoing(t, e, DefaultMediaParams())
	require.NoError(t, c.Terminate())
	c.Released()
	require.Equal(t, StateReleased, c.State())

	assert.Panics(t, func() { c.Released() })
}

func TestInvalidTransitionIgnored(t *testing.T) {
	e := newEnv()
	params := DefaultMediaParams()
	c := New(DirectionOutgoing, e.op, params, localAudioDesc(params), e.deps(), nil)

	// Ringing до старта вызова игнорируется
	c.RemoteRinging()
	assert.Equal(t, StateIdle, c.State())

	// Действия пользователя в неверном состоянии возвращают ошибку
	assert.Error(t, c.Pause())
	assert.Error(t, c.Resume())
	assert.Error(t, c.Accept())
	assert.Error(t, c.AcceptUpdate())
}

func TestBiggestDescriptionTracksMaximum(t *testing.T) {
	e := newEnv()
	params := DefaultMediaParams()
	params.VideoEnabled = true
	local := BuildLocalDescription(params, "alice", "10.0.0.1",
		[]StreamPorts{{RTP: 7078, RTCP: 7079}, {RTP: 7080, RTCP: 7081}})
	c := New(DirectionOutgoing, e.op, params, local, e.deps(), nil)
	require.NoError(t, c.StartOutgoing())
	require.Len(t, c.BiggestDescription().Streams, 2)

	// Answer только с аудио не уменьшает максимум
	e.op.remoteMD = remoteAudioDesc(media_desc.DirectionSendRecv)
	e.op.finalMD = remoteAudioDesc(media_desc.DirectionSendRecv)
	c.RemoteAccepted()
	assert.Len(t, c.BiggestDescription().Streams, 2)
}

func TestBuildLocalDescription(t *testing.T) {
	params := DefaultMediaParams()
	params.SRTPEnabled = true
	md := BuildLocalDescription(params, "alice", "10.0.0.1", []StreamPorts{{RTP: 7078, RTCP: 7079}})

	require.Len(t, md.Streams, 1)
	s := md.Streams[0]
	assert.Equal(t, media_desc.ProtoRTPSAVP, s.Proto)
	assert.Equal(t, 7078, s.RTPPort)
	require.Len(t, s.Crypto, 2)
	assert.Equal(t, 1, s.Crypto[0].Tag)
	assert.NotEmpty(t, s.Crypto[0].MasterKey)
	assert.NotEqual(t, s.Crypto[0].MasterKey, s.Crypto[1].MasterKey)
}

func TestStateValidatorMatrix(t *testing.T) {
	sv := newStateValidator()

	assert.NoError(t, sv.validate(StateIdle, StateOutgoingInit))
	assert.NoError(t, sv.validate(StateStreamsRunning, StatePausing))
	// Повтор с понижением после 180/183 возвращает вызов в OutgoingProgress
	assert.NoError(t, sv.validate(StateOutgoingRinging, StateOutgoingProgress))
	assert.NoError(t, sv.validate(StateOutgoingEarlyMedia, StateOutgoingProgress))
	assert.NoError(t, sv.validate(StateEnd, StateReleased))
	// Переход в то же состояние допустим всегда
	assert.NoError(t, sv.validate(StatePaused, StatePaused))

	assert.Error(t, sv.validate(StateIdle, StateStreamsRunning))
	assert.Error(t, sv.validate(StateReleased, StateIdle))
	assert.Error(t, sv.validate(StatePaused, StateConnected))
}
