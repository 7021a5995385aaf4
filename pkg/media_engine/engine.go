// Package media_engine реализует медиа движок: UDP транспорт RTP/SRTP потоков,
// пакетизацию через pion/rtp, шифрование SDES через pion/srtp и пул локальных
// портов.
//
// Движок — отдельный домен планирования: его горутины никогда не вызывают
// сигнальное ядро синхронно. Ядро командует движком синхронными вызовами
// InitStreams/StartStreams/StopStreams с сигнального потока.
package media_engine

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"

	"github.com/arzzra/soft_call/pkg/call"
	"github.com/arzzra/soft_call/pkg/media_desc"
)

const rtpMTU = 1200

// Engine медиа движок. Реализует контракт call.MediaController.
type Engine struct {
	log *slog.Logger

	mu       sync.Mutex
	sessions map[string]*callSession
}

// callSession медиа состояние одного вызова
type callSession struct {
	streams  []*streamSession
	ringback bool
}

// New создает движок
func New(log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		log:      log.With(slog.String("component", "media_engine")),
		sessions: make(map[string]*callSession),
	}
}

// InitStreams подготавливает сокеты потоков по локальному описанию вызова
func (e *Engine) InitStreams(c *call.Call) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.sessions[c.ID()]; exists {
		return nil
	}
	local := c.LocalDescription()
	if local == nil {
		return fmt.Errorf("вызов %s без локального описания", c.ID())
	}
	cs := &callSession{}
	for i := range local.Streams {
		ls := &local.Streams[i]
		if !ls.Enabled() {
			cs.streams = append(cs.streams, nil)
			continue
		}
		ss, err := newStreamSession(i, ls.TypeString(), ls.RTPPort, e.log)
		if err != nil {
			for _, prev := range cs.streams {
				if prev != nil {
					prev.stop()
				}
			}
			return err
		}
		cs.streams = append(cs.streams, ss)
	}
	e.sessions[c.ID()] = cs
	e.log.Debug("медиа потоки подготовлены",
		slog.String("call_id", c.ID()),
		slog.Int("streams", len(cs.streams)))
	return nil
}

// StartStreams запускает потоки по результирующему описанию вызова
func (e *Engine) StartStreams(c *call.Call, allMuted, sendRingback bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cs, ok := e.sessions[c.ID()]
	if !ok {
		return fmt.Errorf("потоки вызова %s не инициализированы", c.ID())
	}
	result := c.ResultDescription()
	if result == nil {
		return fmt.Errorf("вызов %s без результата согласования", c.ID())
	}

	for i := range result.Streams {
		if i >= len(cs.streams) || cs.streams[i] == nil {
			continue
		}
		ss := cs.streams[i]
		rs := &result.Streams[i]
		if !rs.Enabled() || !rs.HasUsablePayloads() {
			continue
		}
		if err := e.configureStream(c, ss, rs, result, allMuted, sendRingback); err != nil {
			e.log.Warn("настройка потока не удалась",
				slog.String("call_id", c.ID()),
				slog.Int("stream", i),
				slog.String("error", err.Error()))
			continue
		}
		ss.start()
	}
	return nil
}

// configureStream настраивает сессию потока под результат согласования
func (e *Engine) configureStream(c *call.Call, ss *streamSession, rs *media_desc.StreamDescription, result *media_desc.MediaDescription, allMuted, sendRingback bool) error {
	lead, ok := rs.LeadingPayload()
	if !ok {
		return fmt.Errorf("нет пригодного кодека")
	}
	addr := rs.Addr
	if addr == "" {
		addr = result.Addr
	}
	if err := ss.setPrimaryDestination(addr, rs.RTPPort); err != nil {
		return err
	}

	ss.payloadType = uint8(lead.Number)
	ss.clockRate = uint32(lead.ClockRate)
	if rs.Ptime > 0 {
		ss.ptime = time.Duration(rs.Ptime) * time.Millisecond
	}
	ss.packetizer = rtp.NewPacketizer(
		rtpMTU,
		ss.payloadType,
		newSSRC(),
		payloaderFor(lead.MimeType),
		rtp.NewRandomSequencer(),
		ss.clockRate,
	)

	ss.canSend = rs.Direction == media_desc.DirectionSendRecv || rs.Direction == media_desc.DirectionSendOnly
	ss.muted = allMuted
	alaw := lead.SameMime("PCMA")
	if sendRingback {
		ss.source = newRingbackTone(int(ss.clockRate), alaw)
	} else {
		ss.source = newSilenceSource(alaw)
	}

	if rs.Proto.IsSecure() {
		if err := e.configureSRTP(c, ss, rs); err != nil {
			return err
		}
	} else {
		ss.outCtx = nil
		ss.inCtx = nil
	}
	return nil
}

// configureSRTP строит контексты SRTP. Ключ из crypto-атрибута защищает
// поток, который его автор отправляет: исходящий контекст работает по нашему
// ключу из локального описания, входящий — по ключу удаленной стороны.
func (e *Engine) configureSRTP(c *call.Call, ss *streamSession, rs *media_desc.StreamDescription) error {
	if len(rs.Crypto) == 0 {
		return fmt.Errorf("поток SRTP без согласованного сьюта")
	}
	suite := rs.Crypto[0].Algo
	sendKey, recvKey := srtpKeys(c.LocalDescription(), c.RemoteDescription(), ss.index, rs)

	outCtx, err := newSRTPContext(suite, sendKey)
	if err != nil {
		return fmt.Errorf("исходящий контекст SRTP: %w", err)
	}
	inCtx, err := newSRTPContext(suite, recvKey)
	if err != nil {
		return fmt.Errorf("входящий контекст SRTP: %w", err)
	}
	ss.outCtx = outCtx
	ss.inCtx = inCtx
	return nil
}

// srtpKeys выбирает мастер-ключи направлений: свой ключ защищает исходящий
// поток, ключ удаленной стороны — входящий
func srtpKeys(local, remote *media_desc.MediaDescription, streamIdx int, rs *media_desc.StreamDescription) (sendKey, recvKey string) {
	suite := rs.Crypto[0].Algo
	sendKey = cryptoKeyFor(local, streamIdx, suite)
	recvKey = cryptoKeyFor(remote, streamIdx, suite)
	if sendKey == "" || recvKey == "" {
		// Описание одной из сторон не содержит ключа сьюта: работаем по
		// согласованному ключу в обе стороны
		sendKey = rs.Crypto[0].MasterKey
		recvKey = rs.Crypto[0].MasterKey
	}
	return sendKey, recvKey
}

// cryptoKeyFor достает ключ сьюта из потока описания md, либо ""
func cryptoKeyFor(md *media_desc.MediaDescription, streamIdx int, suite string) string {
	if md == nil || streamIdx >= len(md.Streams) {
		return ""
	}
	for _, cp := range md.Streams[streamIdx].Crypto {
		if cp.Algo == suite {
			return cp.MasterKey
		}
	}
	return ""
}

// StopStreams останавливает потоки и освобождает медиа ресурсы вызова
func (e *Engine) StopStreams(c *call.Call) {
	e.mu.Lock()
	cs, ok := e.sessions[c.ID()]
	delete(e.sessions, c.ID())
	e.mu.Unlock()
	if !ok {
		return
	}
	for _, ss := range cs.streams {
		if ss != nil {
			ss.stop()
		}
	}
	e.log.Debug("медиа потоки остановлены", slog.String("call_id", c.ID()))
}

// UpdateDestinations меняет адреса назначения без перезапуска потоков
func (e *Engine) UpdateDestinations(c *call.Call, oldMD, newMD *media_desc.MediaDescription) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cs, ok := e.sessions[c.ID()]
	if !ok {
		return fmt.Errorf("потоки вызова %s не инициализированы", c.ID())
	}
	for i := range newMD.Streams {
		if i >= len(cs.streams) || cs.streams[i] == nil {
			continue
		}
		ns := &newMD.Streams[i]
		if !ns.Enabled() {
			continue
		}
		addr := newMD.StreamAddr(i)
		if err := cs.streams[i].setPrimaryDestination(addr, ns.RTPPort); err != nil {
			return err
		}
		e.log.Info("адрес назначения потока обновлен",
			slog.String("call_id", c.ID()),
			slog.Int("stream", i),
			slog.String("addr", addr),
			slog.Int("port", ns.RTPPort))
	}
	return nil
}

// AddForkDestination добавляет дополнительный адрес ветви раннего медиа
func (e *Engine) AddForkDestination(c *call.Call, streamIndex int, addr string, rtpPort int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	cs, ok := e.sessions[c.ID()]
	if !ok || streamIndex >= len(cs.streams) || cs.streams[streamIndex] == nil {
		return
	}
	if err := cs.streams[streamIndex].addDestination(addr, rtpPort); err != nil {
		e.log.Warn("добавление ветви не удалось", slog.String("error", err.Error()))
	}
}

// StartRingback включает локальный сигнал посылки вызова
func (e *Engine) StartRingback(c *call.Call) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if cs, ok := e.sessions[c.ID()]; ok {
		cs.ringback = true
	}
	e.log.Debug("ringback включен", slog.String("call_id", c.ID()))
}

// StopRingback выключает локальный сигнал посылки вызова
func (e *Engine) StopRingback(c *call.Call) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if cs, ok := e.sessions[c.ID()]; ok {
		cs.ringback = false
	}
	e.log.Debug("ringback выключен", slog.String("call_id", c.ID()))
}

// SendDTMF отправляет цифру DTMF событиями telephone-event (RFC 4733)
func (e *Engine) SendDTMF(c *call.Call, digit rune, duration time.Duration) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cs, ok := e.sessions[c.ID()]
	if !ok {
		return fmt.Errorf("потоки вызова %s не инициализированы", c.ID())
	}
	result := c.ResultDescription()
	if result == nil {
		return fmt.Errorf("вызов %s без результата согласования", c.ID())
	}

	for i := range result.Streams {
		rs := &result.Streams[i]
		if rs.Type != media_desc.MediaTypeAudio || !rs.Enabled() {
			continue
		}
		var dtmfPT int
		for _, pt := range rs.Payloads {
			if pt.IsTelephoneEvent() {
				dtmfPT = pt.Number
				break
			}
		}
		if dtmfPT == 0 || i >= len(cs.streams) || cs.streams[i] == nil {
			continue
		}
		return cs.streams[i].sendDTMF(digit, uint8(dtmfPT), duration)
	}
	return fmt.Errorf("согласованный telephone-event отсутствует")
}

// sendDTMF шлет пакеты события: серия с нарастающей длительностью и
// тройной конечный пакет
func (s *streamSession) sendDTMF(digit rune, pt uint8, duration time.Duration) error {
	event, err := dtmfEventCode(digit)
	if err != nil {
		return err
	}
	totalSamples := uint16(uint64(s.clockRate) * uint64(duration) / uint64(time.Second))
	seq := rtp.NewRandomSequencer()
	ts := uint32(time.Now().UnixNano() / 1e6)
	ssrc := newSSRC()

	send := func(dur uint16, end bool, marker bool) {
		payload := []byte{event, 0x0A, byte(dur >> 8), byte(dur)}
		if end {
			payload[1] |= 0x80
		}
		pkt := &rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				Marker:         marker,
				PayloadType:    pt,
				SequenceNumber: seq.NextSequenceNumber(),
				Timestamp:      ts,
				SSRC:           ssrc,
			},
			Payload: payload,
		}
		s.writePacket(pkt)
	}

	step := uint16(s.clockRate / 50)
	for dur := step; dur < totalSamples; dur += step {
		send(dur, false, dur == step)
	}
	for i := 0; i < 3; i++ {
		send(totalSamples, true, false)
	}
	return nil
}

// dtmfEventCode отображает цифру в код события RFC 4733
func dtmfEventCode(digit rune) (byte, error) {
	switch {
	case digit >= '0' && digit <= '9':
		return byte(digit - '0'), nil
	case digit == '*':
		return 10, nil
	case digit == '#':
		return 11, nil
	case digit >= 'A' && digit <= 'D':
		return byte(12 + digit - 'A'), nil
	default:
		return 0, fmt.Errorf("недопустимая цифра DTMF: %q", digit)
	}
}

// payloaderFor выбирает пакетизатор pion/rtp для кодека
func payloaderFor(mime string) rtp.Payloader {
	switch strings.ToUpper(mime) {
	case "PCMU", "PCMA", "G722", "G729", "G729A", "GSM":
		return &codecs.G711Payloader{}
	case "OPUS":
		return &codecs.OpusPayloader{}
	case "H264":
		return &codecs.H264Payloader{}
	case "VP8":
		return &codecs.VP8Payloader{}
	default:
		return &codecs.G711Payloader{}
	}
}
