package media_engine

import (
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/srtp/v3"
)

// streamSession один медиа поток вызова: локальный сокет, адреса назначения
// (основной плюс ветви раннего медиа), контексты SRTP и цикл отправки.
//
// Живет в домене медиа: собственные горутины, никаких синхронных вызовов
// обратно в сигнальное ядро.
type streamSession struct {
	index     int
	mediaType string
	log       *slog.Logger

	conn *net.UDPConn

	mu    sync.Mutex
	dests []*net.UDPAddr

	payloadType uint8
	clockRate   uint32
	ptime       time.Duration

	packetizer rtp.Packetizer

	// outCtx/inCtx контексты SRTP; nil для незашифрованного RTP
	outCtx *srtp.Context
	inCtx  *srtp.Context

	muted   bool
	canSend bool
	source  payloadSource

	running  bool
	stopCh   chan struct{}
	doneSend chan struct{}
	doneRecv chan struct{}
}

// payloadSource выдает очередную порцию закодированных сэмплов на один ptime
type payloadSource interface {
	NextPayload(samples int) []byte
}

func newStreamSession(index int, mediaType string, rtpPort int, log *slog.Logger) (*streamSession, error) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: rtpPort})
	if err != nil {
		return nil, fmt.Errorf("открытие RTP сокета на порту %d: %w", rtpPort, err)
	}
	return &streamSession{
		index:     index,
		mediaType: mediaType,
		conn:      conn,
		log: log.With(
			slog.Int("stream", index),
			slog.String("media", mediaType)),
	}, nil
}

// setPrimaryDestination задает основной адрес назначения потока
func (s *streamSession) setPrimaryDestination(addr string, port int) error {
	dst, err := net.ResolveUDPAddr("udp", net.JoinHostPort(addr, fmt.Sprintf("%d", port)))
	if err != nil {
		return fmt.Errorf("адрес назначения %s:%d: %w", addr, port, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.dests) == 0 {
		s.dests = []*net.UDPAddr{dst}
	} else {
		s.dests[0] = dst
	}
	return nil
}

// addDestination добавляет дополнительный адрес (ветвь раннего медиа)
func (s *streamSession) addDestination(addr string, port int) error {
	dst, err := net.ResolveUDPAddr("udp", net.JoinHostPort(addr, fmt.Sprintf("%d", port)))
	if err != nil {
		return fmt.Errorf("адрес ветви %s:%d: %w", addr, port, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.dests {
		if d.IP.Equal(dst.IP) && d.Port == dst.Port {
			return nil
		}
	}
	s.dests = append(s.dests, dst)
	return nil
}

func (s *streamSession) destinations() []*net.UDPAddr {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*net.UDPAddr, len(s.dests))
	copy(out, s.dests)
	return out
}

// start запускает циклы отправки и приема
func (s *streamSession) start() {
	if s.running {
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneSend = make(chan struct{})
	s.doneRecv = make(chan struct{})
	go s.sendLoop()
	go s.recvLoop()
}

// stop останавливает циклы и закрывает сокет
func (s *streamSession) stop() {
	if !s.running {
		_ = s.conn.Close()
		return
	}
	s.running = false
	close(s.stopCh)
	_ = s.conn.Close()
	<-s.doneSend
	<-s.doneRecv
}

// sendLoop пакетизует и отправляет закодированные сэмплы каждый ptime
func (s *streamSession) sendLoop() {
	defer close(s.doneSend)

	ptime := s.ptime
	if ptime == 0 {
		ptime = 20 * time.Millisecond
	}
	samples := int(uint64(s.clockRate) * uint64(ptime) / uint64(time.Second))
	ticker := time.NewTicker(ptime)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
		}
		if !s.canSend || s.muted || s.packetizer == nil || s.source == nil {
			continue
		}
		payload := s.source.NextPayload(samples)
		if len(payload) == 0 {
			continue
		}
		for _, pkt := range s.packetizer.Packetize(payload, uint32(samples)) {
			s.writePacket(pkt)
		}
	}
}

func (s *streamSession) writePacket(pkt *rtp.Packet) {
	raw, err := pkt.Marshal()
	if err != nil {
		s.log.Warn("сериализация RTP пакета", slog.String("error", err.Error()))
		return
	}
	if s.outCtx != nil {
		raw, err = s.outCtx.EncryptRTP(nil, raw, nil)
		if err != nil {
			s.log.Warn("шифрование RTP пакета", slog.String("error", err.Error()))
			return
		}
	}
	for _, dst := range s.destinations() {
		if _, err := s.conn.WriteToUDP(raw, dst); err != nil {
			s.log.Debug("отправка RTP", slog.String("error", err.Error()))
		}
	}
}

// recvLoop принимает пакеты со всех ветвей; расшифрованные пакеты отдаются
// декодеру (здесь просто учитываются)
func (s *streamSession) recvLoop() {
	defer close(s.doneRecv)

	buf := make([]byte, 1500)
	for {
		select {
		case <-s.stopCh:
			return
		default:
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
		n, _, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return
		}
		raw := buf[:n]
		if s.inCtx != nil {
			raw, err = s.inCtx.DecryptRTP(nil, raw, nil)
			if err != nil {
				s.log.Debug("расшифровка RTP пакета", slog.String("error", err.Error()))
				continue
			}
		}
		var pkt rtp.Packet
		if err := pkt.Unmarshal(raw); err != nil {
			s.log.Debug("разбор RTP пакета", slog.String("error", err.Error()))
		}
	}
}
