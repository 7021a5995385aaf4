package media_desc

// MediaDescription описывает сессию целиком: упорядоченный список потоков
// плюс параметры уровня сессии.
//
// Порядок потоков значим — это порядок m-line в SDP и он обязан сохраняться
// между offer и answer (RFC 3264). Количество потоков у сторон может
// различаться; несопоставленный поток offer все равно получает отклоненный
// поток answer с тем же индексом.
type MediaDescription struct {
	// Username имя в o= строке
	Username string
	// Addr адрес уровня сессии
	Addr string
	// Bandwidth ограничение полосы уровня сессии в кбит/с
	Bandwidth int

	// SessionID / SessionVersion поля o= строки. Версия монотонно растет
	// при каждом локальном изменении описания.
	SessionID      uint64
	SessionVersion uint64

	Streams []StreamDescription

	ICELite      bool
	ICECompleted bool

	RTCPXR RTCPXRConfig
}

// Clone возвращает глубокую копию описания
func (md *MediaDescription) Clone() *MediaDescription {
	out := *md
	out.Streams = make([]StreamDescription, len(md.Streams))
	for i := range md.Streams {
		out.Streams[i] = md.Streams[i].Clone()
	}
	return &out
}

// BumpVersion увеличивает версию сессии. Вызывается при каждом локальном
// изменении описания, чтобы последующий re-offer распознавался удаленной
// стороной как содержательно новый.
func (md *MediaDescription) BumpVersion() {
	md.SessionVersion++
}

// Empty возвращает true, если в описании нет ни одного активного потока с
// пригодными кодеками. Пустой результат согласования означает провал
// переговоров, поведенческие последствия решает машина состояний вызова.
func (md *MediaDescription) Empty() bool {
	for i := range md.Streams {
		s := &md.Streams[i]
		if s.Enabled() && s.HasUsablePayloads() {
			return false
		}
	}
	return true
}

// NbActiveStreams возвращает количество не отклоненных потоков
func (md *MediaDescription) NbActiveStreams() int {
	n := 0
	for i := range md.Streams {
		if md.Streams[i].Enabled() {
			n++
		}
	}
	return n
}

// HasDir возвращает true, если все активные потоки имеют направление dir.
// Используется машиной состояний для распознавания удержания вызова
// удаленной стороной (все потоки sendonly либо inactive).
func (md *MediaDescription) HasDir(dir Direction) bool {
	found := false
	for i := range md.Streams {
		s := &md.Streams[i]
		if !s.Enabled() {
			continue
		}
		if s.Direction != dir {
			return false
		}
		found = true
	}
	return found
}

// AllStreamsSecure возвращает true, если каждый активный поток использует
// SRTP профиль. Нужно для проверки совместимости результата с требованием
// обязательного шифрования.
func (md *MediaDescription) AllStreamsSecure() bool {
	for i := range md.Streams {
		s := &md.Streams[i]
		if s.Enabled() && !s.Proto.IsSecure() {
			return false
		}
	}
	return true
}

// FindStream ищет первый поток с заданными профилем и типом.
// Отклоненные потоки (RTPPort == 0) не ищутся.
func (md *MediaDescription) FindStream(proto TransportProto, typ MediaType) *StreamDescription {
	for i := range md.Streams {
		s := &md.Streams[i]
		if s.Enabled() && s.Proto == proto && s.Type == typ {
			return s
		}
	}
	return nil
}

// StreamAddr возвращает эффективный адрес потока: адрес потока либо адрес
// уровня сессии, если адрес потока не задан
func (md *MediaDescription) StreamAddr(i int) string {
	if i < 0 || i >= len(md.Streams) {
		return md.Addr
	}
	if a := md.Streams[i].Addr; a != "" {
		return a
	}
	return md.Addr
}

// ChangeFlags битовая маска различий между двумя описаниями
type ChangeFlags int

const (
	// CodecChanged список или нумерация кодеков изменились
	CodecChanged ChangeFlags = 1 << iota
	// NetworkChanged адрес или порт какого-либо потока изменились
	NetworkChanged
	// CryptoChanged крипто-параметры изменились
	CryptoChanged
	// StreamCountChanged количество потоков изменилось
	StreamCountChanged
	// DirectionChanged направление какого-либо потока изменилось
	DirectionChanged
)

// NetworkChangedOnly возвращает true, если единственное отличие — сетевые
// адреса. В этом случае достаточно обновить адреса назначения RTP без
// перезапуска потоков.
func (f ChangeFlags) NetworkChangedOnly() bool {
	return f&NetworkChanged != 0 && f&^NetworkChanged == 0
}

// Changed сравнивает два описания и возвращает маску различий.
// nil трактуется как пустое описание.
func Changed(oldMD, newMD *MediaDescription) ChangeFlags {
	var flags ChangeFlags
	if oldMD == nil || newMD == nil {
		if oldMD != newMD {
			flags |= StreamCountChanged | CodecChanged | NetworkChanged
		}
		return flags
	}
	if len(oldMD.Streams) != len(newMD.Streams) {
		flags |= StreamCountChanged
	}
	if oldMD.Addr != newMD.Addr {
		flags |= NetworkChanged
	}
	n := len(oldMD.Streams)
	if len(newMD.Streams) < n {
		n = len(newMD.Streams)
	}
	for i := 0; i < n; i++ {
		os, ns := &oldMD.Streams[i], &newMD.Streams[i]
		if oldMD.StreamAddr(i) != newMD.StreamAddr(i) || os.RTPPort != ns.RTPPort {
			flags |= NetworkChanged
		}
		if os.Direction != ns.Direction {
			flags |= DirectionChanged
		}
		if !samePayloads(os.Payloads, ns.Payloads) {
			flags |= CodecChanged
		}
		if !sameCrypto(os.Crypto, ns.Crypto) {
			flags |= CryptoChanged
		}
	}
	return flags
}

func samePayloads(a, b []PayloadType) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Number != b[i].Number ||
			!a[i].SameMime(b[i].MimeType) ||
			a[i].ClockRate != b[i].ClockRate ||
			a[i].ChannelCount() != b[i].ChannelCount() {
			return false
		}
	}
	return true
}

func sameCrypto(a, b []CryptoSuiteProposal) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Algo != b[i].Algo || a[i].MasterKey != b[i].MasterKey {
			return false
		}
	}
	return true
}
