package media_desc

// StreamDescription описывает один медиа поток (одну m-line) в offer, answer
// или результате согласования.
//
// Инвариант: поток с RTPPort == 0 логически отсутствует (отклонен) независимо
// от остальных полей. Такой поток никогда не должен связываться с реальным
// медиа потоком.
type StreamDescription struct {
	// Type тип потока; TypeName хранит исходную строку для MediaTypeOther
	Type     MediaType
	TypeName string

	// Proto транспортный профиль; ProtoName хранит исходную строку для ProtoOther
	Proto     TransportProto
	ProtoName string

	// Name имя потока (i= строка, opaque)
	Name string

	// Addr сетевой адрес потока; пустой означает адрес уровня сессии
	Addr     string
	RTPPort  int
	RTCPPort int

	// Payloads упорядоченный список кодеков
	Payloads []PayloadType

	Direction Direction

	// Bandwidth ограничение полосы в кбит/с (0 — не задано)
	Bandwidth int
	// Ptime длительность пакета в мс (0 — не задано)
	Ptime int

	// Crypto предложения SDES крипто-наборов, только для SRTP профилей
	Crypto []CryptoSuiteProposal
	// CryptoLocalTag тег локального предложения, выбранного при согласовании.
	// Заполняется движком offer/answer, чтобы знать, какой из наших ключей
	// использовать для исходящего SRTP.
	CryptoLocalTag int

	// ICE данные передаются прозрачно, согласование ICE вне этого ядра
	ICEUfrag      string
	ICEPwd        string
	ICECandidates []string
	ICEMismatch   bool
	ICECompleted  bool

	RTCPXR RTCPXRConfig
}

// Enabled возвращает true, если поток не отклонен
func (s *StreamDescription) Enabled() bool {
	return s.RTPPort != 0
}

// Decline помечает поток отклоненным: порт 0, направление inactive.
// Тип и профиль сохраняются, чтобы answer остался синтаксически корректным.
func (s *StreamDescription) Decline() {
	s.RTPPort = 0
	s.RTCPPort = 0
	s.Direction = DirectionInactive
	s.Crypto = nil
}

// HasUsablePayloads возвращает true, если в списке есть хотя бы один кодек,
// отличный от telephone-event. Поток, в котором согласован только DTMF,
// реальным медиа не считается.
func (s *StreamDescription) HasUsablePayloads() bool {
	for _, pt := range s.Payloads {
		if !pt.IsTelephoneEvent() {
			return true
		}
	}
	return false
}

// ProtoString возвращает строку профиля для сериализации: каноническое имя
// либо исходную строку для нераспознанного профиля
func (s *StreamDescription) ProtoString() string {
	if s.Proto == ProtoOther && s.ProtoName != "" {
		return s.ProtoName
	}
	return s.Proto.String()
}

// TypeString возвращает строку типа для сериализации
func (s *StreamDescription) TypeString() string {
	if s.Type == MediaTypeOther && s.TypeName != "" {
		return s.TypeName
	}
	return s.Type.String()
}

// LeadingPayload возвращает первый кодек потока, не являющийся telephone-event.
// Используется при сопоставлении потоков форка раннего медиа.
func (s *StreamDescription) LeadingPayload() (PayloadType, bool) {
	for _, pt := range s.Payloads {
		if !pt.IsTelephoneEvent() {
			return pt, true
		}
	}
	return PayloadType{}, false
}

// Clone возвращает глубокую копию потока
func (s *StreamDescription) Clone() StreamDescription {
	out := *s
	out.Payloads = make([]PayloadType, len(s.Payloads))
	copy(out.Payloads, s.Payloads)
	if s.Crypto != nil {
		out.Crypto = make([]CryptoSuiteProposal, len(s.Crypto))
		copy(out.Crypto, s.Crypto)
	}
	if s.ICECandidates != nil {
		out.ICECandidates = make([]string, len(s.ICECandidates))
		copy(out.ICECandidates, s.ICECandidates)
	}
	return out
}
