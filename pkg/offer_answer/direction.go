package offer_answer

import "github.com/arzzra/soft_call/pkg/media_desc"

// ResolveOutgoingDirection вычисляет итоговое направление потока для стороны,
// получившей answer на свой offer.
//
// Направление согласуется на каждом плече отдельно: обе стороны не должны
// одновременно решить "отправлять" на потоке, сконфигурированном как
// односторонний.
func ResolveOutgoingDirection(local, remoteAnswered media_desc.Direction) media_desc.Direction {
	if remoteAnswered == media_desc.DirectionInactive {
		return media_desc.DirectionInactive
	}
	if local == media_desc.DirectionSendRecv {
		switch remoteAnswered {
		case media_desc.DirectionRecvOnly:
			return media_desc.DirectionSendOnly
		case media_desc.DirectionSendOnly:
			return media_desc.DirectionRecvOnly
		}
	}
	return local
}

// ResolveIncomingDirection вычисляет направление потока answer в ответ на
// направление, предложенное в offer.
func ResolveIncomingDirection(local, remoteOffered media_desc.Direction) media_desc.Direction {
	switch local {
	case media_desc.DirectionSendRecv:
		switch remoteOffered {
		case media_desc.DirectionSendOnly:
			return media_desc.DirectionRecvOnly
		case media_desc.DirectionRecvOnly:
			return media_desc.DirectionSendOnly
		case media_desc.DirectionInactive:
			return media_desc.DirectionInactive
		default:
			return media_desc.DirectionSendRecv
		}
	case media_desc.DirectionSendOnly:
		// Удаленная сторона не может тоже быть sendonly на этом потоке
		if remoteOffered == media_desc.DirectionInactive || remoteOffered == media_desc.DirectionSendOnly {
			return media_desc.DirectionInactive
		}
		return media_desc.DirectionSendOnly
	case media_desc.DirectionRecvOnly:
		if remoteOffered == media_desc.DirectionInactive || remoteOffered == media_desc.DirectionRecvOnly {
			return media_desc.DirectionInactive
		}
		return media_desc.DirectionRecvOnly
	default:
		return media_desc.DirectionInactive
	}
}
