package media_engine

import (
	"fmt"
	"math/rand"
	"sync"
	"time"
)

// PortAllocationStrategy стратегия выделения портов из пула
type PortAllocationStrategy int

const (
	// PortAllocationSequential порты выделяются по возрастанию
	PortAllocationSequential PortAllocationStrategy = iota
	// PortAllocationRandom порты выделяются в случайном порядке
	PortAllocationRandom
)

// PortPool пул RTP/RTCP портов. Выделяет четные порты под RTP, нечетный
// порт пары отдается RTCP. Потокобезопасен.
type PortPool struct {
	minPort   int
	maxPort   int
	strategy  PortAllocationStrategy
	allocated map[int]bool
	available []int
	mutex     sync.Mutex
}

// NewPortPool создает пул пар портов в диапазоне [minPort, maxPort].
// minPort должен быть четным.
func NewPortPool(minPort, maxPort int, strategy PortAllocationStrategy) *PortPool {
	p := &PortPool{
		minPort:   minPort,
		maxPort:   maxPort,
		strategy:  strategy,
		allocated: make(map[int]bool),
	}
	for port := minPort; port+1 <= maxPort; port += 2 {
		p.available = append(p.available, port)
	}
	if strategy == PortAllocationRandom {
		r := rand.New(rand.NewSource(time.Now().UnixNano()))
		r.Shuffle(len(p.available), func(i, j int) {
			p.available[i], p.available[j] = p.available[j], p.available[i]
		})
	}
	return p
}

// AllocatePair выделяет пару портов: четный RTP и следующий за ним RTCP
func (p *PortPool) AllocatePair() (rtp, rtcp int, err error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if len(p.available) == 0 {
		return 0, 0, fmt.Errorf("нет доступных медиа портов")
	}
	var port int
	if p.strategy == PortAllocationSequential {
		port = p.available[0]
		p.available = p.available[1:]
	} else {
		r := rand.New(rand.NewSource(time.Now().UnixNano()))
		idx := r.Intn(len(p.available))
		port = p.available[idx]
		p.available = append(p.available[:idx], p.available[idx+1:]...)
	}
	p.allocated[port] = true
	return port, port + 1, nil
}

// ReleasePair возвращает пару портов в пул. Повторное освобождение и чужие
// порты игнорируются.
func (p *PortPool) ReleasePair(rtp, _ int) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if rtp < p.minPort || rtp+1 > p.maxPort || !p.allocated[rtp] {
		return
	}
	delete(p.allocated, rtp)
	if p.strategy == PortAllocationSequential {
		for i := 0; i < len(p.available); i++ {
			if p.available[i] > rtp {
				p.available = append(p.available[:i], append([]int{rtp}, p.available[i:]...)...)
				return
			}
		}
	}
	p.available = append(p.available, rtp)
}

// newSSRC возвращает случайный SSRC нового потока
func newSSRC() uint32 {
	return rand.Uint32()
}

// Available возвращает количество свободных пар
func (p *PortPool) Available() int {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return len(p.available)
}
