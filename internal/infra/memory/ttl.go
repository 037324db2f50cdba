package memory

import (
	"math/rand"
	"sync"
	"time"
)

// TTLJitter spreads cache expirations by adding up to a tenth of the base TTL to each entry.
type TTLJitter struct {
	base time.Duration

	mu  sync.Mutex
	rnd *rand.Rand
}

func NewTTLJitter(base time.Duration) *TTLJitter {
	return &TTLJitter{base: base, rnd: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

// Next returns a TTL in [base, base+base/10]. It returns 0 when base is not positive.
func (j *TTLJitter) Next() time.Duration {
	if j.base <= 0 {
		return 0
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.base + time.Duration(j.rnd.Int63n(int64(j.base)/10+1))
}
