package postgres

import (
	"sync/atomic"
	"time"
)

// nextID mints a roughly time-ordered uint64 id: 42 bits of
// milliseconds since a custom epoch, 22 bits of a process-local
// counter. Good enough for primary keys on rows this process creates;
// grounded on the teacher's gorm_generator.ID() convention (monotonic
// bigint ids minted in BeforeCreate) without vendoring that package.
var idCounter uint64

const idEpochMs = 1700000000000 // 2023-11-14, arbitrary fixed epoch

func nextID() uint64 {
	seq := atomic.AddUint64(&idCounter, 1) & 0x3FFFFF
	ms := uint64(time.Now().UnixMilli()-idEpochMs) & 0x3FFFFFFFFFF
	return (ms << 22) | seq
}
