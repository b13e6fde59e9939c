package apple

import (
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"lyricsplus-api-go/logcolors"
)

const quarantineDuration = 5 * time.Minute

// MusicAccount is one set of catalog credentials. Requests rotate
// across accounts so no single media user token absorbs the whole
// request volume.
type MusicAccount struct {
	NameID         string
	MediaUserToken string
}

type accountManager struct {
	accounts     []MusicAccount
	currentIndex uint64

	mu             sync.RWMutex
	quarantineTime map[int]int64 // index -> unix seconds when quarantine ends
	disabled       map[int]bool
}

func newAccountManager(accounts []MusicAccount) *accountManager {
	return &accountManager{
		accounts:       accounts,
		quarantineTime: make(map[int]int64),
		disabled:       make(map[int]bool),
	}
}

func (m *accountManager) count() int {
	return len(m.accounts)
}

// next returns the next usable account in round-robin order, skipping
// quarantined and disabled accounts. When every account is sidelined
// it falls back to the one whose quarantine ends soonest, so a burst
// of 429s degrades service instead of halting it.
func (m *accountManager) next() (MusicAccount, bool) {
	if len(m.accounts) == 0 {
		return MusicAccount{}, false
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	now := time.Now().Unix()
	for range m.accounts {
		idx := int(atomic.AddUint64(&m.currentIndex, 1)-1) % len(m.accounts)
		if m.disabled[idx] {
			continue
		}
		if end, ok := m.quarantineTime[idx]; ok && end > now {
			continue
		}
		return m.accounts[idx], true
	}

	best := -1
	var bestEnd int64
	for idx := range m.accounts {
		if m.disabled[idx] {
			continue
		}
		end := m.quarantineTime[idx]
		if best == -1 || end < bestEnd {
			best, bestEnd = idx, end
		}
	}
	if best == -1 {
		return MusicAccount{}, false
	}
	log.Warnf("%s All accounts quarantined, falling back to %s (%ds remaining)",
		logcolors.LogRateLimit, logcolors.Account(m.accounts[best].NameID), bestEnd-now)
	return m.accounts[best], true
}

func (m *accountManager) indexOf(account MusicAccount) int {
	for i, a := range m.accounts {
		if a.NameID == account.NameID {
			return i
		}
	}
	return -1
}

func (m *accountManager) quarantine(account MusicAccount) {
	idx := m.indexOf(account)
	if idx < 0 {
		return
	}
	m.mu.Lock()
	m.quarantineTime[idx] = time.Now().Add(quarantineDuration).Unix()
	m.mu.Unlock()
	log.Warnf("%s Quarantined %s for %v", logcolors.LogQuarantine,
		logcolors.Account(account.NameID), quarantineDuration)
}

func (m *accountManager) clearQuarantine(account MusicAccount) {
	idx := m.indexOf(account)
	if idx < 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.quarantineTime[idx]; ok {
		delete(m.quarantineTime, idx)
		log.Infof("%s Cleared quarantine for %s after successful request",
			logcolors.LogQuarantine, logcolors.Account(account.NameID))
	}
}

// disable permanently removes an account from rotation, used when its
// media user token is rejected outright.
func (m *accountManager) disable(account MusicAccount) {
	idx := m.indexOf(account)
	if idx < 0 {
		return
	}
	m.mu.Lock()
	m.disabled[idx] = true
	m.mu.Unlock()
	log.Errorf("%s Disabled %s, media user token rejected",
		logcolors.LogAuthError, logcolors.Account(account.NameID))
}

func (m *accountManager) availableCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := time.Now().Unix()
	n := 0
	for idx := range m.accounts {
		if m.disabled[idx] {
			continue
		}
		if end, ok := m.quarantineTime[idx]; ok && end > now {
			continue
		}
		n++
	}
	return n
}
