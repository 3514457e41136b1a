// internal/services/lock_manager.go
package services

import (
	"sync"
	"time"
)

// LockManager 统一的会话锁管理器
// 同一会话上的变更操作必须串行，不同会话互不阻塞
type LockManager struct {
	sessionLocks  map[string]*LockInfo
	globalLock    sync.RWMutex
	cleanupTicker *time.Ticker
}

// LockInfo 包装锁和最近使用时间
type LockInfo struct {
	Mutex    *sync.RWMutex
	LastUsed time.Time
}

// NewLockManager 创建锁管理器
func NewLockManager() *LockManager {
	lm := &LockManager{
		sessionLocks: make(map[string]*LockInfo),
	}
	lm.startCleanup()
	return lm
}

// GetSessionLock 获取会话锁（线程安全）
func (lm *LockManager) GetSessionLock(sessionID string) *sync.RWMutex {
	lm.globalLock.RLock()
	if lockInfo, exists := lm.sessionLocks[sessionID]; exists {
		lm.globalLock.RUnlock()
		lockInfo.LastUsed = time.Now()
		return lockInfo.Mutex
	}
	lm.globalLock.RUnlock()

	// 升级为写锁
	lm.globalLock.Lock()
	defer lm.globalLock.Unlock()

	// 双重检查（在写锁保护下是安全的）
	if lockInfo, exists := lm.sessionLocks[sessionID]; exists {
		lockInfo.LastUsed = time.Now()
		return lockInfo.Mutex
	}

	lock := &sync.RWMutex{}
	lm.sessionLocks[sessionID] = &LockInfo{
		Mutex:    lock,
		LastUsed: time.Now(),
	}
	return lock
}

// ExecuteWithSessionLock 在会话写锁保护下执行操作
func (lm *LockManager) ExecuteWithSessionLock(sessionID string, fn func() error) error {
	lock := lm.GetSessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()
	return fn()
}

// ExecuteWithSessionReadLock 在会话读锁保护下执行操作
func (lm *LockManager) ExecuteWithSessionReadLock(sessionID string, fn func() error) error {
	lock := lm.GetSessionLock(sessionID)
	lock.RLock()
	defer lock.RUnlock()
	return fn()
}

// 定期清理长时间未使用的锁
func (lm *LockManager) startCleanup() {
	lm.cleanupTicker = time.NewTicker(5 * time.Minute)
	go func() {
		for range lm.cleanupTicker.C {
			lm.cleanupUnusedLocks()
		}
	}()
}

func (lm *LockManager) cleanupUnusedLocks() {
	lm.globalLock.Lock()
	defer lm.globalLock.Unlock()

	const maxLocks = 200
	const lockTimeout = 30 * time.Minute

	// 只有在锁数量过多时才清理
	if len(lm.sessionLocks) > maxLocks {
		now := time.Now()
		for sessionID, lockInfo := range lm.sessionLocks {
			if now.Sub(lockInfo.LastUsed) > lockTimeout {
				delete(lm.sessionLocks, sessionID)
			}
		}
	}
}
