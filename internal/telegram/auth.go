package telegram

import (
	"fmt"
	"sync"
	"time"
)

// Запросов в секунду на один чат
const maxCommandsPerSecond = 2

// Auth контролирует доступ к командам бота. Доступ строго по списку
// разрешённых чатов: пустой список запрещает всё. Бот управляет живой
// торговлей, поэтому режима "разрешено всем" нет.
type Auth struct {
	mu      sync.Mutex
	allowed map[int64]bool

	windowStart map[int64]time.Time
	count       map[int64]int
}

// NewAuth создаёт контроль доступа для перечисленных чатов.
// Нулевые ID игнорируются.
func NewAuth(chatIDs ...int64) *Auth {
	a := &Auth{
		allowed:     make(map[int64]bool),
		windowStart: make(map[int64]time.Time),
		count:       make(map[int64]int),
	}
	for _, id := range chatIDs {
		if id != 0 {
			a.allowed[id] = true
		}
	}
	return a
}

// Allowed проверяет, разрешён ли чат
func (a *Auth) Allowed(chatID int64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.allowed[chatID]
}

// CheckRateLimit учитывает команду и возвращает ошибку при превышении
// частоты. Окно секундное, счётчик сбрасывается с новым окном.
func (a *Auth) CheckRateLimit(chatID int64) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := time.Now()
	if now.Sub(a.windowStart[chatID]) >= time.Second {
		a.windowStart[chatID] = now
		a.count[chatID] = 0
	}

	a.count[chatID]++
	if a.count[chatID] > maxCommandsPerSecond {
		return fmt.Errorf("rate limit exceeded for chat %d", chatID)
	}
	return nil
}
