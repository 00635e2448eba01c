package uploads

import (
	"fmt"
	"sync"
	"time"

	"github.com/samber/lo"
)

// Level ...
type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Notice is a user-visible message that stays until dismissed.
type Notice struct {
	ID        string
	Level     Level
	FileName  string
	Message   string
	CreatedAt time.Time
}

type noticeBoard struct {
	mu      sync.Mutex
	notices []Notice
	next    int
	now     func() time.Time
}

func newNoticeBoard() *noticeBoard {
	return &noticeBoard{now: time.Now}
}

func (b *noticeBoard) post(level Level, fileName, message string) Notice {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.next++
	n := Notice{
		ID:        fmt.Sprintf("notice-%d", b.next),
		Level:     level,
		FileName:  fileName,
		Message:   message,
		CreatedAt: b.now(),
	}
	b.notices = append(b.notices, n)
	return n
}

func (b *noticeBoard) list() []Notice {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Notice(nil), b.notices...)
}

func (b *noticeBoard) dismiss(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	_, idx, found := lo.FindIndexOf(b.notices, func(n Notice) bool { return n.ID == id })
	if !found {
		return false
	}
	b.notices = append(b.notices[:idx], b.notices[idx+1:]...)
	return true
}

func (b *noticeBoard) clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.notices = nil
}
