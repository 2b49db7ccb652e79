// Package notify shows a desktop notification when the proxy blocks a
// request. Strictly best-effort: notifications run asynchronously and a
// failure never reaches the request path.
package notify

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gen2brain/beeep"
	"go.uber.org/zap"
)

// cooldown throttles repeat notifications per host so a retry loop in a
// blocked client does not paint the screen.
const cooldown = 30 * time.Second

// Notifier posts block notifications to the desktop.
type Notifier struct {
	enabled bool
	logger  *zap.SugaredLogger

	mu       sync.Mutex
	lastSent map[string]time.Time
	now      func() time.Time
}

func New(enabled bool, logger *zap.SugaredLogger) *Notifier {
	return &Notifier{
		enabled:  enabled,
		logger:   logger,
		lastSent: make(map[string]time.Time),
		now:      time.Now,
	}
}

// Blocked announces that a request to host was blocked. Returns
// immediately; delivery happens on a goroutine.
func (n *Notifier) Blocked(tool, host string, categories []string) {
	if n == nil || !n.enabled {
		return
	}
	if !n.shouldSend(host) {
		return
	}

	title := "Complyze blocked a request"
	detail := "sensitive data"
	if len(categories) > 0 {
		detail = strings.Join(categories, ", ")
	}
	message := fmt.Sprintf("Request to %s (%s) was blocked: %s detected.", host, tool, detail)

	go func() {
		if err := beeep.Notify(title, message, ""); err != nil {
			n.logger.Debugw("Desktop notification failed", "error", err)
		}
	}()
}

func (n *Notifier) shouldSend(host string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	now := n.now()
	if last, ok := n.lastSent[host]; ok && now.Sub(last) < cooldown {
		return false
	}
	n.lastSent[host] = now
	return true
}
