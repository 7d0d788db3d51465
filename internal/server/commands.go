package server

import (
	"github.com/timewall/timewall/internal/server/sse"
)

// TabCommand is an outward instruction for the browser integration,
// delivered over the SSE feed. Fire-and-forget: if no client is
// listening, the command is dropped.
type TabCommand struct {
	Type    string `json:"type"`
	Command string `json:"command"`
	TabID   int64  `json:"tab_id"`
	URL     string `json:"url,omitempty"`
}

// Commander implements the ledger's Enforcer over the SSE feed.
type Commander struct {
	broadcaster *sse.Broadcaster
}

// NewCommander creates a command publisher on the given broadcaster.
func NewCommander(b *sse.Broadcaster) *Commander {
	return &Commander{broadcaster: b}
}

// NavigateTab instructs the integration to navigate a tab.
func (c *Commander) NavigateTab(tabID int64, url string) {
	c.broadcaster.Broadcast(TabCommand{Type: "command", Command: "navigate-tab", TabID: tabID, URL: url})
}

// CloseTab instructs the integration to close a tab.
func (c *Commander) CloseTab(tabID int64) {
	c.broadcaster.Broadcast(TabCommand{Type: "command", Command: "close-tab", TabID: tabID})
}
