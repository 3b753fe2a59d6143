//go:build !windows

package notify

// Toast is a no-op outside Windows; desktop notifications there come from
// whatever consumes the websocket stream
type Toast struct{}

func NewToast(appID string) *Toast { return &Toast{} }

func (t *Toast) Name() string { return "toast" }

func (t *Toast) Notify(n Notification) error { return nil }
