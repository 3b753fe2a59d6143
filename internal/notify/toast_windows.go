//go:build windows

package notify

import (
	"github.com/go-toast/toast"
)

// Toast shows native Windows toast notifications
type Toast struct {
	appID string
}

// NewToast creates the desktop toast sink
func NewToast(appID string) *Toast {
	if appID == "" {
		appID = "CoS Supervisor"
	}
	return &Toast{appID: appID}
}

func (t *Toast) Name() string { return "toast" }

func (t *Toast) Notify(n Notification) error {
	notification := toast.Notification{
		AppID:   t.appID,
		Title:   n.Title,
		Message: n.Message,
	}
	return notification.Push()
}
