// Package automation drives the messaging desktop client.
//
// The client is reached only through a [Surface]: a capability interface that
// locates the control fulfilling a semantic [Role] inside a bounded scope and
// performs input on it. Lookups never fail for absence; they report
// [Found], [NotFound] or [Ambiguous]. Errors are reserved for a broken
// connection to the surface itself.
//
// The [Driver] built on top implements the friend-request state machine,
// the welcome delivery pipeline and passive discovery of new contacts. Every
// Driver method takes a *uilock.Session so that at most one automation
// operation is in flight.
package automation

import (
	"context"
	"errors"
)

// Role names the purpose of a control independently of how the client
// renders it.
type Role string

const (
	RoleMainWindow     Role = "main_window"
	RoleSearchBox      Role = "search_box"
	RoleNetworkResult  Role = "search_network_result"
	RoleProfileCard    Role = "profile_card"
	RoleMessageButton  Role = "message_button"
	RoleAddButton      Role = "add_contact_button"
	RoleNotFoundHint   Role = "not_found_hint"
	RoleConfirmDialog  Role = "confirm_dialog"
	RoleConfirmButton  Role = "confirm_button"
	RoleButton         Role = "button"
	RoleRejectedHint   Role = "rejected_hint"
	RoleNickname       Role = "nickname"
	RoleContactID      Role = "contact_id"
	RoleContactRemark  Role = "contact_remark"
	RoleContactsTab    Role = "contacts_tab"
	RoleChatsTab       Role = "chats_tab"
	RoleNewContacts    Role = "new_contacts"
	RoleNewContactItem Role = "new_contact_entry"
	RoleVerifyButton   Role = "verify_button"
	RoleChatInput      Role = "chat_input"
	RoleDeleteMenuItem Role = "delete_menu_item"
)

// LookupStatus is the outcome of a Locate call.
type LookupStatus int

const (
	NotFound LookupStatus = iota
	Found
	Ambiguous
)

func (s LookupStatus) String() string {
	switch s {
	case Found:
		return "found"
	case Ambiguous:
		return "ambiguous"
	default:
		return "not_found"
	}
}

// Control is a handle on a live UI element. IDs are assigned by the surface
// and stay valid until the element disappears.
type Control struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
	Name string `json:"name"`
}

// Query selects controls.
type Query struct {
	Role Role `json:"role"`
	// Name, when set, must be contained in the control name.
	Name string `json:"name,omitempty"`
	// Within restricts the search to descendants of this control ID.
	// Empty searches every top-level window of the client.
	Within string `json:"within,omitempty"`
}

// Lookup is the result of Locate. Control is set for Found; Candidates
// holds every match for Ambiguous.
type Lookup struct {
	Status     LookupStatus `json:"status"`
	Control    Control      `json:"control"`
	Candidates []Control    `json:"candidates,omitempty"`
}

// First returns the located control, or the first candidate of an
// ambiguous lookup.
func (l Lookup) First() (Control, bool) {
	switch l.Status {
	case Found:
		return l.Control, true
	case Ambiguous:
		if len(l.Candidates) > 0 {
			return l.Candidates[0], true
		}
	}
	return Control{}, false
}

// Key sequences understood by SendKeys.
const (
	KeyEnter     = "{Enter}"
	KeyEscape    = "{Esc}"
	KeyPaste     = "{Ctrl}v"
	KeySelectAll = "{Ctrl}a"
	KeySearch    = "{Ctrl}f"
)

// ErrClipboardUnavailable is returned by SetClipboardText when the host has
// no usable clipboard. Callers fall back to TypeText.
var ErrClipboardUnavailable = errors.New("clipboard unavailable")

// Surface is the set of capabilities the driver needs from the client.
type Surface interface {
	// Running reports whether the client main window exists.
	Running(ctx context.Context) (bool, error)
	// Activate brings the main window to the foreground.
	Activate(ctx context.Context) error

	Locate(ctx context.Context, q Query) (Lookup, error)
	LocateAll(ctx context.Context, q Query) ([]Control, error)

	Click(ctx context.Context, c Control) error
	RightClick(ctx context.Context, c Control) error
	// Dismiss closes a window or dialog.
	Dismiss(ctx context.Context, c Control) error

	SendKeys(ctx context.Context, keys string) error
	TypeText(ctx context.Context, text string) error
	SetClipboardText(ctx context.Context, text string) error
	SetClipboardFiles(ctx context.Context, paths []string) error
}

// Attacher is implemented by surfaces that hold per-goroutine platform
// resources. The driver attaches when a loop starts and detaches when it
// exits.
type Attacher interface {
	Attach(ctx context.Context) error
	Detach(ctx context.Context) error
}
