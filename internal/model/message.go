package model

import (
	"fmt"
	"regexp"
	"strings"
)

// Identifier tags a kind of message. It is unique among queued records of one scope.
type Identifier string

const (
	IdentifierNotificationPermission  Identifier = "notification_permission"
	IdentifierPopupBlocked            Identifier = "popup_blocked"
	IdentifierSavePassword            Identifier = "save_password"
	IdentifierInstallableAmbientBadge Identifier = "installable_ambient_badge"
	IdentifierDownloadProgress        Identifier = "download_progress"
	IdentifierTranslate               Identifier = "translate"
)

var identifierRegex = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

func ValidateIdentifier(id Identifier) error {
	if !identifierRegex.MatchString(string(id)) {
		return fmt.Errorf("invalid message identifier %q", id)
	}
	return nil
}

type Priority string

const (
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// Rank orders priorities; a larger rank is shown first.
func (p Priority) Rank() int {
	if p == PriorityHigh {
		return 1
	}
	return 0
}

func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "normal":
		return PriorityNormal, nil
	case "high":
		return PriorityHigh, nil
	default:
		return "", fmt.Errorf("unknown priority %q", s)
	}
}

type ScopeType string

const (
	ScopeWindow     ScopeType = "window"
	ScopeTab        ScopeType = "tab"
	ScopeNavigation ScopeType = "navigation"
)

var validScopeTypes = map[ScopeType]bool{
	ScopeWindow:     true,
	ScopeTab:        true,
	ScopeNavigation: true,
}

// ScopeKey names the window or tab a message lives in.
type ScopeKey struct {
	Type ScopeType `yaml:"type" json:"type"`
	ID   string    `yaml:"id" json:"id"`
}

func (s ScopeKey) String() string {
	return string(s.Type) + ":" + s.ID
}

func (s ScopeKey) Validate() error {
	if !validScopeTypes[s.Type] {
		return fmt.Errorf("unknown scope type %q", s.Type)
	}
	if s.ID == "" {
		return fmt.Errorf("scope %s requires an id", s.Type)
	}
	return nil
}

// ParseScope parses "type:id", e.g. "tab:42".
func ParseScope(s string) (ScopeKey, error) {
	typ, id, ok := strings.Cut(s, ":")
	if !ok {
		return ScopeKey{}, fmt.Errorf("invalid scope %q (want type:id)", s)
	}
	key := ScopeKey{Type: ScopeType(typ), ID: id}
	if err := key.Validate(); err != nil {
		return ScopeKey{}, err
	}
	return key, nil
}

// MessageKey is the queue-wide unique handle of a queued message.
type MessageKey struct {
	Identifier Identifier `yaml:"identifier" json:"identifier"`
	Scope      ScopeKey   `yaml:"scope" json:"scope"`
}

func (k MessageKey) String() string {
	return string(k.Identifier) + "@" + k.Scope.String()
}

type DismissReason string

const (
	DismissGesture         DismissReason = "gesture"
	DismissTimer           DismissReason = "timer"
	DismissPrimaryAction   DismissReason = "primary_action"
	DismissSecondaryAction DismissReason = "secondary_action"
	DismissProgrammatic    DismissReason = "programmatic"
	DismissScopeDestroyed  DismissReason = "scope_destroyed"
	DismissWindowDestroyed DismissReason = "window_destroyed"
	DismissUnknown         DismissReason = "unknown"
)

var validDismissReasons = map[DismissReason]bool{
	DismissGesture:         true,
	DismissTimer:           true,
	DismissPrimaryAction:   true,
	DismissSecondaryAction: true,
	DismissProgrammatic:    true,
	DismissScopeDestroyed:  true,
	DismissWindowDestroyed: true,
	DismissUnknown:         true,
}

// ParseDismissReason maps unknown strings to DismissUnknown.
func ParseDismissReason(s string) DismissReason {
	r := DismissReason(strings.ToLower(strings.TrimSpace(s)))
	if r == "" {
		return DismissProgrammatic
	}
	if !validDismissReasons[r] {
		return DismissUnknown
	}
	return r
}

// Well-known property keys.
const (
	PropTitle             = "title"
	PropDescription       = "description"
	PropPrimaryButtonText = "primary_button_text"
	PropIcon              = "icon"
)

// Properties is the display property bag of a message.
type Properties map[string]string

func (p Properties) Title() string       { return p[PropTitle] }
func (p Properties) Description() string { return p[PropDescription] }

func (p Properties) Clone() Properties {
	if p == nil {
		return nil
	}
	out := make(Properties, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}
