// Package account owns the in-memory account list and its registration
// state.
package account

import (
	"maps"
	"slices"

	"github.com/savoirfairelinux/jami-client-android-sub001/internal/bridge"
)

// RegistrationState is an account's registration status as reported by the
// daemon.
type RegistrationState string

const (
	StateInitializing   RegistrationState = "INITIALIZING"
	StateTrying         RegistrationState = "TRYING"
	StateRegistered     RegistrationState = "REGISTERED"
	StateUnregistered   RegistrationState = "UNREGISTERED"
	StateErrorGeneric   RegistrationState = "ERROR_GENERIC"
	StateErrorNetwork   RegistrationState = "ERROR_NETWORK"
	StateErrorAuth      RegistrationState = "ERROR_AUTH"
	StateNeedsMigration RegistrationState = "ERROR_NEED_MIGRATION"
	StateUnknown        RegistrationState = "UNKNOWN"
)

var knownStates = []RegistrationState{
	StateInitializing, StateTrying, StateRegistered, StateUnregistered,
	StateErrorGeneric, StateErrorNetwork, StateErrorAuth, StateNeedsMigration,
}

// registrationTransitions lists the moves the daemon is expected to make.
// Anything else is still applied, since the daemon is authoritative, but
// logged.
var registrationTransitions = map[RegistrationState][]RegistrationState{
	StateInitializing:   {StateTrying, StateRegistered, StateUnregistered, StateErrorGeneric, StateErrorNetwork, StateErrorAuth, StateNeedsMigration},
	StateTrying:         {StateRegistered, StateUnregistered, StateErrorGeneric, StateErrorNetwork, StateErrorAuth},
	StateRegistered:     {StateTrying, StateUnregistered, StateErrorGeneric, StateErrorNetwork},
	StateErrorGeneric:   {StateTrying, StateRegistered, StateUnregistered, StateErrorNetwork},
	StateErrorNetwork:   {StateTrying, StateRegistered, StateUnregistered, StateErrorGeneric},
	StateErrorAuth:      {StateTrying, StateUnregistered},
	StateNeedsMigration: {StateInitializing, StateTrying, StateRegistered, StateUnregistered},
	StateUnregistered:   {StateInitializing, StateTrying, StateRegistered},
}

// ParseRegistrationState maps a daemon string onto a known state. Unknown
// strings map to StateUnknown; callers keep the raw value alongside.
func ParseRegistrationState(raw string) RegistrationState {
	s := RegistrationState(raw)
	if slices.Contains(knownStates, s) {
		return s
	}
	return StateUnknown
}

func expectedTransition(from, to RegistrationState) bool {
	if from == to || from == "" || from == StateUnknown || to == StateUnknown {
		return true
	}
	return slices.Contains(registrationTransitions[from], to)
}

// Account is an immutable account snapshot. Mutations produce a new value.
type Account struct {
	ID             string
	Alias          string
	Username       string
	DisplayName    string
	RegisteredName string
	Enabled        bool
	HasPassword    bool
	HasManager     bool
	State          RegistrationState
	RawState       string
	Devices        map[string]string
}

// URI is the account's own identity.
func (a Account) URI() string { return a.Username }

// Equal reports whether two snapshots are observably identical.
func (a Account) Equal(b Account) bool {
	return a.ID == b.ID &&
		a.Alias == b.Alias &&
		a.Username == b.Username &&
		a.DisplayName == b.DisplayName &&
		a.RegisteredName == b.RegisteredName &&
		a.Enabled == b.Enabled &&
		a.HasPassword == b.HasPassword &&
		a.HasManager == b.HasManager &&
		a.State == b.State &&
		a.RawState == b.RawState &&
		maps.Equal(a.Devices, b.Devices)
}

func (a Account) clone() Account {
	a.Devices = maps.Clone(a.Devices)
	if a.Devices == nil {
		a.Devices = map[string]string{}
	}
	return a
}

func fromInfo(info bridge.AccountInfo) Account {
	a := Account{
		ID:             info.ID,
		Alias:          info.Alias,
		Username:       info.Username,
		DisplayName:    info.DisplayName,
		RegisteredName: info.RegisteredName,
		Enabled:        info.Enabled,
		HasPassword:    info.HasPassword,
		HasManager:     info.HasManager,
		Devices:        info.Devices,
	}
	a.setState(info.RegistrationState)
	return a.clone()
}

func (a *Account) setState(raw string) {
	a.RawState = raw
	a.State = ParseRegistrationState(raw)
}
