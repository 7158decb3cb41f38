package account

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	ini "gopkg.in/ini.v1"
)

// Registrar supplies the accounts a call may be placed on.
//
// The core treats the registrar as a read-through cache; the only write is
// recording the user's default outgoing account.
type Registrar interface {
	// CallCapableAccounts returns enabled call-provider accounts supporting
	// scheme, in registration order.
	CallCapableAccounts(scheme string) []Handle

	// OutgoingAccountForScheme returns the user's default account for scheme,
	// or the only capable account, or the zero Handle.
	OutgoingAccountForScheme(scheme string) Handle

	// SetUserSelectedOutgoingAccount records the user's default account.
	SetUserSelectedOutgoingAccount(h Handle)

	// SimCallManager returns the connection-manager account, if any.
	SimCallManager() Handle

	// EmergencyAccounts returns accounts able to place emergency calls.
	EmergencyAccounts() []Handle

	// Account looks up a registered account.
	Account(h Handle) (Account, bool)
}

// MemoryRegistrar is an in-memory Registrar.
// Thread Safety: All methods are safe for concurrent use.
type MemoryRegistrar struct {
	mu             sync.RWMutex
	accounts       []Account
	userDefault    Handle
	simCallManager Handle
}

// NewMemoryRegistrar creates an empty registrar
func NewMemoryRegistrar() *MemoryRegistrar {
	return &MemoryRegistrar{}
}

// Register adds an account. The first connection-manager account becomes
// the SIM call manager.
func (r *MemoryRegistrar) Register(a Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.accounts {
		if existing.Handle == a.Handle {
			return fmt.Errorf("%w: %s", ErrDuplicateAccount, a.Handle)
		}
	}
	r.accounts = append(r.accounts, a)
	if a.Has(CapConnectionManager) && r.simCallManager.IsZero() {
		r.simCallManager = a.Handle
	}
	slog.Debug("[Registrar] Account registered", "account", a.Handle.String(), "schemes", a.SupportedSchemes)
	return nil
}

// All returns a copy of every registered account
func (r *MemoryRegistrar) All() []Account {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Account, len(r.accounts))
	copy(out, r.accounts)
	return out
}

func (r *MemoryRegistrar) CallCapableAccounts(scheme string) []Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Handle
	for _, a := range r.accounts {
		if !a.Enabled || !a.Has(CapCallProvider) || a.Has(CapConnectionManager) {
			continue
		}
		if scheme != "" && !a.SupportsScheme(scheme) {
			continue
		}
		out = append(out, a.Handle)
	}
	return out
}

func (r *MemoryRegistrar) OutgoingAccountForScheme(scheme string) Handle {
	capable := r.CallCapableAccounts(scheme)

	r.mu.RLock()
	def := r.userDefault
	r.mu.RUnlock()

	if !def.IsZero() {
		for _, h := range capable {
			if h == def {
				return def
			}
		}
	}
	if len(capable) == 1 {
		return capable[0]
	}
	return Handle{}
}

func (r *MemoryRegistrar) SetUserSelectedOutgoingAccount(h Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h.IsZero() {
		r.userDefault = Handle{}
		slog.Info("[Registrar] Default outgoing account cleared")
		return
	}
	for _, a := range r.accounts {
		if a.Handle == h {
			r.userDefault = h
			slog.Info("[Registrar] Default outgoing account set", "account", h.String())
			return
		}
	}
	slog.Warn("[Registrar] Ignoring unknown default account", "account", h.String())
}

// UserSelectedOutgoingAccount returns the recorded default, or the zero Handle
func (r *MemoryRegistrar) UserSelectedOutgoingAccount() Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.userDefault
}

func (r *MemoryRegistrar) SimCallManager() Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.simCallManager
}

func (r *MemoryRegistrar) EmergencyAccounts() []Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Handle
	for _, a := range r.accounts {
		if a.Enabled && a.Has(CapPlaceEmergencyCalls) {
			out = append(out, a.Handle)
		}
	}
	return out
}

func (r *MemoryRegistrar) Account(h Handle) (Account, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, a := range r.accounts {
		if a.Handle == h {
			return a, true
		}
	}
	return Account{}, false
}

// LoadFromINI registers every [account "<component>/<id>"] section of cfg.
//
//	[account "sip/alice"]
//	label = Alice
//	address = sip:alice@example.com
//	schemes = sip, tel
//	capabilities = call_provider, video
//	enabled = true
//	default = true
func LoadFromINI(cfg *ini.File) (*MemoryRegistrar, error) {
	r := NewMemoryRegistrar()
	for _, sec := range cfg.Sections() {
		name := sec.Name()
		if !strings.HasPrefix(name, "account ") {
			continue
		}
		h, err := ParseHandle(strings.Trim(strings.TrimPrefix(name, "account "), `" `))
		if err != nil {
			return nil, fmt.Errorf("section %q: %w", name, err)
		}

		a := Account{
			Handle:  h,
			Label:   sec.Key("label").MustString(h.ID),
			Address: sec.Key("address").String(),
			Enabled: sec.Key("enabled").MustBool(true),
		}
		for _, s := range sec.Key("schemes").Strings(",") {
			a.SupportedSchemes = append(a.SupportedSchemes, strings.ToLower(s))
		}
		for _, c := range sec.Key("capabilities").Strings(",") {
			bit, ok := capabilityNames[strings.ToLower(c)]
			if !ok {
				return nil, fmt.Errorf("section %q: unknown capability %q", name, c)
			}
			a.Capabilities |= bit
		}
		if err := r.Register(a); err != nil {
			return nil, err
		}
		if sec.Key("default").MustBool(false) {
			r.userDefault = h
		}
	}
	return r, nil
}
