package account

import (
	"context"
	"errors"
	"fmt"

	"github.com/savoirfairelinux/jami-client-android-sub001/internal/bridge"
	"go.uber.org/zap"
)

// Result codes reported by the daemon for device revocation and name
// registration.
const (
	RevokeSuccess       = 0
	RevokeWrongPassword = 1
	RevokeUnknownDevice = 2

	RegisterSuccess       = 0
	RegisterWrongPassword = 1
	RegisterInvalidName   = 2
	RegisterAlreadyTaken  = 3
)

const passwordScheme = "password"

// AddAccount creates an account and returns it once its dependent state is
// loaded.
func (c *Cache) AddAccount(ctx context.Context, details map[string]string) (Account, error) {
	a, err := bridge.Call(ctx, c.bridge, "addAccount", func(n bridge.Native) (Account, error) {
		id, err := n.AddAccount(details)
		if err != nil {
			return Account{}, err
		}
		return fromInfo(bridge.DecodeAccount(id,
			n.GetAccountDetails(id), n.GetVolatileAccountDetails(id), n.GetKnownRingDevices(id))), nil
	})
	if err != nil {
		return Account{}, err
	}
	// AccountsChanged may have installed the account first; either way its
	// state is loaded before returning.
	c.upsert(a)
	if err := c.loadDependents(ctx, a.ID); err != nil {
		return a, fmt.Errorf("load new account: %w", err)
	}
	c.logger.Info("account added", zap.String("account_id", a.ID))
	return a, nil
}

// RemoveAccount deletes an account in the daemon, then purges everything
// derived from it in memory and on disk before returning.
func (c *Cache) RemoveAccount(ctx context.Context, accountID string) error {
	if err := c.bridge.Exec(ctx, "removeAccount", func(n bridge.Native) error {
		return n.RemoveAccount(accountID)
	}); err != nil {
		return err
	}
	if err := c.purgeDependents(ctx, accountID); err != nil {
		return fmt.Errorf("purge account %s: %w", accountID, err)
	}
	if c.queue != nil {
		if err := c.queue.Flush(ctx); err != nil {
			return fmt.Errorf("flush writes: %w", err)
		}
	}
	if c.db != nil {
		if err := c.db.DeleteAccount(accountID); err != nil {
			return fmt.Errorf("delete stored account %s: %w", accountID, err)
		}
	}

	c.mu.Lock()
	prev := c.snap.Load()
	if _, ok := prev.byID[accountID]; ok {
		rest := make([]Account, 0, len(prev.order))
		for _, a := range prev.list() {
			if a.ID != accountID {
				rest = append(rest, a)
			}
		}
		c.installLocked(rest)
	}
	c.mu.Unlock()

	c.logger.Info("account removed", zap.String("account_id", accountID))
	return nil
}

// SetAccountsActive enables or disables every account.
func (c *Cache) SetAccountsActive(ctx context.Context, active bool) error {
	var errs []error
	for _, a := range c.Accounts() {
		id := a.ID
		if err := c.bridge.Exec(ctx, "setAccountActive", func(n bridge.Native) error {
			return n.SetAccountActive(id, active)
		}); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RevokeDevice unlinks a device and returns the daemon's result code.
func (c *Cache) RevokeDevice(ctx context.Context, accountID, password, deviceID string) (int, error) {
	if _, ok := c.Get(accountID); !ok {
		return 0, fmt.Errorf("revoke device: %w", ErrUnknownAccount)
	}
	ch, cancel := c.revocations.Register(deviceKey{accountID, deviceID})
	defer cancel()
	if err := c.bridge.Exec(ctx, "revokeDevice", func(n bridge.Native) error {
		return n.RevokeDevice(accountID, deviceID, passwordScheme, password)
	}); err != nil {
		return 0, err
	}
	select {
	case code := <-ch:
		return code, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// RenameDevice sets the name of this device.
func (c *Cache) RenameDevice(ctx context.Context, accountID, name string) error {
	if _, ok := c.Get(accountID); !ok {
		return fmt.Errorf("rename device: %w", ErrUnknownAccount)
	}
	return c.bridge.Exec(ctx, "setDeviceName", func(n bridge.Native) error {
		return n.SetDeviceName(accountID, name)
	})
}

// RegisterName registers a name on the name server and returns the daemon's
// result code.
func (c *Cache) RegisterName(ctx context.Context, accountID, name, password string) (int, error) {
	if _, ok := c.Get(accountID); !ok {
		return 0, fmt.Errorf("register name: %w", ErrUnknownAccount)
	}
	ch, cancel := c.registrations.Register(nameKey{accountID, name})
	defer cancel()
	if err := c.bridge.Exec(ctx, "registerName", func(n bridge.Native) error {
		return n.RegisterName(accountID, name, passwordScheme, password)
	}); err != nil {
		return 0, err
	}
	select {
	case code := <-ch:
		return code, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// MigrateAccount upgrades an account archive and reports whether it
// succeeded.
func (c *Cache) MigrateAccount(ctx context.Context, accountID, password string) (bool, error) {
	if _, ok := c.Get(accountID); !ok {
		return false, fmt.Errorf("migrate account: %w", ErrUnknownAccount)
	}
	ch, cancel := c.migrations.Register(accountID)
	defer cancel()
	if err := c.bridge.Exec(ctx, "migrateAccount", func(n bridge.Native) error {
		return n.MigrateAccount(accountID, password)
	}); err != nil {
		return false, err
	}
	select {
	case state := <-ch:
		return state == "SUCCESS", nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}
