package di

import (
	"path/filepath"
	"testing"

	"github.com/samber/do/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/listenupapp/addressbook-sync/internal/config"
	"github.com/listenupapp/addressbook-sync/internal/di/providers"
	"github.com/listenupapp/addressbook-sync/internal/service"
)

func TestBootstrap(t *testing.T) {
	for _, backend := range []string{config.BackendFile, config.BackendSQLite, config.BackendBadger} {
		t.Run(backend, func(t *testing.T) {
			dir := t.TempDir()
			t.Setenv("SYNC_ENABLED", "false")

			cfg, err := config.LoadConfig([]string{
				"-env", "development",
				"-log-level", "error",
				"-env-file", filepath.Join(dir, "missing.env"),
				"-backend", backend,
				"-data-path", dir,
				"-address-book", "friends",
				"-port", "0",
			})
			require.NoError(t, err)

			injector := NewContainer()
			do.OverrideValue(injector, cfg)
			require.NoError(t, Bootstrap(injector))
			t.Cleanup(func() { injector.Shutdown() })

			persons, err := do.Invoke[*service.PersonService](injector)
			require.NoError(t, err)
			st, err := persons.Quota(t.Context())
			require.NoError(t, err)
			assert.Equal(t, st.Ceiling-1, st.Remaining, "bootstrap creates the address book")

			backendHandle, err := do.Invoke[*providers.BackendHandle](injector)
			require.NoError(t, err)
			assert.Equal(t, backend == config.BackendFile, backendHandle.Watcher != nil)
		})
	}
}
