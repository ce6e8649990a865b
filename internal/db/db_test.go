package db

import (
	"net/url"
	"testing"

	"github.com/oralvis/apiserver/config"
	"github.com/stretchr/testify/require"
)

func TestDSN(t *testing.T) {
	dsn := DSN(config.DatabaseConfig{
		Host:     "db.internal",
		Port:     6543,
		User:     "oralvis",
		Password: "p@ss word",
		DBName:   "clinic",
		UseSSL:   true,
	})

	u, err := url.Parse(dsn)
	require.NoError(t, err)
	require.Equal(t, "postgres", u.Scheme)
	require.Equal(t, "db.internal:6543", u.Host)
	require.Equal(t, "/clinic", u.Path)
	require.Equal(t, "oralvis", u.User.Username())
	pw, _ := u.User.Password()
	require.Equal(t, "p@ss word", pw)
	require.Equal(t, "require", u.Query().Get("sslmode"))
}

func TestDSN_DisablesSSLByDefault(t *testing.T) {
	u, err := url.Parse(DSN(config.DatabaseConfig{Host: "localhost", Port: 5432}))
	require.NoError(t, err)
	require.Equal(t, "disable", u.Query().Get("sslmode"))
}

func TestMigrationsEmbedded(t *testing.T) {
	entries, err := migrationsFS.ReadDir("migrations")
	require.NoError(t, err)

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	require.Contains(t, names, "000001_init.up.sql")
	require.Contains(t, names, "000001_init.down.sql")
}
