package inventory_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"blockyard/internal/domain"
	"blockyard/internal/inventory"
)

func record(name, version string, deps ...string) domain.InstalledPluginRecord {
	rec := domain.InstalledPluginRecord{
		Name:        name,
		Version:     version,
		Source:      "modrinth",
		Filename:    name + ".jar",
		InstalledAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		FileSize:    1024,
	}
	for _, d := range deps {
		rec.Dependencies = append(rec.Dependencies, domain.Dependency{Name: d})
	}
	return rec
}

func TestLoad_MissingFileIsEmpty(t *testing.T) {
	s, err := inventory.Load(filepath.Join(t.TempDir(), "installed_plugins.toml"))
	require.NoError(t, err)
	assert.Empty(t, s.Records())
}

func TestSaveAndLoad_PreservesOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "installed_plugins.toml")
	s, err := inventory.Load(path)
	require.NoError(t, err)

	s.Put(record("Vault", "1.7.3"))
	s.Put(record("LuckPerms", "5.4.102", "Vault"))
	s.Put(record("Essentials", "2.20.1"))
	s.Put(record("vault", "1.7.4"))
	require.NoError(t, s.Save())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 3, strings.Count(string(data), "[[plugin]]"))

	loaded, err := inventory.Load(path)
	require.NoError(t, err)
	recs := loaded.Records()
	require.Len(t, recs, 3)
	assert.Equal(t, []string{"vault", "LuckPerms", "Essentials"}, []string{recs[0].Name, recs[1].Name, recs[2].Name})
	assert.Equal(t, "1.7.4", recs[0].Version, "update keeps position")
	assert.Equal(t, []domain.Dependency{{Name: "Vault"}}, recs[1].Dependencies)
	assert.True(t, recs[1].InstalledAt.Equal(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestGetAndDelete(t *testing.T) {
	s, err := inventory.Load(filepath.Join(t.TempDir(), "r.toml"))
	require.NoError(t, err)
	s.Put(record("Vault", "1.0"))

	rec, ok := s.Get("VAULT")
	require.True(t, ok)
	assert.Equal(t, "1.0", rec.Version)

	assert.True(t, s.Delete("vault"))
	assert.False(t, s.Delete("vault"))
	_, ok = s.Get("vault")
	assert.False(t, ok)
}

func TestDependents(t *testing.T) {
	s, err := inventory.Load(filepath.Join(t.TempDir(), "r.toml"))
	require.NoError(t, err)
	s.Put(record("Vault", "1.0"))
	s.Put(record("LuckPerms", "5.0", "vault"))
	soft := record("Chat", "1.0")
	soft.Dependencies = []domain.Dependency{{Name: "Vault", Optional: true}}
	s.Put(soft)

	assert.Equal(t, []string{"LuckPerms"}, s.Dependents("Vault"))
	assert.Empty(t, s.Dependents("LuckPerms"))
}

func TestLoad_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "r.toml")
	require.NoError(t, os.WriteFile(path, []byte("[[plugin]\nname = "), 0o600))
	_, err := inventory.Load(path)
	assert.Error(t, err)
}

func TestRecordsReturnsCopy(t *testing.T) {
	s, err := inventory.Load(filepath.Join(t.TempDir(), "r.toml"))
	require.NoError(t, err)
	s.Put(record("Vault", "1.0"))

	recs := s.Records()
	recs[0].Version = "9.9"
	rec, _ := s.Get("vault")
	assert.Equal(t, "1.0", rec.Version)
}
