package security

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateRoot(t *testing.T) {
	pv := NewPathValidator()

	tests := []struct {
		name      string
		path      string
		wantErr   bool
		protected bool
	}{
		{"filesystem root", "/", true, true},
		{"system directory", "/usr", true, true},
		{"direct child of system directory", "/usr/share", true, true},
		{"deep below system directory", "/var/tmp/organizer-test/photos", false, false},
		{"relative path", "photos", true, false},
		{"missing directory", "/nonexistent-organizer-test/photos", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := pv.ValidateRoot(tt.path)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.protected, errors.Is(err, ErrProtectedPath))
		})
	}
}

func TestValidateRootResolvesSymlinks(t *testing.T) {
	link := filepath.Join(t.TempDir(), "etc-link")
	require.NoError(t, os.Symlink("/etc", link))

	err := NewPathValidator().ValidateRoot(link)
	assert.ErrorIs(t, err, ErrProtectedPath)
}

func TestValidateRootAllowsTempDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "downloads")
	require.NoError(t, os.Mkdir(dir, 0755))
	assert.NoError(t, NewPathValidator().ValidateRoot(dir))
}

func TestIsProtectedPath(t *testing.T) {
	pv := NewPathValidator()
	assert.True(t, pv.IsProtectedPath("/"))
	assert.True(t, pv.IsProtectedPath("/usr/local/lib"))
	assert.False(t, pv.IsProtectedPath("/home/user/Downloads"))

	pv.AddProtectedPath("/home/user/Vault/")
	assert.True(t, pv.IsProtectedPath("/home/user/Vault/keys"))
	assert.ErrorIs(t, pv.ValidateRoot("/home/user/Vault"), ErrProtectedPath)
}
