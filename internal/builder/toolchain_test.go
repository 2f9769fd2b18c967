package builder

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// lookupRunner is a Runner whose LookPath only resolves allowed names.
type lookupRunner struct {
	fakeRunner
	paths map[string]string
}

func (l *lookupRunner) LookPath(name string) (string, error) {
	if path, ok := l.paths[name]; ok {
		return path, nil
	}
	return "", errors.New("executable file not found in $PATH")
}

func TestFindSwiftc(t *testing.T) {
	t.Run("SWIFTC env wins", func(t *testing.T) {
		t.Setenv("SWIFTC", "/toolchains/swiftc")
		argv, err := findSwiftc(&lookupRunner{})
		require.NoError(t, err)
		assert.Equal(t, []string{"/toolchains/swiftc"}, argv)
	})

	t.Run("swiftc on PATH", func(t *testing.T) {
		t.Setenv("SWIFTC", "")
		r := &lookupRunner{paths: map[string]string{"swiftc": "/usr/bin/swiftc"}}
		argv, err := findSwiftc(r)
		require.NoError(t, err)
		assert.Equal(t, []string{"/usr/bin/swiftc"}, argv)
	})

	t.Run("falls back to xcrun", func(t *testing.T) {
		t.Setenv("SWIFTC", "")
		r := &lookupRunner{paths: map[string]string{"xcrun": "/usr/bin/xcrun"}}
		argv, err := findSwiftc(r)
		require.NoError(t, err)
		assert.Equal(t, []string{"/usr/bin/xcrun", "swiftc"}, argv)
	})

	t.Run("nothing found", func(t *testing.T) {
		t.Setenv("SWIFTC", "")
		_, err := findSwiftc(&lookupRunner{})
		require.ErrorContains(t, err, "no Swift compiler found")
	})
}

func TestResolveSDKPath(t *testing.T) {
	t.Run("SDKROOT env wins", func(t *testing.T) {
		t.Setenv("SDKROOT", "/SDKs/MacOSX14.sdk")
		fake := &fakeRunner{}
		sdk, err := resolveSDKPath(fake)
		require.NoError(t, err)
		assert.Equal(t, "/SDKs/MacOSX14.sdk", sdk)
		assert.Empty(t, fake.calls)
	})

	t.Run("xcrun output is trimmed", func(t *testing.T) {
		t.Setenv("SDKROOT", "")
		fake := &fakeRunner{}
		sdk, err := resolveSDKPath(fake)
		require.NoError(t, err)
		assert.Equal(t, "/Library/Fake.sdk", sdk)
	})

	t.Run("xcrun failure propagates", func(t *testing.T) {
		t.Setenv("SDKROOT", "")
		fake := &fakeRunner{fail: map[string]int{"xcrun": 69}}
		_, err := resolveSDKPath(fake)
		require.ErrorContains(t, err, "exited with status 69")
	})
}

func TestAppleTriple(t *testing.T) {
	assert.Equal(t, "arm64-apple-macosx13.0", appleTriple("arm64", "13.0"))
	assert.Equal(t, "x86_64-apple-macosx14.0", appleTriple("x86_64", "14.0"))
}
