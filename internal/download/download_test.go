package download

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFetchWritesDestinationAndVerifiesChecksum(t *testing.T) {
	t.Parallel()

	payload := []byte("model bytes")
	sum := sha256.Sum256(payload)

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(payload)
	}))
	defer ts.Close()

	dest := filepath.Join(t.TempDir(), "model.bin")
	err := Fetch(context.Background(), Options{
		URL:            ts.URL,
		Destination:    dest,
		ExpectedSHA256: hex.EncodeToString(sum[:]),
		NoProgress:     true,
	})
	require.NoError(t, err)

	content, err := os.ReadFile(dest)
	require.NoError(t, err)
	require.Equal(t, payload, content)

	_, err = os.Stat(dest + ".part")
	require.True(t, os.IsNotExist(err), "staging file should be gone")
}

func TestFetchChecksumMismatchFailsAndLeavesNothing(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("corrupted"))
	}))
	defer ts.Close()

	dest := filepath.Join(t.TempDir(), "model.bin")
	err := Fetch(context.Background(), Options{
		URL:            ts.URL,
		Destination:    dest,
		ExpectedSHA256: "0000000000000000000000000000000000000000000000000000000000000000",
		Retries:        1,
		NoProgress:     true,
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "checksum mismatch")

	_, err = os.Stat(dest)
	require.True(t, os.IsNotExist(err))
}

func TestFetchRetriesTransientFailures(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer ts.Close()

	dest := filepath.Join(t.TempDir(), "model.bin")
	err := Fetch(context.Background(), Options{
		URL:         ts.URL,
		Destination: dest,
		Retries:     3,
		NoProgress:  true,
	})
	require.NoError(t, err)
	require.EqualValues(t, 2, calls.Load())
}

func TestFetchValidatesOptions(t *testing.T) {
	t.Parallel()

	require.Error(t, Fetch(context.Background(), Options{Destination: "x"}))
	require.Error(t, Fetch(context.Background(), Options{URL: "http://localhost"}))
}

func TestParseChecksumPrefersMatchingFileName(t *testing.T) {
	t.Parallel()

	listing := []byte(
		"1111111111111111111111111111111111111111111111111111111111111111  other.bin\n" +
			"2222222222222222222222222222222222222222222222222222222222222222  model.bin\n")

	checksum, err := ParseChecksum(listing, "model.bin")
	require.NoError(t, err)
	require.Equal(t, "2222222222222222222222222222222222222222222222222222222222222222", checksum)

	checksum, err = ParseChecksum(listing, "missing.bin")
	require.NoError(t, err)
	require.Equal(t, "1111111111111111111111111111111111111111111111111111111111111111", checksum)

	_, err = ParseChecksum([]byte("no checksums here"), "model.bin")
	require.Error(t, err)
}

func TestVerifyFileChecksum(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "asset.bin")
	payload := []byte("asset")
	require.NoError(t, os.WriteFile(path, payload, 0o644))

	sum := sha256.Sum256(payload)
	require.NoError(t, VerifyFileChecksum(path, hex.EncodeToString(sum[:])))
	require.NoError(t, VerifyFileChecksum(path, ""))
	require.Error(t, VerifyFileChecksum(path, "ffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff"))
}
