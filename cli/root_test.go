package cli

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AnTengye/contractsign/model"
)

const storedHash = "9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08"

// executeCmd runs the root command with args and returns stdout and the error
func executeCmd(args ...string) (string, error) {
	var stdout, stderr bytes.Buffer
	rootCmd := NewRootCmd()
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return stdout.String(), err
}

type fakeMR3X struct {
	mu          sync.Mutex
	submissions []model.SigningSubmission
}

func (f *fakeMR3X) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	data := func(v any) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"data": v})
	}
	fail := func(status int, msg string) {
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(map[string]any{"message": msg})
	}

	switch {
	case r.URL.Path == "/verify/token/MR3X-CTR-2024-0001":
		data(model.VerificationResult{
			Valid:        true,
			Message:      "Contract is authentic",
			DocumentType: model.DocumentContract,
			Token:        "MR3X-CTR-2024-0001",
			Hash:         storedHash,
			Status:       "SIGNED",
			SignedAt:     "2024-03-01T14:30:00Z",
			Details:      map[string]bool{"tenantSigned": true, "ownerSigned": true},
		})
	case r.URL.Path == "/verify/token/MR3X-CTR-2024-0001/hash":
		var req struct {
			Hash string `json:"hash"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		if req.Hash == storedHash {
			data(model.VerificationResult{Valid: true, Hash: storedHash})
			return
		}
		data(model.VerificationResult{Valid: false, StoredHash: storedHash, ComputedHash: req.Hash})
	case strings.HasPrefix(r.URL.Path, "/verify/token/"):
		fail(http.StatusNotFound, "Document not found")
	case r.URL.Path == "/sign/link-ok":
		data(model.SigningPackage{SignerType: model.SignerOwner, SignerName: "Paulo Reis", ContractToken: "MR3X-CTR-2024-0001"})
	case r.URL.Path == "/sign/link-ok/submit":
		var sub model.SigningSubmission
		json.NewDecoder(r.Body).Decode(&sub)
		f.mu.Lock()
		f.submissions = append(f.submissions, sub)
		f.mu.Unlock()
		data(model.SubmitResult{ContractToken: "MR3X-CTR-2024-0001"})
	default:
		fail(http.StatusNotFound, "")
	}
}

func writeConfig(t *testing.T, apiURL string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "api:\n  base_url: " + apiURL + "\nsigning:\n  verify_page_url: https://portal.mr3x.test/verify\nlog:\n  level: error\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func newFakeAPI(t *testing.T) (*fakeMR3X, string) {
	t.Helper()
	fake := &fakeMR3X{}
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)
	return fake, writeConfig(t, server.URL)
}

func TestRootHelp(t *testing.T) {
	stdout, err := executeCmd("--help")
	require.NoError(t, err)

	assert.Contains(t, stdout, "Available Commands")
	for _, cmd := range []string{"serve", "verify", "sign", "version"} {
		assert.Contains(t, stdout, cmd)
	}
}

func TestVersion(t *testing.T) {
	stdout, err := executeCmd("version")
	require.NoError(t, err)
	assert.Equal(t, "contractsign dev\n", stdout)
}

func TestExplicitConfigMustExist(t *testing.T) {
	_, err := executeCmd("verify", "MR3X-CTR-2024-0001", "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Equal(t, ExitError, ExitCode(err))
}

func TestVerifyValid(t *testing.T) {
	_, cfg := newFakeAPI(t)

	stdout, err := executeCmd("verify", "MR3X-CTR-2024-0001", "--config", cfg, "--hash", strings.ToUpper(storedHash))
	require.NoError(t, err)
	assert.Equal(t, ExitOK, ExitCode(err))

	assert.Contains(t, stdout, "Type:     CONTRACT")
	assert.Contains(t, stdout, "Valid:    yes")
	assert.Contains(t, stdout, "Signed:   Fri, 01 Mar 2024 14:30:00 UTC")
	assert.Contains(t, stdout, "ownerSigned")
	assert.Contains(t, stdout, "Hash check: match")
}

func TestVerifyHashMismatch(t *testing.T) {
	_, cfg := newFakeAPI(t)

	stdout, err := executeCmd("verify", "MR3X-CTR-2024-0001", "--config", cfg, "--hash", strings.Repeat("0", 64))
	require.Error(t, err)
	assert.Equal(t, ExitMismatch, ExitCode(err))
	assert.Contains(t, stdout, "Hash check: MISMATCH")
	assert.Contains(t, stdout, "stored:   "+storedHash)
}

func TestVerifyNotFound(t *testing.T) {
	_, cfg := newFakeAPI(t)

	_, err := executeCmd("verify", "MR3X-CTR-2024-9999", "--config", cfg)
	require.Error(t, err)
	assert.Equal(t, ExitMismatch, ExitCode(err))
	assert.Equal(t, "Document not found", err.Error())
}

func TestVerifyUnreachableAPI(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	cfg := writeConfig(t, server.URL)
	server.Close()

	_, err := executeCmd("verify", "MR3X-CTR-2024-0001", "--config", cfg)
	require.Error(t, err)
	assert.Equal(t, ExitError, ExitCode(err))
}

func TestVerifyJSON(t *testing.T) {
	_, cfg := newFakeAPI(t)

	stdout, err := executeCmd("verify", "MR3X-CTR-2024-0001", "--config", cfg, "--json", "--type", "CONTRACT")
	require.NoError(t, err)

	var snap map[string]any
	require.NoError(t, json.Unmarshal([]byte(stdout), &snap))
	assert.Equal(t, "MR3X-CTR-2024-0001", snap["activeToken"])
	assert.Equal(t, "CONTRACT", snap["activeType"])
}

func TestVerifyUnknownType(t *testing.T) {
	_, cfg := newFakeAPI(t)

	_, err := executeCmd("verify", "MR3X-CTR-2024-0001", "--config", cfg, "--type", "LEASE")
	require.Error(t, err)
}

func writeSignature(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "signature.png")
	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
	require.NoError(t, os.WriteFile(path, png, 0o600))
	return path
}

func TestSign(t *testing.T) {
	fake, cfg := newFakeAPI(t)

	stdout, err := executeCmd("sign", "--config", cfg,
		"--link", "link-ok",
		"--signature-file", writeSignature(t),
		"--lat", "-22.9068", "--lng", "-43.1729",
		"--consent",
	)
	require.NoError(t, err)

	assert.Contains(t, stdout, "Signing as Paulo Reis (owner)")
	assert.Contains(t, stdout, "Contract token: MR3X-CTR-2024-0001")
	assert.Contains(t, stdout, "Verify at: https://portal.mr3x.test/verify?token=MR3X-CTR-2024-0001")

	fake.mu.Lock()
	defer fake.mu.Unlock()
	require.Len(t, fake.submissions, 1)
	sub := fake.submissions[0]
	assert.True(t, strings.HasPrefix(sub.Signature, "data:image/png;base64,"))
	assert.Equal(t, -22.9068, sub.GeoLat)
	assert.Equal(t, -43.1729, sub.GeoLng)
	assert.True(t, sub.GeoConsent)
}

func TestSignWithoutConsent(t *testing.T) {
	fake, cfg := newFakeAPI(t)

	_, err := executeCmd("sign", "--config", cfg,
		"--link", "link-ok",
		"--signature-file", writeSignature(t),
		"--consent=false",
	)
	require.Error(t, err)
	assert.Equal(t, ExitError, ExitCode(err))

	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Empty(t, fake.submissions)
}

func TestSignWithoutLocationOrConsent(t *testing.T) {
	fake, cfg := newFakeAPI(t)

	_, err := executeCmd("sign", "--config", cfg,
		"--link", "link-ok",
		"--signature-file", writeSignature(t),
	)
	require.Error(t, err)
	assert.Equal(t, ExitError, ExitCode(err))

	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Empty(t, fake.submissions, "no position or consent was given")
}

func TestSignConsentRequiresPosition(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{name: "no coordinates", args: []string{"--consent"}},
		{name: "latitude only", args: []string{"--consent", "--lat", "-22.9068"}},
		{name: "longitude only", args: []string{"--consent", "--lng", "-43.1729"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake, cfg := newFakeAPI(t)

			args := append([]string{"sign", "--config", cfg,
				"--link", "link-ok",
				"--signature-file", writeSignature(t),
			}, tt.args...)
			_, err := executeCmd(args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "lat")

			fake.mu.Lock()
			defer fake.mu.Unlock()
			assert.Empty(t, fake.submissions)
		})
	}
}

func TestSignRejectsNonImage(t *testing.T) {
	_, cfg := newFakeAPI(t)
	path := filepath.Join(t.TempDir(), "signature.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o600))

	_, err := executeCmd("sign", "--config", cfg, "--link", "link-ok", "--signature-file", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PNG")
}
