package workerapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/golang/glog"
	tk "github.com/salrashid123/confidential_space/misc/testtoken"
)

const tokenTypeOIDC = "OIDC"

// Attester issues an attestation token carrying nonces.
type Attester func(ctx context.Context, nonces []string) (string, error)

type customToken struct {
	Audience  string   `json:"audience"`
	Nonces    []string `json:"nonces"`
	TokenType string   `json:"token_type"`
}

// TestIssuerAttester uses the public test token issuer instead of the
// launcher. Tokens it issues prove nothing about the hardware.
func TestIssuerAttester(audience string) Attester {
	return func(_ context.Context, nonces []string) (string, error) {
		return tk.GetCustomAttestation(&tk.CustomToken{
			Audience:  audience,
			Nonces:    nonces,
			TokenType: tokenTypeOIDC,
		})
	}
}

// LauncherAttester asks the confidential space launcher for a custom token
// over its unix socket.
func LauncherAttester(socketPath, audience string) Attester {
	httpClient := http.Client{
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, "unix", socketPath)
			},
		},
	}
	return func(ctx context.Context, nonces []string) (string, error) {
		customJSON, err := json.Marshal(customToken{
			Audience:  audience,
			Nonces:    nonces,
			TokenType: tokenTypeOIDC,
		})
		if err != nil {
			return "", err
		}
		glog.V(30).Infof("Posting Custom Token %s", string(customJSON))

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, "http://localhost/v1/token", strings.NewReader(string(customJSON)))
		if err != nil {
			return "", err
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := httpClient.Do(req)
		if err != nil {
			return "", err
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return "", err
		}
		if resp.StatusCode != http.StatusOK {
			return "", fmt.Errorf("error creating custom token %s", string(body))
		}
		return string(body), nil
	}
}
