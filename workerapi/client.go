package workerapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"

	"github.com/centrifuge/go-substrate-rpc-client/v4/scale"
	"github.com/golang/glog"
	"github.com/google/uuid"

	"github.com/salrashid123/trustedcall/common"
	"github.com/salrashid123/trustedcall/shielding"
	"github.com/salrashid123/trustedcall/trustedop"
)

// stateWindow is how much of a getter response is decoded.
const stateWindow = 18

// ShieldingKey is the worker's published key and what it serves.
type ShieldingKey struct {
	Key       *shielding.PublicKey
	MrEnclave common.MrEnclave
	Shards    []common.ShardIdentifier
}

type Client struct {
	url        string
	httpClient *http.Client
	verifier   *Verifier
}

// NewClient talks to the worker at url. With a non-nil verifier every
// shielding key must come with a valid attestation token.
func NewClient(url string, httpClient *http.Client, verifier *Verifier) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{url: strings.TrimSuffix(url, "/"), httpClient: httpClient, verifier: verifier}
}

func (c *Client) post(ctx context.Context, path string, in, out interface{}) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrNetwork, err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", common.ErrNetwork, path, err)
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", common.ErrNetwork, path, err)
	}
	if resp.StatusCode != http.StatusOK {
		var e common.ErrorResponse
		msg := string(b)
		if json.Unmarshal(b, &e) == nil && e.Error != "" {
			msg = e.Error
		}
		if resp.StatusCode == http.StatusNotFound {
			return fmt.Errorf("%w: %s", common.ErrNotServed, msg)
		}
		return fmt.Errorf("%w: %s returned %d: %s", common.ErrNetwork, path, resp.StatusCode, msg)
	}
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("%w: %s response: %v", common.ErrEncoding, path, err)
	}
	return nil
}

// GetShieldingKey fetches the key fresh; nothing is cached.
func (c *Client) GetShieldingKey(ctx context.Context) (*ShieldingKey, error) {
	nonce := uuid.NewString()
	var resp common.ShieldingKeyResponse
	if err := c.post(ctx, common.ShieldingKeyPath, &common.ShieldingKeyRequest{Nonce: nonce}, &resp); err != nil {
		return nil, err
	}
	if resp.Nonce != nonce {
		return nil, fmt.Errorf("%w: nonce mismatch", common.ErrEncoding)
	}
	key, err := shielding.ParsePublicKey(resp.PublicKey)
	if err != nil {
		return nil, err
	}
	out := &ShieldingKey{Key: key}
	if out.MrEnclave, _, err = common.ParseIdentifiers(resp.MrEnclave, ""); err != nil {
		return nil, err
	}
	for _, s := range resp.Shards {
		sh, err := common.ParseShard(s)
		if err != nil {
			return nil, err
		}
		out.Shards = append(out.Shards, sh)
	}

	if c.verifier != nil {
		if resp.AttestationJWT == "" {
			return nil, fmt.Errorf("%w: no attestation token", ErrAttestation)
		}
		nonces, err := AttestationNonces(key, nonce, out.Shards)
		if err != nil {
			return nil, err
		}
		if _, err := c.verifier.Verify(resp.AttestationJWT, nonces); err != nil {
			return nil, err
		}
		glog.V(10).Infof("shielding key attested")
	}
	fp := key.Fingerprint()
	glog.V(20).Infof("shielding key %x for mrenclave %s, %d shard(s)", fp[:8], resp.MrEnclave, len(out.Shards))
	return out, nil
}

// GetState returns the raw getter response.
func (c *Client) GetState(ctx context.Context, getter *trustedop.TrustedGetterSigned, shard common.ShardIdentifier) ([]byte, error) {
	raw, err := getter.Encode()
	if err != nil {
		return nil, err
	}
	var resp common.StateResponse
	if err := c.post(ctx, common.StatePath, &common.StateRequest{Getter: common.HexEncode(raw), Shard: shard.String()}, &resp); err != nil {
		return nil, err
	}
	return common.HexDecode(resp.Value)
}

// DecodeStateValue reads the leading window of a getter response as an
// Option<Vec<u8>> holding a little-endian integer. ok is false for None.
func DecodeStateValue(resp []byte) (value *big.Int, ok bool, err error) {
	window := resp
	if len(window) > stateWindow {
		window = window[:stateWindow]
	}
	glog.V(40).Infof("getter response %x, cropped to %x", resp, window)
	v, ok, err := common.DecodeOptionBytes(*scale.NewDecoder(bytes.NewReader(window)))
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", common.ErrValueDecode, err)
	}
	if !ok {
		return nil, false, nil
	}
	return common.FromLittleEndian(v), true, nil
}
