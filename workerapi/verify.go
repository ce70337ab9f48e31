package workerapi

import (
	"errors"
	"fmt"
	"sync"

	"github.com/golang-jwt/jwt/v5"
	"github.com/golang/glog"
	"github.com/lestrrat/go-jwx/jwk"
	csclaims "github.com/salrashid123/confidential_space/claims"
	"golang.org/x/exp/slices"
)

const debugDisabled = "disabled-since-boot"

var ErrAttestation = errors.New("attestation verification failed")

// Verifier checks confidential space attestation tokens returned with the
// shielding key.
type Verifier struct {
	JWKURL         string
	Issuer         string
	Audience       string
	ImageReference string
	// AllowDebug accepts workers running with debugging enabled.
	AllowDebug bool

	mu     sync.Mutex
	jwtSet *jwk.Set
}

func (v *Verifier) keySet() (*jwk.Set, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.jwtSet == nil {
		set, err := jwk.Fetch(v.JWKURL)
		if err != nil {
			return nil, err
		}
		v.jwtSet = set
	}
	return v.jwtSet, nil
}

// Verify validates the token signature, issuer and audience, then requires
// the image reference, debug status and EAT nonces to match.
func (v *Verifier) Verify(attestation string, nonces []string) (*csclaims.Claims, error) {
	glog.V(20).Infof("Verifying Confidential Space Attestation Token")

	var opts []jwt.ParserOption
	if v.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.Issuer))
	}
	if v.Audience != "" {
		opts = append(opts, jwt.WithAudience(v.Audience))
	}

	gcpIdentityDoc := &csclaims.Claims{}
	token, err := jwt.ParseWithClaims(attestation, gcpIdentityDoc, func(token *jwt.Token) (interface{}, error) {
		keyID, ok := token.Header["kid"].(string)
		if !ok {
			return nil, errors.New("expecting JWT header to have string kid")
		}
		set, err := v.keySet()
		if err != nil {
			return nil, err
		}
		if key := set.LookupKeyID(keyID); len(key) == 1 {
			return key[0].Materialize()
		}
		return nil, errors.New("unable to find key")
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAttestation, err)
	}
	claims, ok := token.Claims.(*csclaims.Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("%w: unexpected claims", ErrAttestation)
	}
	glog.V(20).Infof("  Image Hash  %s", claims.Submods.Container.ImageReference)
	glog.V(20).Infof("  EAT Nonce  %s", claims.EATNonce)

	if v.ImageReference != "" && claims.Submods.Container.ImageReference != v.ImageReference {
		return nil, fmt.Errorf("%w: invalid image reference, expected %s got %s", ErrAttestation, v.ImageReference, claims.Submods.Container.ImageReference)
	}
	if !v.AllowDebug && claims.Dbgstat != debugDisabled {
		return nil, fmt.Errorf("%w: expected dbgstat %s, got %s", ErrAttestation, debugDisabled, claims.Dbgstat)
	}
	if !slices.Equal(claims.EATNonce, nonces) {
		return nil, fmt.Errorf("%w: nonce mismatch, expected %v got %v", ErrAttestation, nonces, claims.EATNonce)
	}
	return claims, nil
}
