// Package workerapi is the worker's HTTP query endpoint: it publishes the
// shielding key and answers trusted getters.
package workerapi

import (
	"context"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/golang/glog"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/hashicorp/vault/sdk/helper/xor"
	"golang.org/x/exp/slices"
	"golang.org/x/net/http2"

	"github.com/salrashid123/trustedcall/common"
	"github.com/salrashid123/trustedcall/shielding"
	"github.com/salrashid123/trustedcall/trustedop"
)

// Backend is the boundary side of the endpoint.
type Backend interface {
	ShieldingKey() *shielding.PublicKey
	MrEnclave() common.MrEnclave
	Shards() []common.ShardIdentifier
	QueryState(ctx context.Context, getter *trustedop.TrustedGetterSigned, shard common.ShardIdentifier) ([]byte, error)
}

type contextKey string

const contextEventKey contextKey = "event"

type event struct {
	RequestID string
	RemoteIP  net.IP
}

type Server struct {
	backend Backend
	attest  Attester
	router  *mux.Router
}

// NewServer serves backend. attest may be nil, in which case shielding key
// responses carry no attestation token.
func NewServer(backend Backend, attest Attester) *Server {
	s := &Server{backend: backend, attest: attest}
	router := mux.NewRouter()
	router.Methods(http.MethodGet).Path(common.HealthPath).HandlerFunc(healthHandler)
	router.Methods(http.MethodPost).Path(common.ShieldingKeyPath).HandlerFunc(s.shieldingKeyHandler)
	router.Methods(http.MethodPost).Path(common.StatePath).HandlerFunc(s.stateHandler)
	s.router = router
	return s
}

func (s *Server) Handler() http.Handler {
	return eventsMiddleware(s.router)
}

// ListenAndServe serves until ctx ends. With a nil tlsConfig the listener is
// plain HTTP.
func (s *Server) ListenAndServe(ctx context.Context, addr string, tlsConfig *tls.Config) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		TLSConfig:         tlsConfig,
		ReadHeaderTimeout: 10 * time.Second,
	}
	if err := http2.ConfigureServer(server, &http2.Server{}); err != nil {
		return err
	}
	errc := make(chan error, 1)
	go func() {
		glog.Infof("worker api listening on %s", addr)
		if tlsConfig != nil {
			errc <- server.ListenAndServeTLS("", "")
		} else {
			errc <- server.ListenAndServe()
		}
	}()
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		glog.V(2).Info("shutting down worker api")
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(sctx); err != nil {
			return err
		}
		if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func eventsMiddleware(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			http.Error(w, "Userip is not host:port", http.StatusBadGateway)
			return
		}
		ev := event{RequestID: uuid.NewString(), RemoteIP: net.ParseIP(ip)}
		glog.V(30).Infof("%s %s from %s [%s]", r.Method, r.URL.Path, ip, ev.RequestID)
		ctx := context.WithValue(r.Context(), contextEventKey, ev)
		h.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestID(r *http.Request) string {
	if ev, ok := r.Context().Value(contextEventKey).(event); ok {
		return ev.RequestID
	}
	return ""
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte("ok"))
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(&common.ErrorResponse{Error: msg})
}

// AttestationNonces binds a token to the published key, the client's nonce
// and the set of served shards.
func AttestationNonces(key *shielding.PublicKey, clientNonce string, shards []common.ShardIdentifier) ([]string, error) {
	fp := key.Fingerprint()
	xorHash := make([]byte, sha256.Size)
	for _, sh := range shards {
		h := sha256.Sum256(sh[:])
		var err error
		if xorHash, err = xor.XORBytes(xorHash, h[:]); err != nil {
			return nil, err
		}
	}
	return []string{hex.EncodeToString(fp[:]), clientNonce, hex.EncodeToString(xorHash)}, nil
}

func (s *Server) shieldingKeyHandler(w http.ResponseWriter, r *http.Request) {
	glog.V(20).Infof("%s [%s]", common.ShieldingKeyPath, requestID(r))

	var post common.ShieldingKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&post); err != nil {
		glog.Errorf("Error parsing POST data")
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	key := s.backend.ShieldingKey()
	shards := s.backend.Shards()
	resp := common.ShieldingKeyResponse{
		Nonce:     post.Nonce,
		PublicKey: key.DER(),
		MrEnclave: s.backend.MrEnclave().String(),
	}
	for _, sh := range shards {
		resp.Shards = append(resp.Shards, sh.String())
	}

	if s.attest != nil {
		nonces, err := AttestationNonces(key, post.Nonce, shards)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		token, err := s.attest(r.Context(), nonces)
		if err != nil {
			glog.Errorf("     Error creating attestation token %v", err)
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		resp.AttestationJWT = token
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(&resp)
}

func (s *Server) stateHandler(w http.ResponseWriter, r *http.Request) {
	glog.V(20).Infof("%s [%s]", common.StatePath, requestID(r))

	var post common.StateRequest
	if err := json.NewDecoder(r.Body).Decode(&post); err != nil {
		glog.Errorf("Error parsing POST data")
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	shard, err := common.ParseShard(post.Shard)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !slices.Contains(s.backend.Shards(), shard) {
		writeError(w, http.StatusNotFound, "shard not served: "+post.Shard)
		return
	}
	raw, err := common.HexDecode(post.Getter)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	getter, err := trustedop.DecodeTrustedGetterSigned(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !getter.Verify() {
		writeError(w, http.StatusForbidden, "invalid getter signature")
		return
	}

	value, err := s.backend.QueryState(r.Context(), getter, shard)
	if err != nil {
		glog.Errorf("getter %s failed: %v", getter.Getter, err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(&common.StateResponse{Value: common.HexEncode(value)})
}
