package api

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/prjktcode/poly-grid-ai/pkg/errors"
	"github.com/prjktcode/poly-grid-ai/pkg/models"
)

const (
	headerActorAddress   = "X-Actor-Address"
	headerActorSignature = "X-Actor-Signature"
	headerRequestID      = "X-Request-ID"

	ctxActorKey = "actor"
)

// requestID assigns each request a UUID for log and problem correlation
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(headerRequestID)
		if id == "" {
			id = uuid.New().String()
		}
		c.Set(headerRequestID, id)
		c.Header(headerRequestID, id)
		c.Next()
	}
}

// actorIdentity establishes the calling actor's address for state-changing
// routes. In header mode the gateway is trusted to have authenticated the
// caller; in signature mode the address is proven by an ECDSA signature over
// a canonical digest of the request.
func (s *Server) actorIdentity() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader(headerActorAddress)
		if raw == "" {
			s.unidentified(c, "missing "+headerActorAddress+" header")
			return
		}
		addr, ok := models.NormalizeAddress(raw)
		if !ok {
			s.unidentified(c, "malformed actor address")
			return
		}

		if s.cfg.AuthMode == "signature" {
			sigHex := c.GetHeader(headerActorSignature)
			if sigHex == "" {
				s.unidentified(c, "missing "+headerActorSignature+" header")
				return
			}
			recovered, err := recoverSigner(c, sigHex)
			if err != nil {
				s.unidentified(c, "signature verification failed")
				return
			}
			if recovered != addr {
				s.unidentified(c, "signature does not match actor address")
				return
			}
		}

		c.Set(ctxActorKey, addr)
		c.Next()
	}
}

// recoverSigner verifies a 65-byte ECDSA signature over the canonical request
// digest: keccak256 of the Ethereum signed-message prefix applied to
// "method|path|sha256(body)".
func recoverSigner(c *gin.Context, sigHex string) (string, error) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return "", err
	}
	// Handlers still need the body after verification.
	c.Request.Body = io.NopCloser(bytes.NewReader(body))

	bodyHash := sha256.Sum256(body)
	payload := fmt.Sprintf("%s|%s|%s", c.Request.Method, c.Request.URL.Path, hex.EncodeToString(bodyHash[:]))
	msg := fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(payload), payload)
	digest := crypto.Keccak256([]byte(msg))

	sig, err := hex.DecodeString(trimHexPrefix(sigHex))
	if err != nil {
		return "", err
	}
	if len(sig) != 65 {
		return "", fmt.Errorf("signature must be 65 bytes, got %d", len(sig))
	}
	// Accept both the raw recovery id and the legacy 27/28 form.
	if sig[64] >= 27 {
		sig[64] -= 27
	}

	pub, err := crypto.SigToPub(digest, sig)
	if err != nil {
		return "", err
	}
	return crypto.PubkeyToAddress(*pub).Hex(), nil
}

func trimHexPrefix(s string) string {
	if len(s) >= 2 && (s[:2] == "0x" || s[:2] == "0X") {
		return s[2:]
	}
	return s
}

// actor returns the authenticated actor address set by actorIdentity
func actor(c *gin.Context) string {
	return c.GetString(ctxActorKey)
}

// unidentified rejects a request whose actor identity could not be established
func (s *Server) unidentified(c *gin.Context, detail string) {
	p := &errors.ProblemDetails{
		Type:     errors.TypeUnauthorized,
		Title:    errors.TitleUnauthorized,
		Status:   http.StatusUnauthorized,
		Detail:   detail,
		Instance: c.Request.URL.Path,
	}
	p.WithTraceID(c.GetString(headerRequestID))
	c.Header("Content-Type", "application/problem+json")
	c.AbortWithStatusJSON(http.StatusUnauthorized, p)
}

// problem converts a service error into an RFC 7807 response
func (s *Server) problem(c *gin.Context, err error) {
	p := errors.Problem(err, c.Request.URL.Path).WithTraceID(c.GetString(headerRequestID))
	if p.Status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("path", c.Request.URL.Path),
			zap.Error(err))
	}
	c.Header("Content-Type", "application/problem+json")
	c.AbortWithStatusJSON(p.Status, p)
}
