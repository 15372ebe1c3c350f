package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"

	"snapearn-rewardcore/internal/config"
	"snapearn-rewardcore/pkg/errutil"

	"go.uber.org/fx"
)

// Header carrying the hex-encoded HMAC-SHA256 of the raw request body.
const Header = "X-Signature"

var Module = fx.Module("signature.gate",
	fx.Provide(NewGate),
)

// Gate authenticates externally-triggered events before anything parses their
// payload. Verification runs over the raw, unparsed bytes.
type Gate struct {
	secret []byte
}

type GateParams struct {
	fx.In
	Cfg *config.Config
}

func NewGate(p GateParams) *Gate {
	return &Gate{secret: []byte(p.Cfg.Webhook.Secret)}
}

func NewGateWithSecret(secret string) *Gate {
	return &Gate{secret: []byte(secret)}
}

// Sign computes the signature for a payload. Used by tests and by outbound
// callers that need to produce a valid header.
func (g *Gate) Sign(payload []byte) string {
	mac := hmac.New(sha256.New, g.secret)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify compares the presented signature against the expected HMAC of the raw
// payload. The comparison is constant time and the returned error never says
// which part of the check failed.
func (g *Gate) Verify(payload []byte, presented string) error {
	if presented == "" {
		return errutil.Forbidden("invalid signature", nil)
	}

	decoded, err := hex.DecodeString(presented)
	if err != nil {
		return errutil.Forbidden("invalid signature", nil)
	}

	mac := hmac.New(sha256.New, g.secret)
	mac.Write(payload)
	expected := mac.Sum(nil)

	if !hmac.Equal(expected, decoded) {
		return errutil.Forbidden("invalid signature", nil)
	}

	return nil
}
