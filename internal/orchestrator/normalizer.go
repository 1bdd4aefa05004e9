package orchestrator

import (
	"net/url"

	"go.uber.org/zap"

	"github.com/hwickes/archive-search/internal/observability"
)

// maxDecodePasses bounds the fixpoint loop for pathological inputs that have
// been percent-encoded several times in transit.
const maxDecodePasses = 3

// Normalizer reverses percent-encoding applied by URL-based transports so the
// classifier sees the string the user typed. Clients that search for strings
// containing reserved characters (notably '#') must encode them before the
// request leaves the browser; bytes stripped at the protocol level before
// transmission cannot be recovered here.
type Normalizer struct {
	logger *zap.Logger
}

func NewNormalizer(logger *zap.Logger) *Normalizer {
	return &Normalizer{logger: logger}
}

// Normalize percent-decodes raw until it stops changing, so running it on an
// already-normalized string returns it unchanged. A malformed escape sequence
// is never an error for the caller: the input is returned as-is and the event
// is counted for observability.
func (n *Normalizer) Normalize(raw string) string {
	s := raw
	for i := 0; i < maxDecodePasses; i++ {
		decoded, err := url.PathUnescape(s)
		if err != nil {
			if s == raw {
				observability.NormalizerDecodeFailures.Inc()
				n.logger.Debug("query decode failed, using raw string",
					zap.String("query", raw),
					zap.Error(err),
				)
			}
			return s
		}
		if decoded == s {
			return s
		}
		s = decoded
	}

	// Pass budget exhausted without reaching a fixpoint. The partially
	// decoded value would keep changing under further passes, so keep the
	// raw input: it maps to itself on every subsequent call.
	if decoded, err := url.PathUnescape(s); err != nil || decoded == s {
		return s
	}
	n.logger.Debug("query still encoded after max decode passes, using raw string",
		zap.String("query", raw),
	)
	return raw
}
