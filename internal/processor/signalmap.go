package processor

import (
	"fmt"
	"strings"

	"github.com/GoPolymarket/polypilot/internal/model"
)

// MapSignal translates the raw alert text into a normalized signal type
// using the bot's configured map. Matching is case-insensitive on the
// trimmed payload, so a TradingView alert of "  BUY " matches a "buy" key.
func MapSignal(raw string, signalMap map[string]model.SignalType) (model.SignalType, bool) {
	needle := strings.ToLower(strings.TrimSpace(raw))
	if needle == "" {
		return "", false
	}
	for key, sig := range signalMap {
		if strings.ToLower(strings.TrimSpace(key)) == needle {
			return sig, true
		}
	}
	return "", false
}

// ValidateSignalMap rejects bot configs whose map is empty or targets an
// unknown signal type. Run at bot creation so a bad map can never reach
// the processor.
func ValidateSignalMap(signalMap map[string]model.SignalType) error {
	if len(signalMap) == 0 {
		return fmt.Errorf("signal map is empty")
	}
	for key, sig := range signalMap {
		if strings.TrimSpace(key) == "" {
			return fmt.Errorf("signal map has an empty alert key")
		}
		if !sig.Valid() {
			return fmt.Errorf("signal map key %q targets unknown signal type %q", key, sig)
		}
	}
	return nil
}

// Intent is the trade direction resolved from a signal. LONG buys the
// YES token, SHORT buys the NO token; betting against an outcome on
// Polymarket means buying its complement, not shorting.
type Intent struct {
	Side    model.Side
	Outcome model.Outcome
	Exit    bool
}

func ResolveIntent(sig model.SignalType) (Intent, error) {
	switch sig {
	case model.SignalLong:
		return Intent{Side: model.SideBuy, Outcome: model.OutcomeYes}, nil
	case model.SignalShort:
		return Intent{Side: model.SideBuy, Outcome: model.OutcomeNo}, nil
	case model.SignalClose:
		return Intent{Side: model.SideSell, Exit: true}, nil
	}
	return Intent{}, fmt.Errorf("unmapped signal type %q", sig)
}
