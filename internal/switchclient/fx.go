package switchclient

import (
	"fmt"

	"github.com/didstack/backoffice/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Pair holds the two switch instances. Constructed once at startup and
// passed explicitly to whatever needs a client; there is no ambient
// singleton.
type Pair struct {
	Inbound  *Client
	Outbound *Client
}

func NewPair(cfg config.Config, log *zap.Logger) Pair {
	return Pair{
		Inbound:  New("inbound", cfg.SwitchInbound, log),
		Outbound: New("outbound", cfg.SwitchOutbound, log),
	}
}

// ByName returns the instance for a direction label.
func (p Pair) ByName(name string) (*Client, error) {
	switch name {
	case "inbound":
		return p.Inbound, nil
	case "outbound":
		return p.Outbound, nil
	default:
		return nil, fmt.Errorf("unknown switch instance %q", name)
	}
}

var Module = fx.Module("switchclient",
	fx.Provide(NewPair),
)
