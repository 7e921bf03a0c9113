package selector

import (
	"net/url"

	"github.com/loolooyyyy/pac-vole/internal/core/pac"
	"github.com/loolooyyyy/pac-vole/internal/shared/logger"
	"github.com/loolooyyyy/pac-vole/internal/shared/types"
)

// Evaluator runs FindProxyForURL. *pac.Engine implements it.
type Evaluator interface {
	Evaluate(url, host string) (string, error)
}

// PAC answers with the result of a PAC script. Evaluation failures are
// logged and answered DIRECT.
type PAC struct {
	node
	engine Evaluator
}

func NewPAC(engine Evaluator) (*PAC, error) {
	if engine == nil {
		return nil, configError("pac: nil engine")
	}
	p := &PAC{engine: engine}
	p.resolve = p.evaluate
	return p, nil
}

func (p *PAC) evaluate(u *url.URL) (types.Decision, bool) {
	result, err := p.engine.Evaluate(u.String(), u.Hostname())
	if err != nil {
		logger.Debug().Err(err).Str("url", u.String()).Msg("PAC evaluation failed, using DIRECT.")
		return types.DirectDecision(), true
	}
	d := pac.ParseResult(result)
	if len(d) == 0 {
		return types.DirectDecision(), true
	}
	return d, true
}
