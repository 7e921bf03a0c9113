package selector

import (
	"errors"
	"net/url"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/loolooyyyy/pac-vole/internal/shared/logger"
	"github.com/loolooyyyy/pac-vole/internal/shared/types"
)

// Chain is the outermost selector handed to callers. It never returns an
// empty decision and never fails except for a nil URI.
type Chain struct {
	Base
	inner Selector
	id    string
	log   zerolog.Logger
}

func NewChain(inner Selector) (*Chain, error) {
	if err := requireDelegate("chain", inner); err != nil {
		return nil, err
	}
	id := uuid.NewString()
	return &Chain{
		inner: inner,
		id:    id,
		log:   logger.WithComponent("chain").With().Str("chain_id", id).Logger(),
	}, nil
}

// ID identifies the chain in logs.
func (c *Chain) ID() string { return c.id }

func (c *Chain) Select(u *url.URL) (types.Decision, error) {
	if u == nil {
		return nil, ErrNilURI
	}
	if !c.Enabled() {
		return types.DirectDecision(), nil
	}
	d, err := c.inner.Select(u)
	if err != nil {
		if errors.Is(err, ErrNilURI) {
			return nil, err
		}
		c.log.Warn().Err(err).Str("url", u.String()).Msg("Selection failed, using DIRECT.")
		return types.DirectDecision(), nil
	}
	if len(d) == 0 {
		c.log.Debug().Str("url", u.String()).Msg("No usable proxy left, using DIRECT.")
		return types.DirectDecision(), nil
	}
	c.log.Debug().Str("url", u.String()).Str("decision", d.String()).Msg("Selected.")
	return d, nil
}

func (c *Chain) ConnectFailed(u *url.URL, address string, cause error) {
	c.inner.ConnectFailed(u, address, cause)
}
