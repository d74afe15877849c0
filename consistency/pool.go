package consistency

import (
	"time"

	cache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/crossflow/crossflow/consistency/replicatedlog"
	"github.com/crossflow/crossflow/logger"
)

const defaultScopeGracePeriod = 30 * time.Second

// scopePool tracks which replicated log scopes a node currently holds
// open. Scopes owned by the local organization stay open for the
// lifetime of the strategy, foreign scopes are released again after a
// grace period without traffic.
type scopePool struct {
	connector replicatedlog.Connector
	scopes    *cache.Cache
}

func newScopePool(connector replicatedlog.Connector, gracePeriod time.Duration) *scopePool {
	if gracePeriod <= 0 {
		gracePeriod = defaultScopeGracePeriod
	}
	scopes := cache.New(gracePeriod, gracePeriod/2)
	scopes.OnEvicted(func(scope string, _ interface{}) {
		logger.Debug("releasing idle replicated log scope", zap.String("scope", scope))
		connector.Release(scope)
	})
	return &scopePool{connector: connector, scopes: scopes}
}

// touch marks a scope as in use. Own scopes never expire.
func (p *scopePool) touch(scope string, own bool) {
	expiration := cache.DefaultExpiration
	if own {
		expiration = cache.NoExpiration
	}
	p.scopes.Set(scope, struct{}{}, expiration)
}

func (p *scopePool) close() {
	for scope := range p.scopes.Items() {
		p.connector.Release(scope)
	}
	p.scopes.Flush()
}
