package cache

// ScopedKeyer prefixes every key with a namespace so several deployments
// can share one cache backend.
//
//	keyer := cache.NewScopedKeyer(nil, cache.Namespace("staging"))
type ScopedKeyer struct {
	inner  Keyer
	prefix string
}

// Namespace returns the key prefix for a namespace.
func Namespace(name string) string {
	return "ns:" + name + ":"
}

// NewScopedKeyer wraps inner, which defaults to DefaultKeyer.
func NewScopedKeyer(inner Keyer, prefix string) Keyer {
	if inner == nil {
		inner = NewDefaultKeyer()
	}
	return &ScopedKeyer{inner: inner, prefix: prefix}
}

// ResolvedKey implements Keyer.
func (k *ScopedKeyer) ResolvedKey(modelHash string, opts ResolvedKeyOpts) string {
	return k.prefix + k.inner.ResolvedKey(modelHash, opts)
}

// ArtifactKey implements Keyer.
func (k *ScopedKeyer) ArtifactKey(stateHash string, opts ArtifactKeyOpts) string {
	return k.prefix + k.inner.ArtifactKey(stateHash, opts)
}

var _ Keyer = (*ScopedKeyer)(nil)
