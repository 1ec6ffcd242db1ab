package engine

import (
	"fmt"
	"strings"

	"github.com/justbytes/evmsniper/internal/domain"
)

// Resolve picks the engine instance responsible for a candidate. Instances
// are keyed "<chain>_<version>"; when the name lookup misses, a scan on
// (chainID, version) covers configs that spell the chain differently.
// Returns nil when no instance matches.
func Resolve(instances map[string]*Engine, c domain.CandidatePair) *Engine {
	name := fmt.Sprintf("%s_%s", strings.ToLower(c.Chain), c.Version)
	if e, ok := instances[name]; ok {
		return e
	}
	for _, e := range instances {
		if e.ChainID() == c.ChainID && e.Version() == c.Version {
			return e
		}
	}
	return nil
}
