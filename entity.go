package fanout

import "github.com/xraph/fanout/internal/entity"

// Entity is the base type embedded by mutable fanout records.
type Entity = entity.Entity

// NewEntity returns an Entity with both timestamps set to the current UTC time.
func NewEntity() Entity {
	return entity.New()
}
