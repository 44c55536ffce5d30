package ranking

import "github.com/redis/go-redis/v9"

// Scopes bundles every ranking scope over one redis client. The lifecycle
// orchestrator initializes and copies all of them together; settlement
// updates all of them together.
type Scopes struct {
	Global  *Store
	Clan    *ClanStore
	AllClan *AllClanStore
	Group   *GroupStore
}

func NewScopes(rdb *redis.Client, cfg Config) Scopes {
	return Scopes{
		Global:  NewStore(rdb, cfg),
		Clan:    NewClanStore(rdb, cfg),
		AllClan: NewAllClanStore(rdb, cfg),
		Group:   NewGroupStore(rdb, cfg),
	}
}
