package redisx

import "time"

const (
	// Slot tersisa per team: team_slot:{team_order_id}:available
	KeyTeamSlotAvailable = "team_slot:%s:available"

	// Audit jumlah lock yang berhasil lewat slot: team_slot:{team_order_id}:locked
	KeyTeamSlotLocked = "team_slot:%s:locked"

	// Lock dedup release: lock:release:{kind}:{trade_order_id | attempt_id}
	KeyReleaseLock = "lock:release:%s:%s"

	// Dedup event processing: dedup:{service}:{id} (id = event_id)
	KeyDedup = "dedup:%s:%s"

	// Anggota crowd tag: crowd_tag:{tag_id}:users (SET)
	KeyCrowdTagUsers = "crowd_tag:%s:users"
)

var (
	TTLSlotMargin  = 60 * time.Minute
	TTLReleaseLock = 30 * 24 * time.Hour
	TTLDedup       = 48 * time.Hour
)
