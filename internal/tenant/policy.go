package tenant

import (
	"strings"
	"time"
)

// Deletion categories produced by the ingestion path and by the engine.
const (
	CategoryServiceJoin  = "service.join"
	CategoryServiceLeave = "service.leave"
	CategoryServicePin   = "service.pin"
	CategoryServiceTitle = "service.title"
	CategoryServicePhoto = "service.photo"
	CategoryEdited       = "edited"
	CategoryChat         = "chat"
	CategoryWelcome      = "welcome"
	CategoryGoodbye      = "goodbye"
	CategoryPunishment   = "punishment"
	CategorySelfDestruct = "self_destruct"
)

// DeletionPolicy: a disabled or absent policy means "never delete".
// TTL zero means "on the next tick after the message appears".
type DeletionPolicy struct {
	Enabled bool
	TTL     time.Duration
}

// DueAt returns the deletion instant for a message that appeared at sentAt.
func (p DeletionPolicy) DueAt(sentAt time.Time) time.Time {
	return sentAt.Add(p.TTL).UTC()
}

// Policies maps category to policy.
type Policies map[string]DeletionPolicy

// Lookup returns the enabled policy for category. A dotted category falls
// back to its parent: "service.join" uses "service" when it has no own entry.
func (p Policies) Lookup(category string) (DeletionPolicy, bool) {
	for c := category; c != ""; c = parentCategory(c) {
		if pol, ok := p[c]; ok {
			return pol, pol.Enabled
		}
	}
	return DeletionPolicy{}, false
}

func parentCategory(c string) string {
	i := strings.LastIndexByte(c, '.')
	if i < 0 {
		return ""
	}
	return c[:i]
}
