package catalog

import (
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/room"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/store"
)

const OccupancyKey = "room_occupancy"

// Guest is the occupancy record of one room.
type Guest struct {
	GuestName     string `json:"guest_name"`
	Checkin       string `json:"checkin"`
	Checkout      string `json:"checkout"`
	NumAdults     int    `json:"num_adults"`
	Status        string `json:"status,omitempty"`
	ReservationID string `json:"reservation_id,omitempty"`
}

// Occupancy looks up who is staying in a room.
type Occupancy struct {
	docs store.Documents
}

func NewOccupancy(docs store.Documents) *Occupancy {
	return &Occupancy{docs: docs}
}

// Lookup matches number against stored rooms in canonical form.
func (o *Occupancy) Lookup(number string) (Guest, bool) {
	rooms := store.Load(o.docs, OccupancyKey, map[string]Guest{})
	want := room.Canonical(number)
	if want == "" {
		return Guest{}, false
	}
	for k, g := range rooms {
		if room.Canonical(k) == want {
			return g, true
		}
	}
	return Guest{}, false
}
