package coordinator

import "time"

// Coordinator mirrors the coordinators table together with its loaded
// associations. Municipality is the grouping key and is always present.
type Coordinator struct {
	ID           int64
	Municipality string
	Sector       string
	Latitude     *float64
	Longitude    *float64
	FullName     string
	Phone        string
	Email        *string
	NationalID   *string
	Notes        *string
	Confirmed    bool
	GuestCount   int
	Calls        []Call
	Guests       []Guest
	EventIDs     []int64
	CallCount    int
	LastCallAt   *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// HasCoordinates reports whether both latitude and longitude are set.
func (c Coordinator) HasCoordinates() bool {
	return c.Latitude != nil && c.Longitude != nil
}

// Call is an append-only contact log entry.
type Call struct {
	ID            int64
	CoordinatorID int64
	CalledAt      time.Time
	Notes         *string
	EventID       *int64
}

// Guest is an attendee a coordinator brings to events.
type Guest struct {
	ID            int64
	CoordinatorID int64
	Name          string
	NationalID    string
	Phone         string
	CreatedAt     time.Time
}

// Stats summarises confirmation progress.
type Stats struct {
	Total     int
	Confirmed int
	Pending   int
}

// Input carries writable coordinator fields. Place ids are only used to
// resolve coordinates when none are supplied.
type Input struct {
	Municipality        string
	Sector              string
	Latitude            *float64
	Longitude           *float64
	FullName            string
	Phone               string
	Email               *string
	NationalID          *string
	Notes               *string
	MunicipalityPlaceID string
	SectorPlaceID       string
}

// Confirmation updates attendance fields.
type Confirmation struct {
	GuestCount int
	Notes      *string
}

// GuestInput carries a new roster entry.
type GuestInput struct {
	Name       string
	NationalID string
	Phone      string
}
