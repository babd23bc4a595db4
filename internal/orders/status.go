package orders

type Status string

const (
	StatusPending   Status = "pending"
	StatusPaid      Status = "paid"
	StatusShipped   Status = "shipped"
	StatusDelivered Status = "delivered"
)

var knownStatus = map[Status]bool{
	StatusPending:   true,
	StatusPaid:      true,
	StatusShipped:   true,
	StatusDelivered: true,
}

// Valid reports whether s is one of the four lifecycle values.
// Order baru selalu pending; transisi status di luar service ini.
func (s Status) Valid() bool { return knownStatus[s] }

func (s Status) String() string { return string(s) }
