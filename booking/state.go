package booking

import "bus_pos/api"

type Step int

const (
	StepOutlet Step = iota + 1
	StepTrip
	StepRoute
	StepSeats
	StepPassengers
	StepPayment
	StepConfirmation
)

var stepTitles = map[Step]string{
	StepOutlet:       "Outlet",
	StepTrip:         "Trip",
	StepRoute:        "Route",
	StepSeats:        "Seats",
	StepPassengers:   "Passengers",
	StepPayment:      "Payment",
	StepConfirmation: "Confirmation",
}

func (s Step) String() string {
	if title, ok := stepTitles[s]; ok {
		return title
	}
	return "Unknown"
}

func (s Step) Valid() bool {
	return s >= StepOutlet && s <= StepConfirmation
}

type Outlet struct {
	ID   string
	Name string
}

type Trip struct {
	ID          string
	BaseID      string
	ServiceDate string
	Label       string
}

type Stop struct {
	ID       string
	Name     string
	Sequence int
}

// State is the booking being assembled. It is only changed through Controller.
type State struct {
	Outlet              *Outlet
	Trip                *Trip
	OriginStop          *Stop
	DestinationStop     *Stop
	OriginSequence      *int
	DestinationSequence *int
	// SelectedSeats keeps selection order and never contains duplicates.
	SelectedSeats []string
	// Passengers line up with SelectedSeats by position.
	Passengers  []api.Passenger
	Payment     *api.Payment
	CurrentStep Step
}

func newState() State {
	return State{CurrentStep: StepOutlet}
}

func (s State) clone() State {
	out := s
	if s.Outlet != nil {
		v := *s.Outlet
		out.Outlet = &v
	}
	if s.Trip != nil {
		v := *s.Trip
		out.Trip = &v
	}
	if s.OriginStop != nil {
		v := *s.OriginStop
		out.OriginStop = &v
	}
	if s.DestinationStop != nil {
		v := *s.DestinationStop
		out.DestinationStop = &v
	}
	if s.OriginSequence != nil {
		v := *s.OriginSequence
		out.OriginSequence = &v
	}
	if s.DestinationSequence != nil {
		v := *s.DestinationSequence
		out.DestinationSequence = &v
	}
	if s.Payment != nil {
		v := *s.Payment
		out.Payment = &v
	}
	out.SelectedSeats = append([]string(nil), s.SelectedSeats...)
	out.Passengers = append([]api.Passenger(nil), s.Passengers...)
	return out
}

func (s State) tripID() string {
	if s.Trip == nil {
		return ""
	}
	return s.Trip.ID
}

func (s State) sequences() (int, int) {
	var origin, destination int
	if s.OriginSequence != nil {
		origin = *s.OriginSequence
	}
	if s.DestinationSequence != nil {
		destination = *s.DestinationSequence
	}
	return origin, destination
}

// StepStatus describes one step for the navigation shell.
type StepStatus struct {
	Step      Step
	Title     string
	Complete  bool
	Current   bool
	Reachable bool
}
